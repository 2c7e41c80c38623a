package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hazyhaar/sitepreview/shield"
)

const (
	eventWriteWait  = 10 * time.Second
	eventPongWait   = 60 * time.Second
	eventPingPeriod = eventPongWait * 9 / 10
)

var eventUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16384,
}

// handleBuildEvents streams the build state over a WebSocket. The current
// state is sent on connect, then again each time it changes. Clients only
// listen; anything they send is discarded.
func (s *Server) handleBuildEvents(w http.ResponseWriter, r *http.Request) {
	log := shield.GetLogger(r.Context())
	conn, err := eventUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the client.
		log.Debug("api: events upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(eventPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(eventPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	interval := s.deps.Preview.EventInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	check := time.NewTicker(interval)
	defer check.Stop()
	ping := time.NewTicker(eventPingPeriod)
	defer ping.Stop()

	var last []byte
	send := func() bool {
		data, err := json.Marshal(s.deps.Builder.State())
		if err != nil {
			log.Error("api: events encode", "error", err)
			return false
		}
		if bytes.Equal(data, last) {
			return true
		}
		last = data
		conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
		return conn.WriteMessage(websocket.TextMessage, data) == nil
	}

	if !send() {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case <-check.C:
			if !send() {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
