package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hazyhaar/sitepreview/builder"
	"github.com/hazyhaar/sitepreview/journal"
	"github.com/hazyhaar/sitepreview/shield"
)

// buildFailure maps builder errors to a status code. The state is attached
// so the client can render the failure message.
func buildFailure(w http.ResponseWriter, err error, st *builder.State) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, builder.ErrEmptyPrompt), errors.Is(err, builder.ErrEmptyMessage):
		code = http.StatusBadRequest
	case errors.Is(err, builder.ErrNoSession):
		code = http.StatusConflict
	case errors.Is(err, builder.ErrUpstream), errors.Is(err, builder.ErrMissingSession):
		code = http.StatusBadGateway
	}
	body := map[string]any{"error": err.Error()}
	if st != nil {
		body["state"] = st
	}
	writeJSON(w, code, body)
}

func (s *Server) handleBuildState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Builder.State())
}

func (s *Server) handleBuildStart(w http.ResponseWriter, r *http.Request) {
	var req builder.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	st, err := s.deps.Builder.Start(r.Context(), req)
	if err != nil {
		shield.GetLogger(r.Context()).Warn("api: build start failed", "error", err)
		buildFailure(w, err, st)
		return
	}
	writeJSON(w, http.StatusAccepted, st)
}

func (s *Server) handleBuildMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	st, err := s.deps.Builder.SendMessage(r.Context(), req.Message)
	if err != nil {
		shield.GetLogger(r.Context()).Warn("api: build message failed", "error", err)
		buildFailure(w, err, st)
		return
	}
	writeJSON(w, http.StatusAccepted, st)
}

func (s *Server) handleBuildReset(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Builder.Reset(r.Context()))
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journal == nil {
		writeJSON(w, http.StatusOK, []journal.Event{})
		return
	}
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = s.deps.Builder.State().SessionID
	}
	events, err := s.deps.Journal.List(r.Context(), sessionID, queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if events == nil {
		events = []journal.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}
