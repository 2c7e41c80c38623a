package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/sitepreview/bundle"
	"github.com/hazyhaar/sitepreview/shield"
	"github.com/hazyhaar/sitepreview/upstream"
)

// relayErrors are the messages a proxy route answers with when the build
// service rejects the call (502) or cannot be reached (500).
type relayErrors struct {
	rejected    string
	unreachable string
}

var (
	parseErrors       = relayErrors{"Prompt service error.", "Failed to reach prompt service."}
	chatStartErrors   = relayErrors{"Chat start failed.", "Failed to start chat session."}
	chatMessageErrors = relayErrors{"Chat message failed.", "Failed to send chat message."}
	pollErrors        = relayErrors{"Poll failed.", "Failed to poll build status."}
	zipErrors         = relayErrors{"Zip fetch failed.", "Failed to fetch website archive."}
)

const (
	msgBodyNotJSON    = "Request body must be JSON."
	msgMessageFields  = "sessionId and message are required."
	msgSessionMissing = "sessionId is required."
	msgSessionInvalid = "sessionId is invalid."
)

// readObject reads a JSON object body. The raw bytes are returned for
// forwarding.
func readObject(r *http.Request) ([]byte, map[string]any, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, nil, err
	}
	body = bytes.TrimSpace(body)
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, nil, err
	}
	if obj == nil {
		return nil, nil, errors.New("null body")
	}
	return body, obj, nil
}

// relayFailure answers a failed upstream call.
func (s *Server) relayFailure(w http.ResponseWriter, r *http.Request, err error, msgs relayErrors, details func(*upstream.StatusError) any) {
	log := shield.GetLogger(r.Context())
	if errors.Is(err, upstream.ErrInvalidSession) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": msgSessionInvalid, "details": err.Error()})
		return
	}
	var se *upstream.StatusError
	if errors.As(err, &se) {
		log.Warn("api: upstream rejected call", "service", se.Service, "status", se.Status)
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":   msgs.rejected,
			"status":  se.Status,
			"details": details(se),
		})
		return
	}
	log.Error("api: upstream unreachable", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]any{"error": msgs.unreachable, "details": err.Error()})
}

func statusDetails(se *upstream.StatusError) any { return se.Details() }

func textDetails(se *upstream.StatusError) any { return string(se.Body) }

// relay writes a successful upstream answer. JSON is passed through;
// anything else is sent as a JSON string, or through wrapText when set.
func relay(w http.ResponseWriter, resp *upstream.Response, wrapText func(string) any) {
	if resp.IsJSON() && json.Valid(resp.Body) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(resp.Body)
		return
	}
	var payload any = string(resp.Body)
	if wrapText != nil {
		payload = wrapText(string(resp.Body))
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	body, _, err := readObject(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msgBodyNotJSON})
		return
	}
	resp, err := s.deps.Proxy.Parse(r.Context(), body)
	if err != nil {
		s.relayFailure(w, r, err, parseErrors, statusDetails)
		return
	}
	relay(w, resp, func(text string) any { return map[string]string{"prompt": text} })
}

func (s *Server) handleChatStart(w http.ResponseWriter, r *http.Request) {
	body, _, err := readObject(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msgBodyNotJSON})
		return
	}
	resp, err := s.deps.Proxy.ChatStart(r.Context(), body)
	if err != nil {
		s.relayFailure(w, r, err, chatStartErrors, statusDetails)
		return
	}
	relay(w, resp, nil)
}

func (s *Server) handleChatMessage(w http.ResponseWriter, r *http.Request) {
	body, obj, err := readObject(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msgMessageFields})
		return
	}
	if _, ok := obj["sessionId"].(string); !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msgMessageFields})
		return
	}
	resp, err := s.deps.Proxy.ChatMessage(r.Context(), body)
	if err != nil {
		s.relayFailure(w, r, err, chatMessageErrors, statusDetails)
		return
	}
	relay(w, resp, nil)
}

func (s *Server) handleMissingSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msgSessionMissing})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	resp, err := s.deps.Proxy.Poll(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		s.relayFailure(w, r, err, pollErrors, statusDetails)
		return
	}
	relay(w, resp, nil)
}

type archiveFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (s *Server) handleZip(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	archive, err := s.deps.Proxy.Zip(r.Context(), sessionID)
	if err != nil {
		s.relayFailure(w, r, err, zipErrors, textDetails)
		return
	}

	q := r.URL.Query()
	download := q.Get("download")
	if download == "1" || download == "true" || strings.EqualFold(q.Get("format"), "zip") {
		h := w.Header()
		h.Set("Content-Type", "application/zip")
		h.Set("Content-Disposition", archive.ContentDisposition())
		h.Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		w.Write(archive.Data)
		return
	}

	entries, err := bundle.Decode(archive.Data)
	if errors.Is(err, bundle.ErrArchiveEmpty) {
		entries, err = nil, nil
	}
	if err != nil {
		shield.GetLogger(r.Context()).Warn("api: archive decode failed", "session_id", sessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": zipErrors.unreachable, "details": err.Error()})
		return
	}
	files := make([]archiveFile, len(entries))
	for i, e := range entries {
		files[i] = archiveFile{Path: e.Path, Content: base64.StdEncoding.EncodeToString(e.Data)}
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}
