package api

import (
	"net/http"
	"regexp"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"

	"github.com/hazyhaar/sitepreview/shield"
)

func newMinifier() *minify.M {
	m := minify.New()
	m.Add("text/html", &html.Minifier{
		KeepDocumentTags:    true,
		KeepEndTags:         true,
		KeepQuotes:          true,
		KeepDefaultAttrVals: true,
	})
	m.AddFunc("text/css", css.Minify)
	m.AddFuncRegexp(regexp.MustCompile("^(application|text)/(x-)?(java|ecma)script$"), js.Minify)
	return m
}

// handlePreview serves the current rehydrated document. Its assets resolve
// against the blob routes of this server.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Previews.Current()
	if snap == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no preview available"})
		return
	}

	doc := snap.HTML
	if s.minifier != nil {
		out, err := s.minifier.String("text/html", doc)
		if err != nil {
			shield.GetLogger(r.Context()).Warn("api: preview minify failed, serving original", "snapshot_id", snap.ID, "error", err)
		} else {
			doc = out
		}
	}

	h := w.Header()
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	h.Set("X-Preview-Snapshot", snap.ID)
	if s.deps.Preview.CSP != "" {
		h.Set("Content-Security-Policy", s.deps.Preview.CSP)
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(doc))
}
