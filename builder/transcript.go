package builder

import (
	"bytes"
	"regexp"
	"time"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
)

// Role of a transcript message.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
)

// Message is one transcript entry. Agent messages carry a sanitized HTML
// rendering of their markdown.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	HTML      string    `json:"html,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// renderer turns agent markdown into HTML safe to embed in the app.
type renderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

// Chroma emits short token classes (kd, nx, s...) plus a few wrappers.
var highlightClass = regexp.MustCompile(`^[a-z0-9]+( [a-z0-9]+)*$`)

func newRenderer() *renderer {
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("class").Matching(highlightClass).OnElements("pre", "code", "span")

	return &renderer{
		md: goldmark.New(goldmark.WithExtensions(
			extension.GFM,
			highlighting.NewHighlighting(
				highlighting.WithStyle("github"),
				highlighting.WithFormatOptions(chromahtml.WithClasses(true)),
			),
		)),
		policy: policy,
	}
}

func (r *renderer) render(markdown string) string {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(markdown), &buf); err != nil {
		return r.policy.Sanitize(markdown)
	}
	return string(r.policy.SanitizeBytes(buf.Bytes()))
}
