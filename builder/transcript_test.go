package builder

import (
	"strings"
	"testing"
)

func TestRenderMarkdown(t *testing.T) {
	r := newRenderer()

	got := r.render("## Plan\n\n- hero\n- **pricing**\n\n| a | b |\n|---|---|\n| 1 | 2 |")
	for _, want := range []string{"<h2", "<li>hero</li>", "<strong>pricing</strong>", "<table>"} {
		if !strings.Contains(got, want) {
			t.Errorf("render output lacks %q:\n%s", want, got)
		}
	}
}

func TestRenderSanitizes(t *testing.T) {
	r := newRenderer()

	got := r.render("Hello <script>alert(1)</script> [x](javascript:alert(1)) <img src=x onerror=alert(1)>")
	for _, bad := range []string{"<script", "javascript:", "onerror"} {
		if strings.Contains(got, bad) {
			t.Errorf("render kept %q:\n%s", bad, got)
		}
	}
	if !strings.Contains(got, "Hello") {
		t.Errorf("text lost: %s", got)
	}
}

func TestRenderHighlightsCode(t *testing.T) {
	r := newRenderer()

	got := r.render("Here is the handler:\n\n```go\nfunc main() {}\n```\n")
	for _, want := range []string{`class="chroma"`, `class="kd"`, "main"} {
		if !strings.Contains(got, want) {
			t.Errorf("render output lacks %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "style=") {
		t.Errorf("inline styles leaked:\n%s", got)
	}
}
