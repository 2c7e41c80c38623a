package rehydrate

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/hazyhaar/sitepreview/bundle"
)

// memSink is an in-memory ResourceSink that tracks live handles.
type memSink struct {
	next    int
	live    map[string][]byte
	mimes   map[string]string
	failAt  int // Create call (1-based) that fails; 0 = never
	creates int
}

func newMemSink() *memSink {
	return &memSink{live: make(map[string][]byte), mimes: make(map[string]string)}
}

func (s *memSink) Create(data []byte, mime string) (string, error) {
	s.creates++
	if s.failAt > 0 && s.creates == s.failAt {
		return "", errors.New("sink exhausted")
	}
	s.next++
	h := fmt.Sprintf("blob:test/%d", s.next)
	s.live[h] = data
	s.mimes[h] = mime
	return h, nil
}

func (s *memSink) Release(h string) { delete(s.live, h) }

func (s *memSink) handleFor(t *testing.T, data string) string {
	t.Helper()
	for h, d := range s.live {
		if string(d) == data {
			return h
		}
	}
	t.Fatalf("no live handle holds %q", data)
	return ""
}

func entries(kv ...string) []bundle.Entry {
	out := make([]bundle.Entry, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, bundle.Entry{Path: kv[i], Data: []byte(kv[i+1])})
	}
	return out
}

func TestRehydrate_LogoScenario(t *testing.T) {
	sink := newMemSink()
	res, err := Rehydrate(entries(
		"index.html", `<img src="./logo.png">`,
		"logo.png", "PNGDATA",
	), sink)
	if err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}
	if len(res.Handles) != 1 {
		t.Fatalf("handles: got %d, want 1", len(res.Handles))
	}
	h := res.Handles[0]
	if string(sink.live[h]) != "PNGDATA" {
		t.Fatalf("handle bytes: got %q", sink.live[h])
	}
	if sink.mimes[h] != "image/png" {
		t.Errorf("mime: got %q", sink.mimes[h])
	}
	if !strings.HasPrefix(res.HTML, "<!DOCTYPE html>\n<html>") {
		t.Errorf("missing doctype: %q", res.HTML)
	}
	if !strings.Contains(res.HTML, `<img src="`+h+`"`) {
		t.Errorf("img not rewritten: %s", res.HTML)
	}
	if len(res.Unresolved) != 0 {
		t.Errorf("unresolved: %v", res.Unresolved)
	}
}

func TestRehydrate_ResolvesEveryConvention(t *testing.T) {
	cases := []struct {
		name string
		ref  string
	}{
		{"bare relative", "static/app.js"},
		{"dot relative", "./static/app.js"},
		{"root relative", "/static/app.js"},
		{"next prefixed", "/_next/static/app.js"},
		{"next prefixed bare", "_next/static/app.js"},
		{"query string", "/static/app.js?v=3"},
	}
	layouts := map[string]string{
		"plain": "static/app.js",
		"next":  "_next/static/app.js",
	}

	for layout, assetPath := range layouts {
		for _, tc := range cases {
			t.Run(layout+"/"+tc.name, func(t *testing.T) {
				sink := newMemSink()
				res, err := Rehydrate(entries(
					"index.html", `<html><head><script src="`+tc.ref+`"></script></head></html>`,
					assetPath, "JS",
				), sink)
				if err != nil {
					t.Fatal(err)
				}
				h := sink.handleFor(t, "JS")
				if !strings.Contains(res.HTML, `<script src="`+h+`">`) {
					t.Fatalf("ref %q against %q not rewritten: %s", tc.ref, assetPath, res.HTML)
				}
			})
		}
	}
}

func TestRehydrate_RewriteTable(t *testing.T) {
	sink := newMemSink()
	doc := `<!doctype html><html><head>
<link rel="stylesheet" href="css/site.css">
<script src="js/app.js"></script>
</head><body>
<img src="img/a.png">
<audio src="media/a.mp3"></audio>
<video src="media/v.mp4"><source src="media/v.webm" type="video/webm"></video>
<a href="img/a.png">link stays</a>
</body></html>`
	res, err := Rehydrate(entries(
		"index.html", doc,
		"css/site.css", "CSS",
		"js/app.js", "JS",
		"img/a.png", "PNG",
		"media/a.mp3", "MP3",
		"media/v.mp4", "MP4",
		"media/v.webm", "WEBM",
	), sink)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		`href="` + sink.handleFor(t, "CSS") + `"`,
		`<script src="` + sink.handleFor(t, "JS") + `"`,
		`<img src="` + sink.handleFor(t, "PNG") + `"`,
		`<audio src="` + sink.handleFor(t, "MP3") + `"`,
		`<video src="` + sink.handleFor(t, "MP4") + `"`,
		`<source src="` + sink.handleFor(t, "WEBM") + `"`,
		`<a href="img/a.png">`,
	}
	for _, w := range want {
		if !strings.Contains(res.HTML, w) {
			t.Errorf("output missing %s\n%s", w, res.HTML)
		}
	}
	if len(res.Handles) != 6 {
		t.Errorf("handles: got %d, want 6", len(res.Handles))
	}
}

func TestRehydrate_Srcset(t *testing.T) {
	sink := newMemSink()
	res, err := Rehydrate(entries(
		"index.html", `<img srcset="img/small.png 1x, /img/large.png   2x, missing.png 3x"><picture><source srcset="./img/large.png"></picture>`,
		"img/small.png", "S",
		"img/large.png", "L",
	), sink)
	if err != nil {
		t.Fatal(err)
	}
	small, large := sink.handleFor(t, "S"), sink.handleFor(t, "L")
	want := `srcset="` + small + ` 1x, ` + large + ` 2x, missing.png 3x"`
	if !strings.Contains(res.HTML, want) {
		t.Errorf("img srcset: want %s\n%s", want, res.HTML)
	}
	if !strings.Contains(res.HTML, `<source srcset="`+large+`"`) {
		t.Errorf("source srcset not rewritten: %s", res.HTML)
	}
	if len(res.Unresolved) != 1 || res.Unresolved[0] != "missing.png" {
		t.Errorf("unresolved: got %v", res.Unresolved)
	}
}

func TestRehydrate_UnresolvedLeftUntouched(t *testing.T) {
	sink := newMemSink()
	res, err := Rehydrate(entries(
		"index.html", `<img src="images/ghost.png"><img src="https://cdn.example.com/logo.png"><img src="data:image/png;base64,AAAA">`,
		"logo.png", "PNG",
	), sink)
	if err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}
	for _, w := range []string{
		`src="images/ghost.png"`,
		`src="https://cdn.example.com/logo.png"`,
		`src="data:image/png;base64,AAAA"`,
	} {
		if !strings.Contains(res.HTML, w) {
			t.Errorf("output missing %s\n%s", w, res.HTML)
		}
	}
	if len(res.Handles) != 1 {
		t.Errorf("unused assets must still be tracked: got %d handles", len(res.Handles))
	}
	if len(res.Unresolved) != 1 || res.Unresolved[0] != "images/ghost.png" {
		t.Errorf("unresolved: got %v", res.Unresolved)
	}
}

func TestRehydrate_RelativeToEntryDirectory(t *testing.T) {
	sink := newMemSink()
	res, err := Rehydrate(entries(
		"site/index.html", `<link href="styles/main.css"><img src="../shared/bg.png">`,
		"site/styles/main.css", "CSS",
		"shared/bg.png", "BG",
	), sink)
	if err != nil {
		t.Fatal(err)
	}
	if res.EntryPath != "site/index.html" {
		t.Errorf("entry: got %q", res.EntryPath)
	}
	if !strings.Contains(res.HTML, `href="`+sink.handleFor(t, "CSS")+`"`) {
		t.Errorf("css not rewritten: %s", res.HTML)
	}
	if !strings.Contains(res.HTML, `src="`+sink.handleFor(t, "BG")+`"`) {
		t.Errorf("bg not rewritten: %s", res.HTML)
	}
}

func TestRehydrate_EntryPointSelection(t *testing.T) {
	cases := []struct {
		name  string
		files []string
		want  string
	}{
		{"index beats earlier html", []string{"about.html", "sub/index.html"}, "sub/index.html"},
		{"index beats later html", []string{"sub/index.html", "about.html"}, "sub/index.html"},
		{"shallowest index", []string{"a/b/index.html", "index.html", "c/index.html"}, "index.html"},
		{"first html without index", []string{"contact.html", "about.html"}, "contact.html"},
		{"uppercase extension", []string{"HOME.HTML"}, "HOME.HTML"},
		{"suffix is not index", []string{"myindex.html", "about.html"}, "myindex.html"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var kv []string
			for _, f := range tc.files {
				kv = append(kv, f, "<p>"+f+"</p>")
			}
			kv = append(kv, "style.css", "CSS")
			sink := newMemSink()
			res, err := Rehydrate(entries(kv...), sink)
			if err != nil {
				t.Fatal(err)
			}
			if res.EntryPath != tc.want {
				t.Fatalf("entry: got %q, want %q", res.EntryPath, tc.want)
			}
			if !strings.Contains(res.HTML, "<p>"+tc.want+"</p>") {
				t.Fatalf("wrong document rendered: %s", res.HTML)
			}
			if len(res.Handles) != 1 {
				t.Fatalf("html files must not become assets: got %d handles", len(res.Handles))
			}
		})
	}
}

func TestRehydrate_MissingEntryPoint(t *testing.T) {
	sink := newMemSink()
	res, err := Rehydrate(entries("style.css", "CSS", "app.js", "JS"), sink)
	if !errors.Is(err, ErrBundleInvalid) {
		t.Fatalf("err: got %v, want ErrBundleInvalid", err)
	}
	if res != nil {
		t.Fatal("expected nil result")
	}
	if sink.creates != 0 {
		t.Fatalf("no resource may be created for an invalid bundle, got %d", sink.creates)
	}
}

func TestRehydrate_PartialResourceFailure(t *testing.T) {
	sink := newMemSink()
	sink.failAt = 3
	res, err := Rehydrate(entries(
		"index.html", "<p>x</p>",
		"a.css", "A",
		"b.css", "B",
		"c.css", "C",
	), sink)
	if !errors.Is(err, ErrResourceCreation) {
		t.Fatalf("err: got %v, want ErrResourceCreation", err)
	}
	if res == nil || len(res.Handles) != 2 {
		t.Fatalf("partial handles must be returned, got %+v", res)
	}
	res.Release(sink)
	if len(sink.live) != 0 {
		t.Fatalf("live handles after release: %d", len(sink.live))
	}
	if res.Handles != nil {
		t.Fatal("Release must empty the handle list")
	}
}

func TestFromArchive_Corrupt(t *testing.T) {
	_, err := FromArchive([]byte("nope"), newMemSink())
	if !errors.Is(err, bundle.ErrArchiveCorrupt) {
		t.Fatalf("err: got %v", err)
	}
}

func TestMimeType(t *testing.T) {
	cases := map[string]string{
		"a.css":        "text/css",
		"a.JS":         "application/javascript",
		"img/logo.svg": "image/svg+xml",
		"photo.JPEG":   "image/jpeg",
		"font.woff2":   "font/woff2",
		"data.json":    "application/json",
		"archive.tar":  DefaultMIME,
		"no-extension": DefaultMIME,
	}
	for in, want := range cases {
		if got := MimeType(in); got != want {
			t.Errorf("MimeType(%q) = %q, want %q", in, got, want)
		}
	}
}
