package rehydrate

import (
	"reflect"
	"testing"
)

func TestCandidates(t *testing.T) {
	cases := []struct {
		ref, base string
		want      []string
	}{
		{"logo.png", "", []string{"logo.png"}},
		{"  ./logo.png ", "", []string{"logo.png"}},
		{"/_next/static/a.js?v=1#x", "", []string{"static/a.js?v=1#x", "static/a.js"}},
		{"img/my%20logo.png", "", []string{"img/my%20logo.png", "img/my logo.png"}},
		{"../img/a.png", "site/pages/", []string{"img/a.png", "site/img/a.png"}},
		{"a.png?x=1", "site/", []string{"a.png?x=1", "a.png", "site/a.png"}},
		{"https://cdn.example.com/a.png", "site/", nil},
		{"//cdn.example.com/a.png", "", nil},
		{"data:image/png;base64,AA", "", nil},
		{"   ", "", nil},
	}
	for _, tc := range cases {
		got := Candidates(tc.ref, tc.base)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("Candidates(%q, %q) = %q, want %q", tc.ref, tc.base, got, tc.want)
		}
	}
}

func TestRegistry_Variants(t *testing.T) {
	r := NewRegistry()
	r.Register("./assets/img/logo.png", "h1", "")

	for _, key := range []string{
		"assets/img/logo.png",
		"./assets/img/logo.png",
		"/assets/img/logo.png",
		"_next/assets/img/logo.png",
		"/_next/assets/img/logo.png",
		"logo.png",
		"./logo.png",
		"/logo.png",
	} {
		if h, ok := r.Lookup(key); !ok || h != "h1" {
			t.Errorf("Lookup(%q) = %q, %v", key, h, ok)
		}
	}
}

func TestRegistry_NextPrefixStripped(t *testing.T) {
	r := NewRegistry()
	r.Register("_next/static/css/app.css", "h1", "")
	for _, ref := range []string{"static/css/app.css", "/_next/static/css/app.css", "./static/css/app.css"} {
		if h, ok := r.Resolve(ref, ""); !ok || h != "h1" {
			t.Errorf("Resolve(%q) = %q, %v", ref, h, ok)
		}
	}
}

func TestRegistry_ExactPathBeatsBasename(t *testing.T) {
	r := NewRegistry()
	r.Register("a/logo.png", "ha", "")
	r.Register("b/logo.png", "hb", "")
	r.Register("logo.png", "hroot", "")

	cases := map[string]string{
		"a/logo.png": "ha",
		"b/logo.png": "hb",
		"logo.png":   "hroot",
		"/logo.png":  "hroot",
	}
	for ref, want := range cases {
		if h, _ := r.Resolve(ref, ""); h != want {
			t.Errorf("Resolve(%q) = %q, want %q", ref, h, want)
		}
	}
}

func TestRegistry_BasenameFirstComeWins(t *testing.T) {
	r := NewRegistry()
	r.Register("a/icon.svg", "ha", "")
	r.Register("b/icon.svg", "hb", "")
	if h, _ := r.Lookup("icon.svg"); h != "ha" {
		t.Fatalf("basename: got %q, want first registration", h)
	}
}

func TestRegistry_NextAndPlainBothPresent(t *testing.T) {
	r := NewRegistry()
	r.Register("_next/app.js", "hnext", "")
	r.Register("app.js", "hplain", "")
	if h, _ := r.Lookup("app.js"); h != "hplain" {
		t.Errorf("app.js: got %q", h)
	}
	if h, _ := r.Lookup("_next/app.js"); h != "hnext" {
		t.Errorf("_next/app.js: got %q", h)
	}
}

func TestRegistry_BaseDirRelative(t *testing.T) {
	r := NewRegistry()
	r.Register("out/css/site.css", "h1", "out/")
	if h, ok := r.Lookup("css/site.css"); !ok || h != "h1" {
		t.Fatalf("relative key: %q %v", h, ok)
	}
}
