package bundle

import (
	"archive/zip"
	"bytes"
	"errors"
	"sort"
	"testing"
)

type member struct {
	name string
	data string
}

func buildZip(t *testing.T, members ...member) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, m := range members {
		w, err := zw.Create(m.name)
		if err != nil {
			t.Fatalf("create %s: %v", m.name, err)
		}
		if _, err := w.Write([]byte(m.data)); err != nil {
			t.Fatalf("write %s: %v", m.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func TestDecode_SkipsDirectories(t *testing.T) {
	raw := buildZip(t,
		member{name: "assets/"},
		member{name: "index.html", data: "<html></html>"},
		member{name: "assets/app.css", data: "body{}"},
	)

	entries, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries: got %d, want 2", len(entries))
	}
	if entries[0].Path != "index.html" || string(entries[0].Data) != "<html></html>" {
		t.Errorf("entry 0: got %q %q", entries[0].Path, entries[0].Data)
	}
	if entries[1].Path != "assets/app.css" || string(entries[1].Data) != "body{}" {
		t.Errorf("entry 1: got %q %q", entries[1].Path, entries[1].Data)
	}
}

func TestDecode_Corrupt(t *testing.T) {
	cases := map[string][]byte{
		"nil":     nil,
		"garbage": []byte("this is not a zip archive"),
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			entries, err := Decode(raw)
			if !errors.Is(err, ErrArchiveCorrupt) {
				t.Fatalf("err: got %v, want ErrArchiveCorrupt", err)
			}
			if entries != nil {
				t.Fatalf("entries: got %d, want none", len(entries))
			}
		})
	}
}

func TestDecode_Truncated(t *testing.T) {
	raw := buildZip(t, member{name: "index.html", data: "<html><body>hello</body></html>"})
	_, err := Decode(raw[:len(raw)/2])
	if !errors.Is(err, ErrArchiveCorrupt) {
		t.Fatalf("err: got %v, want ErrArchiveCorrupt", err)
	}
}

func TestDecode_Empty(t *testing.T) {
	cases := map[string][]byte{
		"no members":       buildZip(t),
		"only directories": buildZip(t, member{name: "a/"}, member{name: "a/b/"}),
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(raw)
			if !errors.Is(err, ErrArchiveEmpty) {
				t.Fatalf("err: got %v, want ErrArchiveEmpty", err)
			}
		})
	}
}

func TestDecode_Idempotent(t *testing.T) {
	raw := buildZip(t,
		member{name: "index.html", data: "<p>x</p>"},
		member{name: "./img/logo.png", data: "\x89PNG"},
		member{name: "_next/static/app.js", data: "console.log(1)"},
	)

	first, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}

	flatten := func(entries []Entry) []string {
		out := make([]string, len(entries))
		for i, e := range entries {
			out[i] = e.Path + "\x00" + string(e.Data)
		}
		sort.Strings(out)
		return out
	}
	a, b := flatten(first), flatten(second)
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("entry %d differs: %q vs %q", i, a[i], b[i])
		}
	}

	// Decoded entries must not alias each other between calls.
	first[0].Data[0] = 'X'
	if second[0].Data[0] == 'X' {
		t.Fatal("decoded data shared between calls")
	}
}

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"index.html", "index.html"},
		{"./index.html", "index.html"},
		{"/assets/app.css", "assets/app.css"},
		{"../assets/app.css", "assets/app.css"},
		{`.\img\logo.png`, "img/logo.png"},
		{"_next/static/chunk.js", "_next/static/chunk.js"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizePath(tc.in); got != tc.want {
			t.Errorf("NormalizePath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestEntry_Normalized(t *testing.T) {
	e := Entry{Path: "./sub/index.html"}
	if got := e.Normalized(); got != "sub/index.html" {
		t.Fatalf("Normalized: got %q", got)
	}
	if e.Path != "./sub/index.html" {
		t.Fatal("Normalized must not rewrite Path")
	}
}
