package rehydrate

import (
	"net/url"
	"strings"

	"github.com/hazyhaar/sitepreview/bundle"
)

const nextPrefix = "_next/"

// Key ranks. A lower rank always replaces a higher one; equal ranks keep the
// first registration so that two assets sharing a basename never steal each
// other's exact paths.
const (
	rankExact = iota
	rankDerived
	rankBasename
)

type slot struct {
	handle string
	rank   int
}

// Registry maps path-variant strings to resource handles. Every asset is
// registered under many keys (bare, "./", "/", "_next/" forms and its
// basename) because generated HTML references assets with any of those
// conventions.
type Registry struct {
	keys map[string]slot
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{keys: make(map[string]slot)}
}

// Register records handle under every variant of assetPath. baseDir is the
// entry point's directory ("" or ending in "/"); assets below it are also
// registered relative to it.
func (r *Registry) Register(assetPath, handle, baseDir string) {
	key := bundle.NormalizePath(assetPath)
	if key == "" {
		return
	}
	r.registerKey(key, handle, rankExact)
	if baseDir != "" && strings.HasPrefix(key, baseDir) && len(key) > len(baseDir) {
		r.registerKey(key[len(baseDir):], handle, rankDerived)
	}
}

// Len reports the number of distinct keys.
func (r *Registry) Len() int { return len(r.keys) }

// Lookup returns the handle registered for key, trying the bare, "./" and "/"
// forms in that order.
func (r *Registry) Lookup(key string) (string, bool) {
	for _, k := range [...]string{key, "./" + key, "/" + key} {
		if s, ok := r.keys[k]; ok {
			return s.handle, true
		}
	}
	return "", false
}

// Resolve maps a raw HTML reference to a handle. The first candidate from
// Candidates that hits the registry wins.
func (r *Registry) Resolve(ref, baseDir string) (string, bool) {
	for _, c := range Candidates(ref, baseDir) {
		if h, ok := r.Lookup(c); ok {
			return h, true
		}
	}
	return "", false
}

func (r *Registry) registerKey(key, handle string, rank int) {
	r.variants(key, handle, rank)
	if rest, ok := strings.CutPrefix(key, nextPrefix); ok {
		if rest != "" {
			r.variants(rest, handle, max(rank, rankDerived))
		}
		return
	}
	r.variants(nextPrefix+key, handle, max(rank, rankDerived))
}

func (r *Registry) variants(key, handle string, rank int) {
	for _, k := range [...]string{key, "./" + key, "/" + key} {
		r.set(k, handle, rank)
	}
	for _, k := range [...]string{nextPrefix + key, "./" + nextPrefix + key, "/" + nextPrefix + key} {
		r.set(k, handle, max(rank, rankDerived))
	}
	if i := strings.LastIndexByte(key, '/'); i >= 0 && i < len(key)-1 {
		base := key[i+1:]
		for _, k := range [...]string{base, "./" + base, "/" + base} {
			r.set(k, handle, rankBasename)
		}
	}
}

func (r *Registry) set(key, handle string, rank int) {
	if cur, ok := r.keys[key]; ok && cur.rank <= rank {
		return
	}
	r.keys[key] = slot{handle: handle, rank: rank}
}

// Candidates returns the lookup keys tried for a raw reference, in order:
// the normalized reference, the reference without query or fragment (and its
// percent-decoded form), then the reference resolved against baseDir. Each
// candidate has a leading "_next/" segment removed. References carrying a
// scheme or a network host are never candidates.
func Candidates(ref, baseDir string) []string {
	ref = strings.TrimSpace(ref)
	if ref == "" || isExternal(ref) {
		return nil
	}

	var out []string
	seen := make(map[string]bool)
	add := func(c string) {
		c = bundle.NormalizePath(c)
		if rest, ok := strings.CutPrefix(c, nextPrefix); ok && rest != "" {
			c = rest
		}
		if c == "" || seen[c] {
			return
		}
		seen[c] = true
		out = append(out, c)
	}

	add(ref)
	bare := stripQuery(ref)
	add(bare)
	if decoded, err := url.PathUnescape(bare); err == nil {
		add(decoded)
	}
	if baseDir != "" {
		if p, ok := resolveAgainst(ref, baseDir); ok {
			add(p)
		}
	}
	return out
}

func stripQuery(ref string) string {
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		return ref[:i]
	}
	return ref
}

func isExternal(ref string) bool {
	if strings.HasPrefix(ref, "//") {
		return true
	}
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	return u.Scheme != ""
}

// resolveAgainst resolves ref as a URL relative to the document directory and
// returns the resulting path without its leading slash.
func resolveAgainst(ref, baseDir string) (string, bool) {
	rel, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	base := &url.URL{Scheme: "http", Host: "bundle.invalid", Path: "/" + baseDir}
	return strings.TrimLeft(base.ResolveReference(rel).Path, "/"), true
}
