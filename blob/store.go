// Package blob holds the in-memory resources that back a rehydrated preview.
//
// Every asset of a bundle becomes one object addressed by a handle of the form
// <prefix><id>. The rewritten HTML references handles directly, so the Store
// doubles as the http.Handler that serves them back to the preview frame.
package blob

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/hazyhaar/sitepreview/idgen"
)

// DefaultPrefix is the URL path under which handles are served.
const DefaultPrefix = "/blob/"

// ErrStoreFull is returned by Create when a configured cap would be exceeded.
var ErrStoreFull = errors.New("blob: store full")

// Config bounds the store. Zero values mean unlimited.
type Config struct {
	Prefix     string `yaml:"prefix"`
	MaxObjects int    `yaml:"max_objects"`
	MaxBytes   int64  `yaml:"max_bytes"`
}

type object struct {
	data []byte
	mime string
}

// Store is a concurrency-safe resource sink.
type Store struct {
	mu      sync.RWMutex
	objects map[string]object
	bytes   int64

	prefix     string
	maxObjects int
	maxBytes   int64
	newID      idgen.Generator
	logger     *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithIDGenerator overrides the handle id generator.
func WithIDGenerator(g idgen.Generator) Option {
	return func(s *Store) { s.newID = g }
}

// New creates an empty Store.
func New(cfg Config, opts ...Option) *Store {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	s := &Store{
		objects:    make(map[string]object),
		prefix:     prefix,
		maxObjects: cfg.MaxObjects,
		maxBytes:   cfg.MaxBytes,
		newID:      idgen.NanoID(21),
	}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Prefix returns the handle prefix, always ending in "/".
func (s *Store) Prefix() string { return s.prefix }

// Create stores a copy of data and returns its handle.
func (s *Store) Create(data []byte, mime string) (string, error) {
	if mime == "" {
		mime = "application/octet-stream"
	}
	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxObjects > 0 && len(s.objects) >= s.maxObjects {
		return "", fmt.Errorf("blob: create: %d objects: %w", len(s.objects), ErrStoreFull)
	}
	if s.maxBytes > 0 && s.bytes+int64(len(buf)) > s.maxBytes {
		return "", fmt.Errorf("blob: create: %d bytes: %w", s.bytes+int64(len(buf)), ErrStoreFull)
	}
	id := s.newID()
	for _, dup := s.objects[id]; dup; _, dup = s.objects[id] {
		id = s.newID()
	}
	s.objects[id] = object{data: buf, mime: mime}
	s.bytes += int64(len(buf))
	return s.prefix + id, nil
}

// Release frees the object behind handle. Unknown handles are ignored.
func (s *Store) Release(handle string) {
	id := strings.TrimPrefix(handle, s.prefix)
	s.mu.Lock()
	defer s.mu.Unlock()
	if obj, ok := s.objects[id]; ok {
		s.bytes -= int64(len(obj.data))
		delete(s.objects, id)
	}
}

// Live returns the number of objects currently held.
func (s *Store) Live() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// Bytes returns the total payload size currently held.
func (s *Store) Bytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bytes
}

// Get returns the payload and MIME type of id. The returned slice must not
// be modified.
func (s *Store) Get(id string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[id]
	return obj.data, obj.mime, ok
}

// ServeHTTP serves GET <prefix>{id}.
func (s *Store) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, s.prefix)
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	data, mime, ok := s.Get(id)
	if !ok {
		s.logger.Debug("blob: miss", "id", id)
		http.NotFound(w, r)
		return
	}
	h := w.Header()
	h.Set("Content-Type", mime)
	h.Set("Content-Length", strconv.Itoa(len(data)))
	h.Set("Cache-Control", "no-store")
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("X-Content-Type-Options", "nosniff")
	if r.Method == http.MethodHead {
		return
	}
	w.Write(data)
}
