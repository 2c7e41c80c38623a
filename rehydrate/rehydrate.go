// Package rehydrate turns a decoded site bundle into a self-contained preview:
// it picks the HTML entry point, materializes every other file as a resource
// handle, and rewrites the document's asset references to those handles.
//
// Handles come from a ResourceSink. The caller owns every handle listed in
// Result.Handles and must release them, including after a failed call that
// still returned a Result.
package rehydrate

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hazyhaar/sitepreview/bundle"
)

// ErrBundleInvalid is returned when the bundle has no usable HTML entry point.
var ErrBundleInvalid = errors.New("rehydrate: bundle invalid")

// ErrResourceCreation is returned when the sink rejects a resource. The
// accompanying Result lists the handles created before the failure.
var ErrResourceCreation = errors.New("rehydrate: resource creation failed")

// ResourceSink creates dereferenceable handles from bytes and releases them.
type ResourceSink interface {
	Create(data []byte, mime string) (string, error)
	Release(handle string)
}

// Result is the output of a rehydration.
type Result struct {
	HTML       string   // rewritten document, doctype included
	EntryPath  string   // normalized path of the HTML entry point
	Handles    []string // every handle created, used or not
	Unresolved []string // references left untouched
}

// Release hands every handle back to sink and empties the list.
func (r *Result) Release(sink ResourceSink) {
	if r == nil {
		return
	}
	for _, h := range r.Handles {
		sink.Release(h)
	}
	r.Handles = nil
}

type options struct {
	logger *slog.Logger
}

// Option configures Rehydrate.
type Option func(*options)

// WithLogger sets the logger used for unresolved-reference diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Rehydrate partitions entries into one entry point and its assets, creates
// one handle per asset through sink, and rewrites the entry point's asset
// references. On ErrResourceCreation or a rewrite failure the partial Result
// is returned alongside the error so its handles can be released.
func Rehydrate(entries []bundle.Entry, sink ResourceSink, opts ...Option) (*Result, error) {
	o := options{logger: slog.Default()}
	for _, fn := range opts {
		fn(&o)
	}

	entry, assets, ok := partition(entries)
	if !ok {
		return nil, fmt.Errorf("%w: missing entry point", ErrBundleInvalid)
	}

	res := &Result{EntryPath: entry.Normalized()}
	baseDir := dirOf(res.EntryPath)

	reg := NewRegistry()
	res.Handles = make([]string, 0, len(assets))
	for _, a := range assets {
		h, err := sink.Create(a.Data, MimeType(a.Normalized()))
		if err != nil {
			return res, fmt.Errorf("%w: %s: %v", ErrResourceCreation, a.Path, err)
		}
		res.Handles = append(res.Handles, h)
		reg.Register(a.Path, h, baseDir)
	}

	doc, unresolved, err := rewriteDocument(entry.Data, func(ref string) (string, bool) {
		return reg.Resolve(ref, baseDir)
	})
	res.Unresolved = unresolved
	if err != nil {
		return res, fmt.Errorf("%w: %s: %v", ErrBundleInvalid, res.EntryPath, err)
	}
	res.HTML = doc

	for _, ref := range unresolved {
		o.logger.Debug("rehydrate: unresolved reference", "ref", ref, "entry", res.EntryPath)
	}
	return res, nil
}

// FromArchive decodes a raw ZIP archive and rehydrates it.
func FromArchive(raw []byte, sink ResourceSink, opts ...Option) (*Result, error) {
	entries, err := bundle.Decode(raw)
	if err != nil {
		return nil, err
	}
	return Rehydrate(entries, sink, opts...)
}

// partition selects the entry point and collects the assets. The first .html
// entry is the entry point unless an index.html exists, in which case the
// shallowest index.html wins. HTML files that are not the entry point are
// dropped.
func partition(entries []bundle.Entry) (bundle.Entry, []bundle.Entry, bool) {
	var entry bundle.Entry
	var found, isIndex bool
	depth := 0
	assets := make([]bundle.Entry, 0, len(entries))
	for _, e := range entries {
		p := e.Normalized()
		if p == "" || strings.HasSuffix(p, "/") {
			continue
		}
		if !isHTML(p) {
			assets = append(assets, e)
			continue
		}
		idx := isIndexHTML(p)
		d := strings.Count(p, "/")
		switch {
		case !found:
		case idx && !isIndex:
		case idx && isIndex && d < depth:
		default:
			continue
		}
		entry, found, isIndex, depth = e, true, idx, d
	}
	return entry, assets, found
}

func isHTML(p string) bool {
	return strings.HasSuffix(strings.ToLower(p), ".html")
}

func isIndexHTML(p string) bool {
	lp := strings.ToLower(p)
	return lp == "index.html" || strings.HasSuffix(lp, "/index.html")
}

// dirOf returns the directory of a normalized path including its trailing
// slash, or "" for a top-level file.
func dirOf(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[:i+1]
	}
	return ""
}
