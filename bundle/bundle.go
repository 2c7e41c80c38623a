// Package bundle decodes the ZIP archives produced by the remote site generator
// into a flat list of file entries.
//
// A bundle is one HTML entry point plus its assets. Decoding is pure: the
// archive bytes are read once, every file member is decompressed into memory,
// and the archive itself is discarded.
//
//	entries, err := bundle.Decode(raw)
//	if errors.Is(err, bundle.ErrArchiveEmpty) { ... }
package bundle

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrArchiveCorrupt is returned when the buffer is not a well-formed ZIP
// archive or one of its members cannot be decompressed.
var ErrArchiveCorrupt = errors.New("bundle: archive is corrupt")

// ErrArchiveEmpty is returned when the archive holds no file members.
var ErrArchiveEmpty = errors.New("bundle: archive is empty")

// Entry is one file extracted from a bundle. Path is the archive path exactly
// as stored (it may carry "./", a leading slash or backslashes).
type Entry struct {
	Path string
	Data []byte
}

// Normalized returns the canonical lookup key for the entry's path.
func (e Entry) Normalized() string {
	return NormalizePath(e.Path)
}

// Decode enumerates every member of the ZIP archive in raw and returns one
// Entry per file member, in archive order. Directory members are skipped.
// On error no entries are returned.
func Decode(raw []byte) ([]Entry, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArchiveCorrupt, err)
	}

	entries := make([]Entry, 0, len(zr.File))
	for _, f := range zr.File {
		if isDir(f) {
			continue
		}
		data, err := readMember(f)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrArchiveCorrupt, f.Name, err)
		}
		entries = append(entries, Entry{Path: f.Name, Data: data})
	}

	if len(entries) == 0 {
		return nil, ErrArchiveEmpty
	}
	return entries, nil
}

// NormalizePath strips the leading run of '.', '/' and '\' characters from p
// and converts backslashes to forward slashes.
//
//	"./assets/app.css"   -> "assets/app.css"
//	"/_next/static/a.js" -> "_next/static/a.js"
//	"img\\logo.png"      -> "img/logo.png"
func NormalizePath(p string) string {
	p = strings.TrimLeft(p, `./\`)
	return strings.ReplaceAll(p, `\`, "/")
}

func isDir(f *zip.File) bool {
	if f.FileInfo().IsDir() {
		return true
	}
	return strings.HasSuffix(f.Name, "/") || strings.HasSuffix(f.Name, `\`)
}

func readMember(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
