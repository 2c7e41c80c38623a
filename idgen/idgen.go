// Package idgen builds the identifiers used across sitepreview: time-sortable
// UUIDv7 for journal events and snapshots, short base-36 ids for blob
// handles.
package idgen

import (
	"crypto/rand"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// byteLimit is the largest multiple of 36 that fits in a byte. Random bytes
// at or above it are discarded so every symbol is equally likely.
const byteLimit = 256 - 256%len(base36)

// NanoID returns a Generator of random base-36 IDs of the given length.
// Blob handles embedded in preview URLs use it.
func NanoID(length int) Generator {
	return func() string {
		out := make([]byte, 0, length)
		buf := make([]byte, length+length/8+1)
		for len(out) < length {
			if _, err := rand.Read(buf); err != nil {
				panic("idgen: crypto/rand failed: " + err.Error())
			}
			for _, b := range buf {
				if int(b) >= byteLimit {
					continue
				}
				out = append(out, base36[int(b)%len(base36)])
				if len(out) == length {
					break
				}
			}
		}
		return string(out)
	}
}

// UUIDv7 returns a Generator of RFC 9562 version 7 UUID strings.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends prefix to every ID produced by gen ("snap_", "evt_").
func Prefixed(prefix string, gen Generator) Generator {
	return func() string { return prefix + gen() }
}

// Default is UUIDv7.
var Default Generator = UUIDv7()
