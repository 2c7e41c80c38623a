package upstream

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrArchiveFetchFailed wraps every failure to obtain a site archive.
var ErrArchiveFetchFailed = errors.New("upstream: archive fetch failed")

// ErrInvalidSession is returned when a session id cannot be placed in a URL.
var ErrInvalidSession = errors.New("upstream: invalid session id")

// ErrMalformedStatus is returned when a poll answer is not a JSON object.
var ErrMalformedStatus = errors.New("upstream: malformed status document")

// StatusError is a non-2xx answer from the build service.
type StatusError struct {
	Service     Service
	Status      int
	ContentType string
	Body        []byte
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(string(e.Body))
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("upstream: %s: status %d", e.Service, e.Status)
	}
	return fmt.Sprintf("upstream: %s: status %d: %s", e.Service, e.Status, body)
}

// Details returns the body as decoded JSON when the service declared JSON,
// and as a string otherwise.
func (e *StatusError) Details() any {
	return Payload(e.ContentType, e.Body)
}

// ErrCircuitOpen is returned while the breaker of a service is open.
type ErrCircuitOpen struct {
	Service Service
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("upstream: circuit open: %s", e.Service)
}

// ErrPanic wraps a recovered panic value.
type ErrPanic struct {
	Value any
}

func (e *ErrPanic) Error() string {
	return fmt.Sprintf("upstream: handler panicked: %v", e.Value)
}

// Payload decodes body as JSON when contentType says so and falls back to
// the raw text.
func Payload(contentType string, body []byte) any {
	if isJSON(contentType) {
		var v any
		if err := json.Unmarshal(body, &v); err == nil {
			return v
		}
	}
	return string(body)
}

func isJSON(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "application/json")
}
