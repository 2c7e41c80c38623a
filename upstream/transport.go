package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/hazyhaar/sitepreview/horosafe"
)

// HTTPTransport returns the innermost Handler: one HTTP round trip with the
// response body capped at maxBody. Non-2xx answers become *StatusError.
func HTTPTransport(client *http.Client, maxBody int64) Handler {
	if client == nil {
		client = http.DefaultClient
	}
	if maxBody <= 0 {
		maxBody = horosafe.MaxResponseBody
	}
	return func(ctx context.Context, req *Request) (*Response, error) {
		var body io.Reader
		if req.Body != nil {
			body = bytes.NewReader(req.Body)
		}
		hreq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
		if err != nil {
			return nil, fmt.Errorf("upstream: %s: create request: %w", req.Service, err)
		}
		if req.Body != nil {
			ct := req.ContentType
			if ct == "" {
				ct = "application/json"
			}
			hreq.Header.Set("Content-Type", ct)
		}
		hreq.Header.Set("Cache-Control", "no-store")

		resp, err := client.Do(hreq)
		if err != nil {
			return nil, fmt.Errorf("upstream: %s: do request: %w", req.Service, err)
		}
		defer resp.Body.Close()

		data, err := horosafe.LimitedReadAll(resp.Body, maxBody)
		if err != nil {
			return nil, fmt.Errorf("upstream: %s: read response: %w", req.Service, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &StatusError{
				Service:     req.Service,
				Status:      resp.StatusCode,
				ContentType: resp.Header.Get("Content-Type"),
				Body:        data,
			}
		}
		return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
	}
}
