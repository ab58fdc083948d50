// Package model defines shared types for the gateway.
package model

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// InboundRequest is a client completion request as received by the gateway.
// Body holds the exact bytes the client sent and must not be modified.
type InboundRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// UpstreamTarget identifies the inference service. It is built once from
// configuration and is read-only afterwards.
type UpstreamTarget struct {
	BaseURL string
}

// Endpoint returns the absolute URL for path on the target. Only the scheme
// and host of BaseURL are kept; any path it carries is replaced.
func (t UpstreamTarget) Endpoint(path string) (string, error) {
	u, err := url.Parse(t.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse upstream base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("upstream base url %q: unsupported scheme %q", t.BaseURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("upstream base url %q: missing host", t.BaseURL)
	}

	out := url.URL{Scheme: u.Scheme, Host: u.Host, Path: path}
	return out.String(), nil
}

// UpstreamResponse represents the upstream response to be streamed back.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
