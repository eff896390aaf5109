package models

import (
	"net/url"
	"time"

	"github.com/mohammad-safakhou/newsletter/internal/failure"
)

// Request describes a single page fetch.
type Request struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
}

// Validate checks the fetch preconditions: an absolute http(s) URL and a
// positive timeout.
func (r Request) Validate() error {
	u, err := url.Parse(r.URL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return failure.NewValidationError("url", "must be absolute: "+r.URL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return failure.NewValidationError("url", "unsupported scheme "+u.Scheme)
	}
	if r.Timeout <= 0 {
		return failure.NewValidationError("timeout", "must be greater than zero")
	}
	return nil
}
