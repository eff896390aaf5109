// Package httpfetch fetches page markup with a plain HTTP GET.
package httpfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/mohammad-safakhou/newsletter/internal/failure"
	"github.com/mohammad-safakhou/newsletter/tools/web_fetch/models"
)

const defaultMaxBodyBytes int64 = 8 << 20

// Fetcher performs one GET per call. The per-request timeout comes from the
// request, so the underlying client carries none.
type Fetcher struct {
	client       *http.Client
	maxBodyBytes int64
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient replaces the HTTP client (tests use httptest clients).
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// WithMaxBodyBytes caps how much of the response body is read.
func WithMaxBodyBytes(n int64) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBodyBytes = n
		}
	}
}

// New creates an HTTP fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{client: &http.Client{}, maxBodyBytes: defaultMaxBodyBytes}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch returns the response body of req.URL. Non-2xx statuses and transport
// failures are returned as *failure.NetworkError.
func (f *Fetcher) Fetch(ctx context.Context, req models.Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return "", &failure.NetworkError{URL: req.URL, Cause: err}
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return "", &failure.NetworkError{URL: req.URL, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", &failure.NetworkError{URL: req.URL, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes+1))
	if err != nil {
		return "", &failure.NetworkError{URL: req.URL, Cause: err}
	}
	if int64(len(body)) > f.maxBodyBytes {
		return "", &failure.NetworkError{URL: req.URL, Cause: fmt.Errorf("body exceeds %d bytes", f.maxBodyBytes)}
	}
	return string(body), nil
}
