package web_fetch

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/newsletter/config"
	"github.com/mohammad-safakhou/newsletter/tools/web_fetch/chromedp"
	"github.com/mohammad-safakhou/newsletter/tools/web_fetch/httpfetch"
	"github.com/mohammad-safakhou/newsletter/tools/web_fetch/models"
)

// WebFetcher retrieves the raw markup behind one URL. Implementations make a
// single attempt and report failures as *failure.NetworkError.
type WebFetcher interface {
	Fetch(ctx context.Context, req models.Request) (string, error)
}

type FetcherType string

const (
	HTTPFetcherType     FetcherType = "http"
	ChromedpFetcherType FetcherType = "chromedp"
)

// NewWebFetcher builds the backend selected by cfg.Backend.
func NewWebFetcher(cfg config.FetchConfig) (WebFetcher, error) {
	switch FetcherType(cfg.Backend) {
	case HTTPFetcherType, "":
		return httpfetch.New(httpfetch.WithMaxBodyBytes(cfg.MaxBodyBytes)), nil
	case ChromedpFetcherType:
		return &chromedp.Fetch{UserAgent: cfg.UserAgent}, nil
	default:
		return nil, fmt.Errorf("unsupported fetcher type %q", cfg.Backend)
	}
}
