package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"github.com/mohammad-safakhou/newsletter/internal/failure"
	"github.com/mohammad-safakhou/newsletter/models"
	"github.com/mohammad-safakhou/newsletter/tools/news_extract"
	"github.com/mohammad-safakhou/newsletter/tools/web_fetch"
	fetchmodels "github.com/mohammad-safakhou/newsletter/tools/web_fetch/models"
	"github.com/tidwall/gjson"
)

const (
	FetchNewsTool   = "fetch_news"
	ReadArticleTool = "read_article"
)

// ExtractionObserver is told about every successful extraction.
type ExtractionObserver interface {
	ObserveExtraction(res models.ExtractionResult)
}

// FetchNewsConfig holds the defaults applied to every fetch_news call.
type FetchNewsConfig struct {
	SourceURL    string
	Headers      map[string]string
	Timeout      time.Duration
	ArtifactPath string
}

// FetchNews fetches an index page and extracts its article records.
type FetchNews struct {
	fetcher  web_fetch.WebFetcher
	engine   *news_extract.Engine
	cfg      FetchNewsConfig
	observer ExtractionObserver
	logger   *log.Logger
}

func NewFetchNews(fetcher web_fetch.WebFetcher, engine *news_extract.Engine, cfg FetchNewsConfig, observer ExtractionObserver, logger *log.Logger) *FetchNews {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &FetchNews{fetcher: fetcher, engine: engine, cfg: cfg, observer: observer, logger: logger}
}

func (t *FetchNews) Name() string { return FetchNewsTool }

func (t *FetchNews) Description() string {
	return "Fetches the news index page and returns the extracted articles (title, date, description, link, image)."
}

func (t *FetchNews) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "Absolute URL of the index page. Defaults to the configured source.",
			},
			"format": map[string]any{
				"type":        "string",
				"enum":        []string{"markdown", "json"},
				"description": "Shape of the returned article list.",
			},
		},
	}
}

type fetchNewsOutput struct {
	SourceURL string                 `json:"source_url"`
	Seen      int                    `json:"seen"`
	Skipped   int                    `json:"skipped"`
	Records   []models.ArticleRecord `json:"records"`
}

func (t *FetchNews) Invoke(ctx context.Context, args json.RawMessage) (any, error) {
	target, format, err := t.parseArgs(args)
	if err != nil {
		return nil, err
	}

	markup, err := t.fetcher.Fetch(ctx, fetchmodels.Request{URL: target, Headers: t.cfg.Headers, Timeout: t.cfg.Timeout})
	if err != nil {
		return nil, err
	}
	res := t.engine.ForPage(target).Extract(markup)
	t.logger.Printf("extracted %d records from %s (%d skipped)", len(res.Records), target, res.Skipped)
	if t.observer != nil {
		t.observer.ObserveExtraction(res)
	}
	if t.cfg.ArtifactPath != "" {
		if err := writeArtifact(t.cfg.ArtifactPath, res.Records); err != nil {
			t.logger.Printf("write artifact: %v", err)
		}
	}

	if format == "json" {
		return fetchNewsOutput{SourceURL: target, Seen: res.Seen, Skipped: res.Skipped, Records: res.Records}, nil
	}
	if len(res.Records) == 0 {
		return fmt.Sprintf("No articles were found on %s.", target), nil
	}
	return fmt.Sprintf("Articles from %s (%d found, %d skipped):\n\n%s", target, len(res.Records), res.Skipped, news_extract.MarkdownTable(res.Records)), nil
}

func (t *FetchNews) parseArgs(args json.RawMessage) (string, string, error) {
	target, format := t.cfg.SourceURL, "markdown"
	if len(strings.TrimSpace(string(args))) == 0 {
		return target, format, nil
	}
	if !gjson.ValidBytes(args) {
		return "", "", failure.NewValidationError("arguments", "not valid JSON")
	}
	parsed := gjson.ParseBytes(args)
	if u := strings.TrimSpace(parsed.Get("url").String()); u != "" {
		target = u
	}
	if f := parsed.Get("format"); f.Exists() {
		switch v := strings.ToLower(f.String()); v {
		case "json", "markdown":
			format = v
		default:
			return "", "", failure.NewValidationError("format", "must be json or markdown")
		}
	}
	return target, format, nil
}

func writeArtifact(path string, records []models.ArticleRecord) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := news_extract.WriteCSV(f, records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadArticle returns the readable text of one article page.
type ReadArticle struct {
	fetcher  web_fetch.WebFetcher
	headers  map[string]string
	timeout  time.Duration
	maxChars int
}

func NewReadArticle(fetcher web_fetch.WebFetcher, headers map[string]string, timeout time.Duration, maxChars int) *ReadArticle {
	return &ReadArticle{fetcher: fetcher, headers: headers, timeout: timeout, maxChars: maxChars}
}

func (t *ReadArticle) Name() string { return ReadArticleTool }

func (t *ReadArticle) Description() string {
	return "Fetches a single article and returns its title, byline and main text, for deeper analysis of a story."
}

func (t *ReadArticle) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{"type": "string", "description": "Absolute URL of the article."},
		},
		"required": []string{"url"},
	}
}

type articleOutput struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	Byline    string `json:"byline,omitempty"`
	Text      string `json:"text"`
	Truncated bool   `json:"truncated,omitempty"`
}

func (t *ReadArticle) Invoke(ctx context.Context, args json.RawMessage) (any, error) {
	if !gjson.ValidBytes(args) {
		return nil, failure.NewValidationError("arguments", "not valid JSON")
	}
	link := strings.TrimSpace(gjson.GetBytes(args, "url").String())
	if link == "" {
		return nil, failure.NewValidationError("url", "is required")
	}
	u, err := url.Parse(link)
	if err != nil {
		return nil, failure.NewValidationError("url", err.Error())
	}

	markup, err := t.fetcher.Fetch(ctx, fetchmodels.Request{URL: link, Headers: t.headers, Timeout: t.timeout})
	if err != nil {
		return nil, err
	}
	article, err := readability.FromReader(strings.NewReader(markup), u)
	if err != nil {
		return nil, fmt.Errorf("readability %s: %w", link, err)
	}
	text, truncated := truncateRunes(strings.TrimSpace(article.TextContent), t.maxChars)
	return articleOutput{
		URL:       link,
		Title:     strings.TrimSpace(article.Title),
		Byline:    strings.TrimSpace(article.Byline),
		Text:      text,
		Truncated: truncated,
	}, nil
}

func truncateRunes(s string, max int) (string, bool) {
	if max <= 0 {
		return s, false
	}
	r := []rune(s)
	if len(r) <= max {
		return s, false
	}
	return string(r[:max]), true
}
