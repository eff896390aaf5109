package capability

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/newsletter/internal/failure"
	"github.com/mohammad-safakhou/newsletter/models"
	"github.com/mohammad-safakhou/newsletter/tools/news_extract"
	fetchmodels "github.com/mohammad-safakhou/newsletter/tools/web_fetch/models"
)

type fakeFetcher struct {
	body string
	err  error
	got  []fetchmodels.Request
}

func (f *fakeFetcher) Fetch(_ context.Context, req fetchmodels.Request) (string, error) {
	f.got = append(f.got, req)
	return f.body, f.err
}

type recordingObserver struct{ seen []models.ExtractionResult }

func (o *recordingObserver) ObserveExtraction(res models.ExtractionResult) {
	o.seen = append(o.seen, res)
}

const indexPage = `<html><body><ul>
<li class="css-18vzruc"><a class="css-1wivj18" href="/a"><h2 class="css-1rjem4a">Sleep matters</h2></a>
<div class="css-5ry8xk">May 1, 2024</div><p class="css-ur5q1p">Why rest helps.</p></li>
<li class="css-18vzruc"><a class="css-1wivj18" href="/b"><h2 class="css-1rjem4a">Walk more</h2></a></li>
</ul></body></html>`

func newTestEngine(t *testing.T) *news_extract.Engine {
	t.Helper()
	e, err := news_extract.NewEngine(news_extract.Selectors{
		Container: "li.css-18vzruc", Title: "h2.css-1rjem4a", Date: "div.css-5ry8xk",
		Description: "p.css-ur5q1p", Link: "a.css-1wivj18", Image: "img",
	}, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestFetchNewsJSONFormat(t *testing.T) {
	fetcher := &fakeFetcher{body: indexPage}
	obs := &recordingObserver{}
	tool := NewFetchNews(fetcher, newTestEngine(t), FetchNewsConfig{
		SourceURL: "https://news.example.com/health-news",
		Headers:   map[string]string{"User-Agent": "ua"},
		Timeout:   time.Second,
	}, obs, nil)

	out, err := tool.Invoke(context.Background(), json.RawMessage(`{"format":"json"}`))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	got, ok := out.(fetchNewsOutput)
	if !ok {
		t.Fatalf("unexpected output type %T", out)
	}
	if got.Seen != 2 || len(got.Records) != 2 {
		t.Fatalf("unexpected output %+v", got)
	}
	if got.Records[1].PublishedDate != models.NoDate {
		t.Fatalf("expected sentinel date, got %q", got.Records[1].PublishedDate)
	}
	if got.Records[0].URL != "https://news.example.com/a" {
		t.Fatalf("link not resolved: %q", got.Records[0].URL)
	}
	if fetcher.got[0].URL != "https://news.example.com/health-news" || fetcher.got[0].Timeout != time.Second {
		t.Fatalf("unexpected fetch request %+v", fetcher.got[0])
	}
	if len(obs.seen) != 1 {
		t.Fatalf("observer not notified")
	}
}

func TestFetchNewsMarkdownWithURLOverrideAndArtifact(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "out", "articles.csv")
	fetcher := &fakeFetcher{body: indexPage}
	tool := NewFetchNews(fetcher, newTestEngine(t), FetchNewsConfig{
		SourceURL:    "https://news.example.com/health-news",
		Timeout:      time.Second,
		ArtifactPath: artifact,
	}, nil, nil)

	out, err := tool.Invoke(context.Background(), json.RawMessage(`{"url":"https://other.example.org/list"}`))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	text, _ := out.(string)
	if !strings.Contains(text, "| Sleep matters |") || !strings.Contains(text, "https://other.example.org/a") {
		t.Fatalf("unexpected markdown output %q", text)
	}
	data, err := os.ReadFile(artifact)
	if err != nil {
		t.Fatalf("artifact not written: %v", err)
	}
	if !strings.HasPrefix(string(data), "Title,Date,Description,Link\n") {
		t.Fatalf("unexpected artifact header %q", data)
	}
}

func TestFetchNewsPropagatesNetworkError(t *testing.T) {
	fetcher := &fakeFetcher{err: &failure.NetworkError{URL: "https://x", Status: 500}}
	tool := NewFetchNews(fetcher, newTestEngine(t), FetchNewsConfig{SourceURL: "https://x", Timeout: time.Second}, nil, nil)
	if _, err := tool.Invoke(context.Background(), nil); !errors.Is(err, failure.ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestFetchNewsRejectsBadFormat(t *testing.T) {
	tool := NewFetchNews(&fakeFetcher{}, newTestEngine(t), FetchNewsConfig{SourceURL: "https://x", Timeout: time.Second}, nil, nil)
	if _, err := tool.Invoke(context.Background(), json.RawMessage(`{"format":"xml"}`)); !errors.Is(err, failure.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := tool.Invoke(context.Background(), json.RawMessage(`{not json`)); !errors.Is(err, failure.ErrValidation) {
		t.Fatalf("expected validation error for bad json, got %v", err)
	}
}

func TestReadArticleReturnsReadableText(t *testing.T) {
	body := "<html><head><title>Sleep matters</title></head><body><article><h1>Sleep matters</h1>" +
		"<p>" + strings.Repeat("Rest improves memory and mood in adults. ", 30) + "</p>" +
		"<p>" + strings.Repeat("Researchers followed volunteers for a year. ", 30) + "</p>" +
		"</article></body></html>"
	tool := NewReadArticle(&fakeFetcher{body: body}, nil, time.Second, 100)

	out, err := tool.Invoke(context.Background(), json.RawMessage(`{"url":"https://news.example.com/a"}`))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	got := out.(articleOutput)
	if !strings.Contains(got.Text, "Rest improves memory") {
		t.Fatalf("unexpected text %q", got.Text)
	}
	if !got.Truncated || len([]rune(got.Text)) != 100 {
		t.Fatalf("expected truncation to 100 runes, got %d", len([]rune(got.Text)))
	}
}

func TestReadArticleRequiresURL(t *testing.T) {
	tool := NewReadArticle(&fakeFetcher{}, nil, time.Second, 100)
	if _, err := tool.Invoke(context.Background(), json.RawMessage(`{}`)); !errors.Is(err, failure.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
