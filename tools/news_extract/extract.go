// Package news_extract turns a news index page into article records. Each
// container is read on its own: a missing field becomes a sentinel and a
// malformed container is skipped without touching the rest of the batch.
package news_extract

import (
	"fmt"
	"io"
	"log"
	"net/url"
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/mohammad-safakhou/newsletter/internal/failure"
	"github.com/mohammad-safakhou/newsletter/models"
	"golang.org/x/net/html"
)

// Selectors are CSS selectors. Field selectors are matched inside a
// container.
type Selectors struct {
	Container   string
	Title       string
	Date        string
	Description string
	Link        string
	Image       string
}

type compiled struct {
	container   cascadia.Sel
	title       cascadia.Sel
	date        cascadia.Sel
	description cascadia.Sel
	link        cascadia.Sel
	image       cascadia.Sel
}

type Engine struct {
	sel    compiled
	base   *url.URL
	logger *log.Logger
}

// NewEngine compiles the selectors. A selector that does not parse is a
// configuration mistake and is reported as a validation error.
func NewEngine(s Selectors, logger *log.Logger) (*Engine, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	var c compiled
	fields := []struct {
		name string
		expr string
		dst  *cascadia.Sel
	}{
		{"container", s.Container, &c.container},
		{"title", s.Title, &c.title},
		{"date", s.Date, &c.date},
		{"description", s.Description, &c.description},
		{"link", s.Link, &c.link},
		{"image", s.Image, &c.image},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.expr) == "" {
			return nil, failure.NewValidationError("extraction."+f.name, "selector is empty")
		}
		sel, err := cascadia.Parse(f.expr)
		if err != nil {
			return nil, failure.NewValidationError("extraction."+f.name, err.Error())
		}
		*f.dst = sel
	}
	return &Engine{sel: c, logger: logger}, nil
}

// ForPage returns a copy of the engine that resolves relative links and
// image sources against pageURL.
func (e *Engine) ForPage(pageURL string) *Engine {
	cp := *e
	cp.base = nil
	if u, err := url.Parse(pageURL); err == nil && u.IsAbs() {
		cp.base = u
	}
	return &cp
}

// Extract reads every container in document order. It never fails: markup
// the parser cannot make sense of yields no containers.
func (e *Engine) Extract(markup string) models.ExtractionResult {
	var res models.ExtractionResult
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		e.logger.Printf("parse markup: %v", err)
		return res
	}

	containers := cascadia.QueryAll(doc, e.sel.container)
	res.Seen = len(containers)
	res.Records = make([]models.ArticleRecord, 0, len(containers))
	for i, n := range containers {
		rec, err := e.readContainer(i, n)
		if err != nil {
			res.Skipped++
			e.logger.Printf("skip container: %v", err)
			continue
		}
		res.Records = append(res.Records, rec)
	}
	return res
}

func (e *Engine) readContainer(index int, n *html.Node) (rec models.ArticleRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &failure.ParsingError{Index: index, Cause: fmt.Errorf("panic: %v", r)}
		}
	}()

	link, err := e.readLink(n)
	if err != nil {
		return models.ArticleRecord{}, &failure.ParsingError{Index: index, Cause: err}
	}
	return models.ArticleRecord{
		Title:         textOr(cascadia.Query(n, e.sel.title), models.NoTitle),
		PublishedDate: textOr(cascadia.Query(n, e.sel.date), models.NoDate),
		Description:   textOr(cascadia.Query(n, e.sel.description), models.NoDescription),
		URL:           link,
		ImageURL:      e.readImage(n),
	}, nil
}

// readLink returns NoLink when there is no anchor or no href, and an error
// when the href is present but not a URL.
func (e *Engine) readLink(n *html.Node) (string, error) {
	a := cascadia.Query(n, e.sel.link)
	if a == nil {
		return models.NoLink, nil
	}
	href, ok := attr(a, "href")
	if !ok || strings.TrimSpace(href) == "" {
		return models.NoLink, nil
	}
	u, err := e.resolve(href)
	if err != nil {
		return "", fmt.Errorf("link href %q: %w", href, err)
	}
	return u, nil
}

func (e *Engine) readImage(n *html.Node) string {
	img := cascadia.Query(n, e.sel.image)
	if img == nil {
		return models.NoImage
	}
	for _, key := range []string{"src", "data-src"} {
		if src, ok := attr(img, key); ok && strings.TrimSpace(src) != "" {
			if u, err := e.resolve(src); err == nil {
				return u
			}
		}
	}
	return models.NoImage
}

func (e *Engine) resolve(ref string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", err
	}
	if e.base != nil {
		u = e.base.ResolveReference(u)
	}
	return u.String(), nil
}

func textOr(n *html.Node, sentinel string) string {
	if n == nil {
		return sentinel
	}
	var b strings.Builder
	collectText(n, &b)
	t := strings.Join(strings.Fields(b.String()), " ")
	if t == "" {
		return sentinel
	}
	return t
}

func collectText(n *html.Node, b *strings.Builder) {
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		b.WriteByte(' ')
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}
