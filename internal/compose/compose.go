// Package compose renders the planner's final content into the newsletter
// document that gets mailed.
package compose

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/mohammad-safakhou/newsletter/internal/helpers"
	"github.com/mohammad-safakhou/newsletter/models"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

const (
	DefaultSubject         = "Newsletter of the day"
	DefaultHeading         = "Your Health Newsletter"
	DefaultClosingNote     = "Thanks for reading. See you in the next edition."
	DefaultTextColor       = "#222222"
	DefaultBackgroundColor = "#ffffff"
	DefaultAccentColor     = "#0b6e4f"

	// EmptyNotice replaces the body when there is nothing to report.
	EmptyNotice = "No stories were found for this edition."
)

// TemplateConfig controls the document shell. Style, when set, replaces the
// generated stylesheet entirely.
type TemplateConfig struct {
	Subject         string
	Heading         string
	ClosingNote     string
	Style           string
	TextColor       string
	BackgroundColor string
	AccentColor     string
}

func (c TemplateConfig) normalize() TemplateConfig {
	def := func(v, d string) string {
		v = strings.TrimSpace(v)
		if v == "" {
			return d
		}
		return v
	}
	// header values must stay on one line
	c.Subject = def(strings.Join(strings.Fields(c.Subject), " "), DefaultSubject)
	c.Heading = def(c.Heading, DefaultHeading)
	c.ClosingNote = def(c.ClosingNote, DefaultClosingNote)
	c.TextColor = def(c.TextColor, DefaultTextColor)
	c.BackgroundColor = def(c.BackgroundColor, DefaultBackgroundColor)
	c.AccentColor = def(c.AccentColor, DefaultAccentColor)
	return c
}

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithUnsafe()),
)

var shell = template.Must(template.New("newsletter").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Subject}}</title>
<style>{{.Style}}</style>
</head>
<body>
<div class="newsletter">
<header><h1>{{.Heading}}</h1></header>
<main>
{{.Body}}
</main>
<footer><p>{{.ClosingNote}}</p></footer>
</div>
</body>
</html>
`))

type shellData struct {
	Subject     string
	Heading     string
	ClosingNote string
	Style       template.CSS
	Body        template.HTML
}

// Compose wraps content in the document shell. Content may be Markdown or
// HTML; either way the result is sanitised before it is embedded. Empty
// content still yields a complete document carrying EmptyNotice.
func Compose(content string, cfg TemplateConfig) (models.NewsletterDocument, error) {
	cfg = cfg.normalize()
	if err := checkPalette(cfg); err != nil {
		return models.NewsletterDocument{}, err
	}

	body, err := renderBody(content)
	if err != nil {
		return models.NewsletterDocument{}, err
	}
	if isBlank(body) {
		body = "<p>" + template.HTMLEscapeString(EmptyNotice) + "</p>"
	}

	style := cfg.Style
	if strings.TrimSpace(style) == "" {
		style = defaultStyle(cfg)
	}

	var buf bytes.Buffer
	err = shell.Execute(&buf, shellData{
		Subject:     cfg.Subject,
		Heading:     cfg.Heading,
		ClosingNote: cfg.ClosingNote,
		Style:       template.CSS(style),
		Body:        template.HTML(body),
	})
	if err != nil {
		return models.NewsletterDocument{}, fmt.Errorf("render newsletter: %w", err)
	}
	return models.NewsletterDocument{Subject: cfg.Subject, Body: buf.String()}, nil
}

func renderBody(content string) (string, error) {
	content = helpers.UnwrapFence(content)
	if content == "" {
		return "", nil
	}
	if !looksLikeHTML(content) {
		var buf bytes.Buffer
		if err := markdown.Convert([]byte(content), &buf); err != nil {
			return "", fmt.Errorf("render markdown: %w", err)
		}
		content = buf.String()
	}
	return helpers.SanitizeNewsletterHTML(content), nil
}

// isBlank reports whether body has neither text nor an image to show.
func isBlank(body string) bool {
	if strings.TrimSpace(body) == "" {
		return true
	}
	return strings.TrimSpace(helpers.SanitizeHTMLStrict(body)) == "" && !strings.Contains(body, "<img")
}

func looksLikeHTML(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, prefix := range []string{"<!doctype", "<html", "<body", "<div", "<section", "<article", "<h1", "<h2", "<h3", "<p>", "<p ", "<table", "<ul", "<ol"} {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

func defaultStyle(c TemplateConfig) string {
	return fmt.Sprintf(`body{margin:0;padding:0;background:%[2]s;color:%[1]s;font-family:Arial,Helvetica,sans-serif;line-height:1.6}
.newsletter{max-width:640px;margin:0 auto;padding:24px}
header h1{color:%[3]s;border-bottom:2px solid %[3]s;padding-bottom:8px}
h2,h3{color:%[3]s}
a{color:%[3]s}
table{border-collapse:collapse;width:100%%}
td,th{border:1px solid #dddddd;padding:6px;text-align:left}
img{max-width:100%%;height:auto}
footer{margin-top:32px;font-size:0.9em;border-top:1px solid #dddddd;padding-top:12px}`, c.TextColor, c.BackgroundColor, c.AccentColor)
}
