package compose

import (
	"errors"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/newsletter/internal/failure"
)

func TestComposeRendersMarkdownInsideShell(t *testing.T) {
	content := "## Highlights\n\n- **Sleep matters**: rest helps.\n- [Walk more](https://news.example.com/walk)\n"
	doc, err := Compose(content, TemplateConfig{Subject: "Weekly digest", Heading: "Health Weekly", ClosingNote: "Stay well."})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if doc.Subject != "Weekly digest" {
		t.Fatalf("unexpected subject %q", doc.Subject)
	}
	for _, want := range []string{
		"<title>Weekly digest</title>",
		"<h1>Health Weekly</h1>",
		"<h2>Highlights</h2>",
		"<strong>Sleep matters</strong>",
		`href="https://news.example.com/walk"`,
		"Stay well.",
		"<style>",
	} {
		if !strings.Contains(doc.Body, want) {
			t.Fatalf("expected %q in body:\n%s", want, doc.Body)
		}
	}
}

func TestComposePassesHTMLThroughSanitised(t *testing.T) {
	content := "```html\n<h2>Top story</h2><p onclick=\"x()\">Read <a href=\"javascript:alert(1)\">this</a></p><script>alert(1)</script>\n```"
	doc, err := Compose(content, TemplateConfig{})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if !strings.Contains(doc.Body, "<h2>Top story</h2>") {
		t.Fatalf("html content lost:\n%s", doc.Body)
	}
	for _, bad := range []string{"<script>", "onclick", "javascript:", "```"} {
		if strings.Contains(doc.Body, bad) {
			t.Fatalf("unsafe fragment %q survived:\n%s", bad, doc.Body)
		}
	}
}

func TestComposeEmptyContentYieldsNotice(t *testing.T) {
	for _, content := range []string{"", "   ", "<script>only()</script>"} {
		doc, err := Compose(content, TemplateConfig{Subject: "S"})
		if err != nil {
			t.Fatalf("Compose(%q): %v", content, err)
		}
		if !strings.Contains(doc.Body, EmptyNotice) || !strings.Contains(doc.Body, DefaultHeading) {
			t.Fatalf("expected minimal document for %q:\n%s", content, doc.Body)
		}
	}
}

func TestComposeDefaultsAndSingleLineSubject(t *testing.T) {
	doc, err := Compose("hello", TemplateConfig{Subject: "Line one\r\nBcc: someone@example.com"})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if strings.ContainsAny(doc.Subject, "\r\n") {
		t.Fatalf("subject must be a single line, got %q", doc.Subject)
	}
	doc, err = Compose("hello", TemplateConfig{})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if doc.Subject != DefaultSubject || !strings.Contains(doc.Body, DefaultClosingNote) {
		t.Fatalf("defaults not applied: %q", doc.Subject)
	}
}

func TestComposeEscapesShellFields(t *testing.T) {
	doc, err := Compose("x", TemplateConfig{Heading: "<b>Bold</b>"})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if strings.Contains(doc.Body, "<b>Bold</b>") || !strings.Contains(doc.Body, "&lt;b&gt;Bold&lt;/b&gt;") {
		t.Fatalf("heading not escaped:\n%s", doc.Body)
	}
}

func TestComposeRejectsLowContrastPalette(t *testing.T) {
	_, err := Compose("x", TemplateConfig{TextColor: "#dddddd", BackgroundColor: "#ffffff"})
	if !errors.Is(err, failure.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, err = Compose("x", TemplateConfig{TextColor: "not-a-colour"})
	if !errors.Is(err, failure.ErrValidation) {
		t.Fatalf("expected validation error for bad colour, got %v", err)
	}
}

func TestComposeIsDeterministic(t *testing.T) {
	a, _ := Compose("# Title\n\nBody", TemplateConfig{Subject: "S"})
	b, _ := Compose("# Title\n\nBody", TemplateConfig{Subject: "S"})
	if a != b {
		t.Fatalf("compose must be a pure function of its inputs")
	}
}
