package helpers

import (
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicyOnce sync.Once
	strictPolicy     *bluemonday.Policy

	newsletterPolicyOnce sync.Once
	newsletterPolicy     *bluemonday.Policy
)

// StrictHTMLPolicy returns a singleton bluemonday policy that strips every HTML
// element and attribute.
func StrictHTMLPolicy() *bluemonday.Policy {
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

// NewsletterHTMLPolicy allows what a newsletter body needs: headings,
// paragraphs, lists, tables, images and links. Scripts, event handlers,
// styles and non-http(s) URLs are removed.
func NewsletterHTMLPolicy() *bluemonday.Policy {
	newsletterPolicyOnce.Do(func() {
		policy := bluemonday.UGCPolicy()
		policy.AllowElements("figure", "figcaption", "section", "article", "header", "footer")
		policy.AllowAttrs("class").OnElements("section", "div", "p", "figure")
		policy.AllowURLSchemes("http", "https", "mailto")
		policy.AllowRelativeURLs(false)
		policy.RequireParseableURLs(true)
		policy.AddTargetBlankToFullyQualifiedLinks(true)
		newsletterPolicy = policy
	})
	return newsletterPolicy
}

// SanitizeHTMLStrict removes every HTML tag from s and trims it.
func SanitizeHTMLStrict(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return strings.TrimSpace(StrictHTMLPolicy().Sanitize(s))
}

// SanitizeNewsletterHTML cleans a rendered newsletter body.
func SanitizeNewsletterHTML(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return strings.TrimSpace(NewsletterHTMLPolicy().Sanitize(s))
}
