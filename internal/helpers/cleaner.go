package helpers

import (
	"strings"
	"unicode/utf8"
)

// UnwrapFence returns the body of s when the whole of s is one fenced code
// block (``` or ~~~, optional language tag). Models often wrap a finished
// document that way. Anything else is returned trimmed and unchanged.
func UnwrapFence(s string) string {
	s = trimBOM(strings.TrimSpace(s))
	for _, fence := range []string{"```", "~~~"} {
		if !strings.HasPrefix(s, fence) || !strings.HasSuffix(s, fence) || len(s) < 2*len(fence) {
			continue
		}
		rest := s[len(fence):]
		nl := strings.IndexByte(rest, '\n')
		if nl == -1 {
			return s
		}
		info := strings.TrimSpace(rest[:nl])
		if strings.Contains(info, fence) {
			return s
		}
		inner := rest[nl+1 : len(rest)-len(fence)]
		if strings.Contains(inner, "\n"+fence) {
			// more than one block
			return s
		}
		return strings.TrimSpace(inner)
	}
	return s
}

// trimBOM removes an optional UTF-8 BOM.
func trimBOM(s string) string {
	if strings.HasPrefix(s, "\uFEFF") {
		return strings.TrimPrefix(s, "\uFEFF")
	}
	if len(s) >= 3 && s[0] == 0xEF && s[1] == 0xBB && s[2] == 0xBF && utf8.ValidString(s[3:]) {
		return s[3:]
	}
	return s
}
