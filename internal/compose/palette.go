package compose

import (
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"github.com/mohammad-safakhou/newsletter/internal/failure"
)

// Minimum WCAG AA contrast against the background. Accent colour is only
// used for headings and links, which count as large text.
const (
	minBodyContrast   = 4.5
	minAccentContrast = 3.0
)

// swatch is a colour with channels in [0,1].
type swatch [3]float64

func parseSwatch(field, raw string) (swatch, error) {
	s := strings.TrimPrefix(strings.TrimSpace(raw), "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 3 {
		return swatch{}, failure.NewValidationError(field, fmt.Sprintf("%q is not a #rgb or #rrggbb colour", raw))
	}
	return swatch{float64(b[0]) / 255, float64(b[1]) / 255, float64(b[2]) / 255}, nil
}

func (s swatch) luminance() float64 {
	weights := [3]float64{0.2126, 0.7152, 0.0722}
	var l float64
	for i, v := range s {
		if v <= 0.03928 {
			v /= 12.92
		} else {
			v = math.Pow((v+0.055)/1.055, 2.4)
		}
		l += weights[i] * v
	}
	return l
}

func contrast(a, b swatch) float64 {
	la, lb := a.luminance(), b.luminance()
	if la < lb {
		la, lb = lb, la
	}
	return (la + 0.05) / (lb + 0.05)
}

// checkPalette rejects template colours that would be hard to read in a
// mail client.
func checkPalette(c TemplateConfig) error {
	bg, err := parseSwatch("template.background_color", c.BackgroundColor)
	if err != nil {
		return err
	}
	checks := []struct {
		field string
		raw   string
		min   float64
	}{
		{"template.text_color", c.TextColor, minBodyContrast},
		{"template.accent_color", c.AccentColor, minAccentContrast},
	}
	for _, chk := range checks {
		fg, err := parseSwatch(chk.field, chk.raw)
		if err != nil {
			return err
		}
		if r := contrast(fg, bg); r < chk.min {
			return failure.NewValidationError(chk.field, fmt.Sprintf("contrast %.2f:1 against the background is below %.1f:1", r, chk.min))
		}
	}
	return nil
}
