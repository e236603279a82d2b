// internal/models/palette.go
package models

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// Body text on a theme background must meet WCAG AA for normal text.
const MinTextContrastRatio = 4.5

const (
	BlackHex = "#000000"
	WhiteHex = "#FFFFFF"
)

const (
	defaultPaletteBackground = "#0E1016"
	defaultPaletteForeground = "#FFFFFF"
	defaultPalettePrimary    = "#7C3AED"
	defaultPaletteAccent1    = "#22D3EE"
	defaultPaletteAccent2    = "#F472B6"
	defaultPaletteNeutral    = "#1F2430"
)

var hexColorRegex = regexp.MustCompile(`(?i)^#([0-9A-F]{3}|[0-9A-F]{6})$`)
var cssHexColorRegex = regexp.MustCompile(`(?i)^#([0-9A-F]{3}|[0-9A-F]{6}|[0-9A-F]{8})$`)
var cssFunctionColorRegex = regexp.MustCompile(`(?i)^rgba?\(\s*\d{1,3}\s*,\s*\d{1,3}\s*,\s*\d{1,3}\s*(,\s*(0|1|0?\.\d+|1\.0+)\s*)?\)$`)

// Palette is the set of named color roles a patch generator draws from.
type Palette struct {
	Background string `json:"bg"`
	Foreground string `json:"fg"`
	Primary    string `json:"primary"`
	Accent1    string `json:"accent1"`
	Accent2    string `json:"accent2"`
	Neutral    string `json:"neutral"`
	Font       string `json:"font,omitempty"`
}

func DefaultPalette() Palette {
	return Palette{
		Background: defaultPaletteBackground,
		Foreground: defaultPaletteForeground,
		Primary:    defaultPalettePrimary,
		Accent1:    defaultPaletteAccent1,
		Accent2:    defaultPaletteAccent2,
		Neutral:    defaultPaletteNeutral,
	}
}

// Validate reports the first role that is missing or not a #RGB/#RRGGBB color.
func (p Palette) Validate() error {
	roles := []struct {
		name  string
		value string
	}{
		{"bg", p.Background},
		{"fg", p.Foreground},
		{"primary", p.Primary},
		{"accent1", p.Accent1},
		{"accent2", p.Accent2},
		{"neutral", p.Neutral},
	}
	for _, role := range roles {
		if strings.TrimSpace(role.value) == "" {
			return fmt.Errorf("%s is required", role.name)
		}
		if !IsHexColor(role.value) {
			return fmt.Errorf("%s must be a hex color like #AABBCC, got %q", role.name, role.value)
		}
	}
	return nil
}

// Normalized returns the palette with every role expanded to upper-case #RRGGBB.
// Roles that fail to parse are left untouched; call Validate first.
func (p Palette) Normalized() Palette {
	norm := func(value string) string {
		hex, err := NormalizeHex(value)
		if err != nil {
			return value
		}
		return hex
	}
	p.Background = norm(p.Background)
	p.Foreground = norm(p.Foreground)
	p.Primary = norm(p.Primary)
	p.Accent1 = norm(p.Accent1)
	p.Accent2 = norm(p.Accent2)
	p.Neutral = norm(p.Neutral)
	return p
}

// EnsureReadable forces the foreground to black or white when it does not reach
// MinTextContrastRatio against the background.
func (p Palette) EnsureReadable() Palette {
	ratio, err := ContrastRatio(p.Foreground, p.Background)
	if err == nil && ratio >= MinTextContrastRatio {
		return p
	}
	p.Foreground = ReadableTextOn(p.Background)
	return p
}

// ReadableTextOn picks black or white, whichever contrasts more with background.
func ReadableTextOn(background string) string {
	blackRatio, err := ContrastRatio(BlackHex, background)
	if err != nil {
		return WhiteHex
	}
	whiteRatio, _ := ContrastRatio(WhiteHex, background)
	if blackRatio >= whiteRatio {
		return BlackHex
	}
	return WhiteHex
}

func IsHexColor(value string) bool {
	return hexColorRegex.MatchString(strings.TrimSpace(value))
}

// IsColorValue reports whether value is a CSS color the engine may overwrite:
// #RGB, #RRGGBB, #RRGGBBAA, rgb(...) or rgba(...).
func IsColorValue(value string) bool {
	value = strings.TrimSpace(value)
	return cssHexColorRegex.MatchString(value) || cssFunctionColorRegex.MatchString(value)
}

// NormalizeHex expands #RGB and upper-cases the result.
func NormalizeHex(value string) (string, error) {
	c, err := parseHex(value)
	if err != nil {
		return "", err
	}
	return FormatHex(c), nil
}

// FormatHex renders c as upper-case #RRGGBB.
func FormatHex(c colorful.Color) string {
	r, g, b := c.Clamped().RGB255()
	return fmt.Sprintf("#%02X%02X%02X", r, g, b)
}

// RGBA renders a hex color as rgba(r,g,b,alpha).
func RGBA(hexColor string, alpha float64) string {
	c, err := parseHex(hexColor)
	if err != nil {
		return hexColor
	}
	r, g, b := c.Clamped().RGB255()
	return fmt.Sprintf("rgba(%d,%d,%d,%s)", r, g, b, strconv.FormatFloat(alpha, 'f', -1, 64))
}

// SameColor compares two color strings ignoring case, whitespace and short-hex form.
func SameColor(a, b string) bool {
	a = canonicalColor(a)
	b = canonicalColor(b)
	return a == b
}

func canonicalColor(value string) string {
	value = strings.TrimSpace(value)
	if hex, err := NormalizeHex(value); err == nil {
		return hex
	}
	return strings.ToLower(strings.Join(strings.Fields(value), ""))
}

func ContrastRatio(textColor, backgroundColor string) (float64, error) {
	textL, err := RelativeLuminance(textColor)
	if err != nil {
		return 0, err
	}
	backgroundL, err := RelativeLuminance(backgroundColor)
	if err != nil {
		return 0, err
	}
	lightest := math.Max(textL, backgroundL)
	darkest := math.Min(textL, backgroundL)
	return (lightest + 0.05) / (darkest + 0.05), nil
}

func RelativeLuminance(hexColor string) (float64, error) {
	c, err := parseHex(hexColor)
	if err != nil {
		return 0, err
	}
	return Luminance(c), nil
}

// Luminance is the WCAG relative luminance of c.
func Luminance(c colorful.Color) float64 {
	rl := srgbToLinear(c.R)
	gl := srgbToLinear(c.G)
	bl := srgbToLinear(c.B)

	return 0.2126*rl + 0.7152*gl + 0.0722*bl
}

// ContrastOf is ContrastRatio for already parsed colors.
func ContrastOf(a, b colorful.Color) float64 {
	la := Luminance(a)
	lb := Luminance(b)
	return (math.Max(la, lb) + 0.05) / (math.Min(la, lb) + 0.05)
}

func parseHex(hexColor string) (colorful.Color, error) {
	hexColor = strings.TrimSpace(hexColor)
	if !hexColorRegex.MatchString(hexColor) {
		return colorful.Color{}, fmt.Errorf("invalid hex color: %s", hexColor)
	}
	c, err := colorful.Hex(strings.ToLower(hexColor))
	if err != nil {
		return colorful.Color{}, fmt.Errorf("invalid hex color: %s", hexColor)
	}
	return c, nil
}

// ParseHex parses #RGB or #RRGGBB.
func ParseHex(hexColor string) (colorful.Color, error) {
	return parseHex(hexColor)
}

func srgbToLinear(value float64) float64 {
	if value <= 0.03928 {
		return value / 12.92
	}
	return math.Pow((value+0.055)/1.055, 2.4)
}
