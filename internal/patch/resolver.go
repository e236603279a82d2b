// Package patch turns palettes and prompts into RFC6902 replace operations
// against a theme document, and applies them under schema validation.
package patch

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/codr1/skinforge/internal/models"
)

const (
	borderAlpha            = 0.24
	backgroundImageKey     = "backgroundImage"
	rootLayerSegmentLength = 1
)

var (
	forbiddenKeyRegex = regexp.MustCompile(`(?i)(image|url|svg|href|src)`)
	forbiddenTailRe   = regexp.MustCompile(`(?i)(icon|path|logo)$`)
	fontFamilyKeyRe   = regexp.MustCompile(`(?i)fontfamily$`)
)

// roleRule is one entry of the ordered role heuristic. The first rule whose
// match returns true decides the color.
type roleRule struct {
	name  string
	match func(s slot) bool
	pick  func(p models.Palette) string
}

// slot is the location being colored: its container segments and leaf key.
type slot struct {
	segments []string
	key      string
}

func (s slot) anySegment(words ...string) bool {
	for _, segment := range s.segments {
		if hasWord(segment, words...) {
			return true
		}
	}
	return false
}

func (s slot) keyHas(words ...string) bool {
	return hasWord(s.key, words...)
}

func (s slot) isBackground() bool {
	return s.keyHas("background", "bg", "fill", "surface")
}

func (s slot) isText() bool {
	return strings.EqualFold(s.key, "color") || s.keyHas("text", "icon", "font", "label", "placeholder")
}

func (s slot) isBorder() bool {
	return s.keyHas("border", "outline", "divider", "stroke")
}

// hasWord matches whole camelCase words, so "transactionList" does not count
// as an "action" container. A trailing plural "s" is accepted.
func hasWord(name string, words ...string) bool {
	for _, token := range splitWords(name) {
		for _, word := range words {
			if token == word || token == word+"s" {
				return true
			}
		}
	}
	return false
}

// splitWords breaks camelCase, PascalCase and separated names into lower-case words.
func splitWords(name string) []string {
	runes := []rune(name)
	var out []string
	var current []rune
	flush := func() {
		if len(current) > 0 {
			out = append(out, strings.ToLower(string(current)))
			current = current[:0]
		}
	}
	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if unicode.IsUpper(r) && i > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		current = append(current, r)
	}
	flush()
	return out
}

func foreground(p models.Palette) string { return p.Foreground }
func background(p models.Palette) string { return p.Background }
func primary(p models.Palette) string    { return p.Primary }
func neutral(p models.Palette) string    { return p.Neutral }
func border(p models.Palette) string     { return models.RGBA(p.Foreground, borderAlpha) }

// roleRules is evaluated top to bottom; swapping entries changes output.
var roleRules = []roleRule{
	{
		name:  "text",
		match: func(s slot) bool { return s.isText() },
		pick:  foreground,
	},
	{
		name:  "border",
		match: func(s slot) bool { return s.isBorder() },
		pick:  border,
	},
	{
		name: "action-background",
		match: func(s slot) bool {
			return s.isBackground() && s.anySegment("button", "unlock", "action")
		},
		pick: primary,
	},
	{
		name: "list-surface",
		match: func(s slot) bool {
			return s.isBackground() && s.anySegment("sidebar", "dropdown", "menu", "asset")
		},
		pick: neutral,
	},
	{
		name: "root-background",
		match: func(s slot) bool {
			return s.isBackground() && len(s.segments) == rootLayerSegmentLength
		},
		pick: background,
	},
	{
		name: "panel",
		match: func(s slot) bool {
			return s.anySegment("header", "footer", "card", "container") || s.keyHas("header", "footer", "card", "container")
		},
		pick: neutral,
	},
	{
		name:  "background",
		match: func(s slot) bool { return s.isBackground() },
		pick:  background,
	},
	{
		name:  "fallback",
		match: func(slot) bool { return true },
		pick:  foreground,
	},
}

// Resolver decides which palette role applies to a document location and
// whether a location may be edited at all.
type Resolver struct {
	allowPrefixes []string
}

// NewResolver builds a resolver. An empty allow-list permits every path.
func NewResolver(allowPrefixes []string) *Resolver {
	cleaned := make([]string, 0, len(allowPrefixes))
	for _, prefix := range allowPrefixes {
		prefix = strings.TrimSpace(prefix)
		if prefix == "" {
			continue
		}
		if !strings.HasPrefix(prefix, "/") {
			prefix = "/" + prefix
		}
		cleaned = append(cleaned, prefix)
	}
	return &Resolver{allowPrefixes: cleaned}
}

// Allowed reports whether pointer lies under the allow-list.
func (r *Resolver) Allowed(pointer string) bool {
	if len(r.allowPrefixes) == 0 {
		return true
	}
	for _, prefix := range r.allowPrefixes {
		if models.HasPointerPrefix(pointer, prefix) {
			return true
		}
	}
	return false
}

// IsForbiddenKey reports keys that carry images, links or vector data.
func IsForbiddenKey(key string) bool {
	return forbiddenKeyRegex.MatchString(key) || forbiddenTailRe.MatchString(key)
}

// IsEligible applies, in order, the allow-list, the forbidden-key filter and
// image protection. path is the container pointer, key the leaf key.
func (r *Resolver) IsEligible(doc models.Document, path, key string) bool {
	if !r.Allowed(models.JoinPointer(path, key)) {
		return false
	}
	if IsForbiddenKey(key) {
		return false
	}
	if isBackgroundColorKey(key) && siblingHasImage(doc, path) {
		return false
	}
	return true
}

// DecideColor returns the palette color for a leaf.
func (r *Resolver) DecideColor(path, key string, p models.Palette) string {
	color, _ := r.Decide(path, key, p)
	return color
}

// Decide returns the palette color for a leaf and the name of the role rule
// that picked it.
func (r *Resolver) Decide(path, key string, p models.Palette) (string, string) {
	return decide(path, key, p)
}

func decide(path, key string, p models.Palette) (string, string) {
	segments, err := models.SplitPointer(path)
	if err != nil {
		segments = nil
	}
	s := slot{segments: segments, key: key}
	for _, rule := range roleRules {
		if rule.match(s) {
			return rule.pick(p), rule.name
		}
	}
	return p.Foreground, "fallback"
}

func isBackgroundColorKey(key string) bool {
	return models.IsColorKey(key) && hasWord(key, "background", "bg")
}

// siblingHasImage reports whether the container at path carries a non-empty
// backgroundImage.
func siblingHasImage(doc models.Document, path string) bool {
	node, ok := doc.Lookup(path)
	if !ok {
		return false
	}
	container, ok := node.(map[string]any)
	if !ok {
		return false
	}
	return hasImage(container)
}

func hasImage(container map[string]any) bool {
	value, ok := container[backgroundImageKey].(string)
	return ok && strings.TrimSpace(value) != ""
}
