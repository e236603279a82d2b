// Package palette extracts role-assigned color palettes from images.
//
// Extraction is best effort: every path yields a usable palette. When the
// image cannot be fetched, decoded or described, the result is tagged as a
// fallback carrying the default palette and the reason it was used.
package palette

import "github.com/codr1/skinforge/internal/models"

// Source tags where a palette came from.
type Source string

const (
	SourceExtracted Source = "extracted"
	SourceFallback  Source = "fallback"
)

// Result is either Extracted(palette) or Fallback(default palette, reason).
type Result struct {
	Palette models.Palette `json:"palette"`
	Source  Source         `json:"source"`
	Reason  string         `json:"reason,omitempty"`
}

func Extracted(p models.Palette) Result {
	return Result{Palette: p.EnsureReadable(), Source: SourceExtracted}
}

func Fallback(reason string) Result {
	return Result{Palette: models.DefaultPalette(), Source: SourceFallback, Reason: reason}
}

// Degraded reports whether the default palette was substituted.
func (r Result) Degraded() bool {
	return r.Source == SourceFallback
}
