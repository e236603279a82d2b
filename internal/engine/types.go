package engine

import (
	"github.com/codr1/skinforge/internal/models"
	"github.com/codr1/skinforge/internal/palette"
	"github.com/codr1/skinforge/internal/patch"
	"github.com/codr1/skinforge/internal/schema"
)

// Stage is a step of the per-request state machine.
type Stage string

const (
	StageReceived         Stage = "received"
	StagePaletteExtracted Stage = "palette-extracted"
	StagePromptParsed     Stage = "prompt-parsed"
	StageOpsGenerated     Stage = "ops-generated"
	StageCopyApplied      Stage = "copy-applied"
	StageSchemaValidated  Stage = "schema-validated"
	StageCommitted        Stage = "committed"
	StageRejected         Stage = "rejected"
	StageNoop             Stage = "noop"
)

// ExtractMode selects how an image becomes a palette.
type ExtractMode string

const (
	ModeKMeans ExtractMode = "kmeans"
	ModeVision ExtractMode = "vision"
)

// Patch sources recorded in the patch log.
const (
	SourcePalette = "palette"
	SourceVision  = "vision"
	SourcePrompt  = "prompt"
	SourceManual  = "manual"
	SourceReplace = "replace"
)

const (
	MessageNoChanges         = "no changes needed"
	MessageNoChangesPossible = "no changes possible"
)

// Outcome is what the UI receives for every patch request.
type Outcome struct {
	Valid         bool                `json:"valid"`
	Stage         Stage               `json:"stage"`
	Patch         []models.Operation  `json:"patch"`
	Theme         models.Document     `json:"theme,omitempty"`
	Version       int64               `json:"version"`
	Errors        []schema.FieldError `json:"errors,omitempty"`
	Message       string              `json:"message,omitempty"`
	PaletteSource palette.Source      `json:"paletteSource,omitempty"`
	Palette       *models.Palette     `json:"palette,omitempty"`
}

// Rejected reports a patch that failed application or validation.
func (o Outcome) Rejected() bool {
	return o.Stage == StageRejected
}

// PaletteRequest drives the tree-walk generator. Exactly one of Palette and
// ImageURL must be set.
type PaletteRequest struct {
	Palette         *models.Palette `json:"palette,omitempty"`
	ImageURL        string          `json:"imageUrl,omitempty"`
	Mode            ExtractMode     `json:"mode,omitempty"`
	AllowPrefixes   []string        `json:"allowPrefixes,omitempty"`
	AllowFontChange bool            `json:"allowFontChange,omitempty"`
	Version         int64           `json:"version,omitempty"`
}

// VisionRequest drives the fixed-whitelist generator.
type VisionRequest struct {
	Palette  *models.Palette `json:"palette,omitempty"`
	ImageURL string          `json:"imageUrl,omitempty"`
	Targets  []string        `json:"targets,omitempty"`
	Rules    *patch.Rules    `json:"rules,omitempty"`
	Version  int64           `json:"version,omitempty"`
}

type PromptRequest struct {
	Prompt     string `json:"prompt"`
	TargetPath string `json:"targetPath,omitempty"`
	Version    int64  `json:"version,omitempty"`
}
