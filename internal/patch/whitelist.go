package patch

import (
	"regexp"

	"github.com/codr1/skinforge/internal/models"
)

const secondaryBackgroundAlpha = 0.12

var semanticColorRegex = regexp.MustCompile(`(?i)(success|error|pending|positive|negative|warning|danger)`)

// Rules tune the fixed-whitelist generator.
type Rules struct {
	// ExclusiveBg skips a center background when the nearest ancestor that
	// declares backgroundImage has it set.
	ExclusiveBg bool `json:"exclusiveBg"`
	// PreserveSemanticColors keeps status colors out of the text sweep.
	PreserveSemanticColors bool `json:"preserveSemanticColors"`
}

func DefaultRules() Rules {
	return Rules{ExclusiveBg: true, PreserveSemanticColors: true}
}

// Whitelisted paths, grouped by the palette role they receive.
var (
	centerBackgroundPaths = []string{
		"/lockLayer/backgroundColor",
		"/homeLayer/backgroundColor",
		"/sendLayer/backgroundColor",
		"/receiveLayer/backgroundColor",
		"/swapLayer/backgroundColor",
	}
	secondaryBackgroundPaths = []string{
		"/homeLayer/header/backgroundColor",
		"/homeLayer/assetList/backgroundColor",
		"/homeLayer/navigation/backgroundColor",
		"/sendLayer/amountCard/backgroundColor",
		"/sendLayer/recipientInput/backgroundColor",
		"/receiveLayer/qrCard/backgroundColor",
		"/swapLayer/quoteCard/backgroundColor",
	}
	textColorPaths = []string{
		"/lockLayer/title/textColor",
		"/lockLayer/unlockButton/textColor",
		"/homeLayer/header/textColor",
		"/homeLayer/totalBalance/textColor",
		"/homeLayer/assetList/textColor",
		"/homeLayer/assetList/positiveChangeColor",
		"/homeLayer/assetList/negativeChangeColor",
		"/homeLayer/transactionStatus/successColor",
		"/homeLayer/transactionStatus/errorColor",
		"/homeLayer/transactionStatus/pendingColor",
		"/sendLayer/title/textColor",
		"/sendLayer/amountCard/textColor",
		"/receiveLayer/title/textColor",
		"/swapLayer/title/textColor",
	}
	accentColorPaths = []string{
		"/lockLayer/unlockButton/backgroundColor",
		"/homeLayer/actionButtons/backgroundColor",
		"/homeLayer/navigation/activeIconColor",
		"/sendLayer/sendButton/backgroundColor",
		"/receiveLayer/copyButton/backgroundColor",
		"/swapLayer/swapButton/backgroundColor",
	}
)

type bucket int

const (
	bucketCenterBackground bucket = iota
	bucketSecondaryBackground
	bucketText
	bucketAccent
)

type whitelistEntry struct {
	path   string
	bucket bucket
}

func whitelist() []whitelistEntry {
	var entries []whitelistEntry
	add := func(paths []string, b bucket) {
		for _, path := range paths {
			entries = append(entries, whitelistEntry{path: path, bucket: b})
		}
	}
	add(centerBackgroundPaths, bucketCenterBackground)
	add(secondaryBackgroundPaths, bucketSecondaryBackground)
	add(textColorPaths, bucketText)
	add(accentColorPaths, bucketAccent)
	return entries
}

// WhitelistPaths lists every path the vision generator may touch.
func WhitelistPaths() []string {
	entries := whitelist()
	paths := make([]string, len(entries))
	for i, entry := range entries {
		paths[i] = entry.path
	}
	return paths
}

// BuildVisionOps emits one replace per whitelisted path that exists in doc and
// is covered by targets (an empty targets list covers all whitelisted paths).
// A path already holding the wanted value is skipped. Callers must surface an
// empty result as "no changes possible".
func BuildVisionOps(p models.Palette, doc models.Document, targets []string, rules Rules) []models.Operation {
	resolver := NewResolver(targets)
	ops := []models.Operation{}

	for _, entry := range whitelist() {
		if !resolver.Allowed(entry.path) {
			continue
		}
		current, ok := doc.Lookup(entry.path)
		if !ok {
			continue
		}
		currentValue, ok := current.(string)
		if !ok {
			continue
		}

		parent, key := models.ParentPointer(entry.path)
		if isBackgroundColorKey(key) && siblingHasImage(doc, parent) {
			continue
		}

		var value string
		switch entry.bucket {
		case bucketCenterBackground:
			if rules.ExclusiveBg && ancestorHasImage(doc, parent) {
				continue
			}
			value = p.Background
		case bucketSecondaryBackground:
			value = models.RGBA(p.Foreground, secondaryBackgroundAlpha)
		case bucketText:
			if rules.PreserveSemanticColors && semanticColorRegex.MatchString(key) {
				continue
			}
			value = p.Foreground
		case bucketAccent:
			value = p.Primary
		}

		if value == "" || models.SameColor(value, currentValue) {
			continue
		}
		ops = append(ops, models.Replace(entry.path, value))
	}
	return ops
}

// ancestorHasImage finds the nearest container at or above path that declares
// backgroundImage and reports whether it is non-empty.
func ancestorHasImage(doc models.Document, path string) bool {
	for {
		if node, ok := doc.Lookup(path); ok {
			if container, ok := node.(map[string]any); ok {
				if _, declared := container[backgroundImageKey]; declared {
					return hasImage(container)
				}
			}
		}
		if path == "" {
			return false
		}
		path, _ = models.ParentPointer(path)
	}
}
