// internal/models/themes.go
package models

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	OpReplace = "replace"
	OpAdd     = "add"
	OpRemove  = "remove"
)

const maxUserIDLength = 128

var colorKeyRegex = regexp.MustCompile(`(?i)color$`)
var userIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]*$`)

// Document is a theme document: named layers holding nested styling values.
type Document map[string]any

// Operation is a single RFC6902 edit.
type Operation struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

func Replace(path string, value string) Operation {
	return Operation{Op: OpReplace, Path: path, Value: value}
}

// StoredTheme is a persisted theme document with its optimistic-concurrency version.
type StoredTheme struct {
	UserID        string    `json:"userId"`
	Data          Document  `json:"themeData"`
	Version       int64     `json:"version"`
	SchemaVersion string    `json:"schemaVersion"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func ValidateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}
	if len(userID) > maxUserIDLength {
		return fmt.Errorf("user id must be %d characters or fewer", maxUserIDLength)
	}
	if !userIDRegex.MatchString(userID) {
		return fmt.Errorf("user id may only contain letters, numbers, and _.:-")
	}
	return nil
}

// IsColorKey reports whether a leaf key follows the …Color naming convention.
func IsColorKey(key string) bool {
	return colorKeyRegex.MatchString(key)
}

// Clone deep-copies the document through its JSON form.
func (d Document) Clone() (Document, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	var out Document
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return out, nil
}

// Layers returns the top-level layer keys that hold objects.
func (d Document) Layers() []string {
	layers := make([]string, 0, len(d))
	for key, value := range d {
		if _, ok := value.(map[string]any); ok {
			layers = append(layers, key)
		}
	}
	return layers
}

// Lookup resolves an RFC6901 pointer. The empty pointer resolves to the document.
func (d Document) Lookup(pointer string) (any, bool) {
	segments, err := SplitPointer(pointer)
	if err != nil {
		return nil, false
	}
	var current any = map[string]any(d)
	for _, segment := range segments {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// EscapeToken escapes a single pointer segment.
func EscapeToken(token string) string {
	token = strings.ReplaceAll(token, "~", "~0")
	return strings.ReplaceAll(token, "/", "~1")
}

func unescapeToken(token string) string {
	token = strings.ReplaceAll(token, "~1", "/")
	return strings.ReplaceAll(token, "~0", "~")
}

// JoinPointer appends an unescaped key to a pointer.
func JoinPointer(base, key string) string {
	return base + "/" + EscapeToken(key)
}

// SplitPointer returns the unescaped segments of a pointer.
func SplitPointer(pointer string) ([]string, error) {
	if pointer == "" {
		return nil, nil
	}
	if !strings.HasPrefix(pointer, "/") {
		return nil, fmt.Errorf("pointer %q must start with /", pointer)
	}
	parts := strings.Split(pointer[1:], "/")
	for i, part := range parts {
		parts[i] = unescapeToken(part)
	}
	return parts, nil
}

// ParentPointer splits a pointer into its parent pointer and final unescaped key.
func ParentPointer(pointer string) (string, string) {
	idx := strings.LastIndex(pointer, "/")
	if idx < 0 {
		return "", unescapeToken(pointer)
	}
	return pointer[:idx], unescapeToken(pointer[idx+1:])
}

// HasPointerPrefix reports whether pointer equals prefix or lies beneath it.
func HasPointerPrefix(pointer, prefix string) bool {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return true
	}
	return pointer == prefix || strings.HasPrefix(pointer, prefix+"/")
}
