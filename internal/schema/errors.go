package schema

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/codr1/skinforge/internal/models"
)

// FieldError is one schema violation at a document location.
type FieldError struct {
	Path     string `json:"path"`
	Message  string `json:"message"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

func (e FieldError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

var (
	quotedNameRegex = regexp.MustCompile(`'([^']*)'`)
	patternRegex    = regexp.MustCompile(`pattern '(.*)'$`)
	typeRegex       = regexp.MustCompile(`expected (.+), but got (.+)$`)
)

func mapErrors(err error, instance any) []FieldError {
	var validationErr *jsonschema.ValidationError
	if !errors.As(err, &validationErr) {
		return []FieldError{{Message: err.Error()}}
	}

	var out []FieldError
	seen := map[string]bool{}
	var walk func(ve *jsonschema.ValidationError)
	walk = func(ve *jsonschema.ValidationError) {
		if len(ve.Causes) > 0 {
			for _, cause := range ve.Causes {
				walk(cause)
			}
			return
		}
		for _, fe := range refine(ve, instance) {
			key := fe.Path + "\x00" + fe.Message
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, fe)
		}
	}
	walk(validationErr)

	sort.SliceStable(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func keyword(location string) string {
	if i := strings.LastIndex(location, "/"); i >= 0 {
		return location[i+1:]
	}
	return location
}

// refine rewrites a raw validator message into something a theme editor can act on.
func refine(ve *jsonschema.ValidationError, instance any) []FieldError {
	path := ve.InstanceLocation
	actual := describe(instance, path)

	switch keyword(ve.KeywordLocation) {
	case "required":
		var out []FieldError
		for _, match := range quotedNameRegex.FindAllStringSubmatch(ve.Message, -1) {
			out = append(out, FieldError{
				Path:     models.JoinPointer(path, match[1]),
				Message:  "is required",
				Expected: "present",
				Actual:   "missing",
			})
		}
		if len(out) > 0 {
			return out
		}
	case "pattern":
		expected := ""
		if match := patternRegex.FindStringSubmatch(ve.Message); match != nil {
			expected = match[1]
		}
		message := "does not match the required format"
		if models.IsColorKey(lastSegment(path)) {
			message = "must be a color such as #RRGGBB or rgba(r,g,b,a)"
		}
		return []FieldError{{Path: path, Message: message, Expected: expected, Actual: actual}}
	case "enum":
		expected := ve.Message
		if i := strings.Index(ve.Message, "one of "); i >= 0 {
			expected = ve.Message[i+len("one of "):]
		}
		return []FieldError{{Path: path, Message: "must be one of the allowed values", Expected: expected, Actual: actual}}
	case "type":
		if match := typeRegex.FindStringSubmatch(ve.Message); match != nil {
			return []FieldError{{
				Path:     path,
				Message:  "must be of type " + match[1],
				Expected: match[1],
				Actual:   match[2],
			}}
		}
	}
	return []FieldError{{Path: path, Message: ve.Message, Actual: actual}}
}

func lastSegment(pointer string) string {
	_, key := models.ParentPointer(pointer)
	return key
}

func describe(instance any, pointer string) string {
	root, ok := instance.(map[string]any)
	if !ok {
		return ""
	}
	value, ok := models.Document(root).Lookup(pointer)
	if !ok {
		return ""
	}
	switch typed := value.(type) {
	case string:
		return typed
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case nil:
		return "null"
	default:
		return fmt.Sprint(typed)
	}
}
