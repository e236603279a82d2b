// Package schema compiles theme JSON Schemas and maps validation failures to
// field-level errors the UI can show next to the offending property.
package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// DefaultVersion is the schema new documents are created against.
const DefaultVersion = "1.0.0"

//go:embed assets/*.json
var assets embed.FS

// Bundled returns the embedded schemas keyed by version, for seeding storage.
func Bundled() (map[string][]byte, error) {
	entries, err := assets.ReadDir("assets")
	if err != nil {
		return nil, fmt.Errorf("reading bundled schemas: %w", err)
	}
	out := make(map[string][]byte, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "theme-") || path.Ext(name) != ".json" {
			continue
		}
		data, err := assets.ReadFile("assets/" + name)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		version := strings.TrimSuffix(strings.TrimPrefix(name, "theme-"), ".json")
		out[version] = data
	}
	return out, nil
}

// Schema is a compiled, immutable theme schema.
type Schema struct {
	version  string
	compiled *jsonschema.Schema
}

// Compile parses and compiles a schema document.
func Compile(version string, src []byte) (*Schema, error) {
	if strings.TrimSpace(version) == "" {
		return nil, fmt.Errorf("schema version is required")
	}
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	url := "theme-" + version + ".json"
	if err := compiler.AddResource(url, bytes.NewReader(src)); err != nil {
		return nil, fmt.Errorf("loading schema %s: %w", version, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compiling schema %s: %w", version, err)
	}
	return &Schema{version: version, compiled: compiled}, nil
}

func (s *Schema) Version() string {
	return s.version
}

// Validate returns nil when doc conforms, otherwise one FieldError per leaf
// violation ordered by path.
func (s *Schema) Validate(doc any) []FieldError {
	instance, err := normalize(doc)
	if err != nil {
		return []FieldError{{Message: fmt.Sprintf("document is not valid JSON: %v", err)}}
	}
	if err := s.compiled.Validate(instance); err != nil {
		return mapErrors(err, instance)
	}
	return nil
}

// normalize converts named Go types into the plain JSON values the validator expects.
func normalize(doc any) (any, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
