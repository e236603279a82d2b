package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var ErrNoJSONObject = errors.New("no JSON object in model output")

var fencedBlockRegex = regexp.MustCompile("(?s)```[A-Za-z]*\\s*(.*?)```")

// ExtractJSONObject returns the first JSON object embedded in free-form model
// output, unwrapping a fenced code block when present.
func ExtractJSONObject(text string) (json.RawMessage, error) {
	text = strings.TrimSpace(text)
	if match := fencedBlockRegex.FindStringSubmatch(text); match != nil {
		text = strings.TrimSpace(match[1])
	}

	start := strings.Index(text, "{")
	if start < 0 {
		return nil, ErrNoJSONObject
	}

	var raw json.RawMessage
	decoder := json.NewDecoder(strings.NewReader(text[start:]))
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoJSONObject, err)
	}
	return raw, nil
}
