package patch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/codr1/skinforge/internal/llm"
	"github.com/codr1/skinforge/internal/models"
)

const maxPromptFields = 400

var ErrMalformedModelOutput = errors.New("model output is not a {patch: [...]} object")

// ChatCompleter is a language model that answers a system+user exchange with text.
type ChatCompleter interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

type Mode string

const (
	ModePrecise Mode = "precise"
	ModeGlobal  Mode = "global"
)

// GenerateResult carries the proposed operations. Reason explains an empty result.
type GenerateResult struct {
	Ops    []models.Operation
	Mode   Mode
	Reason string
}

type PromptGenerator struct {
	chat     ChatCompleter
	resolver *Resolver
}

func NewPromptGenerator(chat ChatCompleter, allowPrefixes []string) *PromptGenerator {
	return &PromptGenerator{chat: chat, resolver: NewResolver(allowPrefixes)}
}

type promptField struct {
	Path  string `json:"path"`
	Value string `json:"value"`
}

type promptPayload struct {
	Request      string        `json:"request"`
	Mode         Mode          `json:"mode"`
	TargetPath   string        `json:"targetPath,omitempty"`
	CurrentValue string        `json:"currentValue,omitempty"`
	Layers       []string      `json:"layers"`
	Fields       []promptField `json:"fields,omitempty"`
}

// Generate asks the model for a patch. With a target path the model must
// return exactly one operation at that path; otherwise it may sweep every
// layer. Malformed output yields no operations, never a guess.
func (g *PromptGenerator) Generate(ctx context.Context, prompt string, doc models.Document, targetPath string) GenerateResult {
	logger := log.Ctx(ctx)

	mode := ModeGlobal
	if strings.TrimSpace(targetPath) != "" {
		mode = ModePrecise
	}
	result := GenerateResult{Ops: []models.Operation{}, Mode: mode}

	if g.chat == nil {
		result.Reason = "language model not configured"
		return result
	}

	payload := promptPayload{Request: strings.TrimSpace(prompt), Mode: mode, Layers: doc.Layers()}
	sort.Strings(payload.Layers)
	if mode == ModePrecise {
		current, ok := doc.Lookup(targetPath)
		value, isString := current.(string)
		if !ok || !isString {
			result.Reason = fmt.Sprintf("target path %s is not an editable value", targetPath)
			return result
		}
		parent, key := models.ParentPointer(targetPath)
		if !g.resolver.IsEligible(doc, parent, key) {
			result.Reason = fmt.Sprintf("target path %s may not be edited", targetPath)
			return result
		}
		payload.TargetPath = targetPath
		payload.CurrentValue = value
	} else {
		payload.Fields = g.editableFields(doc)
	}

	user, err := json.Marshal(payload)
	if err != nil {
		result.Reason = "failed to build prompt"
		return result
	}

	system := globalSystemPrompt
	if mode == ModePrecise {
		system = preciseSystemPrompt
	}
	text, err := g.chat.Complete(ctx, system, string(user))
	if err != nil {
		logger.Warn().Err(err).Str("mode", string(mode)).Msg("Language model call failed")
		result.Reason = "language model unavailable"
		return result
	}

	proposed, err := ParseModelPatch(text)
	if err != nil {
		logger.Warn().Err(err).Str("mode", string(mode)).Msg("Rejected model output")
		result.Reason = "model response was not a valid patch"
		return result
	}

	ops := g.filter(ctx, doc, proposed)
	if mode == ModePrecise {
		if len(ops) != 1 || ops[0].Path != targetPath {
			result.Reason = fmt.Sprintf("model did not propose exactly one change at %s", targetPath)
			return result
		}
	}
	if len(ops) == 0 {
		result.Reason = "no changes needed"
		return result
	}
	result.Ops = ops
	return result
}

// ParseModelPatch extracts {patch: Operation[]} from model text. Any op other
// than replace, or any missing field, rejects the whole response.
func ParseModelPatch(text string) ([]models.Operation, error) {
	raw, err := llm.ExtractJSONObject(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedModelOutput, err)
	}

	var envelope struct {
		Patch *[]struct {
			Op    string `json:"op"`
			Path  string `json:"path"`
			Value any    `json:"value"`
		} `json:"patch"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedModelOutput, err)
	}
	if envelope.Patch == nil {
		return nil, fmt.Errorf("%w: missing patch array", ErrMalformedModelOutput)
	}

	ops := make([]models.Operation, 0, len(*envelope.Patch))
	for i, op := range *envelope.Patch {
		if op.Op != models.OpReplace {
			return nil, fmt.Errorf("%w: operation %d uses %q", ErrMalformedModelOutput, i, op.Op)
		}
		if !strings.HasPrefix(op.Path, "/") {
			return nil, fmt.Errorf("%w: operation %d has invalid path %q", ErrMalformedModelOutput, i, op.Path)
		}
		value, ok := op.Value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: operation %d value must be a string", ErrMalformedModelOutput, i)
		}
		ops = append(ops, models.Replace(op.Path, strings.TrimSpace(value)))
	}
	return ops, nil
}

// filter drops proposals that target missing leaves, break eligibility,
// change a color into a non-color, or change nothing.
func (g *PromptGenerator) filter(ctx context.Context, doc models.Document, proposed []models.Operation) []models.Operation {
	logger := log.Ctx(ctx)
	ops := []models.Operation{}
	seen := map[string]bool{}
	for _, op := range proposed {
		current, ok := doc.Lookup(op.Path)
		currentValue, isString := current.(string)
		if !ok || !isString {
			logger.Debug().Str("path", op.Path).Msg("Dropped model op: no such leaf")
			continue
		}
		parent, key := models.ParentPointer(op.Path)
		if !g.resolver.IsEligible(doc, parent, key) {
			logger.Debug().Str("path", op.Path).Msg("Dropped model op: path not eligible")
			continue
		}
		value, _ := op.Value.(string)
		if value == "" {
			continue
		}
		if models.IsColorValue(currentValue) && !models.IsColorValue(value) {
			logger.Debug().Str("path", op.Path).Str("value", value).Msg("Dropped model op: not a color")
			continue
		}
		if models.SameColor(currentValue, value) || seen[op.Path] {
			continue
		}
		seen[op.Path] = true
		ops = append(ops, op)
	}
	return ops
}

func (g *PromptGenerator) editableFields(doc models.Document) []promptField {
	var fields []promptField
	stack := []frame{{path: "", node: map[string]any(doc)}}
	for len(stack) > 0 && len(fields) < maxPromptFields {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node, ok := current.node.(map[string]any)
		if !ok {
			continue
		}
		keys := make([]string, 0, len(node))
		for key := range node {
			keys = append(keys, key)
		}
		sort.Sort(sort.Reverse(sort.StringSlice(keys)))
		for _, key := range keys {
			switch value := node[key].(type) {
			case map[string]any:
				stack = append(stack, frame{path: models.JoinPointer(current.path, key), node: value})
			case string:
				if current.path == "" || !g.resolver.IsEligible(doc, current.path, key) {
					continue
				}
				if models.IsColorKey(key) || fontFamilyKeyRe.MatchString(key) {
					fields = append(fields, promptField{Path: models.JoinPointer(current.path, key), Value: value})
				}
			}
		}
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Path < fields[j].Path })
	return fields
}

const preciseSystemPrompt = `You edit a crypto-wallet theme document.
You receive JSON with "request", "targetPath" and "currentValue".
Answer with one JSON object: {"patch":[{"op":"replace","path":"<targetPath>","value":"<new value>"}]}
Rules: exactly one operation; op is always "replace"; path must equal targetPath;
colors are "#RRGGBB" or "rgba(r,g,b,a)". No prose.`

const globalSystemPrompt = `You edit a crypto-wallet theme document.
You receive JSON with "request", "layers" and "fields" (every editable path and its value).
Answer with one JSON object: {"patch":[{"op":"replace","path":"...","value":"..."}]}
Rules: op is always "replace"; only use paths listed in fields; apply the request
consistently across every layer; keep text readable against its background;
colors are "#RRGGBB" or "rgba(r,g,b,a)"; return {"patch":[]} if nothing should change. No prose.`
