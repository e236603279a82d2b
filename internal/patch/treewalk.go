package patch

import (
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/codr1/skinforge/internal/models"
)

// frame is a container waiting to be visited by the iterative walk.
type frame struct {
	path string
	node any
}

// GeneratePatch walks the whole document and emits a replace for every
// eligible color field whose resolved color differs from its current value.
// It returns an empty slice when nothing qualifies.
func GeneratePatch(p models.Palette, doc models.Document, allowPrefixes []string, allowFontChange bool) []models.Operation {
	resolver := NewResolver(allowPrefixes)
	ops := []models.Operation{}

	stack := []frame{{path: "", node: map[string]any(doc)}}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		var children []frame
		switch node := current.node.(type) {
		case map[string]any:
			keys := make([]string, 0, len(node))
			for key := range node {
				keys = append(keys, key)
			}
			sort.Strings(keys)

			for _, key := range keys {
				value := node[key]
				switch typed := value.(type) {
				case map[string]any, []any:
					children = append(children, frame{path: models.JoinPointer(current.path, key), node: typed})
				case string:
					if op, ok := leafOp(resolver, doc, p, current.path, key, typed, allowFontChange); ok {
						ops = append(ops, op)
					}
				}
			}
		case []any:
			for i, item := range node {
				switch item.(type) {
				case map[string]any, []any:
					children = append(children, frame{path: current.path + "/" + strconv.Itoa(i), node: item})
				}
			}
		}

		// Push in reverse so children pop in document order.
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
	return ops
}

func leafOp(resolver *Resolver, doc models.Document, p models.Palette, path, key, current string, allowFontChange bool) (models.Operation, bool) {
	if path == "" {
		// Root scalars are metadata, not styling.
		return models.Operation{}, false
	}

	if allowFontChange && fontFamilyKeyRe.MatchString(key) {
		font := strings.TrimSpace(p.Font)
		if font == "" || font == current || !resolver.Allowed(models.JoinPointer(path, key)) {
			return models.Operation{}, false
		}
		return models.Replace(models.JoinPointer(path, key), font), true
	}

	if !models.IsColorKey(key) || !models.IsColorValue(current) {
		return models.Operation{}, false
	}
	if !resolver.IsEligible(doc, path, key) {
		return models.Operation{}, false
	}

	next, rule := resolver.Decide(path, key, p)
	if next == "" || models.SameColor(next, current) {
		return models.Operation{}, false
	}
	pointer := models.JoinPointer(path, key)
	log.Debug().Str("path", pointer).Str("rule", rule).Str("color", next).Msg("Resolved color role")
	return models.Replace(pointer, next), true
}
