package patch

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/codr1/skinforge/internal/models"
	"github.com/codr1/skinforge/internal/schema"
)

// Validator checks a candidate document; an empty result means it conforms.
type Validator interface {
	Validate(doc any) []schema.FieldError
}

// ApplyResult is the outcome of ApplyAndValidate. Document is only set when OK.
// Applied reports that the ops reached the copy, so a rejection with Applied
// set came from validation.
type ApplyResult struct {
	OK       bool
	Applied  bool
	Document models.Document
	Errors   []schema.FieldError
}

func rejected(errs ...schema.FieldError) ApplyResult {
	return ApplyResult{Errors: errs}
}

// ApplyAndValidate applies ops to a copy of doc and validates the result.
// The input document is never modified; any failure discards the whole batch.
func ApplyAndValidate(doc models.Document, ops []models.Operation, validator Validator) ApplyResult {
	for i, op := range ops {
		if op.Op != models.OpReplace {
			return rejected(schema.FieldError{
				Path:     op.Path,
				Message:  fmt.Sprintf("operation %d: only replace is supported", i),
				Expected: models.OpReplace,
				Actual:   op.Op,
			})
		}
	}

	original, err := json.Marshal(doc)
	if err != nil {
		return rejected(schema.FieldError{Message: fmt.Sprintf("document cannot be serialized: %v", err)})
	}
	rawOps, err := json.Marshal(append([]models.Operation{}, ops...))
	if err != nil {
		return rejected(schema.FieldError{Message: fmt.Sprintf("patch cannot be serialized: %v", err)})
	}

	decoded, err := jsonpatch.DecodePatch(rawOps)
	if err != nil {
		return rejected(schema.FieldError{Message: fmt.Sprintf("invalid patch: %v", err)})
	}
	patched, err := decoded.Apply(original)
	if err != nil {
		return rejected(applyFailure(doc, ops, err))
	}

	var next models.Document
	if err := json.Unmarshal(patched, &next); err != nil {
		return rejected(schema.FieldError{Message: fmt.Sprintf("patched document is not an object: %v", err)})
	}

	if validator != nil {
		if errs := validator.Validate(next); len(errs) > 0 {
			result := rejected(errs...)
			result.Applied = true
			return result
		}
	}
	return ApplyResult{OK: true, Applied: true, Document: next}
}

// applyFailure points at the first op whose target is missing, if any.
func applyFailure(doc models.Document, ops []models.Operation, err error) schema.FieldError {
	for _, op := range ops {
		if _, ok := doc.Lookup(op.Path); !ok {
			return schema.FieldError{
				Path:     op.Path,
				Message:  "path does not exist in the document",
				Expected: "existing value",
				Actual:   "missing",
			}
		}
	}
	return schema.FieldError{Message: fmt.Sprintf("patch could not be applied: %v", err)}
}
