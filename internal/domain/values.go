package domain

import (
	"bytes"
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// Values is the loosely typed view of a payload used for patches, candidate
// values and change detection. Nested objects are nested Values maps.
type Values = map[string]any

// EncodeValues converts a payload into its Values view. Numbers are decoded as
// json.Number so integers survive unchanged.
func EncodeValues(payload any) (Values, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return DecodeValues(raw)
}

// DecodeValues decodes a JSON object into Values.
func DecodeValues(raw []byte) (Values, error) {
	values := Values{}
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return values, nil
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&values); err != nil {
		return nil, fmt.Errorf("decode payload values: %w", err)
	}
	return values, nil
}

// ApplyPatch returns a copy of base with patch merged on top using JSON merge
// patch semantics: nested objects merge, a nil value removes the field. The
// base value is never mutated.
func ApplyPatch[P any](base P, patch Values) (P, error) {
	var out P
	doc, err := json.Marshal(base)
	if err != nil {
		return out, fmt.Errorf("marshal payload: %w", err)
	}
	if bytes.Equal(doc, []byte("null")) {
		doc = []byte("{}")
	}
	if len(patch) > 0 {
		patchDoc, err := json.Marshal(patch)
		if err != nil {
			return out, fmt.Errorf("%w: marshal patch: %v", ErrValidation, err)
		}
		doc, err = jsonpatch.MergePatch(doc, patchDoc)
		if err != nil {
			return out, fmt.Errorf("%w: apply patch: %v", ErrValidation, err)
		}
	}
	if err := json.Unmarshal(doc, &out); err != nil {
		return out, fmt.Errorf("%w: patched payload: %v", ErrValidation, err)
	}
	return out, nil
}

// ClonePayload deep-copies a payload through its JSON form.
func ClonePayload[P any](payload P) (P, error) {
	return ApplyPatch(payload, nil)
}
