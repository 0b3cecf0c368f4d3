package features

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"churn-predictor/internal/common"
)

// Schema is the request contract baked into an artifact: the raw fields a
// caller must send and the encoded features they turn into.
type Schema struct {
	Version  string   `json:"version"`
	IDField  string   `json:"id_field,omitempty"`
	Fields   []string `json:"fields"`
	Features []string `json:"features"`
}

// NewSchema derives the schema of a fitted encoder. The version hashes the
// full fitted codebook, so any change in field order, encoding rule or
// category vocabulary yields a different version.
func NewSchema(e *Encoder) (Schema, error) {
	s := Schema{
		IDField:  e.codebook.IDField,
		Fields:   e.codebook.Fields(),
		Features: e.FeatureNames(),
	}
	v, err := schemaVersion(e.codebook, s.Features)
	if err != nil {
		return Schema{}, err
	}
	s.Version = v
	return s, nil
}

func schemaVersion(cb Codebook, names []string) (string, error) {
	payload, err := json.Marshal(struct {
		Columns  []Column `json:"columns"`
		Features []string `json:"features"`
	}{cb.Columns, names})
	if err != nil {
		return "", fmt.Errorf("hash schema: %w", err)
	}
	sum := sha256.Sum256(payload)
	return "sha256:" + hex.EncodeToString(sum[:8]), nil
}

// Verify recomputes the version of a schema against the encoder it claims
// to describe.
func (s Schema) Verify(e *Encoder) error {
	want, err := NewSchema(e)
	if err != nil {
		return err
	}
	if want.Version != s.Version {
		return fmt.Errorf("schema version %s does not match encoder (%s)", s.Version, want.Version)
	}
	if len(want.Features) != len(s.Features) {
		return fmt.Errorf("schema lists %d features, encoder produces %d", len(s.Features), len(want.Features))
	}
	for i := range want.Features {
		if want.Features[i] != s.Features[i] {
			return fmt.Errorf("feature %d is %q in schema, %q in encoder", i, s.Features[i], want.Features[i])
		}
	}
	return nil
}

// Validate checks that r carries exactly the schema's fields: every field
// present, nothing extra besides the optional id field.
func (s Schema) Validate(r Record) error {
	if len(r) == 0 {
		return &common.ValidationError{Reason: common.ErrMsgEmptyRequest}
	}
	allowed := make(map[string]bool, len(s.Fields)+1)
	for _, f := range s.Fields {
		allowed[f] = true
		if _, ok := r[f]; !ok {
			return &common.ValidationError{Field: f, Reason: "field is missing"}
		}
	}
	if s.IDField != "" {
		allowed[s.IDField] = true
	}
	var extra []string
	for k := range r {
		if !allowed[k] {
			extra = append(extra, k)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return &common.ValidationError{Field: extra[0], Reason: "field is not part of the feature schema"}
	}
	return nil
}
