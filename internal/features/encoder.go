package features

import (
	"fmt"
	"sort"

	"churn-predictor/internal/common"
)

// Encoder is a codebook whose onehot vocabularies have been fitted. It is
// immutable after FitEncoder and safe for concurrent Transform calls.
type Encoder struct {
	codebook Codebook
	names    []string
}

// FitEncoder learns onehot vocabularies from rows. Vocabularies do not
// depend on labels, so fitting over every loaded row leaks nothing about
// the target and keeps validation rows encodable.
func FitEncoder(cb Codebook, rows []Record) (*Encoder, error) {
	if err := cb.Validate(); err != nil {
		return nil, fmt.Errorf("codebook: %w", err)
	}

	fitted := Codebook{IDField: cb.IDField, LabelField: cb.LabelField}
	for _, c := range cb.Columns {
		c.Levels = copyLevels(c.Levels)
		if c.Kind == KindOneHot {
			seen := make(map[string]bool)
			for _, r := range rows {
				seen[c.category(r[c.Name])] = true
			}
			c.Categories = make([]string, 0, len(seen))
			for cat := range seen {
				c.Categories = append(c.Categories, cat)
			}
			sort.Strings(c.Categories)
		}
		fitted.Columns = append(fitted.Columns, c)
	}
	return NewEncoder(fitted)
}

// NewEncoder rebuilds an encoder from an already fitted codebook, as stored
// in a model artifact.
func NewEncoder(fitted Codebook) (*Encoder, error) {
	if err := fitted.Validate(); err != nil {
		return nil, fmt.Errorf("codebook: %w", err)
	}
	var names []string
	for _, c := range fitted.Columns {
		if c.Kind != KindOneHot {
			names = append(names, c.Name)
			continue
		}
		if len(c.Categories) == 0 {
			return nil, fmt.Errorf("codebook: onehot column %q has no fitted categories", c.Name)
		}
		for _, cat := range c.Categories {
			names = append(names, c.Name+"_"+cat)
		}
	}
	return &Encoder{codebook: fitted, names: names}, nil
}

// Codebook returns a copy of the fitted plan.
func (e *Encoder) Codebook() Codebook {
	out := Codebook{IDField: e.codebook.IDField, LabelField: e.codebook.LabelField}
	for _, c := range e.codebook.Columns {
		c.Levels = copyLevels(c.Levels)
		c.Categories = append([]string(nil), c.Categories...)
		out.Columns = append(out.Columns, c)
	}
	return out
}

// FeatureNames returns the encoded feature names in vector order.
func (e *Encoder) FeatureNames() []string {
	return append([]string(nil), e.names...)
}

// Width is the encoded vector length.
func (e *Encoder) Width() int { return len(e.names) }

// Transform encodes one record. Errors are *common.ValidationError naming
// the offending field.
func (e *Encoder) Transform(r Record) ([]float64, error) {
	out := make([]float64, 0, len(e.names))
	for _, c := range e.codebook.Columns {
		v, ok := r[c.Name]
		if !ok {
			return nil, &common.ValidationError{Field: c.Name, Reason: "field is missing"}
		}
		if c.Kind == KindOneHot {
			cat := c.category(v)
			pos := sort.SearchStrings(c.Categories, cat)
			if pos == len(c.Categories) || c.Categories[pos] != cat {
				return nil, &common.ValidationError{Field: c.Name, Reason: fmt.Sprintf("unknown category %q", cat)}
			}
			for i := range c.Categories {
				if i == pos {
					out = append(out, 1)
				} else {
					out = append(out, 0)
				}
			}
			continue
		}
		f, err := c.scalar(v)
		if err != nil {
			return nil, &common.ValidationError{Field: c.Name, Reason: err.Error()}
		}
		out = append(out, f)
	}
	return out, nil
}

// TransformTable encodes every row of t. A failing row becomes a
// *common.DataLoadError carrying its row number.
func (e *Encoder) TransformTable(t *Table) ([][]float64, error) {
	X := make([][]float64, len(t.Rows))
	for i, r := range t.Rows {
		x, err := e.Transform(r)
		if err != nil {
			return nil, &common.DataLoadError{Path: t.Path, Row: i + 1, Err: err}
		}
		X[i] = x
	}
	return X, nil
}

func copyLevels(in map[string]float64) map[string]float64 {
	if in == nil {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
