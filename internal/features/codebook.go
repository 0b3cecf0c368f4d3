package features

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"churn-predictor/internal/common"
)

type Kind string

const (
	KindNumeric Kind = "numeric"
	KindOrdinal Kind = "ordinal"
	KindOneHot  Kind = "onehot"
)

// Column describes how one raw field becomes one or more encoded features.
// Categories is filled in by FitEncoder and is only meaningful for onehot
// columns.
type Column struct {
	Name       string             `json:"name" yaml:"name"`
	Kind       Kind               `json:"kind" yaml:"kind"`
	Levels     map[string]float64 `json:"levels,omitempty" yaml:"levels,omitempty"`
	Ranges     bool               `json:"ranges,omitempty" yaml:"ranges,omitempty"`
	Missing    *float64           `json:"missing,omitempty" yaml:"missing,omitempty"`
	TrimPrefix string             `json:"trim_prefix,omitempty" yaml:"trim_prefix,omitempty"`
	Categories []string           `json:"categories,omitempty" yaml:"-"`
}

// Codebook is the ordered column plan for one dataset. Encoded features
// follow column order, onehot columns expanding in category order.
type Codebook struct {
	IDField    string   `json:"id_field,omitempty" yaml:"id_field"`
	LabelField string   `json:"label_field" yaml:"label_field"`
	Columns    []Column `json:"columns" yaml:"columns"`
}

func missingAt(v float64) *float64 { return &v }

// DefaultCodebook is the plan for the HR analytics job-change dataset.
func DefaultCodebook() Codebook {
	return Codebook{
		IDField:    common.DefaultIDField,
		LabelField: common.DefaultLabelField,
		Columns: []Column{
			{Name: "city_development_index", Kind: KindNumeric},
			{
				Name:    "experience",
				Kind:    KindOrdinal,
				Levels:  map[string]float64{"<1": 0, ">20": 21},
				Missing: missingAt(-1),
			},
			{
				Name:    "company_size",
				Kind:    KindOrdinal,
				Levels:  map[string]float64{"<10": 0, "10/49": 10, "10000+": 10000},
				Ranges:  true,
				Missing: missingAt(-1),
			},
			{
				Name:    "last_new_job",
				Kind:    KindOrdinal,
				Levels:  map[string]float64{"never": 0, ">4": 4},
				Missing: missingAt(-1),
			},
			{Name: "training_hours", Kind: KindNumeric},
			{
				Name: "education_level",
				Kind: KindOrdinal,
				Levels: map[string]float64{
					"Primary School": 0,
					"High School":    1,
					"Graduate":       2,
					"Masters":        3,
					"Phd":            4,
				},
				Missing: missingAt(-1),
			},
			{Name: "city", Kind: KindOneHot, TrimPrefix: "city_"},
			{Name: "gender", Kind: KindOneHot},
			{Name: "relevent_experience", Kind: KindOneHot},
			{Name: "enrolled_university", Kind: KindOneHot},
			{Name: "major_discipline", Kind: KindOneHot},
			{Name: "company_type", Kind: KindOneHot},
		},
	}
}

// Validate checks the plan itself, not any data.
func (cb Codebook) Validate() error {
	if cb.LabelField == "" {
		return fmt.Errorf("label field is required")
	}
	if len(cb.Columns) == 0 {
		return fmt.Errorf("at least one column is required")
	}
	seen := map[string]bool{cb.LabelField: true}
	if cb.IDField != "" {
		seen[cb.IDField] = true
	}
	for _, c := range cb.Columns {
		if c.Name == "" {
			return fmt.Errorf("column without a name")
		}
		if seen[c.Name] {
			return fmt.Errorf("column %q declared twice or clashes with id/label", c.Name)
		}
		seen[c.Name] = true
		switch c.Kind {
		case KindNumeric, KindOrdinal, KindOneHot:
		default:
			return fmt.Errorf("column %q: unknown kind %q", c.Name, c.Kind)
		}
	}
	return nil
}

// Fields lists the raw feature fields in plan order.
func (cb Codebook) Fields() []string {
	out := make([]string, len(cb.Columns))
	for i, c := range cb.Columns {
		out[i] = c.Name
	}
	return out
}

func (c Column) category(v Value) string {
	if v.Null {
		return common.NotSpecified
	}
	s := strings.TrimSpace(v.Raw)
	if s == "" {
		return common.NotSpecified
	}
	if c.TrimPrefix != "" {
		s = strings.TrimPrefix(s, c.TrimPrefix)
	}
	return s
}

func (c Column) scalar(v Value) (float64, error) {
	s := strings.TrimSpace(v.Raw)
	if v.Null || s == "" {
		if c.Missing == nil {
			return 0, fmt.Errorf("value is required")
		}
		return *c.Missing, nil
	}
	if c.Kind == KindOrdinal {
		if lvl, ok := c.Levels[s]; ok {
			return lvl, nil
		}
		if c.Ranges {
			if lo, _, ok := strings.Cut(s, "-"); ok && lo != "" {
				if f, err := strconv.ParseFloat(lo, 64); err == nil {
					return f, nil
				}
			}
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("cannot interpret %q as %s", s, c.Kind)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite value %q", s)
	}
	return f, nil
}
