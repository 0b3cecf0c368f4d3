package ml

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"churn-predictor/internal/common"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Selector keeps the K input features with the highest one-way ANOVA F
// statistic against the label. It is fitted once on the training
// partition; Transform only ever applies the frozen indices.
type Selector struct {
	K       int       `json:"k"`
	InWidth int       `json:"n_features_in"`
	Indices []int     `json:"indices"`
	Names   []string  `json:"names"`
	Scores  []float64 `json:"scores"`
	PValues []float64 `json:"p_values"`
}

// FitSelector ranks every column of X. Ties keep the lower column index.
// k outside [1, width] is a *common.ConfigError.
func FitSelector(X [][]float64, y []int, names []string, k int) (*Selector, error) {
	if len(X) == 0 {
		return nil, errors.New("selector: no training rows")
	}
	width := len(X[0])
	if len(names) != width {
		return nil, fmt.Errorf("selector: %d names for %d features", len(names), width)
	}
	if k < 1 || k > width {
		return nil, &common.ConfigError{
			Key:    "num_features_clf",
			Reason: fmt.Sprintf("must be between 1 and the %d available features, got %d", width, k),
		}
	}

	scores, pvalues, err := anovaF(X, y)
	if err != nil {
		return nil, err
	}

	order := make([]int, width)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })
	keep := append([]int(nil), order[:k]...)
	sort.Ints(keep)

	s := &Selector{
		K:       k,
		InWidth: width,
		Indices: keep,
		Scores:  scores,
		PValues: pvalues,
	}
	for _, i := range keep {
		s.Names = append(s.Names, names[i])
	}
	return s, nil
}

// anovaF computes the F statistic and its p-value per column. Constant
// columns score 0 with p = 1; perfectly separating columns are capped at
// MaxFloat64 so the result stays JSON encodable.
func anovaF(X [][]float64, y []int) ([]float64, []float64, error) {
	groups := map[int][]int{}
	for i, l := range y {
		groups[l] = append(groups[l], i)
	}
	if len(groups) < 2 {
		return nil, nil, errors.New("selector: training labels contain a single class")
	}
	classes := make([]int, 0, len(groups))
	for c := range groups {
		classes = append(classes, c)
	}
	sort.Ints(classes)

	n := float64(len(X))
	dfB := float64(len(classes) - 1)
	dfW := n - float64(len(classes))
	if dfW <= 0 {
		return nil, nil, errors.New("selector: too few rows for the F test")
	}
	dist := distuv.F{D1: dfB, D2: dfW}

	width := len(X[0])
	scores := make([]float64, width)
	pvalues := make([]float64, width)
	col := make([]float64, 0, len(X))
	for f := 0; f < width; f++ {
		col = col[:0]
		for _, row := range X {
			col = append(col, row[f])
		}
		grand := stat.Mean(col, nil)

		var ssb, ssw float64
		for _, c := range classes {
			vals := make([]float64, len(groups[c]))
			for j, i := range groups[c] {
				vals[j] = X[i][f]
			}
			mean := stat.Mean(vals, nil)
			ssb += float64(len(vals)) * (mean - grand) * (mean - grand)
			if len(vals) > 1 {
				_, variance := stat.MeanVariance(vals, nil)
				ssw += variance * float64(len(vals)-1)
			}
		}

		switch {
		case ssb <= 0:
			scores[f], pvalues[f] = 0, 1
		case ssw <= 0:
			scores[f], pvalues[f] = math.MaxFloat64, 0
		default:
			F := (ssb / dfB) / (ssw / dfW)
			scores[f] = F
			pvalues[f] = dist.Survival(F)
		}
	}
	return scores, pvalues, nil
}

// Transform projects one encoded vector onto the selected features.
func (s *Selector) Transform(x []float64) []float64 {
	out := make([]float64, len(s.Indices))
	for i, j := range s.Indices {
		out[i] = x[j]
	}
	return out
}

// TransformAll projects every row of X.
func (s *Selector) TransformAll(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i, x := range X {
		out[i] = s.Transform(x)
	}
	return out
}

// Validate checks a decoded selector against the encoder width it will be
// applied to.
func (s *Selector) Validate(width int) error {
	if s.InWidth != width {
		return fmt.Errorf("selector fitted on %d features, schema has %d", s.InWidth, width)
	}
	if len(s.Indices) != s.K || len(s.Names) != s.K {
		return fmt.Errorf("selector keeps %d indices and %d names, expected %d", len(s.Indices), len(s.Names), s.K)
	}
	prev := -1
	for _, i := range s.Indices {
		if i <= prev || i >= width {
			return fmt.Errorf("selector index %d out of order or range", i)
		}
		prev = i
	}
	return nil
}
