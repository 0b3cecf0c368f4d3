// Package ml holds the learning side of the churn pipeline: the minority
// oversampler, the ANOVA feature selector, a depth-bounded CART decision
// tree and the cross-validated search that picks its hyper-parameters.
//
// The tree is deliberately small and explicit. Every split is a single
// feature/threshold test, so a prediction can always be traced back
// through DecisionPath and summarised through FeatureImportances.
package ml

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

type Criterion string

const (
	Gini    Criterion = "gini"
	Entropy Criterion = "entropy"
)

// ParseCriterion accepts "gini" or "entropy".
func ParseCriterion(s string) (Criterion, error) {
	switch c := Criterion(s); c {
	case Gini, Entropy:
		return c, nil
	}
	return "", fmt.Errorf("unknown split criterion %q", s)
}

// TreeParams are the hyper-parameters of one tree. MaxDepth is a hard
// bound: the root sits at depth 0 and no leaf is deeper than MaxDepth.
type TreeParams struct {
	MaxDepth       int       `json:"max_depth"`
	Criterion      Criterion `json:"criterion"`
	MinSamplesLeaf int       `json:"min_samples_leaf"`
}

func (p TreeParams) String() string {
	return fmt.Sprintf("depth=%d criterion=%s min_leaf=%d", p.MaxDepth, p.Criterion, p.MinSamplesLeaf)
}

func (p TreeParams) validate() error {
	if p.MaxDepth < 1 {
		return fmt.Errorf("max depth must be positive, got %d", p.MaxDepth)
	}
	if p.MinSamplesLeaf < 1 {
		return fmt.Errorf("min samples per leaf must be positive, got %d", p.MinSamplesLeaf)
	}
	if _, err := ParseCriterion(string(p.Criterion)); err != nil {
		return err
	}
	return nil
}

// Node is one entry of the flat node table. Leaves have Feature == -1.
// Samples x with x[Feature] <= Threshold go to Left.
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Depth     int     `json:"depth"`
	Samples   int     `json:"samples"`
	Counts    [2]int  `json:"counts"`
	Impurity  float64 `json:"impurity"`
}

func (n Node) IsLeaf() bool { return n.Feature < 0 }

// Probability is the share of class 1 among the training samples that
// reached the node.
func (n Node) Probability() float64 {
	total := n.Counts[0] + n.Counts[1]
	if total == 0 {
		return 0
	}
	return float64(n.Counts[1]) / float64(total)
}

// Tree is a fitted binary classification tree. The zero value is unusable;
// build one with FitTree or decode one from an artifact and call Validate.
type Tree struct {
	Params    TreeParams `json:"params"`
	NFeatures int        `json:"n_features"`
	Nodes     []Node     `json:"nodes"`
}

// Step is one decision taken while routing a sample through the tree.
type Step struct {
	Node      int     `json:"node"`
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Value     float64 `json:"value"`
	WentLeft  bool    `json:"went_left"`
}

type treeBuilder struct {
	X      [][]float64
	y      []int
	params TreeParams
	nodes  []Node
}

// FitTree grows a tree on X (rows x features) and binary labels y.
func FitTree(X [][]float64, y []int, params TreeParams) (*Tree, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	if len(X) == 0 {
		return nil, errors.New("tree: no training rows")
	}
	if len(X) != len(y) {
		return nil, fmt.Errorf("tree: %d rows but %d labels", len(X), len(y))
	}
	width := len(X[0])
	for i, row := range X {
		if len(row) != width {
			return nil, fmt.Errorf("tree: row %d has %d features, expected %d", i, len(row), width)
		}
	}
	for i, l := range y {
		if l != 0 && l != 1 {
			return nil, fmt.Errorf("tree: label %d at row %d is not binary", l, i)
		}
	}

	b := &treeBuilder{X: X, y: y, params: params}
	idx := make([]int, len(X))
	for i := range idx {
		idx[i] = i
	}
	b.grow(idx, 0)

	return &Tree{Params: params, NFeatures: width, Nodes: b.nodes}, nil
}

func (b *treeBuilder) impurity(counts [2]int) float64 {
	n := float64(counts[0] + counts[1])
	if n == 0 {
		return 0
	}
	p0, p1 := float64(counts[0])/n, float64(counts[1])/n
	if b.params.Criterion == Entropy {
		h := 0.0
		for _, p := range [2]float64{p0, p1} {
			if p > 0 {
				h -= p * math.Log2(p)
			}
		}
		return h
	}
	return 1 - p0*p0 - p1*p1
}

func (b *treeBuilder) grow(idx []int, depth int) int {
	var counts [2]int
	for _, i := range idx {
		counts[b.y[i]]++
	}
	id := len(b.nodes)
	b.nodes = append(b.nodes, Node{
		Feature:  -1,
		Left:     -1,
		Right:    -1,
		Depth:    depth,
		Samples:  len(idx),
		Counts:   counts,
		Impurity: b.impurity(counts),
	})

	if depth >= b.params.MaxDepth || counts[0] == 0 || counts[1] == 0 || len(idx) < 2*b.params.MinSamplesLeaf {
		return id
	}

	feature, threshold, ok := b.bestSplit(idx, counts)
	if !ok {
		return id
	}

	var left, right []int
	for _, i := range idx {
		if b.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	n := &b.nodes[id]
	n.Feature, n.Threshold, n.Left, n.Right = feature, threshold, l, r
	return id
}

// bestSplit scans every feature in order and every threshold between
// consecutive distinct values. Only a strictly larger gain replaces the
// incumbent, which makes the choice deterministic.
func (b *treeBuilder) bestSplit(idx []int, counts [2]int) (int, float64, bool) {
	const minGain = 1e-12

	n := float64(len(idx))
	parent := b.impurity(counts)
	bestGain := minGain
	bestFeature, bestThreshold := -1, 0.0

	sorted := make([]int, len(idx))
	for f := 0; f < len(b.X[idx[0]]); f++ {
		copy(sorted, idx)
		sort.SliceStable(sorted, func(a, c int) bool { return b.X[sorted[a]][f] < b.X[sorted[c]][f] })

		var left [2]int
		for s := 1; s < len(sorted); s++ {
			left[b.y[sorted[s-1]]]++
			lo, hi := b.X[sorted[s-1]][f], b.X[sorted[s]][f]
			if lo == hi {
				continue
			}
			if s < b.params.MinSamplesLeaf || len(sorted)-s < b.params.MinSamplesLeaf {
				continue
			}
			right := [2]int{counts[0] - left[0], counts[1] - left[1]}
			weighted := (float64(s)*b.impurity(left) + float64(len(sorted)-s)*b.impurity(right)) / n
			if gain := parent - weighted; gain > bestGain {
				bestGain = gain
				bestFeature = f
				bestThreshold = lo + (hi-lo)/2
				if bestThreshold >= hi {
					bestThreshold = lo
				}
			}
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}

// Validate checks the structure of a decoded tree before it is trusted
// with predictions.
func (t *Tree) Validate() error {
	if err := t.Params.validate(); err != nil {
		return fmt.Errorf("tree params: %w", err)
	}
	if len(t.Nodes) == 0 {
		return errors.New("tree has no nodes")
	}
	for i, n := range t.Nodes {
		if n.Depth > t.Params.MaxDepth {
			return fmt.Errorf("node %d at depth %d exceeds max depth %d", i, n.Depth, t.Params.MaxDepth)
		}
		if n.IsLeaf() {
			continue
		}
		if n.Feature >= t.NFeatures {
			return fmt.Errorf("node %d splits on feature %d of %d", i, n.Feature, t.NFeatures)
		}
		if n.Left <= i || n.Right <= i || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
			return fmt.Errorf("node %d has invalid children %d/%d", i, n.Left, n.Right)
		}
	}
	return nil
}

func (t *Tree) leaf(x []float64) int {
	i := 0
	for !t.Nodes[i].IsLeaf() {
		n := t.Nodes[i]
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
	return i
}

// PredictProba returns the churn probability for one selected feature vector.
func (t *Tree) PredictProba(x []float64) float64 {
	return t.Nodes[t.leaf(x)].Probability()
}

// PredictProbaAll is PredictProba over many rows.
func (t *Tree) PredictProbaAll(X [][]float64) []float64 {
	out := make([]float64, len(X))
	for i, x := range X {
		out[i] = t.PredictProba(x)
	}
	return out
}

// DecisionPath returns every test applied to x on the way to its leaf,
// and the leaf index.
func (t *Tree) DecisionPath(x []float64) ([]Step, int) {
	var steps []Step
	i := 0
	for !t.Nodes[i].IsLeaf() {
		n := t.Nodes[i]
		left := x[n.Feature] <= n.Threshold
		steps = append(steps, Step{
			Node:      i,
			Feature:   n.Feature,
			Threshold: n.Threshold,
			Value:     x[n.Feature],
			WentLeft:  left,
		})
		if left {
			i = n.Left
		} else {
			i = n.Right
		}
	}
	return steps, i
}

// FeatureImportances returns the normalised total impurity decrease per
// feature. All zeros when the tree is a single leaf.
func (t *Tree) FeatureImportances() []float64 {
	out := make([]float64, t.NFeatures)
	for _, n := range t.Nodes {
		if n.IsLeaf() {
			continue
		}
		l, r := t.Nodes[n.Left], t.Nodes[n.Right]
		out[n.Feature] += float64(n.Samples)*n.Impurity -
			float64(l.Samples)*l.Impurity - float64(r.Samples)*r.Impurity
	}
	var total float64
	for _, v := range out {
		total += v
	}
	if total <= 0 {
		return make([]float64, t.NFeatures)
	}
	for i := range out {
		out[i] /= total
	}
	return out
}

// Depth is the deepest leaf's depth.
func (t *Tree) Depth() int {
	d := 0
	for _, n := range t.Nodes {
		if n.Depth > d {
			d = n.Depth
		}
	}
	return d
}

// Leaves counts leaf nodes.
func (t *Tree) Leaves() int {
	c := 0
	for _, n := range t.Nodes {
		if n.IsLeaf() {
			c++
		}
	}
	return c
}
