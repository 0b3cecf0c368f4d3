package ml

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

// SearchSpace is the hyper-parameter grid. Every depth from 1 to MaxDepth
// is tried with every criterion and leaf size.
type SearchSpace struct {
	MaxDepth       int
	Criteria       []Criterion
	MinSamplesLeaf []int
}

// Candidates expands the grid in a fixed order: depth, then criterion,
// then leaf size.
func (s SearchSpace) Candidates() []TreeParams {
	criteria := s.Criteria
	if len(criteria) == 0 {
		criteria = []Criterion{Gini}
	}
	leaves := s.MinSamplesLeaf
	if len(leaves) == 0 {
		leaves = []int{1}
	}
	var out []TreeParams
	for d := 1; d <= s.MaxDepth; d++ {
		for _, c := range criteria {
			for _, l := range leaves {
				out = append(out, TreeParams{MaxDepth: d, Criterion: c, MinSamplesLeaf: l})
			}
		}
	}
	return out
}

type SearchOptions struct {
	Folds     int
	Seed      int64
	Metric    Metric
	Threshold float64

	// Workers bounds concurrent candidate evaluations. Zero means GOMAXPROCS.
	Workers int

	// OnCandidate, if set, is called once per evaluated candidate. Calls
	// are serialised.
	OnCandidate func(CandidateScore)
}

// CandidateScore is the cross-validated result of one grid point.
type CandidateScore struct {
	Params     TreeParams `json:"params"`
	FoldScores []float64  `json:"fold_scores"`
	Mean       float64    `json:"mean"`
	Std        float64    `json:"std"`
}

// SearchResult holds the winning parameters refit on all rows.
type SearchResult struct {
	Best       TreeParams       `json:"best"`
	BestScore  float64          `json:"best_score"`
	Metric     Metric           `json:"metric"`
	Folds      int              `json:"folds"`
	Candidates []CandidateScore `json:"candidates"`
	Tree       *Tree            `json:"-"`
}

// Search cross-validates every candidate of space on (X, y) and refits the
// best one on the full data. The highest mean score wins; ties go to the
// shallower tree and then to the earlier candidate. The result depends only
// on the inputs and opts.Seed, not on scheduling.
func Search(ctx context.Context, X [][]float64, y []int, space SearchSpace, opts SearchOptions) (*SearchResult, error) {
	if space.MaxDepth < 1 {
		return nil, fmt.Errorf("search: max depth must be positive, got %d", space.MaxDepth)
	}
	for _, c := range space.Criteria {
		if _, err := ParseCriterion(string(c)); err != nil {
			return nil, err
		}
	}
	folds, err := StratifiedKFold(y, opts.Folds, opts.Seed)
	if err != nil {
		return nil, err
	}

	candidates := space.Candidates()
	scores := make([]CandidateScore, len(candidates))

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	var mu sync.Mutex

	for ci := range candidates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			cs, err := crossValidate(X, y, folds, candidates[ci], opts)
			if err != nil {
				return fmt.Errorf("candidate %s: %w", candidates[ci], err)
			}
			scores[ci] = cs
			if opts.OnCandidate != nil {
				mu.Lock()
				opts.OnCandidate(cs)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	best := 0
	for i := 1; i < len(scores); i++ {
		if better(scores[i], scores[best]) {
			best = i
		}
	}

	tree, err := FitTree(X, y, scores[best].Params)
	if err != nil {
		return nil, fmt.Errorf("refit best candidate: %w", err)
	}
	return &SearchResult{
		Best:       scores[best].Params,
		BestScore:  scores[best].Mean,
		Metric:     opts.Metric,
		Folds:      opts.Folds,
		Candidates: scores,
		Tree:       tree,
	}, nil
}

func better(a, b CandidateScore) bool {
	if a.Mean != b.Mean {
		return a.Mean > b.Mean
	}
	return a.Params.MaxDepth < b.Params.MaxDepth
}

func crossValidate(X [][]float64, y []int, folds [][]int, params TreeParams, opts SearchOptions) (CandidateScore, error) {
	cs := CandidateScore{Params: params, FoldScores: make([]float64, len(folds))}
	inFold := make([]int, len(y))
	for f, idx := range folds {
		for _, i := range idx {
			inFold[i] = f
		}
	}

	for f, test := range folds {
		trainX := make([][]float64, 0, len(y)-len(test))
		trainY := make([]int, 0, len(y)-len(test))
		for i := range y {
			if inFold[i] != f {
				trainX = append(trainX, X[i])
				trainY = append(trainY, y[i])
			}
		}
		tree, err := FitTree(trainX, trainY, params)
		if err != nil {
			return cs, err
		}
		testY := make([]int, len(test))
		proba := make([]float64, len(test))
		for j, i := range test {
			testY[j] = y[i]
			proba[j] = tree.PredictProba(X[i])
		}
		cs.FoldScores[f] = opts.Metric.Score(testY, proba, opts.Threshold)
	}
	cs.Mean = stat.Mean(cs.FoldScores, nil)
	cs.Std = stat.StdDev(cs.FoldScores, nil)
	return cs, nil
}

// StratifiedKFold deals each class's shuffled rows round-robin into k
// folds, so every fold keeps roughly the overall class ratio. Each class
// needs at least k rows.
func StratifiedKFold(y []int, k int, seed int64) ([][]int, error) {
	if k < 2 {
		return nil, fmt.Errorf("cross-validation needs at least 2 folds, got %d", k)
	}
	if len(y) < k {
		return nil, fmt.Errorf("cannot split %d rows into %d folds", len(y), k)
	}
	byClass := map[int][]int{}
	for i, l := range y {
		byClass[l] = append(byClass[l], i)
	}
	if len(byClass) < 2 {
		return nil, errors.New("cross-validation needs both classes present")
	}
	classes := make([]int, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sort.Ints(classes)

	rng := rand.New(rand.NewSource(seed))
	folds := make([][]int, k)
	next := 0
	for _, c := range classes {
		idx := append([]int(nil), byClass[c]...)
		if len(idx) < k {
			return nil, fmt.Errorf("class %d has %d rows, fewer than %d folds", c, len(idx), k)
		}
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		for _, i := range idx {
			folds[next] = append(folds[next], i)
			next = (next + 1) % k
		}
	}
	for _, f := range folds {
		sort.Ints(f)
	}
	return folds, nil
}
