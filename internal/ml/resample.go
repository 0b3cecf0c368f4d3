package ml

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// ResampleMethod selects how minority rows are synthesised.
type ResampleMethod string

const (
	SMOTE            ResampleMethod = "smote"
	RandomOversample ResampleMethod = "random"
)

// ParseResampleMethod accepts "smote" or "random".
func ParseResampleMethod(s string) (ResampleMethod, error) {
	switch m := ResampleMethod(s); m {
	case SMOTE, RandomOversample:
		return m, nil
	}
	return "", fmt.Errorf("unknown oversampling method %q", s)
}

// ResampleOptions configures Resample. Output is a pure function of the
// inputs and Seed.
type ResampleOptions struct {
	Enabled    bool
	Method     ResampleMethod
	Neighbours int
	Seed       int64
}

// Resample oversamples the minority class of a training partition until
// both classes have the same count. Original rows keep their positions and
// synthetic rows are appended. Disabled returns X and y untouched.
func Resample(X [][]float64, y []int, opts ResampleOptions) ([][]float64, []int, error) {
	if !opts.Enabled {
		return X, y, nil
	}
	if len(X) != len(y) {
		return nil, nil, fmt.Errorf("resample: %d rows but %d labels", len(X), len(y))
	}

	var byClass [2][]int
	for i, l := range y {
		if l != 0 && l != 1 {
			return nil, nil, fmt.Errorf("resample: label %d is not binary", l)
		}
		byClass[l] = append(byClass[l], i)
	}
	minority := 1
	if len(byClass[0]) < len(byClass[1]) {
		minority = 0
	}
	need := len(byClass[1-minority]) - len(byClass[minority])
	if len(byClass[minority]) == 0 {
		return nil, nil, errors.New("resample: minority class has no rows")
	}

	outX := append(make([][]float64, 0, len(X)+need), X...)
	outY := append(make([]int, 0, len(y)+need), y...)
	if need == 0 {
		return outX, outY, nil
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	members := byClass[minority]

	switch opts.Method {
	case RandomOversample:
		for i := 0; i < need; i++ {
			src := X[members[rng.Intn(len(members))]]
			outX = append(outX, append([]float64(nil), src...))
			outY = append(outY, minority)
		}
	case SMOTE, "":
		k := opts.Neighbours
		if k <= 0 {
			k = 5
		}
		if k > len(members)-1 {
			k = len(members) - 1
		}
		neighbours := nearestNeighbours(X, members, k)
		for i := 0; i < need; i++ {
			at := rng.Intn(len(members))
			base := X[members[at]]
			if k == 0 {
				outX = append(outX, append([]float64(nil), base...))
				outY = append(outY, minority)
				continue
			}
			nb := X[neighbours[at][rng.Intn(k)]]
			gap := rng.Float64()
			synth := make([]float64, len(base))
			for j := range base {
				synth[j] = base[j] + gap*(nb[j]-base[j])
			}
			outX = append(outX, synth)
			outY = append(outY, minority)
		}
	default:
		return nil, nil, fmt.Errorf("resample: unknown method %q", opts.Method)
	}
	return outX, outY, nil
}

// nearestNeighbours returns, for every member, the row indices of its k
// closest other members by Euclidean distance. Equal distances resolve to
// the lower row index.
func nearestNeighbours(X [][]float64, members []int, k int) [][]int {
	out := make([][]int, len(members))
	type cand struct {
		dist float64
		row  int
	}
	cands := make([]cand, 0, len(members))
	for a, i := range members {
		cands = cands[:0]
		for _, j := range members {
			if j == i {
				continue
			}
			cands = append(cands, cand{floats.Distance(X[i], X[j], 2), j})
		}
		sort.Slice(cands, func(p, q int) bool {
			if cands[p].dist != cands[q].dist {
				return cands[p].dist < cands[q].dist
			}
			return cands[p].row < cands[q].row
		})
		out[a] = make([]int, k)
		for n := 0; n < k; n++ {
			out[a][n] = cands[n].row
		}
	}
	return out
}
