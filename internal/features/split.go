package features

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// StratifiedSplit partitions row indices into train and validation sets,
// keeping each class's share in both. The split depends only on labels and
// seed. Both index slices are returned in ascending order.
func StratifiedSplit(labels []int, fraction float64, seed int64) (train, validation []int, err error) {
	if fraction <= 0 || fraction >= 1 {
		return nil, nil, fmt.Errorf("validation fraction %v must be in (0, 1)", fraction)
	}

	byClass := make(map[int][]int)
	var classes []int
	for i, l := range labels {
		if _, ok := byClass[l]; !ok {
			classes = append(classes, l)
		}
		byClass[l] = append(byClass[l], i)
	}
	sort.Ints(classes)

	rng := rand.New(rand.NewSource(seed))
	for _, c := range classes {
		idx := byClass[c]
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

		nVal := int(math.Round(float64(len(idx)) * fraction))
		if nVal == 0 || nVal == len(idx) {
			return nil, nil, fmt.Errorf("class %d has %d rows, too few to split at %.2f", c, len(idx), fraction)
		}
		validation = append(validation, idx[:nVal]...)
		train = append(train, idx[nVal:]...)
	}

	sort.Ints(train)
	sort.Ints(validation)
	return train, validation, nil
}

// Take gathers rows and labels at the given indices.
func Take(X [][]float64, y []int, idx []int) ([][]float64, []int) {
	outX := make([][]float64, len(idx))
	outY := make([]int, len(idx))
	for i, j := range idx {
		outX[i] = X[j]
		outY[i] = y[j]
	}
	return outX, outY
}
