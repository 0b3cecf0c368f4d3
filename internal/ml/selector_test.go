package ml

import (
	"encoding/json"
	"errors"
	"testing"

	"churn-predictor/internal/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// f0 separates the classes, f1 is constant, f2 has equal class means.
func selectorData() ([][]float64, []int, []string) {
	X := [][]float64{
		{1, 5, 1}, {2, 5, 2}, {1, 5, 3}, {2, 5, 4},
		{8, 5, 1}, {9, 5, 2}, {8, 5, 3}, {9, 5, 4},
	}
	y := []int{0, 0, 0, 0, 1, 1, 1, 1}
	return X, y, []string{"f0", "f1", "f2"}
}

func TestFitSelector(t *testing.T) {
	X, y, names := selectorData()

	s, err := FitSelector(X, y, names, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, s.Indices)
	assert.Equal(t, []string{"f0"}, s.Names)
	assert.InDelta(t, 294.0, s.Scores[0], 1e-9)
	assert.Less(t, s.PValues[0], 1e-3)
	assert.Equal(t, 0.0, s.Scores[1])
	assert.Equal(t, 1.0, s.PValues[1])
	assert.Equal(t, 0.0, s.Scores[2])

	assert.Equal(t, []float64{8}, s.Transform([]float64{8, 5, 3}))
	assert.Equal(t, [][]float64{{1}, {9}}, s.TransformAll([][]float64{X[0], X[5]}))
	assert.NoError(t, s.Validate(3))
	assert.Error(t, s.Validate(4))
}

func TestFitSelector_TiesKeepLowerIndex(t *testing.T) {
	X, y, names := selectorData()
	s, err := FitSelector(X, y, names, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, s.Indices)
}

func TestFitSelector_KOutOfRange(t *testing.T) {
	X, y, names := selectorData()
	for _, k := range []int{0, 4} {
		_, err := FitSelector(X, y, names, k)
		var ce *common.ConfigError
		require.True(t, errors.As(err, &ce), "k=%d: %v", k, err)
		assert.Equal(t, "num_features_clf", ce.Key)
	}
}

func TestFitSelector_PerfectSeparationEncodes(t *testing.T) {
	X := [][]float64{{0}, {0}, {1}, {1}}
	s, err := FitSelector(X, []int{0, 0, 1, 1}, []string{"x"}, 1)
	require.NoError(t, err)
	_, err = json.Marshal(s)
	assert.NoError(t, err)
	assert.Equal(t, 0.0, s.PValues[0])
}

func TestFitSelector_SingleClass(t *testing.T) {
	_, err := FitSelector([][]float64{{1}, {2}}, []int{1, 1}, []string{"x"}, 1)
	assert.Error(t, err)
}
