package synth

import (
	"bytes"
	"path/filepath"
	"testing"

	"churn-predictor/internal/features"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	tbl, err := Generate(Options{Rows: 1000, ChurnRate: 0.3, MissingRate: 0.1, Seed: 1})
	require.NoError(t, err)

	assert.Len(t, tbl.Rows, 1000)
	assert.Equal(t, map[int]int{0: 700, 1: 300}, features.ClassCounts(tbl.Labels))
	for _, r := range tbl.Rows {
		assert.Len(t, r, len(Header)-1)
	}

	again, err := Generate(Options{Rows: 1000, ChurnRate: 0.3, MissingRate: 0.1, Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, tbl, again)
}

func TestGenerate_Invalid(t *testing.T) {
	for _, opts := range []Options{
		{Rows: 1, ChurnRate: 0.3},
		{Rows: 10, ChurnRate: 0},
		{Rows: 10, ChurnRate: 1},
		{Rows: 10, ChurnRate: 0.5, MissingRate: 1},
	} {
		_, err := Generate(opts)
		assert.Error(t, err, "%+v", opts)
	}
}

func TestWriteCSV_ReadsBack(t *testing.T) {
	tbl, err := Generate(Options{Rows: 200, ChurnRate: 0.25, MissingRate: 0.2, Seed: 5})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, tbl, "target"))

	back, err := features.ReadCSV(&buf, features.DefaultCodebook())
	require.NoError(t, err)
	assert.Equal(t, tbl.Labels, back.Labels)
	assert.Equal(t, tbl.Rows[7]["city"], back.Rows[7]["city"])

	enc, err := features.FitEncoder(features.DefaultCodebook(), back.Rows)
	require.NoError(t, err)
	_, err = enc.TransformTable(back)
	assert.NoError(t, err)
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "hr.csv")
	tbl, err := WriteFile(path, Options{Rows: 50, ChurnRate: 0.3, Seed: 2})
	require.NoError(t, err)
	assert.Equal(t, path, tbl.Path)

	loaded, err := features.LoadCSV(path, features.DefaultCodebook())
	require.NoError(t, err)
	assert.Len(t, loaded.Rows, 50)
}

func TestRequest(t *testing.T) {
	r := features.Record{"gender": {Null: true}, "city": {Raw: "city_3"}}
	req := Request(r)
	assert.Nil(t, req["gender"])
	assert.Equal(t, "city_3", req["city"])
}
