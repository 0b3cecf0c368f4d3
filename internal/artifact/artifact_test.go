package artifact

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"churn-predictor/internal/common"
	"churn-predictor/internal/features"
	"churn-predictor/internal/ml"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCodebook() features.Codebook {
	return features.Codebook{
		IDField:    "id",
		LabelField: "target",
		Columns: []features.Column{
			{Name: "hours", Kind: features.KindNumeric},
			{Name: "level", Kind: features.KindOrdinal, Levels: map[string]float64{"low": 0, "high": 1}},
			{Name: "team", Kind: features.KindOneHot},
		},
	}
}

func testRecords() ([]features.Record, []int) {
	var rows []features.Record
	var y []int
	for i := 0; i < 40; i++ {
		level, team := "low", "a"
		if i%2 == 0 {
			level = "high"
		}
		if i%3 == 0 {
			team = "b"
		}
		rows = append(rows, features.Record{
			"id":    {Raw: strconv.Itoa(1000 + i)},
			"hours": {Raw: strconv.Itoa(i)},
			"level": {Raw: level},
			"team":  {Raw: team},
		})
		label := 0
		if i >= 20 {
			label = 1
		}
		y = append(y, label)
	}
	return rows, y
}

func buildArtifact(t *testing.T) (*Artifact, []features.Record) {
	t.Helper()
	rows, y := testRecords()
	enc, err := features.FitEncoder(testCodebook(), rows)
	require.NoError(t, err)

	X := make([][]float64, len(rows))
	for i, r := range rows {
		X[i], err = enc.Transform(r)
		require.NoError(t, err)
	}
	sel, err := ml.FitSelector(X, y, enc.FeatureNames(), 2)
	require.NoError(t, err)
	tree, err := ml.FitTree(sel.TransformAll(X), y, ml.TreeParams{MaxDepth: 2, Criterion: ml.Gini, MinSamplesLeaf: 1})
	require.NoError(t, err)

	a, err := New(enc, sel, tree, 0.5)
	require.NoError(t, err)
	a.RunID = "run-1"
	a.TrainedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	a.Training = TrainingInfo{Rows: len(rows), ClassCounts: map[int]int{0: 20, 1: 20}, Scoring: ml.F1}
	return a, rows
}

func TestNew(t *testing.T) {
	a, _ := buildArtifact(t)
	assert.Equal(t, []string{"hours", "level", "team"}, a.Schema.Fields)
	assert.Equal(t, []string{"hours", "level", "team_a", "team_b"}, a.Schema.Features)
	assert.Contains(t, a.Selector.Names, "hours")

	imps := a.Importances()
	require.Len(t, imps, 2)
	var total float64
	for _, imp := range imps {
		total += imp.Importance
	}
	assert.InDelta(t, 1.0, total, 1e-9)

	info := a.Info()
	assert.Equal(t, "run-1", info.RunID)
	assert.Equal(t, a.Schema.Version, info.SchemaVersion)
	assert.LessOrEqual(t, info.Depth, 2)
}

func TestNew_RejectsBadThreshold(t *testing.T) {
	a, _ := buildArtifact(t)
	enc, err := features.NewEncoder(a.Codebook)
	require.NoError(t, err)
	_, err = New(enc, a.Selector, a.Tree, 1)
	assert.Error(t, err)
	_, err = New(enc, nil, a.Tree, 0.5)
	assert.Error(t, err)
}

func TestPredict(t *testing.T) {
	a, rows := buildArtifact(t)

	low, err := a.Predict(rows[2], false)
	require.NoError(t, err)
	assert.Equal(t, 0, low.Decision)
	assert.Nil(t, low.Path)

	high, err := a.Predict(rows[35], true)
	require.NoError(t, err)
	assert.Equal(t, 1, high.Decision)
	assert.Greater(t, high.Probability, a.Threshold)
	require.NotEmpty(t, high.Path)
	assert.Equal(t, "hours", high.Path[0].Feature)
	assert.Equal(t, ">", high.Path[0].Op)
	assert.Equal(t, 35.0, high.Path[0].Value)

	for _, r := range rows {
		p, err := a.Predict(r, false)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, p.Probability, 0.0)
		assert.LessOrEqual(t, p.Probability, 1.0)
		assert.Equal(t, p.Probability > a.Threshold, p.Decision == 1)
	}
}

func TestPredict_ValidationErrors(t *testing.T) {
	a, rows := buildArtifact(t)

	clone := func() features.Record {
		r := features.Record{}
		for k, v := range rows[0] {
			r[k] = v
		}
		return r
	}

	tests := []struct {
		name  string
		edit  func(features.Record)
		field string
	}{
		{"missing field", func(r features.Record) { delete(r, "hours") }, "hours"},
		{"extra field", func(r features.Record) { r["salary"] = features.Value{Raw: "1"} }, "salary"},
		{"label is not an input", func(r features.Record) { r["target"] = features.Value{Raw: "1"} }, "target"},
		{"unknown category", func(r features.Record) { r["team"] = features.Value{Raw: "z"} }, "team"},
		{"bad number", func(r features.Record) { r["hours"] = features.Value{Raw: "lots"} }, "hours"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := clone()
			tt.edit(r)
			_, err := a.Predict(r, false)
			var ve *common.ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	_, err := a.Predict(features.Record{}, false)
	assert.True(t, common.IsValidation(err))
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	a, rows := buildArtifact(t)
	path := filepath.Join(t.TempDir(), "models", "churn_model.json")

	checksum, err := Save(path, a)
	require.NoError(t, err)
	assert.Len(t, checksum, 64)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, a.Schema, loaded.Schema)
	assert.Equal(t, a.RunID, loaded.RunID)
	assert.True(t, a.TrainedAt.Equal(loaded.TrainedAt))
	assert.Equal(t, a.Training, loaded.Training)

	for _, r := range rows {
		want, err := a.Predict(r, true)
		require.NoError(t, err)
		got, err := loaded.Predict(r, true)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestSave_OverwriteLeavesNoTempFiles(t *testing.T) {
	a, _ := buildArtifact(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "model.json")

	first, err := Save(path, a)
	require.NoError(t, err)
	a.RunID = "run-2"
	second, err := Save(path, a)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "model.json", entries[0].Name())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "run-2", loaded.RunID)
}

func TestSave_Unwritable(t *testing.T) {
	a, _ := buildArtifact(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	_, err := Save(filepath.Join(blocker, "model.json"), a)
	var pe *common.PersistError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "save", pe.Op)
}

func TestLoad_Failures(t *testing.T) {
	a, _ := buildArtifact(t)
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	_, err := Save(good, a)
	require.NoError(t, err)
	data, err := os.ReadFile(good)
	require.NoError(t, err)

	write := func(name string, content []byte) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, content, 0o600))
		return p
	}

	tests := []struct {
		name string
		path string
	}{
		{"missing", filepath.Join(dir, "absent.json")},
		{"garbage", write("garbage.json", []byte("not json"))},
		{"truncated", write("truncated.json", data[:len(data)/2])},
		{"tampered payload", write("tampered.json", bytes.Replace(data, []byte(`"run_id":"run-1"`), []byte(`"run_id":"run-9"`), 1))},
		{"wrong format", write("format.json", bytes.Replace(data, []byte(Format), []byte("other/v0"), 1))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.path)
			var pe *common.PersistError
			require.True(t, errors.As(err, &pe), "got %v", err)
			assert.Equal(t, "load", pe.Op)
		})
	}
}

func TestLoad_InconsistentParts(t *testing.T) {
	a, _ := buildArtifact(t)
	dir := t.TempDir()

	a.Selector.Indices = []int{0, 99}
	path := filepath.Join(dir, "bad_selector.json")
	_, err := Save(path, a)
	require.NoError(t, err)

	_, err = Load(path)
	var pe *common.PersistError
	require.True(t, errors.As(err, &pe))
	assert.Contains(t, err.Error(), "selector")

	b, _ := buildArtifact(t)
	b.Schema.Version = "sha256:0000000000000000"
	path = filepath.Join(dir, "bad_schema.json")
	_, err = Save(path, b)
	require.NoError(t, err)
	_, err = Load(path)
	require.True(t, errors.As(err, &pe))
	assert.Contains(t, err.Error(), "schema")
}
