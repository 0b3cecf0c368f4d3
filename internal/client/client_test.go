package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"churn-predictor/internal/cfg"
	"churn-predictor/internal/features"
	"churn-predictor/internal/ml"
	"churn-predictor/internal/pipeline"
	"churn-predictor/internal/server"
	"churn-predictor/internal/synth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startService(t *testing.T) (*httptest.Server, *features.Table) {
	t.Helper()
	dir := t.TempDir()
	tbl, err := synth.WriteFile(filepath.Join(dir, "hr.csv"), synth.Options{Rows: 200, ChurnRate: 0.3, Seed: 21})
	require.NoError(t, err)

	settings := cfg.Settings{
		CSVPath:            tbl.Path,
		Oversampling:       false,
		Scoring:            ml.Accuracy,
		MaxDepth:           2,
		NumFeaturesClf:     3,
		ArtifactPath:       filepath.Join(dir, "model.json"),
		ValidationFraction: 0.2,
		CVFolds:            2,
		Criteria:           []ml.Criterion{ml.Entropy},
		MinSamplesLeaf:     []int{2},
		DecisionThreshold:  0.5,
		Codebook:           features.DefaultCodebook(),
	}
	_, err = pipeline.Run(context.Background(), settings, pipeline.Options{})
	require.NoError(t, err)

	s := server.New(server.Config{ArtifactPath: settings.ArtifactPath})
	require.NoError(t, s.Load())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, tbl
}

func TestClient_Predict(t *testing.T) {
	ts, tbl := startService(t)
	c := New(ts.URL+"/", time.Second)
	ctx := context.Background()

	health, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ready", health.State)

	schema, err := c.Schema(ctx)
	require.NoError(t, err)
	assert.Equal(t, health.SchemaVersion, schema.Version)

	resp, err := c.Predict(ctx, synth.Request(tbl.Rows[0]), PredictOptions{
		Explain:       true,
		RequestID:     "smoke-1",
		SchemaVersion: schema.Version,
	})
	require.NoError(t, err)
	assert.Equal(t, "smoke-1", resp.RequestID)
	assert.NotEmpty(t, resp.Path)
}

func TestClient_PredictRejected(t *testing.T) {
	ts, tbl := startService(t)
	c := New(ts.URL, 0)

	body := synth.Request(tbl.Rows[0])
	delete(body, "gender")

	_, err := c.Predict(context.Background(), body, PredictOptions{})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	assert.Equal(t, "gender", apiErr.Field)
}

func TestClient_Unavailable(t *testing.T) {
	s := server.New(server.Config{ArtifactPath: filepath.Join(t.TempDir(), "absent.json")})
	require.Error(t, s.Load())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	c := New(ts.URL, time.Second)
	health, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "failed", health.State)
	assert.NotEmpty(t, health.Error)

	_, err = c.Predict(context.Background(), map[string]any{"city": "city_1"}, PredictOptions{})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.Equal(t, "failed", apiErr.State)
}
