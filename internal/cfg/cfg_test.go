package cfg

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"churn-predictor/internal/common"
	"churn-predictor/internal/features"
	"churn-predictor/internal/ml"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `
csv_path: data/aug_train.csv
oversampling: true
scoring: f1
max_depth: 5
num_features_clf: 10
`

func TestParse_Defaults(t *testing.T) {
	settings, err := Parse([]byte(minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "data/aug_train.csv", settings.CSVPath)
	assert.True(t, settings.Oversampling)
	assert.Equal(t, ml.F1, settings.Scoring)
	assert.Equal(t, 5, settings.MaxDepth)
	assert.Equal(t, 10, settings.NumFeaturesClf)

	assert.Equal(t, common.DefaultArtifactPath, settings.ArtifactPath)
	assert.Equal(t, "", settings.HistoryPath)
	assert.Equal(t, int64(0), settings.Seed)
	assert.Equal(t, 0.2, settings.ValidationFraction)
	assert.Equal(t, 5, settings.CVFolds)
	assert.Equal(t, []ml.Criterion{ml.Gini, ml.Entropy}, settings.Criteria)
	assert.Equal(t, []int{1}, settings.MinSamplesLeaf)
	assert.Equal(t, ml.SMOTE, settings.OversamplingMethod)
	assert.Equal(t, 0.5, settings.DecisionThreshold)
	assert.Equal(t, 5000, settings.ServerPort)
	assert.Equal(t, zerolog.InfoLevel, settings.LogLevel)
	assert.Equal(t, features.DefaultCodebook(), settings.Codebook)
}

func TestParse_OptionalKeys(t *testing.T) {
	settings, err := Parse([]byte(minimalConfig + `
artifact_path: out/model.json
history_path: out/runs.db
seed: 42
validation_fraction: 0.3
cv_folds: 3
criteria: [Entropy]
min_samples_leaf: [1, 5]
oversampling_method: random
decision_threshold: 0.4
server_port: 8081
log_level: debug
`))
	require.NoError(t, err)

	assert.Equal(t, "out/model.json", settings.ArtifactPath)
	assert.Equal(t, "out/runs.db", settings.HistoryPath)
	assert.Equal(t, int64(42), settings.Seed)
	assert.Equal(t, 0.3, settings.ValidationFraction)
	assert.Equal(t, 3, settings.CVFolds)
	assert.Equal(t, []ml.Criterion{ml.Entropy}, settings.Criteria)
	assert.Equal(t, []int{1, 5}, settings.MinSamplesLeaf)
	assert.Equal(t, ml.RandomOversample, settings.OversamplingMethod)
	assert.Equal(t, 0.4, settings.DecisionThreshold)
	assert.Equal(t, 8081, settings.ServerPort)
	assert.Equal(t, zerolog.DebugLevel, settings.LogLevel)
}

func TestParse_Columns(t *testing.T) {
	settings, err := Parse([]byte(minimalConfig + `
id_field: ""
label_field: churned
columns:
  - name: tenure
    kind: numeric
  - name: grade
    kind: ordinal
    levels: {junior: 0, senior: 1}
    missing: -1
  - name: team
    kind: onehot
    trim_prefix: team_
`))
	require.NoError(t, err)

	cb := settings.Codebook
	assert.Equal(t, "", cb.IDField)
	assert.Equal(t, "churned", cb.LabelField)
	require.Len(t, cb.Columns, 3)
	assert.Equal(t, features.KindOrdinal, cb.Columns[1].Kind)
	assert.Equal(t, 1.0, cb.Columns[1].Levels["senior"])
	require.NotNil(t, cb.Columns[1].Missing)
	assert.Equal(t, -1.0, *cb.Columns[1].Missing)
	assert.Equal(t, "team_", cb.Columns[2].TrimPrefix)
}

func TestParse_MissingRequiredKeys(t *testing.T) {
	tests := []struct {
		name    string
		drop    string
		wantKey string
	}{
		{"csv_path", "csv_path: data/aug_train.csv\n", "csv_path"},
		{"oversampling", "oversampling: true\n", "oversampling"},
		{"scoring", "scoring: f1\n", "scoring"},
		{"max_depth", "max_depth: 5\n", "max_depth"},
		{"num_features_clf", "num_features_clf: 10\n", "num_features_clf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := []byte(strings.Replace(minimalConfig, tt.drop, "", 1))
			_, err := Parse(data)
			var ce *common.ConfigError
			require.True(t, errors.As(err, &ce), "got %v", err)
			assert.Equal(t, tt.wantKey, ce.Key)
		})
	}

	_, err := Parse(nil)
	var ce *common.ConfigError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "csv_path", ce.Key)
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte("csv_path: [unclosed"))
	var ce *common.ConfigError
	require.True(t, errors.As(err, &ce))

	_, err = Parse([]byte(minimalConfig + "max_dept: 3\n"))
	require.True(t, errors.As(err, &ce), "unknown keys are rejected")

	_, err = Parse([]byte("csv_path: x\noversampling: true\nscoring: f1\nmax_depth: deep\nnum_features_clf: 3\n"))
	require.True(t, errors.As(err, &ce))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalConfig), 0o600))

	settings, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, settings.MaxDepth)

	t.Setenv(common.EnvConfigFile, path)
	settings, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, 10, settings.NumFeaturesClf)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	var ce *common.ConfigError
	require.True(t, errors.As(err, &ce))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv(common.EnvArtifactPath, "/tmp/env_model.json")
	t.Setenv(common.EnvHistoryPath, "/tmp/env_runs.db")
	t.Setenv(common.EnvServerPort, "9090")
	t.Setenv(common.EnvLogLevel, "WARN")

	settings, err := Parse([]byte(minimalConfig + "artifact_path: file_model.json\nserver_port: 8000\n"))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/env_model.json", settings.ArtifactPath)
	assert.Equal(t, "/tmp/env_runs.db", settings.HistoryPath)
	assert.Equal(t, 9090, settings.ServerPort)
	assert.Equal(t, zerolog.WarnLevel, settings.LogLevel)
}

func TestEnvironmentOverrides_Invalid(t *testing.T) {
	t.Setenv(common.EnvServerPort, "eighty")
	_, err := Parse([]byte(minimalConfig))
	var ce *common.ConfigError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, common.EnvServerPort, ce.Key)
}

func TestServeDefaults(t *testing.T) {
	settings, err := ServeDefaults()
	require.NoError(t, err)
	assert.Equal(t, common.DefaultArtifactPath, settings.ArtifactPath)
	assert.Equal(t, common.DefaultServerPort, settings.ServerPort)

	t.Setenv(common.EnvServerPort, "80")
	_, err = ServeDefaults()
	assert.Error(t, err)
}

func TestLoad_ExampleConfig(t *testing.T) {
	settings, err := Load(filepath.Join("..", "..", "examples", "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ml.F1, settings.Scoring)
	assert.Equal(t, ml.SMOTE, settings.OversamplingMethod)
	assert.Equal(t, []int{1, 5, 20}, settings.MinSamplesLeaf)
	assert.Equal(t, "data/runs.db", settings.HistoryPath)
	assert.Equal(t, features.DefaultCodebook(), settings.Codebook)
}
