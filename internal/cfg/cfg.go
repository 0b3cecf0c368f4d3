package cfg

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"churn-predictor/internal/common"
	"churn-predictor/internal/features"
	"churn-predictor/internal/ml"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Settings is the immutable, validated configuration handed to every stage.
type Settings struct {
	CSVPath            string
	Oversampling       bool
	OversamplingMethod ml.ResampleMethod
	Scoring            ml.Metric
	MaxDepth           int
	NumFeaturesClf     int

	ArtifactPath       string
	HistoryPath        string
	Seed               int64
	ValidationFraction float64
	CVFolds            int
	Criteria           []ml.Criterion
	MinSamplesLeaf     []int
	DecisionThreshold  float64
	ServerPort         int
	LogLevel           zerolog.Level
	Codebook           features.Codebook
}

// ConfigFile mirrors the YAML layout. Required keys are pointers so that an
// absent key can be told apart from a zero value.
type ConfigFile struct {
	CSVPath        *string `yaml:"csv_path"`
	Oversampling   *bool   `yaml:"oversampling"`
	Scoring        *string `yaml:"scoring"`
	MaxDepth       *int    `yaml:"max_depth"`
	NumFeaturesClf *int    `yaml:"num_features_clf"`

	ArtifactPath       string            `yaml:"artifact_path"`
	HistoryPath        string            `yaml:"history_path"`
	Seed               *int64            `yaml:"seed"`
	ValidationFraction *float64          `yaml:"validation_fraction"`
	CVFolds            *int              `yaml:"cv_folds"`
	Criteria           []string          `yaml:"criteria"`
	MinSamplesLeaf     []int             `yaml:"min_samples_leaf"`
	OversamplingMethod string            `yaml:"oversampling_method"`
	DecisionThreshold  *float64          `yaml:"decision_threshold"`
	ServerPort         int               `yaml:"server_port"`
	LogLevel           string            `yaml:"log_level"`
	IDField            *string           `yaml:"id_field"`
	LabelField         string            `yaml:"label_field"`
	Columns            []features.Column `yaml:"columns"`
}

// Load reads the config file at path. An empty path falls back to
// CHURN_CONFIG_FILE and then to config.yaml.
func Load(path string) (Settings, error) {
	if path == "" {
		path = getEnvOrDefault(common.EnvConfigFile, common.DefaultConfigFile)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, &common.ConfigError{Reason: "failed to read config file " + path, Err: err}
	}
	return Parse(data)
}

// Parse decodes and validates YAML config data. Unknown keys are rejected.
func Parse(data []byte) (Settings, error) {
	var config ConfigFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return Settings{}, &common.ConfigError{Reason: "failed to parse config file", Err: err}
	}

	if err := requireKeys(&config); err != nil {
		return Settings{}, err
	}

	settings, err := defaults()
	if err != nil {
		return Settings{}, err
	}
	settings.CSVPath = *config.CSVPath
	settings.Oversampling = *config.Oversampling
	settings.MaxDepth = *config.MaxDepth
	settings.NumFeaturesClf = *config.NumFeaturesClf

	if settings.Scoring, err = ml.ParseMetric(*config.Scoring); err != nil {
		return Settings{}, &common.ConfigError{Key: "scoring", Reason: "invalid value", Err: err}
	}
	if config.OversamplingMethod != "" {
		if settings.OversamplingMethod, err = ml.ParseResampleMethod(config.OversamplingMethod); err != nil {
			return Settings{}, &common.ConfigError{Key: "oversampling_method", Reason: "invalid value", Err: err}
		}
	}
	if len(config.Criteria) > 0 {
		settings.Criteria = settings.Criteria[:0]
		for _, c := range config.Criteria {
			crit, err := ml.ParseCriterion(strings.ToLower(strings.TrimSpace(c)))
			if err != nil {
				return Settings{}, &common.ConfigError{Key: "criteria", Reason: "invalid value", Err: err}
			}
			settings.Criteria = append(settings.Criteria, crit)
		}
	}
	if len(config.MinSamplesLeaf) > 0 {
		settings.MinSamplesLeaf = config.MinSamplesLeaf
	}
	if config.Seed != nil {
		settings.Seed = *config.Seed
	}
	if config.ValidationFraction != nil {
		settings.ValidationFraction = *config.ValidationFraction
	}
	if config.CVFolds != nil {
		settings.CVFolds = *config.CVFolds
	}
	if config.DecisionThreshold != nil {
		settings.DecisionThreshold = *config.DecisionThreshold
	}

	if config.IDField != nil {
		settings.Codebook.IDField = *config.IDField
	}
	if config.LabelField != "" {
		settings.Codebook.LabelField = config.LabelField
	}
	if len(config.Columns) > 0 {
		settings.Codebook.Columns = config.Columns
	}

	// File values first, environment last.
	if config.ArtifactPath != "" {
		settings.ArtifactPath = config.ArtifactPath
	}
	if config.HistoryPath != "" {
		settings.HistoryPath = config.HistoryPath
	}
	if config.ServerPort != 0 {
		settings.ServerPort = config.ServerPort
	}
	if config.LogLevel != "" {
		if settings.LogLevel, err = parseLevel("log_level", config.LogLevel); err != nil {
			return Settings{}, err
		}
	}
	if err := applyEnv(&settings); err != nil {
		return Settings{}, err
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// ServeDefaults builds the settings used when the service is started from
// an artifact alone: defaults plus environment overrides.
func ServeDefaults() (Settings, error) {
	settings, err := defaults()
	if err != nil {
		return Settings{}, err
	}
	if err := applyEnv(&settings); err != nil {
		return Settings{}, err
	}
	if err := validatePort(settings.ServerPort); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func defaults() (Settings, error) {
	method, err := ml.ParseResampleMethod(common.DefaultOversampling)
	if err != nil {
		return Settings{}, err
	}
	level, err := zerolog.ParseLevel(common.DefaultLogLevel)
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OversamplingMethod: method,
		ArtifactPath:       common.DefaultArtifactPath,
		Seed:               common.DefaultSeed,
		ValidationFraction: common.DefaultValidationFraction,
		CVFolds:            common.DefaultCVFolds,
		Criteria:           []ml.Criterion{ml.Gini, ml.Entropy},
		MinSamplesLeaf:     []int{1},
		DecisionThreshold:  common.DefaultDecisionThreshold,
		ServerPort:         common.DefaultServerPort,
		LogLevel:           level,
		Codebook:           features.DefaultCodebook(),
	}, nil
}

func requireKeys(config *ConfigFile) error {
	missing := []string{}
	if config.CSVPath == nil || strings.TrimSpace(*config.CSVPath) == "" {
		missing = append(missing, "csv_path")
	}
	if config.Oversampling == nil {
		missing = append(missing, "oversampling")
	}
	if config.Scoring == nil {
		missing = append(missing, "scoring")
	}
	if config.MaxDepth == nil {
		missing = append(missing, "max_depth")
	}
	if config.NumFeaturesClf == nil {
		missing = append(missing, "num_features_clf")
	}
	if len(missing) > 0 {
		return &common.ConfigError{
			Key:    missing[0],
			Reason: "required key is missing (missing: " + strings.Join(missing, ", ") + ")",
		}
	}
	return nil
}

// applyEnv overrides optional keys from the environment. Required training
// keys are never taken from the environment.
func applyEnv(settings *Settings) error {
	settings.ArtifactPath = getEnvOrDefault(common.EnvArtifactPath, settings.ArtifactPath)
	settings.HistoryPath = getEnvOrDefault(common.EnvHistoryPath, settings.HistoryPath)

	if v := os.Getenv(common.EnvServerPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return &common.ConfigError{Key: common.EnvServerPort, Reason: "must be an integer", Err: err}
		}
		settings.ServerPort = port
	}
	if v := os.Getenv(common.EnvLogLevel); v != "" {
		level, err := parseLevel(common.EnvLogLevel, v)
		if err != nil {
			return err
		}
		settings.LogLevel = level
	}
	return nil
}

func parseLevel(key, v string) (zerolog.Level, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(v))
	if err != nil {
		return zerolog.NoLevel, &common.ConfigError{Key: key, Reason: "invalid log level", Err: err}
	}
	return level, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func validatePort(port int) error {
	if port < common.MinServerPort || port > common.MaxServerPort {
		return &common.ConfigError{
			Key:    "server_port",
			Reason: fmt.Sprintf("must be between %d and %d, got %d", common.MinServerPort, common.MaxServerPort, port),
		}
	}
	return nil
}

// validateSettings checks value ranges once all sources are merged.
func validateSettings(settings *Settings) error {
	if settings.MaxDepth < 1 || settings.MaxDepth > common.MaxTreeDepth {
		return &common.ConfigError{
			Key:    "max_depth",
			Reason: fmt.Sprintf("must be between 1 and %d, got %d", common.MaxTreeDepth, settings.MaxDepth),
		}
	}
	if settings.NumFeaturesClf < 1 {
		return &common.ConfigError{
			Key:    "num_features_clf",
			Reason: fmt.Sprintf("must be at least 1, got %d", settings.NumFeaturesClf),
		}
	}
	if settings.CVFolds < common.MinCVFolds || settings.CVFolds > common.MaxCVFolds {
		return &common.ConfigError{
			Key:    "cv_folds",
			Reason: fmt.Sprintf("must be between %d and %d, got %d", common.MinCVFolds, common.MaxCVFolds, settings.CVFolds),
		}
	}
	if settings.ValidationFraction < common.MinValidationFraction || settings.ValidationFraction > common.MaxValidationFraction {
		return &common.ConfigError{
			Key: "validation_fraction",
			Reason: fmt.Sprintf("must be between %.2f and %.2f, got %v",
				common.MinValidationFraction, common.MaxValidationFraction, settings.ValidationFraction),
		}
	}
	if settings.DecisionThreshold <= 0 || settings.DecisionThreshold >= 1 {
		return &common.ConfigError{
			Key:    "decision_threshold",
			Reason: fmt.Sprintf("must be strictly between 0 and 1, got %v", settings.DecisionThreshold),
		}
	}
	for _, leaf := range settings.MinSamplesLeaf {
		if leaf < 1 {
			return &common.ConfigError{Key: "min_samples_leaf", Reason: fmt.Sprintf("values must be positive, got %d", leaf)}
		}
	}
	if strings.TrimSpace(settings.ArtifactPath) == "" {
		return &common.ConfigError{Key: "artifact_path", Reason: "cannot be empty"}
	}
	if err := validatePort(settings.ServerPort); err != nil {
		return err
	}
	if err := settings.Codebook.Validate(); err != nil {
		return &common.ConfigError{Key: "columns", Reason: "invalid codebook", Err: err}
	}
	return nil
}
