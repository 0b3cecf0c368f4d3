package common

// Environment variable keys. Only optional settings can be overridden from
// the environment; required training keys must come from the config file.
const (
	EnvConfigFile   = "CHURN_CONFIG_FILE"
	EnvArtifactPath = "CHURN_ARTIFACT_PATH"
	EnvHistoryPath  = "CHURN_HISTORY_PATH"
	EnvServerPort   = "CHURN_SERVER_PORT"
	EnvLogLevel     = "CHURN_LOG_LEVEL"
)

// Configuration defaults
const (
	DefaultConfigFile         = "config.yaml"
	DefaultArtifactPath       = "models/churn_model.json"
	DefaultSeed               = 0
	DefaultValidationFraction = 0.2
	DefaultCVFolds            = 5
	DefaultOversampling       = "smote"
	DefaultDecisionThreshold  = 0.5
	DefaultServerPort         = 5000
	DefaultLogLevel           = "info"
	DefaultSMOTENeighbours    = 5
)

// Dataset conventions
const (
	DefaultIDField      = "enrollee_id"
	DefaultLabelField   = "target"
	NotSpecified        = "not_specified"
	SchemaVersionHeader = "X-Schema-Version"
	RequestIDHeader     = "X-Request-ID"
)

// Validation constants
const (
	MinCVFolds            = 2
	MaxCVFolds            = 20
	MaxTreeDepth          = 32
	MinValidationFraction = 0.05
	MaxValidationFraction = 0.5
	MinServerPort         = 1024
	MaxServerPort         = 65535
)

// Common error messages
const (
	ErrMsgArtifactNotLoaded = "model artifact is not loaded"
	ErrMsgEmptyRequest      = "request body must be a JSON object of employee fields"
)
