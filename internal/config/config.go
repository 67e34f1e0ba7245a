package config

import "time"

// Config holds all application configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"       validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database"  validate:"required"`
	LLM       LLMConfig       `mapstructure:"llm"       validate:"required"`
	Retrieval RetrievalConfig `mapstructure:"retrieval" validate:"required"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"  validate:"required"`
	API       APIConfig       `mapstructure:"api"       validate:"required"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level  string `mapstructure:"level"  validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// DatabaseConfig selects and configures the task, embedding and rejection stores.
type DatabaseConfig struct {
	// Driver is "postgres" for real runs or "memory" for dry runs that persist nothing.
	Driver          string        `mapstructure:"driver"            validate:"required,oneof=postgres memory"`
	URL             string        `mapstructure:"url"               validate:"required_if=Driver postgres,omitempty,url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"    validate:"gte=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"    validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
}

// LLMConfig contains the Gemini integration settings shared by all stages.
type LLMConfig struct {
	GeminiAPIKey        string        `mapstructure:"gemini_api_key"`
	EmbeddingModel      string        `mapstructure:"embedding_model"      validate:"required"`
	EmbeddingDimensions int           `mapstructure:"embedding_dimensions" validate:"gt=0"`
	CallTimeout         time.Duration `mapstructure:"call_timeout"         validate:"gt=0"`
	MaxAttempts         int           `mapstructure:"max_attempts"         validate:"gte=1,lte=10"`
	RetryBaseDelay      time.Duration `mapstructure:"retry_base_delay"     validate:"gt=0"`
}

// RetrievalConfig points at the external retrieval endpoint. An empty BaseURL
// disables retrieval and every stage runs with an empty context.
type RetrievalConfig struct {
	BaseURL string        `mapstructure:"base_url" validate:"omitempty,url"`
	TopK    int           `mapstructure:"top_k"    validate:"gt=0,lte=50"`
	Timeout time.Duration `mapstructure:"timeout"  validate:"gt=0"`
}

// AgentConfig is the per-stage model configuration.
type AgentConfig struct {
	Model       string  `mapstructure:"model"       validate:"required"`
	Temperature float32 `mapstructure:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int     `mapstructure:"max_tokens"  validate:"gt=0"`
}

// AgentsConfig holds one AgentConfig per model-calling stage.
type AgentsConfig struct {
	Idea    AgentConfig `mapstructure:"idea"    validate:"required"`
	Outline AgentConfig `mapstructure:"outline" validate:"required"`
	Draft   AgentConfig `mapstructure:"draft"   validate:"required"`
}

// IdeaTheme is one scheduled idea-generation request.
type IdeaTheme struct {
	Focus    string `mapstructure:"focus"    validate:"required"`
	Audience string `mapstructure:"audience" validate:"required"`
	Count    int    `mapstructure:"count"    validate:"gte=0"`
}

// PipelineConfig tunes the stage processors and the scheduler.
type PipelineConfig struct {
	IdeaBatchSize    int `mapstructure:"idea_batch_size"    validate:"gte=1,lte=50"`
	OutlineBatchSize int `mapstructure:"outline_batch_size" validate:"gte=1,lte=50"`
	DraftBatchSize   int `mapstructure:"draft_batch_size"   validate:"gte=1,lte=50"`
	Concurrency      int `mapstructure:"concurrency"        validate:"gte=1,lte=16"`

	DuplicateThreshold float64 `mapstructure:"duplicate_threshold" validate:"gt=0,lte=1,gtefield=WarnThreshold"`
	WarnThreshold      float64 `mapstructure:"warn_threshold"      validate:"gt=0,lte=1"`
	KnownTitlesWindow  int     `mapstructure:"known_titles_window" validate:"gte=0"`
	IdeasPerRequest    int     `mapstructure:"ideas_per_request"   validate:"gte=1,lte=20"`
	MinDraftWords      int     `mapstructure:"min_draft_words"     validate:"gte=0"`

	Schedule   string       `mapstructure:"schedule"    validate:"required"`
	IdeaThemes []IdeaTheme  `mapstructure:"idea_themes" validate:"dive"`
	Agents     AgentsConfig `mapstructure:"agents"      validate:"required"`
}

// APIConfig configures the operator HTTP API.
type APIConfig struct {
	Addr      string        `mapstructure:"addr"       validate:"required"`
	JWTSecret string        `mapstructure:"jwt_secret" validate:"omitempty,min=32"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"  validate:"gt=0"`
}

// TelemetryConfig configures metrics exposure and trace export.
type TelemetryConfig struct {
	MetricsAddr  string `mapstructure:"metrics_addr"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
}
