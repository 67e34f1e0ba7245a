package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load, e.g. QUILL_DATABASE_URL.
const EnvPrefix = "QUILL"

// setDefaults registers a default for every key so that AutomaticEnv can
// resolve it during Unmarshal. Secrets default to empty.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("llm.gemini_api_key", "")
	v.SetDefault("llm.embedding_model", "text-embedding-004")
	v.SetDefault("llm.embedding_dimensions", 768)
	v.SetDefault("llm.call_timeout", "60s")
	v.SetDefault("llm.max_attempts", 3)
	v.SetDefault("llm.retry_base_delay", "2s")

	v.SetDefault("retrieval.base_url", "")
	v.SetDefault("retrieval.top_k", 5)
	v.SetDefault("retrieval.timeout", "30s")

	v.SetDefault("pipeline.idea_batch_size", 2)
	v.SetDefault("pipeline.outline_batch_size", 2)
	v.SetDefault("pipeline.draft_batch_size", 1)
	v.SetDefault("pipeline.concurrency", 1)
	v.SetDefault("pipeline.duplicate_threshold", 0.90)
	v.SetDefault("pipeline.warn_threshold", 0.85)
	v.SetDefault("pipeline.known_titles_window", 50)
	v.SetDefault("pipeline.ideas_per_request", 5)
	v.SetDefault("pipeline.min_draft_words", 300)
	v.SetDefault("pipeline.schedule", "@every 15m")

	v.SetDefault("pipeline.agents.idea.model", "gemini-2.0-flash")
	v.SetDefault("pipeline.agents.idea.temperature", 0.9)
	v.SetDefault("pipeline.agents.idea.max_tokens", 2048)
	v.SetDefault("pipeline.agents.outline.model", "gemini-2.0-flash")
	v.SetDefault("pipeline.agents.outline.temperature", 0.7)
	v.SetDefault("pipeline.agents.outline.max_tokens", 4096)
	v.SetDefault("pipeline.agents.draft.model", "gemini-2.0-flash")
	v.SetDefault("pipeline.agents.draft.temperature", 0.7)
	v.SetDefault("pipeline.agents.draft.max_tokens", 8192)

	v.SetDefault("api.addr", ":8080")
	v.SetDefault("api.jwt_secret", "")
	v.SetDefault("api.token_ttl", "24h")

	v.SetDefault("telemetry.metrics_addr", ":9090")
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", "quill")
}

// Option customizes Load.
type Option func(v *viper.Viper) error

// WithFlag binds a command-line flag to a config key. A flag the user set
// explicitly takes precedence over the environment and the config file.
func WithFlag(key string, flag *pflag.Flag) Option {
	return func(v *viper.Viper) error {
		if flag == nil {
			return fmt.Errorf("bind flag for %q: flag not defined", key)
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %q to %q: %w", flag.Name, key, err)
		}
		return nil
	}
}

// Load reads configuration from defaults, an optional YAML file and
// QUILL_-prefixed environment variables, in increasing order of precedence.
//
// When configFile is empty, ./quill.yaml is used if it exists. An explicitly
// named file that cannot be read is an error.
func Load(configFile string, opts ...Option) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("quill")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}
