package config

import "time"

// StoreConfig configures the Postgres-backed store adapter.
type StoreConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxPoolSize     int           `yaml:"max_pool_size" validate:"min=1"`
	MigrationsPath  string        `yaml:"migrations_path"`
	VectorDimension int           `yaml:"vector_dimension" validate:"min=1"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

// DefaultStoreConfig returns the built-in store defaults.
func DefaultStoreConfig() *StoreConfig {
	return &StoreConfig{
		DSN:             "postgres://localhost:5432/knowledgecore?sslmode=disable",
		MaxPoolSize:     10,
		MigrationsPath:  "migrations",
		VectorDimension: 1536,
		ConnectTimeout:  10 * time.Second,
	}
}

// OracleConfig configures the LLM oracle adapter used for structured
// extraction and conceptualization.
type OracleConfig struct {
	// Provider selects the concrete adapter: "anthropic" or "http".
	Provider string `yaml:"provider"`

	// Model is the model identifier passed to the provider.
	Model string `yaml:"model"`

	// APIKey authenticates against the provider. Typically supplied via
	// an expanded ${ANTHROPIC_API_KEY}-style env reference.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider endpoint; required for the "http" provider.
	BaseURL string `yaml:"base_url,omitempty"`

	// CallTimeout is the per-call network timeout (spec recommends >= 45s).
	CallTimeout time.Duration `yaml:"call_timeout"`

	// MaxRetries bounds the Anthropic client's retries on a single call,
	// with the SDK's exponential backoff between attempts. The "http"
	// provider does not retry.
	MaxRetries int `yaml:"max_retries" validate:"min=0"`

	// BreakerFailureThreshold is the consecutive-failure count that trips
	// the per-source circuit breaker.
	BreakerFailureThreshold uint32 `yaml:"breaker_failure_threshold"`

	// BreakerTimeout is how long the breaker stays open before probing again.
	BreakerTimeout time.Duration `yaml:"breaker_timeout"`
}

// DefaultOracleConfig returns the built-in oracle defaults.
func DefaultOracleConfig() *OracleConfig {
	return &OracleConfig{
		Provider:                "anthropic",
		Model:                   "claude-sonnet-4-5",
		CallTimeout:             45 * time.Second,
		MaxRetries:              2,
		BreakerFailureThreshold: 3,
		BreakerTimeout:          45 * time.Second,
	}
}

// EmbedderConfig configures the embedding adapter.
type EmbedderConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Dimension   int           `yaml:"dimension" validate:"min=1"`
	BatchSize   int           `yaml:"batch_size" validate:"min=1"`
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// DefaultEmbedderConfig returns the built-in embedder defaults.
func DefaultEmbedderConfig() *EmbedderConfig {
	return &EmbedderConfig{
		Model:       "text-embedding-3-small",
		Dimension:   1536,
		BatchSize:   64,
		CallTimeout: 30 * time.Second,
	}
}

// TaskQueueConfig configures the Redis-backed delayed task queue.
type TaskQueueConfig struct {
	Addr          string        `yaml:"addr"`
	Password      string        `yaml:"password,omitempty"`
	DB            int           `yaml:"db"`
	ReadyListKey  string        `yaml:"ready_list_key"`
	DelayedSetKey string        `yaml:"delayed_set_key"`
	PollInterval  time.Duration `yaml:"poll_interval"`
}

// DefaultTaskQueueConfig returns the built-in task queue defaults.
func DefaultTaskQueueConfig() *TaskQueueConfig {
	return &TaskQueueConfig{
		Addr:          "localhost:6379",
		DB:            0,
		ReadyListKey:  "knowledgecore:jobs:ready",
		DelayedSetKey: "knowledgecore:jobs:delayed",
		PollInterval:  500 * time.Millisecond,
	}
}
