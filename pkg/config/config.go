// Package config loads and validates the pipeline's configuration: a YAML
// file overlaying built-in defaults, environment-variable expansion, and a
// fail-fast validation pass.
package config

// Config is the fully resolved configuration for a worker or CLI process.
type Config struct {
	Resource  ResourceConfig  `yaml:"resource"`
	Queue     QueueConfig     `yaml:"queue"`
	Dedup     DedupConfig     `yaml:"dedup"`
	Fusion    FusionConfig    `yaml:"fusion"`
	Store     StoreConfig     `yaml:"store"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	TaskQueue TaskQueueConfig `yaml:"task_queue"`
}

// Default returns a Config populated entirely from built-in defaults.
func Default() *Config {
	return &Config{
		Resource:  *DefaultResourceConfig(),
		Queue:     *DefaultQueueConfig(),
		Dedup:     *DefaultDedupConfig(),
		Fusion:    *DefaultFusionConfig(),
		Store:     *DefaultStoreConfig(),
		Oracle:    *DefaultOracleConfig(),
		Embedder:  *DefaultEmbedderConfig(),
		TaskQueue: *DefaultTaskQueueConfig(),
	}
}

// Stats summarizes a resolved config for logging and health checks.
type Stats struct {
	WorkerCount int
	MaxAICalls  int
	OracleModel string
}

// Stats reports a summary of the resolved configuration.
func (c *Config) Stats() Stats {
	return Stats{
		WorkerCount: c.Queue.WorkerCount,
		MaxAICalls:  c.Resource.MaxAICalls,
		OracleModel: c.Oracle.Model,
	}
}
