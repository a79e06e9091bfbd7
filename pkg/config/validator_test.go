package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"empty dsn", func(c *Config) { c.Store.DSN = "" }, true},
		{"dimension mismatch", func(c *Config) { c.Embedder.Dimension = 768 }, true},
		{"negative max ai calls", func(c *Config) { c.Resource.MaxAICalls = -1 }, true},
		{"fusion top_k zero", func(c *Config) { c.Fusion.TopK = 0 }, true},
		{"fusion min score out of range", func(c *Config) { c.Fusion.MinScore = 1.5 }, true},
		{"dedup threshold out of range", func(c *Config) { c.Dedup.SimilarityThreshold = -0.1 }, true},
		{"http oracle missing base url", func(c *Config) { c.Oracle.Provider = "http"; c.Oracle.BaseURL = "" }, true},
		{"http oracle with base url", func(c *Config) { c.Oracle.Provider = "http"; c.Oracle.BaseURL = "http://localhost:9000" }, false},
		{"empty task queue addr", func(c *Config) { c.TaskQueue.Addr = "" }, true},
		{"invalid queue sub-config propagates", func(c *Config) { c.Queue.WorkerCount = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, errors.Is(err, ErrValidationFailed))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
