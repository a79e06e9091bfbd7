package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError_Error(t *testing.T) {
	t.Run("with field", func(t *testing.T) {
		err := NewValidationError("fusion", "top_k", ErrInvalidValue)
		assert.Equal(t, "fusion: field 'top_k': invalid field value", err.Error())
	})

	t.Run("without field", func(t *testing.T) {
		err := NewValidationError("resource", "", ErrMissingRequiredField)
		assert.Equal(t, "resource: missing required field", err.Error())
	})
}

func TestValidationError_Unwrap(t *testing.T) {
	err := NewValidationError("queue", "worker_count", ErrInvalidValue)
	assert.True(t, errors.Is(err, ErrInvalidValue))
}

func TestLoadError_Error(t *testing.T) {
	err := NewLoadError("config.yaml", ErrInvalidYAML)
	assert.Equal(t, "failed to load config.yaml: invalid YAML syntax", err.Error())
}

func TestLoadError_Unwrap(t *testing.T) {
	err := NewLoadError("config.yaml", ErrConfigNotFound)
	assert.True(t, errors.Is(err, ErrConfigNotFound))
}
