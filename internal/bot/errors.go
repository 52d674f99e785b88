package bot

import (
	"errors"
	"strings"
)

// ErrInvalidConfig is wrapped by every ConfigError.
var ErrInvalidConfig = errors.New("invalid bot configuration")

// ErrHooksUnsupported is returned by event hooks when the adapter does not
// expose gateway events.
var ErrHooksUnsupported = errors.New("adapter does not support event hooks")

// ConfigError lists the builder settings that are missing or invalid.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return ErrInvalidConfig.Error() + ": " + strings.Join(e.Problems, "; ")
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}
