package config

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingField is wrapped when a required key is absent.
	ErrMissingField = errors.New("missing required field")
	// ErrInvalidField is wrapped when a key holds an unusable value.
	ErrInvalidField = errors.New("invalid field")
)

// ConfigError reports why a configuration file could not be turned into a
// Config. Path is the file that was loaded.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func missing(field string) error {
	return fmt.Errorf("%w: %s", ErrMissingField, field)
}

func invalid(field, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidField, field, fmt.Sprintf(format, args...))
}
