package config

import "github.com/rs/zerolog"

// LogConfig selects the verbosity of the structured logs.
type LogConfig struct {
	// Level is a zerolog level name: trace, debug, info, warn, error.
	Level string `json:"level"`
}

// SetDefaults applies the info level.
func (c *LogConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
}

// Validate checks that Level is known to zerolog.
func (c LogConfig) Validate() error {
	if _, err := zerolog.ParseLevel(c.Level); err != nil {
		return invalid("log.level", "%v", err)
	}
	return nil
}
