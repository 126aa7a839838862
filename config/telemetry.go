package config

import "time"

// Default topics of the demo.
const (
	DefaultTelemetryTopic = "hivemqdemo/telemetry"
	DefaultCommandTopic   = "hivemqdemo/commands"
)

// TelemetryConfig controls the publish loop and the command subscription.
type TelemetryConfig struct {
	Topic        string `json:"topic"`
	CommandTopic string `json:"command_topic"`
	// IntervalMS is the pause between two publishes. Zero publishes back to back.
	IntervalMS int `json:"interval_ms"`
	// Count stops after that many publishes. Zero runs until interrupted.
	Count int `json:"count"`
}

// SetDefaults fills the topics when they are not configured.
func (c *TelemetryConfig) SetDefaults() {
	if c.Topic == "" {
		c.Topic = DefaultTelemetryTopic
	}
	if c.CommandTopic == "" {
		c.CommandTopic = DefaultCommandTopic
	}
}

// Validate rejects negative interval and count.
func (c TelemetryConfig) Validate() error {
	if c.IntervalMS < 0 {
		return invalid("telemetry.interval_ms", "must not be negative, got %d", c.IntervalMS)
	}
	if c.Count < 0 {
		return invalid("telemetry.count", "must not be negative, got %d", c.Count)
	}
	return nil
}

// Interval returns IntervalMS as a duration.
func (c TelemetryConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMS) * time.Millisecond
}
