package metrics

import "time"

// PublishEvent describes one telemetry publish attempt.
type PublishEvent struct {
	Topic       string
	Temperature float64
	Humidity    float64
	Bytes       int
	Success     bool
	Latency     time.Duration
	Time        time.Time
}

// CommandEvent describes one inbound command message.
type CommandEvent struct {
	Topic string
	Bytes int
	Time  time.Time
}

// Recorder records client activity for observability purposes.
type Recorder interface {
	RecordPublish(ev PublishEvent) error
	RecordCommand(ev CommandEvent) error
}

// NopSink implements Recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordPublish(PublishEvent) error { return nil }
func (NopSink) RecordCommand(CommandEvent) error { return nil }
