package metrics

import (
	"errors"

	coremetrics "github.com/kilianp07/mqttdemo/core/metrics"
)

// MultiSink fans events out to several sinks.
type MultiSink struct {
	Sinks []coremetrics.Recorder
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.Recorder) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordPublish forwards the event to every sink and joins their errors.
func (m *MultiSink) RecordPublish(ev coremetrics.PublishEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if err := s.RecordPublish(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordCommand forwards the event to every sink and joins their errors.
func (m *MultiSink) RecordCommand(ev coremetrics.CommandEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if err := s.RecordCommand(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Combine returns NopSink, the single sink, or a MultiSink depending on len(sinks).
func Combine(sinks ...coremetrics.Recorder) coremetrics.Recorder {
	switch len(sinks) {
	case 0:
		return coremetrics.NopSink{}
	case 1:
		return sinks[0]
	default:
		return NewMultiSink(sinks...)
	}
}
