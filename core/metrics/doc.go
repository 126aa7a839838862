// Package metrics defines the events recorded by the telemetry client and
// the Recorder interface implemented by the Prometheus and InfluxDB sinks.
// Several sinks are combined with infra/metrics.NewMultiSink.
package metrics
