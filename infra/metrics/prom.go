package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/mqttdemo/core/metrics"
)

// PromSink records client activity in Prometheus metrics.
type PromSink struct {
	publishes   *prometheus.CounterVec
	latency     prometheus.Histogram
	commands    *prometheus.CounterVec
	temperature prometheus.Gauge
	humidity    prometheus.Gauge
}

// NewPromSink registers the metrics on the default Prometheus registerer.
// The HTTP endpoint is started separately with StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer. A nil
// registerer defaults to the global one. Collectors that are already
// registered are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	publishes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_publish_total",
		Help: "Telemetry publish attempts by outcome",
	}, []string{"topic", "success"})
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "telemetry_publish_latency_seconds",
		Help:    "Time between publish and broker acknowledgment",
		Buckets: prometheus.DefBuckets,
	})
	commands := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "commands_received_total",
		Help: "Inbound command messages",
	}, []string{"topic"})
	temperature := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "telemetry_temperature_celsius",
		Help: "Last published temperature",
	})
	humidity := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "telemetry_humidity_percent",
		Help: "Last published relative humidity",
	})

	var err error
	if publishes, err = register(reg, publishes); err != nil {
		return nil, err
	}
	if latency, err = register(reg, latency); err != nil {
		return nil, err
	}
	if commands, err = register(reg, commands); err != nil {
		return nil, err
	}
	if temperature, err = register(reg, temperature); err != nil {
		return nil, err
	}
	if humidity, err = register(reg, humidity); err != nil {
		return nil, err
	}
	return &PromSink{
		publishes:   publishes,
		latency:     latency,
		commands:    commands,
		temperature: temperature,
		humidity:    humidity,
	}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordPublish counts the attempt and, on success, updates latency and the last values.
func (s *PromSink) RecordPublish(ev coremetrics.PublishEvent) error {
	s.publishes.WithLabelValues(ev.Topic, strconv.FormatBool(ev.Success)).Inc()
	if ev.Success {
		s.latency.Observe(ev.Latency.Seconds())
		s.temperature.Set(ev.Temperature)
		s.humidity.Set(ev.Humidity)
	}
	return nil
}

// RecordCommand counts an inbound command.
func (s *PromSink) RecordCommand(ev coremetrics.CommandEvent) error {
	s.commands.WithLabelValues(ev.Topic).Inc()
	return nil
}
