package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/kilianp07/mqttdemo/config"
	coremetrics "github.com/kilianp07/mqttdemo/core/metrics"
	coremqtt "github.com/kilianp07/mqttdemo/core/mqtt"
	"github.com/kilianp07/mqttdemo/core/telemetry"
	"github.com/kilianp07/mqttdemo/infra/logger"
	"github.com/kilianp07/mqttdemo/infra/metrics"
	"github.com/kilianp07/mqttdemo/infra/mqtt"
	"github.com/kilianp07/mqttdemo/internal/console"
)

// Service wires the MQTT session, the command handler and the telemetry loop.
type Service struct {
	cfg     *config.Config
	session coremqtt.Session
	out     *console.Sink
	rec     coremetrics.Recorder
	loop    *telemetry.Loop
	log     logger.Logger
	influx  *metrics.InfluxSink
	async   *metrics.AsyncRecorder
}

// Option customizes a Service.
type Option func(*Service)

// WithSession replaces the session built from the configuration.
func WithSession(s coremqtt.Session) Option {
	return func(svc *Service) { svc.session = s }
}

// WithRecorder replaces the metrics sinks built from the configuration.
func WithRecorder(r coremetrics.Recorder) Option {
	return func(svc *Service) { svc.rec = r }
}

// New creates a Service from the configuration. Status lines, command
// payloads and published readings are written to out.
func New(cfg *config.Config, out io.Writer, opts ...Option) (*Service, error) {
	svc := &Service{
		cfg: cfg,
		out: console.New(out),
		log: logger.New("service"),
	}
	for _, o := range opts {
		o(svc)
	}
	if svc.session == nil {
		session, err := mqtt.New(cfg.Config, logger.New("mqtt"))
		if err != nil {
			return nil, fmt.Errorf("mqtt session: %w", err)
		}
		svc.session = session
	}
	if svc.rec == nil {
		rec, err := svc.buildRecorder()
		if err != nil {
			return nil, err
		}
		svc.rec = rec
	}
	svc.async = metrics.NewAsyncRecorder(svc.rec, metrics.DefaultCommandQueue, logger.New("metrics"))
	svc.rec = svc.async
	svc.loop = telemetry.NewLoop(
		svc.session,
		telemetry.NewGenerator(nil),
		svc.out,
		svc.rec,
		logger.New("telemetry"),
		telemetry.Options{
			Topic:    cfg.Telemetry.Topic,
			QoS:      coremqtt.AtLeastOnce,
			Interval: cfg.Telemetry.Interval(),
			Count:    cfg.Telemetry.Count,
		},
	)
	return svc, nil
}

func (s *Service) buildRecorder() (coremetrics.Recorder, error) {
	var sinks []coremetrics.Recorder
	if s.cfg.Metrics.PrometheusEnabled {
		sink, err := metrics.NewPromSink()
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if s.cfg.Metrics.InfluxEnabled {
		rec := metrics.NewInfluxSinkWithFallback(s.cfg.Metrics)
		if sink, ok := rec.(*metrics.InfluxSink); ok {
			s.influx = sink
		}
		sinks = append(sinks, rec)
	}
	return metrics.Combine(sinks...), nil
}

// Run connects, subscribes to the command topic and publishes telemetry until
// ctx is cancelled or the configured count is reached.
func (s *Service) Run(ctx context.Context) error {
	if err := s.start(ctx); err != nil {
		return err
	}
	s.println("Publishing message...")
	err := s.loop.Run(ctx)
	s.println(s.loop.Stats().Summary().String())
	return err
}

// Listen connects and prints inbound commands until ctx is cancelled.
func (s *Service) Listen(ctx context.Context) error {
	if err := s.start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func (s *Service) start(ctx context.Context) error {
	if s.cfg.Metrics.PrometheusEnabled {
		go func() {
			if err := metrics.StartPromServer(ctx, s.cfg.Metrics.PromAddr()); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	s.printf("Connecting to %s on port %d ...", s.cfg.Host, s.cfg.Port)
	if err := s.session.Connect(ctx); err != nil {
		if coremqtt.Rejected(err) {
			s.println("Connect failed: " + err.Error())
		} else {
			s.println("Error connecting to the MQTT Broker: " + err.Error())
		}
		return err
	}
	s.printf("Connect successful: %s to %s", s.session.State(), s.cfg.Address())

	topic := s.cfg.Telemetry.CommandTopic
	if err := s.session.Subscribe(ctx, topic, coremqtt.AtLeastOnce, s.handleCommand); err != nil {
		return fmt.Errorf("subscribe commands: %w", err)
	}
	return nil
}

// handleCommand prints the payload of an inbound command. It runs on the
// session's delivery goroutine; the metric is recorded asynchronously.
func (s *Service) handleCommand(msg coremqtt.Message) {
	s.println(msg.Text())
	ev := coremetrics.CommandEvent{Topic: msg.Topic, Bytes: len(msg.Payload), Time: time.Now()}
	if err := s.rec.RecordCommand(ev); err != nil {
		s.log.Warnf("record command: %v", err)
	}
}

func (s *Service) println(line string) {
	if err := s.out.Println(line); err != nil {
		s.log.Warnf("write output: %v", err)
	}
}

func (s *Service) printf(format string, args ...any) {
	if err := s.out.Printf(format, args...); err != nil {
		s.log.Warnf("write output: %v", err)
	}
}

// Close disconnects the session, flushes pending command metrics and
// releases the metrics clients.
func (s *Service) Close() error {
	err := s.session.Close()
	s.async.Close()
	if s.influx != nil {
		s.influx.Close()
		s.influx = nil
	}
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}
