package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	corelogger "github.com/kilianp07/mqttdemo/core/logger"
	coremetrics "github.com/kilianp07/mqttdemo/core/metrics"
	coremqtt "github.com/kilianp07/mqttdemo/core/mqtt"
)

// LineWriter receives one line per published payload.
type LineWriter interface {
	Println(line string) error
}

// Options control the publish loop.
type Options struct {
	Topic string
	QoS   byte
	// Interval is the pause between publishes. Zero publishes back to back.
	Interval time.Duration
	// Count stops the loop after that many iterations. Zero runs until cancelled.
	Count int
}

// Loop publishes generated readings one at a time; a publish must complete
// before the next reading is generated.
type Loop struct {
	pub   coremqtt.Publisher
	gen   *Generator
	out   LineWriter
	rec   coremetrics.Recorder
	log   corelogger.Logger
	opts  Options
	stats *Stats
	now   func() time.Time
}

// NewLoop wires a loop. rec may be nil.
func NewLoop(pub coremqtt.Publisher, gen *Generator, out LineWriter, rec coremetrics.Recorder, log corelogger.Logger, opts Options) *Loop {
	if rec == nil {
		rec = coremetrics.NopSink{}
	}
	return &Loop{
		pub:   pub,
		gen:   gen,
		out:   out,
		rec:   rec,
		log:   log,
		opts:  opts,
		stats: NewStats(DefaultWindow),
		now:   time.Now,
	}
}

// Stats returns the statistics of successfully published readings.
func (l *Loop) Stats() *Stats { return l.stats }

// Step generates one reading and publishes it.
func (l *Loop) Step(ctx context.Context) (Reading, error) {
	r := l.gen.Next()
	payload, err := Encode(r)
	if err != nil {
		return r, fmt.Errorf("encode reading: %w", err)
	}
	start := l.now()
	err = l.pub.Publish(ctx, l.opts.Topic, l.opts.QoS, payload)
	ev := coremetrics.PublishEvent{
		Topic:       l.opts.Topic,
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		Bytes:       len(payload),
		Success:     err == nil,
		Latency:     l.now().Sub(start),
		Time:        start,
	}
	if rerr := l.rec.RecordPublish(ev); rerr != nil {
		l.log.Warnf("record publish: %v", rerr)
	}
	if err != nil {
		return r, err
	}
	l.stats.Add(r)
	if werr := l.out.Println("Published: " + string(payload)); werr != nil {
		l.log.Warnf("write output: %v", werr)
	}
	return r, nil
}

// Run publishes until ctx is cancelled or Options.Count iterations ran. A
// failed publish is logged and the loop continues; only a session that is
// no longer connected ends the loop with an error.
func (l *Loop) Run(ctx context.Context) error {
	for i := 0; l.opts.Count == 0 || i < l.opts.Count; i++ {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := l.Step(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, coremqtt.ErrNotConnected) {
				return fmt.Errorf("telemetry loop stopped: %w", err)
			}
			l.log.Errorf("publish telemetry: %v", err)
		}
		if l.opts.Interval <= 0 || i == l.opts.Count-1 {
			continue
		}
		timer := time.NewTimer(l.opts.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
	return nil
}
