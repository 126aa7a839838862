package metrics

import (
	"sync"
	"sync/atomic"

	coremetrics "github.com/kilianp07/mqttdemo/core/metrics"
	"github.com/kilianp07/mqttdemo/infra/logger"
)

// DefaultCommandQueue is the number of command events AsyncRecorder buffers.
const DefaultCommandQueue = 64

// AsyncRecorder hands command events to a background worker so the MQTT
// delivery goroutine never waits on a sink. Publish events are recorded
// inline. When the queue is full the event is dropped and counted.
type AsyncRecorder struct {
	next coremetrics.Recorder
	log  logger.Logger

	mu      sync.RWMutex
	queue   chan coremetrics.CommandEvent
	closed  bool
	dropped atomic.Int64
	wg      sync.WaitGroup
}

// NewAsyncRecorder starts the worker. size <= 0 uses DefaultCommandQueue.
func NewAsyncRecorder(next coremetrics.Recorder, size int, log logger.Logger) *AsyncRecorder {
	if size <= 0 {
		size = DefaultCommandQueue
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	a := &AsyncRecorder{next: next, log: log, queue: make(chan coremetrics.CommandEvent, size)}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *AsyncRecorder) run() {
	defer a.wg.Done()
	for ev := range a.queue {
		if err := a.next.RecordCommand(ev); err != nil {
			a.log.Warnf("record command: %v", err)
		}
	}
}

// RecordPublish forwards to the wrapped recorder.
func (a *AsyncRecorder) RecordPublish(ev coremetrics.PublishEvent) error {
	return a.next.RecordPublish(ev)
}

// RecordCommand enqueues ev without blocking.
func (a *AsyncRecorder) RecordCommand(ev coremetrics.CommandEvent) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil
	}
	select {
	case a.queue <- ev:
	default:
		a.dropped.Add(1)
	}
	return nil
}

// Dropped returns the number of command events lost to a full queue.
func (a *AsyncRecorder) Dropped() int64 { return a.dropped.Load() }

// Close stops accepting events and waits until the queued ones are recorded.
func (a *AsyncRecorder) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()
	a.wg.Wait()
}
