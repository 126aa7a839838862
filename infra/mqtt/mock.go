package mqtt

import (
	"context"
	"sync"

	coremqtt "github.com/kilianp07/mqttdemo/core/mqtt"
)

// Published is a message recorded by MockSession.
type Published struct {
	Topic   string
	QoS     byte
	Payload []byte
}

// MockSession is an in-memory Session used in tests. Deliver simulates an
// inbound message on a subscribed topic.
type MockSession struct {
	// ConnectErr, SubscribeErr and PublishErr are returned by the matching calls.
	ConnectErr   error
	SubscribeErr error
	PublishErr   error

	mu         sync.Mutex
	state      coremqtt.State
	handlers   map[string]coremqtt.Handler
	subscribed []string
	sent       []Published
	closed     bool
}

// NewMockSession creates a disconnected MockSession.
func NewMockSession() *MockSession {
	return &MockSession{handlers: make(map[string]coremqtt.Handler)}
}

func (m *MockSession) Connect(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ConnectErr != nil {
		return m.ConnectErr
	}
	m.state = coremqtt.StateConnected
	return nil
}

func (m *MockSession) Subscribe(_ context.Context, topic string, _ byte, h coremqtt.Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != coremqtt.StateConnected {
		return coremqtt.ErrNotConnected
	}
	if m.SubscribeErr != nil {
		return m.SubscribeErr
	}
	m.handlers[topic] = h
	m.subscribed = append(m.subscribed, topic)
	return nil
}

func (m *MockSession) Publish(_ context.Context, topic string, qos byte, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != coremqtt.StateConnected {
		return coremqtt.ErrNotConnected
	}
	if m.PublishErr != nil {
		return m.PublishErr
	}
	m.sent = append(m.sent, Published{Topic: topic, QoS: qos, Payload: append([]byte(nil), payload...)})
	return nil
}

func (m *MockSession) State() coremqtt.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *MockSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = coremqtt.StateDisconnected
	m.closed = true
	return nil
}

// Deliver invokes the handler registered for topic and reports whether one existed.
func (m *MockSession) Deliver(topic string, payload []byte) bool {
	m.mu.Lock()
	h, ok := m.handlers[topic]
	m.mu.Unlock()
	if ok {
		h(coremqtt.Message{Topic: topic, Payload: payload, QoS: coremqtt.AtLeastOnce})
	}
	return ok
}

// Sent returns a copy of the recorded messages.
func (m *MockSession) Sent() []Published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Published(nil), m.sent...)
}

// Subscriptions returns the topics subscribed so far.
func (m *MockSession) Subscriptions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.subscribed...)
}

// IsClosed reports whether Close was called.
func (m *MockSession) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
