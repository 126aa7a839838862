package mqtt

import "context"

// QoS levels understood by the session drivers.
const (
	AtMostOnce  byte = 0
	AtLeastOnce byte = 1
	ExactlyOnce byte = 2
)

// State describes where a session is in its lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Message is an inbound publication delivered to a Handler.
type Message struct {
	Topic     string
	Payload   []byte
	QoS       byte
	Duplicate bool
}

// Text returns the payload decoded as text.
func (m Message) Text() string { return string(m.Payload) }

// Handler is called once for every message received on a subscription. It
// runs on the transport's receive goroutine and must return quickly.
type Handler func(Message)

// Publisher sends a single message and blocks until the broker acknowledged
// it according to qos, or the context is done.
type Publisher interface {
	Publish(ctx context.Context, topic string, qos byte, payload []byte) error
}

// Session is a single broker connection. Subscribe and Publish are only legal
// once Connect succeeded; they return ErrNotConnected otherwise.
type Session interface {
	Publisher
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, topic string, qos byte, h Handler) error
	State() State
	Close() error
}
