package mqtt

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned when Subscribe or Publish is called on a session
// that has not completed its handshake.
var ErrNotConnected = errors.New("mqtt session not connected")

// ConnectKind separates failures of the connection attempt.
type ConnectKind int

const (
	// KindTransport covers DNS, socket, TLS and timeout failures.
	KindTransport ConnectKind = iota
	// KindRejected means the broker answered the handshake with a failure code.
	KindRejected
)

func (k ConnectKind) String() string {
	if k == KindRejected {
		return "rejected"
	}
	return "transport"
}

// ConnectError reports a failed handshake.
type ConnectError struct {
	Kind   ConnectKind
	Code   byte
	Reason string
	Err    error
}

func (e *ConnectError) Error() string {
	if e.Kind == KindRejected {
		return fmt.Sprintf("connection rejected by broker (code %d): %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("connect: %v", e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Rejected reports whether err is a handshake refused by the broker.
func Rejected(err error) bool {
	var ce *ConnectError
	return errors.As(err, &ce) && ce.Kind == KindRejected
}

// SubscribeError reports a subscription the broker refused or that failed in transit.
type SubscribeError struct {
	Topic string
	Code  byte
	Err   error
}

func (e *SubscribeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("subscribe %s: %v", e.Topic, e.Err)
	}
	return fmt.Sprintf("subscribe %s: refused with code 0x%02x", e.Topic, e.Code)
}

func (e *SubscribeError) Unwrap() error { return e.Err }

// PublishError reports a publish that was not acknowledged.
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string { return fmt.Sprintf("publish %s: %v", e.Topic, e.Err) }

func (e *PublishError) Unwrap() error { return e.Err }
