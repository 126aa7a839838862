package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/eclipse/paho.golang/paho"

	coremqtt "github.com/kilianp07/mqttdemo/core/mqtt"
	"github.com/kilianp07/mqttdemo/infra/logger"
)

// v5ConnackReasons names the CONNACK failure codes a broker commonly sends.
var v5ConnackReasons = map[byte]string{
	0x80: "unspecified error",
	0x81: "malformed packet",
	0x82: "protocol error",
	0x83: "implementation specific error",
	0x84: "unsupported protocol version",
	0x85: "client identifier not valid",
	0x86: "bad user name or password",
	0x87: "not authorized",
	0x88: "server unavailable",
	0x89: "server busy",
	0x8A: "banned",
	0x8C: "bad authentication method",
	0x90: "topic name invalid",
	0x95: "packet too large",
	0x97: "quota exceeded",
	0x99: "payload format invalid",
	0x9A: "retain not supported",
	0x9B: "qos not supported",
	0x9C: "use another server",
	0x9D: "server moved",
	0x9F: "connection rate exceeded",
}

type route struct {
	filter  string
	handler coremqtt.Handler
}

// V5Session implements coremqtt.Session over MQTT 5 using paho.golang.
type V5Session struct {
	cfg    Config
	logger logger.Logger
	dial   func(ctx context.Context) (net.Conn, error)

	mu     sync.Mutex
	cli    *paho.Client
	routes []route

	state atomic.Int32
}

// NewV5Session prepares an MQTT 5 session. No network activity happens until Connect.
func NewV5Session(cfg Config, log logger.Logger) (*V5Session, error) {
	if log == nil {
		log = logger.NopLogger{}
	}
	s := &V5Session{cfg: cfg, logger: log}
	dialer := &net.Dialer{Timeout: cfg.connectTimeout()}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: tlsCfg}
		s.dial = func(ctx context.Context) (net.Conn, error) {
			return tlsDialer.DialContext(ctx, "tcp", cfg.Address())
		}
	} else {
		s.dial = func(ctx context.Context) (net.Conn, error) {
			return dialer.DialContext(ctx, "tcp", cfg.Address())
		}
	}
	return s, nil
}

func (s *V5Session) setState(st coremqtt.State) { s.state.Store(int32(st)) }

// State returns the current lifecycle state.
func (s *V5Session) State() coremqtt.State { return coremqtt.State(s.state.Load()) }

// Connect dials the broker and performs the MQTT 5 handshake.
func (s *V5Session) Connect(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(coremqtt.StateDisconnected), int32(coremqtt.StateConnecting)) {
		return fmt.Errorf("connect: session is %s", s.State())
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.connectTimeout())
	defer cancel()

	conn, err := s.dial(ctx)
	if err != nil {
		s.setState(coremqtt.StateDisconnected)
		return &coremqtt.ConnectError{Kind: coremqtt.KindTransport, Err: err}
	}
	cli := paho.NewClient(paho.ClientConfig{
		ClientID:          s.cfg.ClientID,
		Conn:              conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){s.onPublish},
		OnClientError: func(err error) {
			s.setState(coremqtt.StateDisconnected)
			s.logger.Errorf("connection lost: %v", err)
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			s.setState(coremqtt.StateDisconnected)
			s.logger.Warnf("broker closed the connection (reason 0x%02x)", d.ReasonCode)
		},
	})
	cp := &paho.Connect{
		ClientID:     s.cfg.ClientID,
		KeepAlive:    uint16(s.cfg.keepAlive().Seconds()),
		CleanStart:   !s.cfg.PersistentSession,
		Username:     s.cfg.Username,
		UsernameFlag: s.cfg.Username != "",
		Password:     []byte(s.cfg.Password),
		PasswordFlag: s.cfg.Password != "",
	}
	ca, err := cli.Connect(ctx, cp)
	if err != nil {
		s.setState(coremqtt.StateDisconnected)
		_ = conn.Close()
		if ca != nil && ca.ReasonCode >= 0x80 {
			return &coremqtt.ConnectError{
				Kind:   coremqtt.KindRejected,
				Code:   ca.ReasonCode,
				Reason: connackReason(ca),
				Err:    err,
			}
		}
		return &coremqtt.ConnectError{Kind: coremqtt.KindTransport, Err: err}
	}
	s.mu.Lock()
	s.cli = cli
	s.mu.Unlock()
	s.setState(coremqtt.StateConnected)
	s.logger.Infof("MQTT 5 connected to %s", s.cfg.Address())
	return nil
}

func connackReason(ca *paho.Connack) string {
	if ca.Properties != nil && ca.Properties.ReasonString != "" {
		return ca.Properties.ReasonString
	}
	if r, ok := v5ConnackReasons[ca.ReasonCode]; ok {
		return r
	}
	return fmt.Sprintf("reason code 0x%02x", ca.ReasonCode)
}

func (s *V5Session) client() *paho.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cli
}

func (s *V5Session) onPublish(pr paho.PublishReceived) (bool, error) {
	p := pr.Packet
	s.mu.Lock()
	var handlers []coremqtt.Handler
	for _, r := range s.routes {
		if topicMatches(r.filter, p.Topic) {
			handlers = append(handlers, r.handler)
		}
	}
	s.mu.Unlock()
	for _, h := range handlers {
		h(coremqtt.Message{Topic: p.Topic, Payload: p.Payload, QoS: p.QoS, Duplicate: p.Duplicate()})
	}
	return len(handlers) > 0, nil
}

// Subscribe registers h for topic and waits for the SUBACK.
func (s *V5Session) Subscribe(ctx context.Context, topic string, qos byte, h coremqtt.Handler) error {
	cli := s.client()
	if cli == nil || s.State() != coremqtt.StateConnected {
		return coremqtt.ErrNotConnected
	}
	// Routes are registered first so retained messages sent before the SUBACK are not lost.
	prev := s.addRoute(topic, h)

	sa, err := cli.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: qos}},
	})
	if sa != nil && len(sa.Reasons) > 0 && sa.Reasons[0] >= 0x80 {
		s.restoreRoute(topic, prev)
		return &coremqtt.SubscribeError{Topic: topic, Code: sa.Reasons[0]}
	}
	if err != nil {
		s.restoreRoute(topic, prev)
		return &coremqtt.SubscribeError{Topic: topic, Err: err}
	}
	s.logger.Infof("subscribed to %s (qos %d)", topic, qos)
	return nil
}

// addRoute points filter at h, replacing any handler already registered for
// the same filter. It returns the replaced handler, or nil.
func (s *V5Session) addRoute(filter string, h coremqtt.Handler) coremqtt.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.routes {
		if s.routes[i].filter == filter {
			prev := s.routes[i].handler
			s.routes[i].handler = h
			return prev
		}
	}
	s.routes = append(s.routes, route{filter: filter, handler: h})
	return nil
}

func (s *V5Session) restoreRoute(filter string, prev coremqtt.Handler) {
	if prev != nil {
		s.addRoute(filter, prev)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.routes {
		if s.routes[i].filter == filter {
			s.routes = append(s.routes[:i], s.routes[i+1:]...)
			return
		}
	}
}

// Publish sends payload and blocks until the delivery for qos completed.
func (s *V5Session) Publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	cli := s.client()
	if cli == nil || s.State() != coremqtt.StateConnected {
		return coremqtt.ErrNotConnected
	}
	resp, err := cli.Publish(ctx, &paho.Publish{Topic: topic, QoS: qos, Payload: payload})
	if err != nil {
		return &coremqtt.PublishError{Topic: topic, Err: err}
	}
	if resp != nil && resp.ReasonCode >= 0x80 {
		return &coremqtt.PublishError{Topic: topic, Err: fmt.Errorf("broker answered with reason 0x%02x", resp.ReasonCode)}
	}
	return nil
}

// Close sends a DISCONNECT and releases the connection. It is safe to call
// more than once.
func (s *V5Session) Close() error {
	prev := coremqtt.State(s.state.Swap(int32(coremqtt.StateDisconnected)))
	cli := s.client()
	if cli == nil || prev != coremqtt.StateConnected {
		return nil
	}
	if err := cli.Disconnect(&paho.Disconnect{ReasonCode: 0}); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	s.logger.Infof("MQTT disconnected")
	return nil
}

// topicMatches reports whether topic matches an MQTT subscription filter
// using the + and # wildcards.
func topicMatches(filter, topic string) bool {
	if filter == topic {
		return true
	}
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	for i, f := range fp {
		if f == "#" {
			return i == len(fp)-1
		}
		if i >= len(tp) {
			return false
		}
		if f != "+" && f != tp[i] {
			return false
		}
	}
	return len(fp) == len(tp)
}
