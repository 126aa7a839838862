package mqtt

import (
	"context"
	"fmt"
	"sync/atomic"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"

	coremqtt "github.com/kilianp07/mqttdemo/core/mqtt"
	"github.com/kilianp07/mqttdemo/infra/logger"
)

// pahoClient is the subset of paho.Client used by PahoSession.
type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// returnCoder is satisfied by *paho.ConnectToken.
type returnCoder interface {
	ReturnCode() byte
}

// PahoSession implements coremqtt.Session over MQTT 3.1.1 using Eclipse Paho.
type PahoSession struct {
	cfg    Config
	cli    pahoClient
	state  atomic.Int32
	logger logger.Logger
}

// NewPahoSession prepares a session. No network activity happens until Connect.
func NewPahoSession(cfg Config, log logger.Logger) (*PahoSession, error) {
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	s := &PahoSession{cfg: cfg, logger: log}
	opts.OnConnect = func(paho.Client) {
		s.logger.Infof("MQTT connected to %s", cfg.BrokerURL())
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		s.setState(coremqtt.StateDisconnected)
		s.logger.Errorf("connection lost: %v", err)
	}
	s.cli = newMQTTClient(opts)
	return s, nil
}

func (s *PahoSession) setState(st coremqtt.State) { s.state.Store(int32(st)) }

// State returns the current lifecycle state.
func (s *PahoSession) State() coremqtt.State { return coremqtt.State(s.state.Load()) }

// Connect performs the handshake and blocks until the broker answered, the
// connect timeout elapsed or ctx is done.
func (s *PahoSession) Connect(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(coremqtt.StateDisconnected), int32(coremqtt.StateConnecting)) {
		return fmt.Errorf("connect: session is %s", s.State())
	}
	token := s.cli.Connect()
	if err := waitToken(ctx, token); err != nil {
		s.setState(coremqtt.StateDisconnected)
		if ctx.Err() != nil {
			go s.dropLateConnection(token)
		}
		return connectError(token, err)
	}
	s.setState(coremqtt.StateConnected)
	return nil
}

// dropLateConnection tears down a handshake that completes after Connect
// stopped waiting for it.
func (s *PahoSession) dropLateConnection(token paho.Token) {
	<-token.Done()
	if token.Error() != nil || s.State() != coremqtt.StateDisconnected {
		return
	}
	if s.cli.IsConnected() {
		s.cli.Disconnect(0)
		s.logger.Debugf("dropped MQTT connection established after connect was abandoned")
	}
}

// connectError classifies a failed connect token. Return codes 1..5 come from
// the broker's CONNACK; everything else is a transport problem.
func connectError(token paho.Token, err error) error {
	if rc, ok := token.(returnCoder); ok {
		code := rc.ReturnCode()
		if code > packets.Accepted && code <= packets.ErrRefusedNotAuthorised {
			return &coremqtt.ConnectError{Kind: coremqtt.KindRejected, Code: code, Reason: err.Error(), Err: err}
		}
	}
	return &coremqtt.ConnectError{Kind: coremqtt.KindTransport, Err: err}
}

// Subscribe registers h for topic and waits for the SUBACK.
func (s *PahoSession) Subscribe(ctx context.Context, topic string, qos byte, h coremqtt.Handler) error {
	if s.State() != coremqtt.StateConnected {
		return coremqtt.ErrNotConnected
	}
	token := s.cli.Subscribe(topic, qos, func(_ paho.Client, msg paho.Message) {
		h(coremqtt.Message{
			Topic:     msg.Topic(),
			Payload:   msg.Payload(),
			QoS:       msg.Qos(),
			Duplicate: msg.Duplicate(),
		})
	})
	if err := waitToken(ctx, token); err != nil {
		return &coremqtt.SubscribeError{Topic: topic, Err: err}
	}
	if st, ok := token.(*paho.SubscribeToken); ok {
		if code, found := st.Result()[topic]; found && code >= 0x80 {
			return &coremqtt.SubscribeError{Topic: topic, Code: code}
		}
	}
	s.logger.Infof("subscribed to %s (qos %d)", topic, qos)
	return nil
}

// Publish sends payload and blocks until the delivery for qos completed.
func (s *PahoSession) Publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	if s.State() != coremqtt.StateConnected {
		return coremqtt.ErrNotConnected
	}
	token := s.cli.Publish(topic, qos, false, payload)
	if err := waitToken(ctx, token); err != nil {
		return &coremqtt.PublishError{Topic: topic, Err: err}
	}
	return nil
}

// Close disconnects from the broker. It is safe to call more than once.
func (s *PahoSession) Close() error {
	s.setState(coremqtt.StateDisconnected)
	if s.cli.IsConnected() {
		s.cli.Disconnect(defaultDisconnectQuiesce)
		s.logger.Infof("MQTT disconnected")
	}
	return nil
}

func waitToken(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
