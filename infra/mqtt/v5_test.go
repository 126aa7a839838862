package mqtt

import (
	"context"
	"net"
	"testing"

	"github.com/eclipse/paho.golang/packets"
	"github.com/eclipse/paho.golang/paho"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coremqtt "github.com/kilianp07/mqttdemo/core/mqtt"
)

func TestTopicMatches(t *testing.T) {
	cases := []struct {
		filter, topic string
		want          bool
	}{
		{"hivemqdemo/commands", "hivemqdemo/commands", true},
		{"hivemqdemo/+", "hivemqdemo/commands", true},
		{"hivemqdemo/#", "hivemqdemo/commands/a", true},
		{"hivemqdemo/#", "hivemqdemo", true},
		{"hivemqdemo/+", "hivemqdemo/commands/a", false},
		{"hivemqdemo/commands", "hivemqdemo/telemetry", false},
		{"a/b/c", "a/b", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, topicMatches(c.filter, c.topic), "%s vs %s", c.filter, c.topic)
	}
}

func TestConnackReason(t *testing.T) {
	assert.Equal(t, "not authorized", connackReason(&paho.Connack{ReasonCode: 0x87}))
	assert.Equal(t, "go away", connackReason(&paho.Connack{
		ReasonCode: 0x87,
		Properties: &paho.ConnackProperties{ReasonString: "go away"},
	}))
	assert.Equal(t, "reason code 0xfe", connackReason(&paho.Connack{ReasonCode: 0xFE}))
}

func TestNewSelectsProtocol(t *testing.T) {
	s, err := New(Config{Host: "h", Port: 1, ProtocolVersion: 5}, nil)
	require.NoError(t, err)
	assert.IsType(t, &V5Session{}, s)

	s, err = New(Config{Host: "h", Port: 1}, nil)
	require.NoError(t, err)
	assert.IsType(t, &PahoSession{}, s)
}

func TestV5OperationsRequireConnection(t *testing.T) {
	s, err := NewV5Session(Config{Host: "h", Port: 1}, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Publish(context.Background(), "t", 1, nil), coremqtt.ErrNotConnected)
	assert.ErrorIs(t, s.Subscribe(context.Background(), "t", 1, func(coremqtt.Message) {}), coremqtt.ErrNotConnected)
	assert.NoError(t, s.Close())
}

func TestV5ConnectTransportFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	host, port := splitAddr(t, ln.Addr().String())
	require.NoError(t, ln.Close())

	s, err := NewV5Session(Config{Host: host, Port: port, ConnectTimeoutSeconds: 1}, nil)
	require.NoError(t, err)
	err = s.Connect(context.Background())
	var ce *coremqtt.ConnectError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, coremqtt.KindTransport, ce.Kind)
	assert.Equal(t, coremqtt.StateDisconnected, s.State())
}

func TestV5ConnectRejectedByBroker(t *testing.T) {
	// CONNACK: flags 0, reason 0x87 (not authorized), no properties.
	addr := fakeBroker(t, []byte{0x20, 0x03, 0x00, 0x87, 0x00})
	host, port := splitAddr(t, addr)
	s, err := NewV5Session(Config{Host: host, Port: port, ClientID: "id", ConnectTimeoutSeconds: 2}, nil)
	require.NoError(t, err)

	err = s.Connect(context.Background())
	var ce *coremqtt.ConnectError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, coremqtt.KindRejected, ce.Kind)
	assert.Equal(t, byte(0x87), ce.Code)
	assert.Equal(t, "not authorized", ce.Reason)
}

func TestV5RoutesInboundPublish(t *testing.T) {
	s, err := NewV5Session(Config{Host: "h", Port: 1}, nil)
	require.NoError(t, err)
	var got []string
	s.routes = append(s.routes, route{filter: "hivemqdemo/commands", handler: func(m coremqtt.Message) {
		got = append(got, m.Text())
	}})

	handled, err := s.onPublish(paho.PublishReceived{Packet: &paho.Publish{Topic: "hivemqdemo/commands", Payload: []byte("STOP"), QoS: 1}})
	require.NoError(t, err)
	assert.True(t, handled)
	handled, _ = s.onPublish(paho.PublishReceived{Packet: &paho.Publish{Topic: "other", Payload: []byte("x")}})
	assert.False(t, handled)
	assert.Equal(t, []string{"STOP"}, got)
}

func TestV5RoutesCarryDuplicateFlag(t *testing.T) {
	s, err := NewV5Session(Config{Host: "h", Port: 1}, nil)
	require.NoError(t, err)
	var got []coremqtt.Message
	s.addRoute("hivemqdemo/#", func(m coremqtt.Message) { got = append(got, m) })

	redelivered := paho.PublishFromPacketPublish(&packets.Publish{
		Topic: "hivemqdemo/commands", Payload: []byte("STOP"), QoS: 1, PacketID: 7, Duplicate: true,
	})
	_, err = s.onPublish(paho.PublishReceived{Packet: redelivered})
	require.NoError(t, err)
	_, err = s.onPublish(paho.PublishReceived{Packet: &paho.Publish{Topic: "hivemqdemo/commands", Payload: []byte("GO"), QoS: 1}})
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.True(t, got[0].Duplicate)
	assert.Equal(t, byte(1), got[0].QoS)
	assert.False(t, got[1].Duplicate)
}

func TestV5ResubscribeReplacesHandler(t *testing.T) {
	s, err := NewV5Session(Config{Host: "h", Port: 1}, nil)
	require.NoError(t, err)
	var first, second int
	assert.Nil(t, s.addRoute("hivemqdemo/commands", func(coremqtt.Message) { first++ }))
	assert.NotNil(t, s.addRoute("hivemqdemo/commands", func(coremqtt.Message) { second++ }))
	require.Len(t, s.routes, 1)

	handled, err := s.onPublish(paho.PublishReceived{Packet: &paho.Publish{Topic: "hivemqdemo/commands", Payload: []byte("x")}})
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
}

func TestV5FailedResubscribeKeepsPreviousHandler(t *testing.T) {
	s, err := NewV5Session(Config{Host: "h", Port: 1}, nil)
	require.NoError(t, err)
	var calls []string
	s.addRoute("a/b", func(coremqtt.Message) { calls = append(calls, "old") })
	prev := s.addRoute("a/b", func(coremqtt.Message) { calls = append(calls, "new") })
	s.restoreRoute("a/b", prev)
	s.restoreRoute("c/d", s.addRoute("c/d", func(coremqtt.Message) { calls = append(calls, "dropped") }))

	_, _ = s.onPublish(paho.PublishReceived{Packet: &paho.Publish{Topic: "a/b"}})
	_, _ = s.onPublish(paho.PublishReceived{Packet: &paho.Publish{Topic: "c/d"}})
	assert.Equal(t, []string{"old"}, calls)
	assert.Len(t, s.routes, 1)
}
