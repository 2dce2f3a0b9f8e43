package mqttbridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachlink/rvcd/common"
	"github.com/coachlink/rvcd/internal/eventbus"
)

func TestHandleIncomingCommandQueuesEntityCommand(t *testing.T) {
	events := eventbus.New(4, nil)
	b := New(Config{}, events, nil)

	payload := []byte(`{"entity_id":"light.kitchen","verb":"set_state","state":true}`)
	b.handleIncomingCommand(nil, fakeMessage{topic: "cmd/rvc", payload: payload})

	select {
	case cmd := <-b.Commands():
		require.Equal(t, "light.kitchen", cmd.EntityID)
		require.Equal(t, common.CommandSetState, cmd.Verb)
	case <-time.After(time.Second):
		t.Fatal("command not queued")
	}
}

func TestHandleIncomingCommandIgnoresInvalidJSON(t *testing.T) {
	events := eventbus.New(4, nil)
	b := New(Config{}, events, nil)

	b.handleIncomingCommand(nil, fakeMessage{topic: "cmd/rvc", payload: []byte("not json")})

	select {
	case <-b.Commands():
		t.Fatal("unexpected command queued from invalid payload")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	events := eventbus.New(4, nil)
	b := New(Config{}, events, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}
