package txbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachlink/rvcd/common"
	"github.com/coachlink/rvcd/internal/eventbus"
)

type fakeBus struct {
	sent   []common.EncodedCommand
	frames chan common.Frame
}

func (f *fakeBus) Name() string                    { return "fake" }
func (f *fakeBus) Frames() <-chan common.Frame     { return f.frames }
func (f *fakeBus) Run(ctx context.Context) error   { <-ctx.Done(); return nil }
func (f *fakeBus) Send(cmd common.EncodedCommand) error {
	f.sent = append(f.sent, cmd)
	return nil
}

func TestWriterSendsEachCommandTwice(t *testing.T) {
	bus := &fakeBus{frames: make(chan common.Frame)}
	src := make(chan common.EncodedCommand, 2)
	w := NewWriter(bus, src, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	src <- common.EncodedCommand{EntityID: "light.a"}

	require.Eventually(t, func() bool { return len(bus.sent) == 2 }, time.Second, 10*time.Millisecond)
	require.Equal(t, "light.a", bus.sent[0].EntityID)
	require.Equal(t, "light.a", bus.sent[1].EntityID)
	cancel()
	<-done
}

func TestWriterPublishesSnifferEventAfterFirstTransmit(t *testing.T) {
	bus := &fakeBus{frames: make(chan common.Frame)}
	src := make(chan common.EncodedCommand, 1)
	events := eventbus.New(4, nil)
	sub := events.Subscribe(common.TopicSniffer)
	w := NewWriter(bus, src, events, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	src <- common.EncodedCommand{EntityID: "light.a", DGN: common.DGN(0x1FEDA)}

	select {
	case ev := <-sub.Events():
		snif, ok := ev.Payload.(common.SnifferEvent)
		require.True(t, ok)
		require.Equal(t, common.SnifferDirectionTX, snif.Direction)
		require.Equal(t, "self", snif.Origin)
	case <-time.After(time.Second):
		t.Fatal("sniffer event not published")
	}

	cancel()
	<-done
}
