package discovery

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

func (f *fakeBus) Name() string                  { return "fake" }
func (f *fakeBus) Frames() <-chan common.Frame   { return f.frames }
func (f *fakeBus) Run(ctx context.Context) error { <-ctx.Done(); return nil }
func (f *fakeBus) Send(cmd common.EncodedCommand) error {
	f.sent = append(f.sent, cmd)
	return nil
}

func TestSendPGNRequestBuildsExpectedFrame(t *testing.T) {
	bus := &fakeBus{frames: make(chan common.Frame)}
	e := New(bus, nil, Config{SourceAddr: 0xE0}, nil)

	err := e.sendPGNRequest("rvc", 0x1FEDA, 0x25, nil)
	require.NoError(t, err)
	require.Len(t, bus.sent, 1)

	cmd := bus.sent[0]
	require.Equal(t, uint8(0x25), cmd.DestAddr)
	require.Equal(t, []byte{0xDA, 0xFE, 0x01, 0x25, 0xFF, 0xFF, 0xFF, 0xFF}, cmd.Data)
}

func TestSendPGNRequestSetsInstanceByte(t *testing.T) {
	bus := &fakeBus{frames: make(chan common.Frame)}
	e := New(bus, nil, Config{SourceAddr: 0xE0}, nil)

	instance := 3
	err := e.sendPGNRequest("rvc", 0x1FEDA, 0x25, &instance)
	require.NoError(t, err)
	require.Equal(t, byte(3), bus.sent[0].Data[4])
}

func TestSendPGNRequestTracksDistinctPendingPollsPerPGN(t *testing.T) {
	bus := &fakeBus{frames: make(chan common.Frame)}
	e := New(bus, nil, Config{SourceAddr: 0xE0}, nil)

	require.NoError(t, e.sendPGNRequest("rvc", 0x1FEDA, 0x25, nil))
	require.NoError(t, e.sendPGNRequest("rvc", 0x1FEEB, 0x25, nil))

	e.mu.Lock()
	defer e.mu.Unlock()
	require.Len(t, e.pending, 2, "concurrent polls to the same device on different PGNs must not collide")
}

func TestObserveResponseTracksResponseTime(t *testing.T) {
	bus := &fakeBus{frames: make(chan common.Frame)}
	e := New(bus, nil, Config{SourceAddr: 0xE0}, nil)

	e.mu.Lock()
	e.pending[pollKey("rvc", 0x25, 0x1FEDA, nil)] = pendingPoll{
		protocol: "rvc", addr: 0x25, pgn: 0x1FEDA, sentAt: time.Now().UTC().Add(-20 * time.Millisecond),
	}
	e.mu.Unlock()

	e.ObserveResponse(0x25, 0x1FEDA, "rvc", "light")

	e.mu.Lock()
	d := e.devices[0x25]
	_, stillPending := e.pending[pollKey("rvc", 0x25, 0x1FEDA, nil)]
	e.mu.Unlock()

	require.NotNil(t, d)
	require.Equal(t, "light", d.DeviceType)
	require.Equal(t, "online", d.Status)
	require.Len(t, d.ResponseRing, 1)
	require.False(t, stillPending)
}

func TestObserveResponseDoesNotCorrelateMismatchedPGN(t *testing.T) {
	bus := &fakeBus{frames: make(chan common.Frame)}
	e := New(bus, nil, Config{SourceAddr: 0xE0}, nil)

	e.mu.Lock()
	e.pending[pollKey("rvc", 0x25, 0x1FEEB, nil)] = pendingPoll{
		protocol: "rvc", addr: 0x25, pgn: 0x1FEEB, sentAt: time.Now().UTC(),
	}
	e.mu.Unlock()

	e.ObserveResponse(0x25, 0x1FEDA, "rvc", "light")

	e.mu.Lock()
	d := e.devices[0x25]
	pendingCount := len(e.pending)
	e.mu.Unlock()

	require.Empty(t, d.ResponseRing)
	require.Equal(t, 1, pendingCount, "pending poll for a different PGN must survive an unrelated response")
}

func TestReliabilityScoreZeroWithoutResponses(t *testing.T) {
	d := DeviceRecord{}
	require.Equal(t, 0.0, d.ReliabilityScore(time.Now().UTC()))
}

func TestReliabilityScoreRecentFastDeviceScoresHigh(t *testing.T) {
	now := time.Now().UTC()
	d := DeviceRecord{
		ResponseCount: 2,
		ResponseRing:  []time.Duration{100 * time.Millisecond, 100 * time.Millisecond},
		LastSeen:      now,
	}
	score := d.ReliabilityScore(now)
	require.Greater(t, score, 0.9)
}

func TestGetDeviceProfileUnknownDevice(t *testing.T) {
	bus := &fakeBus{frames: make(chan common.Frame)}
	e := New(bus, nil, Config{SourceAddr: 0xE0}, nil)

	_, err := e.GetDeviceProfile(0x99)
	require.Error(t, err)
}

func TestGetDeviceProfileKnownDeviceSuggestsAreaAndCapabilities(t *testing.T) {
	bus := &fakeBus{frames: make(chan common.Frame)}
	e := New(bus, nil, Config{SourceAddr: 0xE0}, nil)
	e.ObserveResponse(0x25, 0x1FEDA, "rvc", "light")

	profile, err := e.GetDeviceProfile(0x25)
	require.NoError(t, err)
	require.Equal(t, "interior", profile.SuggestedArea)
	require.Contains(t, profile.Capabilities, "dimming")
}

func TestGetEnhancedNetworkMapCountsOnline(t *testing.T) {
	bus := &fakeBus{frames: make(chan common.Frame)}
	e := New(bus, nil, Config{SourceAddr: 0xE0}, nil)
	e.ObserveResponse(0x25, 0x1FEDA, "rvc", "light")
	e.ObserveResponse(0x30, 0x1FEEB, "rvc", "tank")

	m := e.GetEnhancedNetworkMap()
	require.Equal(t, 2, m.OnlineCount)
	require.Len(t, m.Devices, 2)
}

func TestMarkStaleDevicesOfflineAfterSilence(t *testing.T) {
	bus := &fakeBus{frames: make(chan common.Frame)}
	e := New(bus, nil, Config{SourceAddr: 0xE0}, nil)
	e.ObserveResponse(0x25, 0x1FEDA, "rvc", "light")

	e.mu.Lock()
	e.devices[0x25].LastSeen = time.Now().UTC().Add(-offlineAfter - time.Second)
	e.mu.Unlock()

	e.markStaleDevicesOffline()

	e.mu.Lock()
	status := e.devices[0x25].Status
	e.mu.Unlock()
	require.Equal(t, "offline", status)
}

func TestObserveLoopCorrelatesDecodedFrameWithActivePoll(t *testing.T) {
	bus := &fakeBus{frames: make(chan common.Frame)}
	events := eventbus.New(4, nil)
	e := New(bus, events, Config{SourceAddr: 0xE0}, nil)

	require.NoError(t, e.sendPGNRequest("rvc", 0x1FEDA, 0x25, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.observeLoop(ctx)

	events.Publish(common.Event{
		Topic:   common.TopicDecodedFrame,
		Payload: common.DecodedMessage{DGN: common.ArbitrationID((uint32(6) << 26) | (uint32(0x1FEDA) << 8) | 0x25).DGN(), SourceAddr: 0x25},
	})

	require.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		d, ok := e.devices[0x25]
		return ok && d.ResponseCount == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	bus := &fakeBus{frames: make(chan common.Frame)}
	e := New(bus, nil, Config{SourceAddr: 0xE0, PollInterval: 10 * time.Millisecond, DiscoveryInterval: 10 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
