package security

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachlink/rvcd/common"
)

func TestValidateSourceAddressAllowsController(t *testing.T) {
	m := New(0xF9, nil)
	require.True(t, m.ValidateSourceAddress(0xF9, common.DGN(100)))
}

func TestValidateSourceAddressRejectsReserved(t *testing.T) {
	m := New(0xF9, nil)
	require.False(t, m.ValidateSourceAddress(0xFC, common.DGN(100)))
	require.Len(t, m.Anomalies(), 1)
	require.Equal(t, SeverityHigh, m.Anomalies()[0].Severity)
}

func TestRateLimitCommandBlocksBurst(t *testing.T) {
	m := New(0xF9, nil)
	dgn := common.DGN(0x1FEF1) // falls in control range
	allowed := 0
	for i := 0; i < 10; i++ {
		if m.RateLimitCommand(0x20, dgn) {
			allowed++
		}
	}
	require.Less(t, allowed, 10)
}

func TestObserveOversizedMessage(t *testing.T) {
	m := New(0xF9, nil)
	f := common.Frame{
		ArbitrationID: common.NewArbitrationID(common.DGN(1), 0x20),
		Data:          make([]byte, 20),
		SourceAddr:    0x20,
	}
	anomalies := m.Observe(f)
	require.Len(t, anomalies, 1)
	require.Equal(t, "oversized_message", anomalies[0].Type)
}

func TestIsSourceTrustedFalseForUnknown(t *testing.T) {
	m := New(0xF9, nil)
	require.False(t, m.IsSourceTrusted(0x42))
}

func TestIsSourceTrustedTrueForController(t *testing.T) {
	m := New(0xF9, nil)
	require.True(t, m.IsSourceTrusted(0xF9))
}

func TestIsSourceTrustedFalseBeforeObservationWindow(t *testing.T) {
	m := New(0xF9, nil)
	f := common.Frame{ArbitrationID: common.NewArbitrationID(common.DGN(1), 0x20), Data: []byte{1}, SourceAddr: 0x20}
	m.Observe(f)
	require.False(t, m.IsSourceTrusted(0x20))
}

func TestIsSourceTrustedFalseAfterRepeatedSuspiciousActivity(t *testing.T) {
	m := New(0xF9, nil)
	oversized := common.Frame{ArbitrationID: common.NewArbitrationID(common.DGN(1), 0x20), Data: make([]byte, 20), SourceAddr: 0x20}
	for i := 0; i < 5; i++ {
		m.Observe(oversized)
	}
	require.False(t, m.IsSourceTrusted(0x20))
}

func TestObserveFloodingAfterThresholdExceeded(t *testing.T) {
	m := New(0xF9, nil)
	f := common.Frame{ArbitrationID: common.NewArbitrationID(common.DGN(1), 0x20), Data: []byte{1}, SourceAddr: 0x20}

	var anomalies []Anomaly
	for i := 0; i < floodThreshold+1; i++ {
		anomalies = m.Observe(f)
	}

	found := false
	for _, a := range anomalies {
		if a.Type == "message_flooding" {
			found = true
			require.Equal(t, SeverityHigh, a.Severity)
		}
	}
	require.True(t, found)
}
