package validator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachlink/rvcd/common"
)

func msgWithSignal(name string, value float64) common.DecodedMessage {
	return common.DecodedMessage{
		Signals: map[string]common.SignalValue{
			name: {Name: name, Value: value},
		},
	}
}

func msgWithSignals(values map[string]any) common.DecodedMessage {
	sigs := make(map[string]common.SignalValue, len(values))
	for name, v := range values {
		sigs[name] = common.SignalValue{Name: name, Value: v}
	}
	return common.DecodedMessage{Signals: sigs}
}

func TestValidateWithinRange(t *testing.T) {
	v := New(nil)
	res := v.Validate(msgWithSignal("brightness", 50))
	require.True(t, res.Valid)
	require.Empty(t, res.Errors)
}

func TestValidateOutOfRange(t *testing.T) {
	v := New(nil)
	res := v.Validate(msgWithSignal("brightness", 150))
	require.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
}

func TestValidateValidValuesSet(t *testing.T) {
	v := New(nil)
	res := v.Validate(msgWithSignal("state", 7))
	require.False(t, res.Valid)
}

func TestValidateIgnoresUnavailableSignal(t *testing.T) {
	v := New(nil)
	msg := common.DecodedMessage{Signals: map[string]common.SignalValue{
		"temperature": {Name: "temperature", Value: nil},
	}}
	res := v.Validate(msg)
	require.True(t, res.Valid)
}

func TestValidateWarnsNearBoundary(t *testing.T) {
	v := New(nil)
	res := v.Validate(msgWithSignal("brightness", 99.5))
	require.True(t, res.Valid)
	require.NotEmpty(t, res.Warnings)
}

func TestValidateDependencyViolationBrightnessOnWithZeroLevel(t *testing.T) {
	v := New(nil)
	res := v.Validate(msgWithSignals(map[string]any{"brightness": 0.0, "state": "on"}))
	require.False(t, res.Valid)
	require.NotEmpty(t, res.Errors)
}

func TestValidateDependencyViolationBrightnessOffWithNonzeroLevel(t *testing.T) {
	v := New(nil)
	res := v.Validate(msgWithSignals(map[string]any{"brightness": 50.0, "state": "off"}))
	require.False(t, res.Valid)
	require.NotEmpty(t, res.Errors)
}

func TestValidateDependencyConsistentBrightnessAndState(t *testing.T) {
	v := New(nil)
	res := v.Validate(msgWithSignals(map[string]any{"brightness": 50.0, "state": "on"}))
	require.True(t, res.Valid)
}

func TestValidateDependencyCurrentRequiresVoltage(t *testing.T) {
	v := New(nil)
	res := v.Validate(msgWithSignals(map[string]any{"current": 5.0, "voltage": 0.0}))
	require.False(t, res.Valid)
}

func TestValidateEngineeringLimitVoltageOutsideSafeRangeWarns(t *testing.T) {
	v := New(nil)
	res := v.Validate(msgWithSignals(map[string]any{"voltage": 9.0}))
	require.True(t, res.Valid)
	require.NotEmpty(t, res.Warnings)
}

func TestValidateEngineeringLimitTankLevelOverSafeMaxWarns(t *testing.T) {
	v := New(nil)
	res := v.Validate(msgWithSignals(map[string]any{"tank_level": 97.0}))
	require.True(t, res.Valid)
	require.NotEmpty(t, res.Warnings)
}
