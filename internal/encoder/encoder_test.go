package encoder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachlink/rvcd/common"
	"github.com/coachlink/rvcd/internal/catalog"
)

func newTestStore(t *testing.T, mapping string) *catalog.Store {
	t.Helper()
	dir := t.TempDir()
	specPath := filepath.Join(dir, "spec.json")
	mappingPath := filepath.Join(dir, "mapping.yaml")
	require.NoError(t, os.WriteFile(specPath, []byte(`{
  "131079": {"dgn": 131079, "name": "DC_DIMMER_STATUS_1", "length": 2, "command_dgn": 131080,
    "signals": [
      {"name": "instance", "start_bit": 0, "length": 8, "type": "uint", "is_instance": true},
      {"name": "brightness", "start_bit": 8, "length": 8, "type": "float", "scale": 0.5, "unit": "%"}
    ]},
  "131080": {"dgn": 131080, "name": "DC_DIMMER_COMMAND_2", "length": 2,
    "signals": [
      {"name": "instance", "start_bit": 0, "length": 8, "type": "uint", "is_instance": true},
      {"name": "brightness", "start_bit": 8, "length": 8, "type": "float", "scale": 0.5, "unit": "%"}
    ]},
  "61440": {"dgn": 61440, "name": "NO_PAIR_STATUS", "length": 1, "signals": [{"name": "state", "start_bit": 0, "length": 8, "type": "uint"}]},
  "65536": {"dgn": 65536, "name": "HEUR_STATUS", "length": 1, "signals": [{"name": "state", "start_bit": 0, "length": 8, "type": "uint"}]},
  "65792": {"dgn": 65792, "name": "HEUR_COMMAND", "length": 1, "signals": [{"name": "state", "start_bit": 0, "length": 8, "type": "uint"}]}
}`), 0o644))
	require.NoError(t, os.WriteFile(mappingPath, []byte(mapping), 0o644))
	s, err := catalog.NewStore(specPath, mappingPath, nil)
	require.NoError(t, err)
	return s
}

func TestEncodeDimmerBrightness(t *testing.T) {
	store := newTestStore(t, `
devices:
  - entity_id: light.kitchen
    entity_type: dimmer
    dgn: 131079
    instance: 3
    name: Kitchen
`)
	e := New(store, nil)
	brightness := 50.0
	cmd := common.EntityCommand{EntityID: "light.kitchen", Verb: common.CommandSetBrightness, Brightness: &brightness}

	enc, err := e.Encode(cmd)
	require.NoError(t, err)
	require.Equal(t, common.DGN(131080), enc.DGN)
	require.Equal(t, byte(3), enc.Data[0])
	require.Equal(t, byte(100), enc.Data[1]) // 50 * BrightnessScale(2.0)
}

func TestEncodeDimmerToggle(t *testing.T) {
	store := newTestStore(t, `
devices:
  - entity_id: light.kitchen
    entity_type: dimmer
    dgn: 131079
    instance: 3
    name: Kitchen
`)
	e := New(store, nil)
	enc, err := e.Encode(common.EntityCommand{EntityID: "light.kitchen", Verb: common.CommandToggle})
	require.NoError(t, err)
	require.Equal(t, byte(0xFE), enc.Data[1])
}

func TestEncodeDimmerBrightnessUpDown(t *testing.T) {
	store := newTestStore(t, `
devices:
  - entity_id: light.kitchen
    entity_type: dimmer
    dgn: 131079
    instance: 3
    name: Kitchen
`)
	e := New(store, nil)

	up, err := e.Encode(common.EntityCommand{EntityID: "light.kitchen", Verb: common.CommandBrightnessUp})
	require.NoError(t, err)
	require.Equal(t, byte(0xFC), up.Data[1])

	down, err := e.Encode(common.EntityCommand{EntityID: "light.kitchen", Verb: common.CommandBrightnessDown})
	require.NoError(t, err)
	require.Equal(t, byte(0xFD), down.Data[1])
}

func TestEncodeSwitchToggle(t *testing.T) {
	store := newTestStore(t, `
devices:
  - entity_id: switch.heur
    entity_type: switch
    dgn: 65536
    name: Heuristic
`)
	e := New(store, nil)
	enc, err := e.Encode(common.EntityCommand{EntityID: "switch.heur", Verb: common.CommandToggle})
	require.NoError(t, err)
	require.Equal(t, byte(0xFE), enc.Data[0])
}

func TestEncodeUnknownEntity(t *testing.T) {
	store := newTestStore(t, `
devices:
  - entity_id: light.kitchen
    entity_type: dimmer
    dgn: 131079
    name: Kitchen
`)
	e := New(store, nil)
	_, err := e.Encode(common.EntityCommand{EntityID: "light.nope", Verb: common.CommandToggle})
	require.Error(t, err)
	require.Equal(t, common.ErrUnknownEntity, common.CodeOf(err))
}

func TestEncodeNoCommandDGN(t *testing.T) {
	store := newTestStore(t, `
devices:
  - entity_id: switch.noop
    entity_type: switch
    dgn: 61440
    name: Orphan
`)
	e := New(store, nil)
	on := true
	_, err := e.Encode(common.EntityCommand{EntityID: "switch.noop", Verb: common.CommandSetState, State: &on})
	require.Error(t, err)
	require.Equal(t, common.ErrNoCommandDGN, common.CodeOf(err))
}

func TestEncodeHeuristicCommandDGN(t *testing.T) {
	store := newTestStore(t, `
devices:
  - entity_id: switch.heur
    entity_type: switch
    dgn: 65536
    name: Heuristic
`)
	e := New(store, nil)
	on := true
	enc, err := e.Encode(common.EntityCommand{EntityID: "switch.heur", Verb: common.CommandSetState, State: &on})
	require.NoError(t, err)
	require.Equal(t, common.DGN(65536+0x100), enc.DGN)
	require.Equal(t, byte(1), enc.Data[0])
}
