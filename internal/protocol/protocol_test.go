package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope_WireShape(t *testing.T) {
	env := NewEnvelope(KindServerDamage, ServerIdentity, ServerDamageData{
		AttackerID: "a",
		TargetID:   "b",
		Damage:     7,
		NewHealth:  93,
	})

	payload, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Contains(t, decoded, "type")
	assert.Contains(t, decoded, "playerId")
	assert.Contains(t, decoded, "data")
	assert.Contains(t, decoded, "timestamp")

	var roundTrip Envelope
	require.NoError(t, json.Unmarshal(payload, &roundTrip))
	assert.Equal(t, KindServerDamage, roundTrip.Type)
	assert.Equal(t, ServerIdentity, roundTrip.PlayerID)
	assert.NotZero(t, roundTrip.Timestamp)

	var data ServerDamageData
	require.NoError(t, json.Unmarshal(roundTrip.Data, &data))
	assert.Equal(t, 7, data.Damage)
	assert.Equal(t, 93, data.NewHealth)
}

func TestEnvelope_UnknownKindSurvivesDecode(t *testing.T) {
	// Unknown kinds must decode cleanly so the hub can log and ignore
	// them instead of erroring out.
	raw := []byte(`{"type":"warp_speed","playerId":"p1","data":{"x":1},"timestamp":123}`)

	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, Kind("warp_speed"), env.Type)
	assert.Equal(t, "p1", env.PlayerID)
}
