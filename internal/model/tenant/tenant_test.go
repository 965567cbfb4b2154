package tenant

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIdentity(t *testing.T) {
	id, ok := ParseIdentity("  123 ")
	require.True(t, ok)
	assert.Equal(t, Identity("123"), id)

	_, ok = ParseIdentity("   ")
	assert.False(t, ok)
}

func TestDecodeSessionValidatesInstances(t *testing.T) {
	row := map[string]any{
		"id": "t-1",
		"data": map[string]any{
			"instances": []any{
				map[string]any{"id": "a", "name": "Vendas", "status": "available", "ai_enabled": true},
				map[string]any{"id": "b", "name": "Suporte", "status": "unavailable"},
			},
		},
	}

	session, err := DecodeSession(row)
	require.NoError(t, err)
	assert.Equal(t, Identity("t-1"), session.ID)
	assert.Equal(t, []string{"a", "b"}, session.InstanceIDs())
	assert.True(t, session.Data.Instances[0].AIEnabled)
}

func TestDecodeSessionRejectsBadRows(t *testing.T) {
	cases := map[string]map[string]any{
		"missing id": {"data": map[string]any{}},
		"bad presence": {"id": "t", "data": map[string]any{
			"instances": []any{map[string]any{"id": "a", "status": "online"}},
		}},
		"duplicate instance": {"id": "t", "data": map[string]any{
			"instances": []any{
				map[string]any{"id": "a", "status": "available"},
				map[string]any{"id": "a", "status": "available"},
			},
		}},
		"data not an object": {"id": "t", "data": "oops"},
	}
	for name, row := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeSession(row)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidRecord))
		})
	}
}

func TestDecodeLeadRejectsUnknownStatus(t *testing.T) {
	_, err := DecodeLead(map[string]any{"id": "l1", "status": "LOST", "last_interaction": "2025-01-02T10:00:00Z"})
	require.ErrorIs(t, err, ErrInvalidRecord)

	lead, err := DecodeLead(map[string]any{"id": "l1", "status": "NUDGED", "last_interaction": "2025-01-02T10:00:00Z", "instance_id": "a"})
	require.NoError(t, err)
	assert.Equal(t, LeadNudged, lead.Status)
	assert.Equal(t, 2, lead.LastInteraction.Day())
}

func TestDecodeBroker(t *testing.T) {
	broker, err := DecodeBroker(map[string]any{"id": "b1", "name": "Ana", "active": true, "leads_received": 4, "owner_id": "t-1"})
	require.NoError(t, err)
	assert.Equal(t, 4, broker.LeadsReceived)

	_, err = DecodeBroker(map[string]any{"id": "b1", "leads_received": -1})
	require.ErrorIs(t, err, ErrInvalidRecord)
}

func TestInstancePatchApplyOnlyTouchesSetFields(t *testing.T) {
	prompt := "Seja cordial"
	inst := Instance{ID: "a", Name: "Vendas", Status: PresenceAvailable, AIEnabled: true, AIHandoffTopics: "preço"}
	patched := InstancePatch{AIPrompt: &prompt}.Apply(inst)

	assert.Equal(t, "Seja cordial", patched.AIPrompt)
	assert.Equal(t, "Vendas", patched.Name)
	assert.Equal(t, "preço", patched.AIHandoffTopics)
	assert.True(t, patched.AIEnabled)
	assert.Empty(t, inst.AIPrompt)
	assert.True(t, InstancePatch{}.Empty())
}

func TestSessionDataKeepsUnknownKeys(t *testing.T) {
	raw := []byte(`{"instances":[{"id":"a","name":"x","status":"available","ai_enabled":false}],"plan":"pro","webhook":{"url":"https://example.test"}}`)

	var data SessionData
	require.NoError(t, json.Unmarshal(raw, &data))
	assert.Equal(t, "pro", data.Plan)
	require.Contains(t, data.Extra, "webhook")

	out, err := json.Marshal(data)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(out))
}

func TestEncodeSessionDataEmitsEmptyInstanceList(t *testing.T) {
	encoded, err := EncodeSessionData(SessionData{})
	require.NoError(t, err)
	assert.Equal(t, []any{}, encoded["instances"])
}
