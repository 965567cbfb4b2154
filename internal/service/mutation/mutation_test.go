package mutation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/venux/panel/backend/internal/model/tenant"
	"github.com/venux/panel/backend/internal/store"
	"github.com/venux/panel/backend/internal/store/memory"
)

// countingStore records writes and can fail them.
type countingStore struct {
	store.Store
	updates  int
	writeErr error
}

func (c *countingStore) Update(ctx context.Context, table store.Table, patch store.Row, filters []store.Filter) (int, error) {
	c.updates++
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	return c.Store.Update(ctx, table, patch, filters)
}

func newStore(t *testing.T) (*memory.Store, *countingStore) {
	t.Helper()
	mem := memory.NewStore(zap.NewNop())
	t.Cleanup(func() { _ = mem.Close() })
	require.NoError(t, mem.Insert(context.Background(), store.TableSessions, store.Row{
		"id": "t1",
		"data": map[string]any{
			"company": "Acme",
			"billing": map[string]any{"card": "visa", "last4": "4242"},
			"instances": []any{
				map[string]any{"id": "a", "name": "Vendas", "status": "available", "ai_enabled": false, "wa_number": "+5511999990000"},
				map[string]any{"id": "b", "name": "Suporte", "status": "unavailable", "ai_enabled": true, "ai_prompt": "Seja breve."},
			},
		},
	}))
	return mem, &countingStore{Store: mem}
}

func rawInstances(t *testing.T, mem *memory.Store) []json.RawMessage {
	t.Helper()
	rows, err := mem.Select(context.Background(), store.TableSessions, store.Where(store.Eq("id", "t1")))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	raw, err := json.Marshal(rows[0]["data"].(map[string]any)["instances"])
	require.NoError(t, err)
	var out []json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func ptr[T any](v T) *T { return &v }

func TestSubmitPreservesSiblings(t *testing.T) {
	mem, cs := newStore(t)
	before := rawInstances(t, mem)
	s := NewSubmitter(cs, zap.NewNop(), nil)

	got, err := s.SubmitInstanceUpdate(context.Background(), "t1", "a", tenant.InstancePatch{
		AIEnabled: ptr(true),
		AIPrompt:  ptr("Qualifique o lead."),
	})
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.True(t, got[0].AIEnabled)
	assert.Equal(t, "Qualifique o lead.", got[0].AIPrompt)
	assert.Equal(t, "Vendas", got[0].Name)

	after := rawInstances(t, mem)
	require.Len(t, after, 2)
	assert.JSONEq(t, string(before[1]), string(after[1]))
	assert.JSONEq(t, `{"id":"a","name":"Vendas","status":"available","ai_enabled":true,"ai_prompt":"Qualifique o lead.","wa_number":"+5511999990000"}`, string(after[0]))

	rows, err := mem.Select(context.Background(), store.TableSessions, store.Where(store.Eq("id", "t1")))
	require.NoError(t, err)
	data := rows[0]["data"].(map[string]any)
	assert.Equal(t, "Acme", data["company"])
	assert.Equal(t, map[string]any{"card": "visa", "last4": "4242"}, data["billing"])
	_, err = time.Parse(time.RFC3339Nano, rows[0]["updated_at"].(string))
	assert.NoError(t, err)
}

func TestSubmitMissingInstanceDoesNotWrite(t *testing.T) {
	_, cs := newStore(t)
	s := NewSubmitter(cs, zap.NewNop(), nil)

	_, err := s.SubmitInstanceUpdate(context.Background(), "t1", "zzz", tenant.InstancePatch{AIEnabled: ptr(true)})

	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "zzz", notFound.InstanceID)
	assert.Zero(t, cs.updates)
}

func TestSubmitMissingSession(t *testing.T) {
	_, cs := newStore(t)
	s := NewSubmitter(cs, zap.NewNop(), nil)

	_, err := s.SubmitInstanceUpdate(context.Background(), "ghost", "a", tenant.InstancePatch{AIEnabled: ptr(true)})

	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Empty(t, notFound.InstanceID)
	assert.Equal(t, "session ghost not found", err.Error())
	assert.Zero(t, cs.updates)
}

func TestSubmitWriteFailure(t *testing.T) {
	mem, cs := newStore(t)
	cs.writeErr = errors.New("permission denied")
	before := rawInstances(t, mem)
	s := NewSubmitter(cs, zap.NewNop(), nil)

	_, err := s.SubmitInstanceUpdate(context.Background(), "t1", "a", tenant.InstancePatch{AIEnabled: ptr(true)})

	var mutErr *MutationError
	require.ErrorAs(t, err, &mutErr)
	assert.Equal(t, "write", mutErr.Op)
	assert.ErrorContains(t, err, "permission denied")
	assert.Equal(t, before, rawInstances(t, mem))
}

func TestSubmitRejectsInvalidPatch(t *testing.T) {
	_, cs := newStore(t)
	s := NewSubmitter(cs, zap.NewNop(), nil)

	_, err := s.SubmitInstanceUpdate(context.Background(), "t1", "a", tenant.InstancePatch{Status: ptr(tenant.Presence("busy"))})
	var mutErr *MutationError
	require.ErrorAs(t, err, &mutErr)
	assert.ErrorIs(t, err, tenant.ErrInvalidRecord)

	_, err = s.SubmitInstanceUpdate(context.Background(), "t1", "a", tenant.InstancePatch{})
	assert.ErrorIs(t, err, ErrEmptyPatch)
	assert.Zero(t, cs.updates)
}

func TestSubmitClearsPromptWithEmptyString(t *testing.T) {
	mem, cs := newStore(t)
	s := NewSubmitter(cs, zap.NewNop(), nil)

	got, err := s.SubmitInstanceUpdate(context.Background(), "t1", "b", tenant.InstancePatch{AIPrompt: ptr("")})
	require.NoError(t, err)

	assert.Empty(t, got[1].AIPrompt)
	assert.JSONEq(t, `{"id":"b","name":"Suporte","status":"unavailable","ai_enabled":true}`, string(rawInstances(t, mem)[1]))
}

func TestSubmitLastWriterWins(t *testing.T) {
	_, cs := newStore(t)
	s := NewSubmitter(cs, zap.NewNop(), nil)

	_, err := s.SubmitInstanceUpdate(context.Background(), "t1", "a", tenant.InstancePatch{Name: ptr("first")})
	require.NoError(t, err)
	got, err := s.SubmitInstanceUpdate(context.Background(), "t1", "a", tenant.InstancePatch{Name: ptr("second")})
	require.NoError(t, err)

	assert.Equal(t, "second", got[0].Name)
	assert.Equal(t, 2, cs.updates)
}
