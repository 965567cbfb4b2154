package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venux/panel/backend/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRoundTripsAllColumnKinds(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Insert(ctx, store.TableSessions, store.Row{
		"id":   "t-1",
		"name": "Acme",
		"data": map[string]any{"instances": []any{map[string]any{"id": "a", "status": "available"}}},
	}))
	require.NoError(t, s.Insert(ctx, store.TableBrokers, store.Row{
		"id": "b1", "name": "Ana", "active": true, "leads_received": 7, "owner_id": "t-1",
	}))

	sessions, err := s.Select(ctx, store.TableSessions, store.Where(store.Eq("id", "t-1")))
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	data := sessions[0]["data"].(map[string]any)
	assert.Len(t, data["instances"], 1)
	assert.Nil(t, sessions[0]["updated_at"])

	brokers, err := s.Select(ctx, store.TableBrokers, store.Where(store.Eq("owner_id", "t-1")))
	require.NoError(t, err)
	require.Len(t, brokers, 1)
	assert.Equal(t, true, brokers[0]["active"])
	assert.Equal(t, int64(7), brokers[0]["leads_received"])
}

func TestLeadsOrderedByLastInteraction(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Insert(ctx, store.TableLeads,
		store.Row{"id": "l1", "status": "AI_SENT", "instance_id": "a", "last_interaction": base},
		store.Row{"id": "l2", "status": "NUDGED", "instance_id": "a", "last_interaction": base.Add(250 * time.Millisecond)},
		store.Row{"id": "l3", "status": "RESPONDED", "instance_id": "z", "last_interaction": base.Add(time.Hour)},
	))

	rows, err := s.Select(ctx, store.TableLeads, store.Where(store.In("instance_id", []string{"a"})).OrderBy("last_interaction", true))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "l2", rows[0]["id"])
	assert.Equal(t, "l1", rows[1]["id"])
	assert.Equal(t, "2025-05-01T12:00:00.000000Z", rows[1]["last_interaction"])
}

func TestUpdatePublishesNewRow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Insert(ctx, store.TableSessions, store.Row{"id": "t-1", "name": "Acme", "data": map[string]any{}}))

	events := make(chan store.Event, 1)
	sub, err := s.Subscribe(ctx, store.TableSessions, []store.Filter{store.Eq("id", "t-1")}, store.EventUpdate, func(ev store.Event) { events <- ev })
	require.NoError(t, err)
	defer sub.Cancel()

	n, err := s.Update(ctx, store.TableSessions, store.Row{"data": map[string]any{"plan": "pro"}}, []store.Filter{store.Eq("id", "t-1")})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	select {
	case ev := <-events:
		assert.Equal(t, map[string]any{"plan": "pro"}, ev.New["data"])
		assert.Equal(t, "Acme", ev.New["name"])
	case <-time.After(time.Second):
		t.Fatal("no update event")
	}
}

func TestUpdateWithoutMatchesWritesNothing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	n, err := s.Update(ctx, store.TableSessions, store.Row{"name": "x"}, []store.Filter{store.Eq("id", "missing")})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFileDatabaseSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "venux.db")

	s, err := NewStore(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Insert(ctx, store.TableSessions, store.Row{"id": "t-1", "data": map[string]any{}}))
	require.NoError(t, s.Close())

	reopened, err := NewStore(path, nil)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, path, reopened.Path())

	rows, err := reopened.Select(ctx, store.TableSessions, store.Query{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
