package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/venux/panel/backend/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSelectFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil)
	defer s.Close()

	require.NoError(t, s.Insert(ctx, store.TableLeads,
		store.Row{"id": "l1", "instance_id": "a", "last_interaction": "2025-03-01T10:00:00Z"},
		store.Row{"id": "l2", "instance_id": "b", "last_interaction": "2025-03-02T10:00:00Z"},
		store.Row{"id": "l3", "instance_id": "c", "last_interaction": "2025-03-03T10:00:00Z"},
	))

	rows, err := s.Select(ctx, store.TableLeads, store.Where(store.In("instance_id", []string{"a", "b"})).OrderBy("last_interaction", true))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "l2", rows[0]["id"])
	assert.Equal(t, "l1", rows[1]["id"])
}

func TestSelectReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil)
	defer s.Close()

	require.NoError(t, s.Insert(ctx, store.TableSessions, store.Row{"id": "t-1", "data": map[string]any{"plan": "pro"}}))

	rows, err := s.Select(ctx, store.TableSessions, store.Where(store.Eq("id", "t-1")))
	require.NoError(t, err)
	rows[0]["data"].(map[string]any)["plan"] = "free"

	again, err := s.Select(ctx, store.TableSessions, store.Where(store.Eq("id", "t-1")))
	require.NoError(t, err)
	assert.Equal(t, "pro", again[0]["data"].(map[string]any)["plan"])
}

func TestUpdateMergesPatchAndNotifies(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil)
	defer s.Close()

	require.NoError(t, s.Insert(ctx, store.TableSessions,
		store.Row{"id": "t-1", "name": "Acme", "data": map[string]any{}},
		store.Row{"id": "t-2", "name": "Other", "data": map[string]any{}},
	))

	events := make(chan store.Event, 4)
	sub, err := s.Subscribe(ctx, store.TableSessions, []store.Filter{store.Eq("id", "t-1")}, store.EventUpdate, func(ev store.Event) {
		events <- ev
	})
	require.NoError(t, err)
	defer sub.Cancel()

	n, err := s.Update(ctx, store.TableSessions, store.Row{"data": map[string]any{"plan": "pro"}}, []store.Filter{store.Eq("id", "t-1")})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	select {
	case ev := <-events:
		assert.Equal(t, store.EventUpdate, ev.Type)
		assert.Equal(t, "Acme", ev.New["name"])
		assert.Equal(t, map[string]any{"plan": "pro"}, ev.New["data"])
		assert.Equal(t, map[string]any{}, ev.Old["data"])
	case <-time.After(time.Second):
		t.Fatal("no update event")
	}

	rows, err := s.Select(ctx, store.TableSessions, store.Where(store.Eq("id", "t-2")))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, rows[0]["data"])
}

func TestUpdateRejectsIDPatch(t *testing.T) {
	s := NewStore(nil)
	defer s.Close()

	_, err := s.Update(context.Background(), store.TableSessions, store.Row{"id": "x"}, nil)
	assert.ErrorIs(t, err, store.ErrUnknownColumn)
}

func TestUnknownTable(t *testing.T) {
	s := NewStore(nil)
	defer s.Close()

	_, err := s.Select(context.Background(), store.Table("users"), store.Query{})
	assert.ErrorIs(t, err, store.ErrUnknownTable)
}

func TestClosedStore(t *testing.T) {
	s := NewStore(nil)
	require.NoError(t, s.Close())

	_, err := s.Select(context.Background(), store.TableLeads, store.Query{})
	assert.ErrorIs(t, err, store.ErrClosed)
}
