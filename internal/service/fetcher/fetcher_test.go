package fetcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/venux/panel/backend/internal/model/tenant"
	"github.com/venux/panel/backend/internal/store"
	"github.com/venux/panel/backend/internal/store/memory"
)

// faultStore fails Select for the configured tables.
type faultStore struct {
	store.Store
	fail    map[store.Table]error
	selects map[store.Table]int
}

func (f *faultStore) Select(ctx context.Context, table store.Table, q store.Query) ([]store.Row, error) {
	f.selects[table]++
	if err := f.fail[table]; err != nil {
		return nil, err
	}
	return f.Store.Select(ctx, table, q)
}

func newSeeded(t *testing.T) (*memory.Store, *faultStore) {
	t.Helper()
	mem := memory.NewStore(zap.NewNop())
	t.Cleanup(func() { _ = mem.Close() })
	require.NoError(t, store.Seed(context.Background(), mem, time.Now()))
	return mem, &faultStore{Store: mem, fail: map[store.Table]error{}, selects: map[store.Table]int{}}
}

func TestFetchSeededTenant(t *testing.T) {
	_, fs := newSeeded(t)
	f := New(fs, zap.NewNop(), nil)

	vm, err := f.Fetch(context.Background(), store.DemoTenant)
	require.NoError(t, err)

	assert.Equal(t, tenant.Identity(store.DemoTenant), vm.Session.ID)
	require.Len(t, vm.Instances, 2)
	assert.Equal(t, "inst-vendas", vm.Instances[0].ID)
	require.Len(t, vm.Leads, 12)
	assert.Equal(t, "lead-01", vm.Leads[0].ID)
	for i := 1; i < len(vm.Leads); i++ {
		assert.False(t, vm.Leads[i].LastInteraction.After(vm.Leads[i-1].LastInteraction), "leads must be newest first")
	}
	require.Len(t, vm.Brokers, 2)
	assert.Equal(t, "Ana Souza", vm.Brokers[0].Name)
	assert.Empty(t, vm.Warnings)
	assert.False(t, vm.FetchedAt.IsZero())
}

func TestFetchIsIdempotent(t *testing.T) {
	_, fs := newSeeded(t)
	f := New(fs, zap.NewNop(), nil)

	first, err := f.Fetch(context.Background(), store.DemoTenant)
	require.NoError(t, err)
	second, err := f.Fetch(context.Background(), store.DemoTenant)
	require.NoError(t, err)

	if diff := cmp.Diff(first, second, cmpopts.IgnoreFields(ViewModel{}, "FetchedAt")); diff != "" {
		t.Fatalf("fetch not idempotent (-first +second):\n%s", diff)
	}
}

func TestFetchMissingSession(t *testing.T) {
	_, fs := newSeeded(t)
	f := New(fs, zap.NewNop(), nil)

	_, err := f.Fetch(context.Background(), "nobody")

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, tenant.Identity("nobody"), fetchErr.Identity)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Zero(t, fs.selects[store.TableLeads])
}

func TestFetchSessionFailureIsFatal(t *testing.T) {
	_, fs := newSeeded(t)
	fs.fail[store.TableSessions] = errors.New("connection refused")
	f := New(fs, zap.NewNop(), nil)

	_, err := f.Fetch(context.Background(), store.DemoTenant)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.ErrorContains(t, err, "connection refused")
}

func TestFetchLeadFailureKeepsBrokers(t *testing.T) {
	_, fs := newSeeded(t)
	fs.fail[store.TableLeads] = errors.New("leads timeout")
	f := New(fs, zap.NewNop(), nil)

	vm, err := f.Fetch(context.Background(), store.DemoTenant)
	require.NoError(t, err)

	assert.Empty(t, vm.Leads)
	assert.Len(t, vm.Brokers, 2)
	assert.Equal(t, []Warning{{Source: SourceLeads, Message: "leads timeout"}}, vm.Warnings)
}

func TestFetchBrokerFailureKeepsLeads(t *testing.T) {
	_, fs := newSeeded(t)
	fs.fail[store.TableBrokers] = errors.New("brokers timeout")
	f := New(fs, zap.NewNop(), nil)

	vm, err := f.Fetch(context.Background(), store.DemoTenant)
	require.NoError(t, err)

	assert.Len(t, vm.Leads, 12)
	assert.Empty(t, vm.Brokers)
	assert.Equal(t, []Warning{{Source: SourceBrokers, Message: "brokers timeout"}}, vm.Warnings)
}

func TestFetchDropsInvalidLeads(t *testing.T) {
	mem, fs := newSeeded(t)
	require.NoError(t, mem.Insert(context.Background(), store.TableLeads, store.Row{
		"id":               "lead-bad",
		"name":             "Broken",
		"status":           "LOST",
		"last_interaction": time.Now().UTC().Format(time.RFC3339Nano),
		"instance_id":      "inst-vendas",
	}))
	f := New(fs, zap.NewNop(), nil)

	vm, err := f.Fetch(context.Background(), store.DemoTenant)
	require.NoError(t, err)

	assert.Len(t, vm.Leads, 12)
	require.Len(t, vm.Warnings, 1)
	assert.Equal(t, SourceLeads, vm.Warnings[0].Source)
	assert.Contains(t, vm.Warnings[0].Message, "lead-bad")
}

func TestFetchWithoutInstancesSkipsLeads(t *testing.T) {
	mem := memory.NewStore(zap.NewNop())
	t.Cleanup(func() { _ = mem.Close() })
	require.NoError(t, mem.Insert(context.Background(), store.TableSessions, store.Row{
		"id":   "empty",
		"data": map[string]any{"instances": []any{}},
	}))
	fs := &faultStore{Store: mem, fail: map[store.Table]error{store.TableLeads: errors.New("must not be called")}, selects: map[store.Table]int{}}

	vm, err := New(fs, zap.NewNop(), nil).Fetch(context.Background(), "empty")
	require.NoError(t, err)

	assert.Empty(t, vm.Instances)
	assert.NotNil(t, vm.Instances)
	assert.Empty(t, vm.Leads)
	assert.Empty(t, vm.Warnings)
	assert.Zero(t, fs.selects[store.TableLeads])
}

func TestFetchRejectsDuplicateInstances(t *testing.T) {
	mem := memory.NewStore(zap.NewNop())
	t.Cleanup(func() { _ = mem.Close() })
	dup := map[string]any{"id": "x", "name": "X", "status": "available", "ai_enabled": false}
	require.NoError(t, mem.Insert(context.Background(), store.TableSessions, store.Row{
		"id":   "dup",
		"data": map[string]any{"instances": []any{dup, dup}},
	}))

	_, err := New(mem, zap.NewNop(), nil).Fetch(context.Background(), "dup")

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.ErrorIs(t, err, tenant.ErrInvalidRecord)
}
