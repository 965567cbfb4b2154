package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dollarDialect struct{}

func (dollarDialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }
func (dollarDialect) EncodeTime(t time.Time) any { return t.UTC() }
func (dollarDialect) EncodeBool(b bool) any { return b }

func TestBuildSelect(t *testing.T) {
	q := Where(In("instance_id", []string{"a", "b"})).OrderBy("last_interaction", true)
	q.Limit = 50

	stmt, err := BuildSelect(dollarDialect{}, TableLeads, q)
	require.NoError(t, err)
	assert.Equal(t, "SELECT id, name, phone, status, last_interaction, instance_id FROM leads WHERE instance_id IN ($1, $2) ORDER BY last_interaction DESC LIMIT 50", stmt.SQL)
	assert.Equal(t, []any{"a", "b"}, stmt.Args)
}

func TestBuildSelectEmptyInMatchesNothing(t *testing.T) {
	stmt, err := BuildSelect(dollarDialect{}, TableLeads, Where(In("instance_id", nil)))
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "WHERE 1 = 0")
	assert.Empty(t, stmt.Args)
}

func TestBuildSelectRejectsUnknownColumns(t *testing.T) {
	_, err := BuildSelect(dollarDialect{}, TableLeads, Where(Eq("status; DROP TABLE leads", "x")))
	assert.ErrorIs(t, err, ErrUnknownColumn)

	_, err = BuildSelect(dollarDialect{}, TableLeads, Query{}.OrderBy("nope", false))
	assert.ErrorIs(t, err, ErrUnknownColumn)

	_, err = BuildSelect(dollarDialect{}, Table("users"), Query{})
	assert.ErrorIs(t, err, ErrUnknownTable)
}

func TestBuildUpdateEncodesJSONAndNumbersPlaceholders(t *testing.T) {
	patch := Row{"data": map[string]any{"instances": []any{}}, "name": "Acme"}

	stmt, err := BuildUpdate(dollarDialect{}, TableSessions, patch, []Filter{Eq("id", "t-1")})
	require.NoError(t, err)
	assert.Equal(t, "UPDATE sessions SET data = $1, name = $2 WHERE id = $3 RETURNING id", stmt.SQL)
	assert.Equal(t, []any{`{"instances":[]}`, "Acme", "t-1"}, stmt.Args)
}

func TestBuildUpdateRejectsIDChanges(t *testing.T) {
	_, err := BuildUpdate(dollarDialect{}, TableSessions, Row{"id": "x"}, nil)
	assert.ErrorIs(t, err, ErrUnknownColumn)

	_, err = BuildUpdate(dollarDialect{}, TableSessions, Row{}, nil)
	assert.Error(t, err)
}

func TestBuildUpsert(t *testing.T) {
	stmt, err := BuildUpsert(dollarDialect{}, TableBrokers, Row{"id": "b1", "name": "Ana", "active": true, "leads_received": 2, "owner_id": "t-1"})
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO brokers (id, name, active, leads_received, owner_id) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO UPDATE SET name = excluded.name, active = excluded.active, leads_received = excluded.leads_received, owner_id = excluded.owner_id", stmt.SQL)
	assert.Equal(t, []any{"b1", "Ana", true, 2, "t-1"}, stmt.Args)
}

func TestDecodeColumn(t *testing.T) {
	v, err := DecodeColumn(Column{Name: "data", Kind: KindJSON}, []byte(`{"plan":"pro"}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"plan": "pro"}, v)

	v, err = DecodeColumn(Column{Name: "active", Kind: KindBool}, int64(1))
	require.NoError(t, err)
	assert.Equal(t, true, v)

	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.FixedZone("BRT", -3*3600))
	v, err = DecodeColumn(Column{Name: "last_interaction", Kind: KindTime}, ts)
	require.NoError(t, err)
	assert.Equal(t, "2025-01-02T06:04:05Z", v)

	v, err = DecodeColumn(Column{Name: "name", Kind: KindText}, nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}
