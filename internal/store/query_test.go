package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMatches(t *testing.T) {
	row := Row{"id": "t-1", "instance_id": "a", "leads_received": int64(3)}

	assert.True(t, Matches(row, []Filter{Eq("id", "t-1")}))
	assert.True(t, Matches(row, []Filter{In("instance_id", []string{"b", "a"})}))
	assert.True(t, Matches(row, []Filter{Eq("leads_received", 3)}))
	assert.False(t, Matches(row, []Filter{Eq("id", "t-2")}))
	assert.False(t, Matches(row, []Filter{In("instance_id", nil)}))
	assert.False(t, Matches(row, []Filter{Eq("missing", "x")}))
}

func TestApplyOrdersByTimeDescending(t *testing.T) {
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := []Row{
		{"id": "old", "last_interaction": base.Format(time.RFC3339Nano)},
		{"id": "new", "last_interaction": base.Add(90 * time.Minute).Format(time.RFC3339Nano)},
		{"id": "mid", "last_interaction": base.Add(500 * time.Millisecond).Format(time.RFC3339Nano)},
	}

	out := Apply(rows, Query{}.OrderBy("last_interaction", true))

	ids := []string{out[0]["id"].(string), out[1]["id"].(string), out[2]["id"].(string)}
	assert.Equal(t, []string{"new", "mid", "old"}, ids)
	assert.Equal(t, "old", rows[0]["id"], "input must keep its order")
}

func TestApplyLimit(t *testing.T) {
	rows := []Row{{"id": "1"}, {"id": "2"}, {"id": "3"}}
	out := Apply(rows, Query{Limit: 2})
	assert.Len(t, out, 2)
}

func TestRowCloneIsDeep(t *testing.T) {
	row := Row{"data": map[string]any{"instances": []any{map[string]any{"id": "a"}}}}
	clone := row.Clone()

	clone["data"].(map[string]any)["instances"].([]any)[0].(map[string]any)["id"] = "changed"

	inner := row["data"].(map[string]any)["instances"].([]any)[0].(map[string]any)
	assert.Equal(t, "a", inner["id"])
}
