package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind tells SQL backends how a column is stored and decoded.
type Kind int

const (
	KindText Kind = iota
	KindJSON
	KindTime
	KindBool
	KindInt
)

// Column describes one persisted column.
type Column struct {
	Name string
	Kind Kind
}

// TimeLayout is the fixed-width UTC layout used where times are stored as
// text, so lexical order equals chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

var schema = map[Table][]Column{
	TableSessions: {
		{Name: "id", Kind: KindText},
		{Name: "name", Kind: KindText},
		{Name: "data", Kind: KindJSON},
		{Name: "updated_at", Kind: KindTime},
	},
	TableLeads: {
		{Name: "id", Kind: KindText},
		{Name: "name", Kind: KindText},
		{Name: "phone", Kind: KindText},
		{Name: "status", Kind: KindText},
		{Name: "last_interaction", Kind: KindTime},
		{Name: "instance_id", Kind: KindText},
	},
	TableBrokers: {
		{Name: "id", Kind: KindText},
		{Name: "name", Kind: KindText},
		{Name: "active", Kind: KindBool},
		{Name: "leads_received", Kind: KindInt},
		{Name: "owner_id", Kind: KindText},
	},
}

// Tables lists every known table in creation order.
func Tables() []Table {
	return []Table{TableSessions, TableLeads, TableBrokers}
}

// Columns returns the column set of table.
func Columns(table Table) ([]Column, error) {
	cols, ok := schema[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	return append([]Column(nil), cols...), nil
}

func lookupColumn(table Table, name string) (Column, error) {
	cols, err := Columns(table)
	if err != nil {
		return Column{}, err
	}
	for _, col := range cols {
		if col.Name == name {
			return col, nil
		}
	}
	return Column{}, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, table, name)
}

// DecodeColumn turns a scanned SQL value into its JSON-shaped form.
func DecodeColumn(col Column, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	switch col.Kind {
	case KindJSON:
		var data []byte
		switch typed := raw.(type) {
		case []byte:
			data = typed
		case string:
			data = []byte(typed)
		default:
			return raw, nil
		}
		var out any
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("decode %s: %w", col.Name, err)
		}
		return out, nil
	case KindTime:
		switch typed := raw.(type) {
		case time.Time:
			return typed.UTC().Format(time.RFC3339Nano), nil
		case []byte:
			return string(typed), nil
		default:
			return raw, nil
		}
	case KindBool:
		switch typed := raw.(type) {
		case bool:
			return typed, nil
		case int64:
			return typed != 0, nil
		case []byte:
			return string(typed) == "1" || strings.EqualFold(string(typed), "true"), nil
		case string:
			return typed == "1" || strings.EqualFold(typed, "true"), nil
		default:
			return raw, nil
		}
	case KindInt:
		switch typed := raw.(type) {
		case []byte:
			var n int64
			if _, err := fmt.Sscan(string(typed), &n); err != nil {
				return nil, fmt.Errorf("decode %s: %w", col.Name, err)
			}
			return n, nil
		default:
			return raw, nil
		}
	default:
		if b, ok := raw.([]byte); ok {
			return string(b), nil
		}
		return raw, nil
	}
}

// EncodeColumn turns a JSON-shaped value into a SQL argument.
func EncodeColumn(col Column, value any, d Dialect) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch col.Kind {
	case KindJSON:
		if s, ok := value.(string); ok && json.Valid([]byte(s)) {
			return s, nil
		}
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", col.Name, err)
		}
		return string(data), nil
	case KindTime:
		var t time.Time
		switch typed := value.(type) {
		case time.Time:
			t = typed
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, typed)
			if err != nil {
				return nil, fmt.Errorf("encode %s: %w", col.Name, err)
			}
			t = parsed
		default:
			return nil, fmt.Errorf("encode %s: unsupported time value %T", col.Name, value)
		}
		return d.EncodeTime(t), nil
	case KindBool:
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("encode %s: expected bool, got %T", col.Name, value)
		}
		return d.EncodeBool(b), nil
	default:
		return value, nil
	}
}
