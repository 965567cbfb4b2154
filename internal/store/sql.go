package store

import (
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Dialect captures the differences between the SQL backends.
type Dialect interface {
	Placeholder(n int) string
	EncodeTime(t time.Time) any
	EncodeBool(b bool) any
}

// Statement is a rendered SQL statement with its arguments.
type Statement struct {
	SQL  string
	Args []any
}

// BuildSelect renders q against table. Column names are checked against the
// schema, never interpolated from input.
func BuildSelect(d Dialect, table Table, q Query) (Statement, error) {
	cols, err := Columns(table)
	if err != nil {
		return Statement{}, err
	}
	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = col.Name
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(names, ", "), table)

	where, args, err := buildWhere(d, table, q.Filters, 0)
	if err != nil {
		return Statement{}, err
	}
	b.WriteString(where)

	if q.Order != nil {
		if _, err := lookupColumn(table, q.Order.Column); err != nil {
			return Statement{}, err
		}
		dir := "ASC"
		if q.Order.Descending {
			dir = "DESC"
		}
		fmt.Fprintf(&b, " ORDER BY %s %s", q.Order.Column, dir)
	}
	if q.Limit > 0 {
		b.WriteString(" LIMIT " + strconv.Itoa(q.Limit))
	}
	return Statement{SQL: b.String(), Args: args}, nil
}

// BuildUpdate renders an UPDATE of the patch columns for rows matching
// filters. Patch keys are emitted in sorted order so statements are stable.
// The statement returns the ids of the touched rows.
func BuildUpdate(d Dialect, table Table, patch Row, filters []Filter) (Statement, error) {
	if len(patch) == 0 {
		return Statement{}, fmt.Errorf("empty patch for %s", table)
	}
	keys := make([]string, 0, len(patch))
	for key := range patch {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	sets := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys)+len(filters))
	for _, key := range keys {
		if key == "id" {
			return Statement{}, fmt.Errorf("%w: id is immutable", ErrUnknownColumn)
		}
		col, err := lookupColumn(table, key)
		if err != nil {
			return Statement{}, err
		}
		value, err := EncodeColumn(col, patch[key], d)
		if err != nil {
			return Statement{}, err
		}
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = %s", key, d.Placeholder(len(args))))
	}

	where, whereArgs, err := buildWhere(d, table, filters, len(args))
	if err != nil {
		return Statement{}, err
	}
	args = append(args, whereArgs...)

	return Statement{
		SQL:  fmt.Sprintf("UPDATE %s SET %s%s RETURNING id", table, strings.Join(sets, ", "), where),
		Args: args,
	}, nil
}

// BuildUpsert renders an insert-or-replace of row keyed by id.
func BuildUpsert(d Dialect, table Table, row Row) (Statement, error) {
	cols, err := Columns(table)
	if err != nil {
		return Statement{}, err
	}
	if _, ok := row["id"]; !ok {
		return Statement{}, fmt.Errorf("%w: row without id for %s", ErrUnknownColumn, table)
	}
	for key := range row {
		if _, err := lookupColumn(table, key); err != nil {
			return Statement{}, err
		}
	}
	names := make([]string, 0, len(cols))
	marks := make([]string, 0, len(cols))
	updates := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols))
	for _, col := range cols {
		value, err := EncodeColumn(col, row[col.Name], d)
		if err != nil {
			return Statement{}, err
		}
		args = append(args, value)
		names = append(names, col.Name)
		marks = append(marks, d.Placeholder(len(args)))
		if col.Name != "id" {
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", col.Name, col.Name))
		}
	}
	return Statement{
		SQL: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s",
			table, strings.Join(names, ", "), strings.Join(marks, ", "), strings.Join(updates, ", ")),
		Args: args,
	}, nil
}

// ScanRows reads every row of a result built by BuildSelect.
func ScanRows(table Table, rows *sql.Rows) ([]Row, error) {
	cols, err := Columns(table)
	if err != nil {
		return nil, err
	}
	var out []Row
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			value, err := DecodeColumn(col, raw[i])
			if err != nil {
				return nil, fmt.Errorf("scan %s: %w", table, err)
			}
			row[col.Name] = value
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return out, nil
}

func buildWhere(d Dialect, table Table, filters []Filter, offset int) (string, []any, error) {
	if err := validateFilters(filters); err != nil {
		return "", nil, err
	}
	if len(filters) == 0 {
		return "", nil, nil
	}
	clauses := make([]string, 0, len(filters))
	var args []any
	n := offset
	for _, f := range filters {
		col, err := lookupColumn(table, f.Column)
		if err != nil {
			return "", nil, err
		}
		switch f.Op {
		case OpEq:
			value, err := EncodeColumn(col, f.Value, d)
			if err != nil {
				return "", nil, err
			}
			n++
			args = append(args, value)
			clauses = append(clauses, fmt.Sprintf("%s = %s", f.Column, d.Placeholder(n)))
		case OpIn:
			values := filterValues(f.Value)
			if len(values) == 0 {
				clauses = append(clauses, "1 = 0")
				continue
			}
			marks := make([]string, len(values))
			for i, v := range values {
				value, err := EncodeColumn(col, v, d)
				if err != nil {
					return "", nil, err
				}
				n++
				args = append(args, value)
				marks[i] = d.Placeholder(n)
			}
			clauses = append(clauses, fmt.Sprintf("%s IN (%s)", f.Column, strings.Join(marks, ", ")))
		}
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}
