// Package sqlite persists panel tables in a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/venux/panel/backend/internal/store"
)

var (
	_ store.Store    = (*Store)(nil)
	_ store.Inserter = (*Store)(nil)
)

const defaultPath = "venux.db"

type dialect struct{}

func (dialect) Placeholder(int) string { return "?" }

func (dialect) EncodeTime(t time.Time) any { return t.UTC().Format(store.TimeLayout) }

func (dialect) EncodeBool(b bool) any {
	if b {
		return 1
	}
	return 0
}

// Store keeps rows in SQLite and announces changes through an in-process hub.
// Writers in other processes are not observed.
type Store struct {
	db     *sql.DB
	hub    *store.Hub
	path   string
	logger *zap.Logger
}

// NewStore opens (or creates) the database at path. ":memory:" gives a
// private in-memory database.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path == "" {
		path = defaultPath
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single connection keeps ":memory:" databases shared and serialises writers
	db.SetMaxOpenConns(1)

	if err := migrate(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, hub: store.NewHub(logger), path: path, logger: logger}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	for _, table := range store.Tables() {
		cols, err := store.Columns(table)
		if err != nil {
			return err
		}
		defs := make([]string, len(cols))
		for i, col := range cols {
			defs[i] = columnDDL(col)
		}
		ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, strings.Join(defs, ", "))
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create %s table: %w", table, err)
		}
	}
	if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS leads_instance_idx ON leads (instance_id, last_interaction)`); err != nil {
		return fmt.Errorf("create leads index: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS brokers_owner_idx ON brokers (owner_id)`); err != nil {
		return fmt.Errorf("create brokers index: %w", err)
	}
	return nil
}

func columnDDL(col store.Column) string {
	if col.Name == "id" {
		return "id TEXT PRIMARY KEY"
	}
	switch col.Kind {
	case store.KindBool, store.KindInt:
		return col.Name + " INTEGER"
	default:
		return col.Name + " TEXT"
	}
}

// Select runs q against table.
func (s *Store) Select(ctx context.Context, table store.Table, q store.Query) ([]store.Row, error) {
	stmt, err := store.BuildSelect(dialect{}, table, q)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()
	return store.ScanRows(table, rows)
}

// Update applies patch to matching rows and publishes the new row images.
func (s *Store) Update(ctx context.Context, table store.Table, patch store.Row, filters []store.Filter) (int, error) {
	stmt, err := store.BuildUpdate(dialect{}, table, patch, filters)
	if err != nil {
		return 0, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	ids, err := collectIDs(ctx, tx, stmt)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", table, err)
	}
	var changed []store.Row
	if len(ids) > 0 {
		sel, err := store.BuildSelect(dialect{}, table, store.Where(store.In("id", ids)))
		if err != nil {
			return 0, err
		}
		rows, err := tx.QueryContext(ctx, sel.SQL, sel.Args...)
		if err != nil {
			return 0, fmt.Errorf("reload %s: %w", table, err)
		}
		changed, err = store.ScanRows(table, rows)
		_ = rows.Close()
		if err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	committed = true

	for _, row := range changed {
		s.hub.Publish(store.NewEvent(table, store.EventUpdate, row, nil))
	}
	return len(ids), nil
}

// Insert upserts rows by id.
func (s *Store) Insert(ctx context.Context, table store.Table, rows ...store.Row) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, row := range rows {
		stmt, err := store.BuildUpsert(dialect{}, table, row)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, stmt.SQL, stmt.Args...); err != nil {
			return fmt.Errorf("upsert %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	for _, row := range rows {
		s.hub.Publish(store.NewEvent(table, store.EventInsert, row.Clone(), nil))
	}
	return nil
}

// Subscribe registers fn on the in-process hub.
func (s *Store) Subscribe(ctx context.Context, table store.Table, filters []store.Filter, event store.EventType, fn func(store.Event)) (store.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := store.Columns(table); err != nil {
		return nil, err
	}
	return s.hub.Subscribe(table, filters, event, fn)
}

// Close ends subscriptions and closes the database.
func (s *Store) Close() error {
	s.hub.Close()
	return s.db.Close()
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

func collectIDs(ctx context.Context, tx *sql.Tx, stmt store.Statement) ([]string, error) {
	rows, err := tx.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
