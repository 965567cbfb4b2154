// Package postgres provides the Postgres-backed store. Changes committed by
// any process are announced with NOTIFY and fanned out locally.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"go.uber.org/zap"

	"github.com/venux/panel/backend/internal/store"
)

var (
	_ store.Store    = (*Store)(nil)
	_ store.Inserter = (*Store)(nil)
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/venux?sslmode=disable"
	// NotifyChannel carries change notices between processes.
	NotifyChannel = "venux_changes"

	listenRetryDelay = 2 * time.Second
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

type dialect struct{}

func (dialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (dialect) EncodeTime(t time.Time) any { return t.UTC() }

func (dialect) EncodeBool(b bool) any { return b }

// notice is the NOTIFY payload. Rows are reloaded by id on receipt because
// NOTIFY payloads are capped at 8000 bytes.
type notice struct {
	Table store.Table     `json:"table"`
	Type  store.EventType `json:"type"`
	IDs   []string        `json:"ids"`
}

// Store reads and writes panel tables in Postgres.
type Store struct {
	db     *sql.DB
	hub    *store.Hub
	logger *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStore opens the database (falling back to defaultDSN), applies the DDL
// and starts the LISTEN loop.
func NewStore(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	for _, stmt := range DDL() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("execute ddl: %w", err)
		}
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	s := &Store{db: db, hub: store.NewHub(logger), logger: logger, cancel: cancel}
	s.wg.Add(1)
	go s.listen(listenCtx)
	return s, nil
}

// DDL returns the statements creating the panel tables.
func DDL() []string {
	var stmts []string
	for _, table := range store.Tables() {
		cols, _ := store.Columns(table)
		defs := make([]string, len(cols))
		for i, col := range cols {
			defs[i] = columnDDL(col)
		}
		stmts = append(stmts, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, strings.Join(defs, ", ")))
	}
	stmts = append(stmts,
		`CREATE INDEX IF NOT EXISTS leads_instance_idx ON leads (instance_id, last_interaction DESC)`,
		`CREATE INDEX IF NOT EXISTS brokers_owner_idx ON brokers (owner_id)`,
	)
	return stmts
}

func columnDDL(col store.Column) string {
	if col.Name == "id" {
		return "id TEXT PRIMARY KEY"
	}
	switch col.Kind {
	case store.KindJSON:
		return col.Name + " JSONB"
	case store.KindTime:
		return col.Name + " TIMESTAMPTZ"
	case store.KindBool:
		return col.Name + " BOOLEAN NOT NULL DEFAULT FALSE"
	case store.KindInt:
		return col.Name + " INTEGER NOT NULL DEFAULT 0"
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

// Update applies patch and announces the touched ids in the same transaction.
func (s *Store) Update(ctx context.Context, table store.Table, patch store.Row, filters []store.Filter) (int, error) {
	stmt, err := store.BuildUpdate(dialect{}, table, patch, filters)
	if err != nil {
		return 0, err
	}
	var ids []string
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, stmt.SQL, stmt.Args...)
		if err != nil {
			return fmt.Errorf("update %s: %w", table, err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return fmt.Errorf("update %s: %w", table, err)
			}
			ids = append(ids, id)
		}
		_ = rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("update %s: %w", table, err)
		}
		return notify(ctx, tx, notice{Table: table, Type: store.EventUpdate, IDs: ids})
	})
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Insert upserts rows by id.
func (s *Store) Insert(ctx context.Context, table store.Table, rows ...store.Row) error {
	ids := make([]string, 0, len(rows))
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, row := range rows {
			stmt, err := store.BuildUpsert(dialect{}, table, row)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, stmt.SQL, stmt.Args...); err != nil {
				return fmt.Errorf("upsert %s: %w", table, err)
			}
			ids = append(ids, fmt.Sprint(row["id"]))
		}
		return notify(ctx, tx, notice{Table: table, Type: store.EventInsert, IDs: ids})
	})
}

// Subscribe registers fn for changes announced on NotifyChannel.
func (s *Store) Subscribe(ctx context.Context, table store.Table, filters []store.Filter, event store.EventType, fn func(store.Event)) (store.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := store.Columns(table); err != nil {
		return nil, err
	}
	return s.hub.Subscribe(table, filters, event, fn)
}

// Close stops the listener, ends subscriptions and closes the pool.
func (s *Store) Close() error {
	s.cancel()
	s.wg.Wait()
	s.hub.Close()
	return s.db.Close()
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
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
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

func notify(ctx context.Context, tx *sql.Tx, n notice) error {
	if len(n.IDs) == 0 {
		return nil
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notice: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, string(payload)); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

// listen holds one connection in LISTEN mode. When it drops, current
// subscriptions are ended with store.ErrDisconnected so views fall back to
// manual refresh, and listening resumes for new subscribers.
func (s *Store) listen(ctx context.Context) {
	defer s.wg.Done()
	for {
		err := s.listenOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("change listener stopped", zap.Error(err))
		s.hub.Disconnect(fmt.Errorf("%w: %v", store.ErrDisconnected, err))

		timer := time.NewTimer(listenRetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *Store) listenOnce(ctx context.Context) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen conn: %w", err)
	}
	defer func() { _ = conn.Close() }()

	return conn.Raw(func(driverConn any) error {
		sc, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver conn %T", driverConn)
		}
		pc := sc.Conn()
		if _, err := pc.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		s.logger.Info("listening for changes", zap.String("channel", NotifyChannel))
		for {
			n, err := pc.WaitForNotification(ctx)
			if err != nil {
				return err
			}
			s.dispatch(ctx, n.Payload)
		}
	})
}

func (s *Store) dispatch(ctx context.Context, payload string) {
	n, err := decodeNotice(payload)
	if err != nil {
		s.logger.Warn("dropping malformed change notice", zap.Error(err))
		return
	}
	rows, err := s.Select(ctx, n.Table, store.Where(store.In("id", n.IDs)))
	if err != nil {
		s.logger.Warn("reload changed rows failed", zap.String("table", string(n.Table)), zap.Error(err))
		return
	}
	for _, row := range rows {
		s.hub.Publish(store.NewEvent(n.Table, n.Type, row, nil))
	}
}

func decodeNotice(payload string) (notice, error) {
	var n notice
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return notice{}, fmt.Errorf("decode notice: %w", err)
	}
	if _, err := store.Columns(n.Table); err != nil {
		return notice{}, err
	}
	if n.Type == "" || len(n.IDs) == 0 {
		return notice{}, errors.New("notice without type or ids")
	}
	return n, nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
