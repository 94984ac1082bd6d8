// Package eventlog persists supervisor fault and transition history to
// sqlite, supplementing spec.md (whose §7 error kinds are otherwise only
// ever surfaced as feedback_out fields for the current tick) with the
// queryable per-run history the original ROS-based hal_402_mgr.py got for
// free from its publish_states/publish_errors topics. Grounded on
// sigreer-jbodgod/app/internal/db/db.go (sqlite open/configure) and
// events.go (RecordEvent's append-only insert shape), with
// tonimelisma-onedrive-go/internal/sync/migrations.go's goose v3 Provider
// API replacing jbodgod's own hand-rolled migrate().
package eventlog

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/sitdownseungpyo/ethercatsupervisor/internal/fleet"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultPath is the default event-log location, relative to the
// directory supervisord is run from.
const DefaultPath = "supervisord_events.db"

// DB is an append-only record of supervisor transitions and faults. It
// implements fleet.EventSink so internal/fleet never imports database/sql
// or modernc.org/sqlite directly (spec.md §3 keeps the core's external
// collaborators behind narrow interfaces).
type DB struct {
	conn *sql.DB
	log  *slog.Logger
}

// Open creates or migrates the sqlite database at path and returns a
// ready-to-use DB. An empty path uses DefaultPath.
func Open(ctx context.Context, path string, log *slog.Logger) (*DB, error) {
	if path == "" {
		path = DefaultPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("eventlog: create directory %q: %w", dir, err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %q: %w", path, err)
	}

	if _, err := conn.ExecContext(ctx, "PRAGMA journal_mode = WAL; PRAGMA foreign_keys = ON;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("eventlog: configure database: %w", err)
	}

	if err := migrate(ctx, conn, log); err != nil {
		conn.Close()
		return nil, err
	}

	return &DB{conn: conn, log: log}, nil
}

// Close releases the underlying sqlite connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

func migrate(ctx context.Context, conn *sql.DB, log *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("eventlog: migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, conn, subFS)
	if err != nil {
		return fmt.Errorf("eventlog: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("eventlog: running migrations: %w", err)
	}
	for _, r := range results {
		log.Info("eventlog: applied migration", "source", r.Source.Path, "duration", r.Duration)
	}
	return nil
}

// RecordTransition appends one supervisor sub-state transition. It
// satisfies fleet.EventSink.
func (d *DB) RecordTransition(from, to fleet.SubState, reason string) {
	_, err := d.conn.Exec(
		`INSERT INTO transitions (from_state, to_state, reason, occurred_at) VALUES (?, ?, ?, ?)`,
		from.String(), to.String(), reason, time.Now().UTC(),
	)
	if err != nil {
		d.log.Error("eventlog: record transition", "error", err, "from", from, "to", to)
	}
}

// RecordFault appends one merged fault description. It satisfies
// fleet.EventSink.
func (d *DB) RecordFault(desc string) {
	_, err := d.conn.Exec(
		`INSERT INTO faults (description, occurred_at) VALUES (?, ?)`,
		desc, time.Now().UTC(),
	)
	if err != nil {
		d.log.Error("eventlog: record fault", "error", err, "description", desc)
	}
}

// TransitionRecord is one row of the transitions table, returned by
// RecentTransitions for "supervisord status --history".
type TransitionRecord struct {
	From       string
	To         string
	Reason     string
	OccurredAt time.Time
}

// RecentTransitions returns up to limit most recent transitions, newest
// first.
func (d *DB) RecentTransitions(limit int) ([]TransitionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.conn.Query(
		`SELECT from_state, to_state, reason, occurred_at FROM transitions ORDER BY occurred_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("eventlog: query transitions: %w", err)
	}
	defer rows.Close()

	var out []TransitionRecord
	for rows.Next() {
		var rec TransitionRecord
		if err := rows.Scan(&rec.From, &rec.To, &rec.Reason, &rec.OccurredAt); err != nil {
			return nil, fmt.Errorf("eventlog: scan transition: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// FaultRecord is one row of the faults table.
type FaultRecord struct {
	Description string
	OccurredAt  time.Time
}

// RecentFaults returns up to limit most recent faults, newest first.
func (d *DB) RecentFaults(limit int) ([]FaultRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.conn.Query(
		`SELECT description, occurred_at FROM faults ORDER BY occurred_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("eventlog: query faults: %w", err)
	}
	defer rows.Close()

	var out []FaultRecord
	for rows.Next() {
		var rec FaultRecord
		if err := rows.Scan(&rec.Description, &rec.OccurredAt); err != nil {
			return nil, fmt.Errorf("eventlog: scan fault: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
