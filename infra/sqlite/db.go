// Package sqlite persists the fleet and request stores in a SQLite database
// through the pure Go modernc.org/sqlite driver. Every compare-and-set is a
// single conditional UPDATE, so concurrent callers cannot both win.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kilianp07/dronedispatch/core/geo"
)

const schema = `
CREATE TABLE IF NOT EXISTS drones (
    drone_id        TEXT PRIMARY KEY,
    curr_latlong    TEXT,
    curr_battery    REAL,
    curr_status     TEXT NOT NULL DEFAULT 'idle',
    curr_request_id TEXT NOT NULL DEFAULT '',
    updated_at      INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS requests (
    seq            INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id     TEXT NOT NULL UNIQUE,
    origin_latlong TEXT NOT NULL,
    dest_latlong   TEXT NOT NULL,
    weight         REAL NOT NULL,
    drone_id       TEXT NOT NULL DEFAULT '',
    curr_status    TEXT NOT NULL,
    curr_latlong   TEXT,
    created_at     INTEGER NOT NULL,
    updated_at     INTEGER NOT NULL,
    cancel_sent_at INTEGER
);
CREATE INDEX IF NOT EXISTS requests_status ON requests (curr_status, seq);
`

// DB owns the connection shared by FleetStore and RequestStore.
type DB struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path and ensures the schema.
// ":memory:" gives a private in-memory database.
func Open(ctx context.Context, path string) (*DB, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// A single connection serializes writers and keeps ":memory:" shared.
	db.SetMaxOpenConns(1)
	pragmas := []string{"PRAGMA busy_timeout = 5000", "PRAGMA foreign_keys = ON"}
	if path != ":memory:" && !strings.HasPrefix(path, "file::memory:") {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range append(pragmas, schema) {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init %s: %w", path, err)
		}
	}
	return &DB{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (d *DB) Close() error { return d.db.Close() }

// Ping checks the connection.
func (d *DB) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }

// Fleet returns the fleet store backed by d.
func (d *DB) Fleet() *FleetStore { return &FleetStore{db: d} }

// Requests returns the request store backed by d.
func (d *DB) Requests() *RequestStore { return &RequestStore{db: d} }

func (d *DB) stamp() int64 { return d.now().UnixNano() }

func fromStamp(n int64) time.Time { return time.Unix(0, n).UTC() }

func pointArg(p *geo.Point) any {
	if p == nil {
		return nil
	}
	return p.String()
}

func scanPoint(ns sql.NullString) (*geo.Point, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	p, err := geo.ParseLatLong(ns.String)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func floatArg(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

type rowScanner interface {
	Scan(dest ...any) error
}

func exists(ctx context.Context, db *sql.DB, query string, args ...any) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}
