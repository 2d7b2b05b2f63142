// Package store is the sqlite-backed persistence layer for live_specs,
// draft_specs, publication_specs, controllers, alert_history,
// storage_mappings, and data_planes (§6 "Stored state layout"). Grounded
// on the teacher's go/sql-driver package and its mattn/go-sqlite3
// dependency: spec.md §1 describes the catalog-builder database as
// "SQLite-backed", and no Postgres driver is wired into any Go binary
// anywhere in the retrieved pack, so the live catalog store adopts the
// same engine rather than introducing a new one.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps a *sql.DB opened against the control-plane's sqlite
// database, providing the transactional operations the publication
// engine, controller engine, and alert subsystem depend on.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS live_specs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	catalog_name TEXT NOT NULL UNIQUE,
	spec_type TEXT NOT NULL,
	model TEXT NOT NULL,
	built_spec TEXT,
	reads_from TEXT NOT NULL DEFAULT '[]',
	writes_to TEXT NOT NULL DEFAULT '[]',
	last_pub_id INTEGER NOT NULL,
	last_build_id INTEGER NOT NULL,
	data_plane_id INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS publication_specs (
	live_spec_id INTEGER NOT NULL,
	pub_id INTEGER NOT NULL,
	published_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	user_id TEXT NOT NULL,
	spec TEXT NOT NULL,
	detail TEXT,
	PRIMARY KEY (live_spec_id, pub_id)
);

CREATE TABLE IF NOT EXISTS publications (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	status TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS draft_id_seq (
	id INTEGER PRIMARY KEY AUTOINCREMENT
);

CREATE TABLE IF NOT EXISTS draft_specs (
	draft_id INTEGER NOT NULL,
	catalog_name TEXT NOT NULL,
	spec_type TEXT NOT NULL,
	model TEXT,
	expect_pub_id INTEGER,
	expect_pub_id_set INTEGER NOT NULL DEFAULT 0,
	is_touch INTEGER NOT NULL DEFAULT 0,
	deleted INTEGER NOT NULL DEFAULT 0,
	reset INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (draft_id, catalog_name)
);

CREATE TABLE IF NOT EXISTS draft_errors (
	draft_id INTEGER NOT NULL,
	catalog_name TEXT NOT NULL,
	scope TEXT NOT NULL,
	kind TEXT NOT NULL,
	detail TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS role_grants (
	subject_role TEXT NOT NULL,
	object_role TEXT NOT NULL,
	capability TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS user_grants (
	user_id TEXT NOT NULL,
	object_role TEXT NOT NULL,
	capability TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS storage_mappings (
	catalog_prefix TEXT PRIMARY KEY,
	spec TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS alert_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	catalog_name TEXT NOT NULL,
	alert_type TEXT NOT NULL,
	fired_at DATETIME NOT NULL,
	resolved_at DATETIME,
	arguments TEXT NOT NULL,
	resolved_arguments TEXT
);

CREATE TABLE IF NOT EXISTS data_planes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	data_plane_name TEXT NOT NULL UNIQUE,
	data_plane_fqdn TEXT NOT NULL UNIQUE,
	broker_address TEXT NOT NULL,
	reactor_address TEXT NOT NULL,
	hmac_keys TEXT NOT NULL DEFAULT '[]',
	ops_logs_name TEXT,
	ops_stats_name TEXT,
	enable_l2 INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS controllers (
	live_spec_id INTEGER PRIMARY KEY,
	current_status TEXT NOT NULL DEFAULT '{}',
	next_run DATETIME,
	last_error TEXT,
	failure_count INTEGER NOT NULL DEFAULT 0,
	owner TEXT
);

CREATE TABLE IF NOT EXISTS notifier_tasks (
	id INTEGER PRIMARY KEY,
	alert_id INTEGER NOT NULL,
	state TEXT NOT NULL DEFAULT '{}',
	wake_at DATETIME,
	owner TEXT
);
`

// Open opens (creating if necessary) the sqlite database at path and
// applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_fk=true&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// A single-writer pragma: SQLite serializes writers regardless, but
	// pinning the pool to one connection avoids SQLITE_BUSY under the
	// BEGIN IMMEDIATE transactions the publication engine issues (§4.5,
	// §5 "serializable isolation or equivalent").
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying *sql.DB for packages (tests, migrations)
// that need direct access.
func (s *Store) DB() *sql.DB { return s.db }
