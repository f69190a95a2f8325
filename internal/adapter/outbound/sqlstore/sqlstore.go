// Package sqlstore implements every persistence port the sentinel domain
// packages depend on (rules, quarantine, confirmation tokens, circuit
// breaker, rate-limit buckets, anomaly baselines, audit log) against a
// single SQLite database, grounded on the storage shape of
// zamorofthat-elida's internal/storage.SQLiteStore: database/sql plus a
// blank modernc.org/sqlite import, WAL mode enabled via PRAGMA after
// open, a migrate() schema string run with CREATE TABLE IF NOT EXISTS,
// and JSON-marshaled blob columns for nested structures.
//
// The one addition the teacher's storage package doesn't need: the
// policy-engine-plus-audit-write segment of a request must be serialized
// per spec.md §5, so the write path uses a single-connection *sql.DB
// (SetMaxOpenConns(1)) while a separate read-only connection pool serves
// concurrent admin queries and chain verification without contending
// with writers.
package sqlstore

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB bundles the write (serialized) and read (concurrent) connection
// pools against the same file.
type DB struct {
	Write *sql.DB
	Read  *sql.DB
}

// Open opens path, enables WAL mode, runs the schema migration on the
// write connection, and opens a second read-only pool against the same
// file.
func Open(path string) (*DB, error) {
	write, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: opening write connection: %w", err)
	}
	write.SetMaxOpenConns(1)

	if _, err := write.Exec("PRAGMA journal_mode=WAL"); err != nil {
		write.Close()
		return nil, fmt.Errorf("sqlstore: enabling WAL mode: %w", err)
	}
	if _, err := write.Exec("PRAGMA foreign_keys=ON"); err != nil {
		write.Close()
		return nil, fmt.Errorf("sqlstore: enabling foreign keys: %w", err)
	}

	db := &DB{Write: write}
	if err := db.migrate(); err != nil {
		write.Close()
		return nil, fmt.Errorf("sqlstore: migrating schema: %w", err)
	}

	read, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("sqlstore: opening read connection: %w", err)
	}
	db.Read = read

	return db, nil
}

// Close closes both connection pools.
func (d *DB) Close() error {
	werr := d.Write.Close()
	rerr := d.Read.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

func (d *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		priority INTEGER NOT NULL,
		action TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		tool_pattern TEXT NOT NULL DEFAULT '',
		host_pattern TEXT NOT NULL DEFAULT '',
		agent_pattern TEXT NOT NULL DEFAULT '',
		argument_pattern TEXT NOT NULL DEFAULT '',
		condition TEXT NOT NULL DEFAULT '',
		rate_limit TEXT,
		schedule TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rules_enabled_priority ON rules(enabled, priority, created_at);

	CREATE TABLE IF NOT EXISTS quarantine (
		scope TEXT NOT NULL,
		target TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		expires_at DATETIME,
		created_by TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (scope, target)
	);

	CREATE TABLE IF NOT EXISTS confirmation_tokens (
		token TEXT PRIMARY KEY,
		tool TEXT NOT NULL,
		host TEXT NOT NULL,
		agent TEXT NOT NULL,
		arguments TEXT,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		used INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_confirmation_tokens_expires ON confirmation_tokens(expires_at);

	CREATE TABLE IF NOT EXISTS circuit_breaker (
		host TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		failure_count INTEGER NOT NULL DEFAULT 0,
		last_failure DATETIME,
		last_success DATETIME,
		opened_at DATETIME,
		half_open_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS rate_limit_buckets (
		rule_id TEXT NOT NULL,
		tool TEXT NOT NULL,
		host TEXT NOT NULL,
		agent TEXT NOT NULL,
		tokens REAL NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (rule_id, tool, host, agent)
	);
	CREATE INDEX IF NOT EXISTS idx_rate_limit_buckets_updated ON rate_limit_buckets(updated_at);

	CREATE TABLE IF NOT EXISTS anomaly_baselines (
		key TEXT PRIMARY KEY,
		sample_count INTEGER NOT NULL DEFAULT 0,
		frequency_mean REAL NOT NULL DEFAULT 0,
		frequency_m2 REAL NOT NULL DEFAULT 0,
		error_rate_mean REAL NOT NULL DEFAULT 0,
		error_rate_m2 REAL NOT NULL DEFAULT 0,
		hourly_distribution TEXT NOT NULL DEFAULT '[]',
		fingerprints TEXT NOT NULL DEFAULT '[]',
		bigrams TEXT NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS config (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		sequence_number INTEGER PRIMARY KEY,
		ts DATETIME NOT NULL,
		tool TEXT NOT NULL,
		host TEXT NOT NULL,
		agent TEXT NOT NULL,
		verdict TEXT NOT NULL,
		risk_score REAL NOT NULL DEFAULT 0,
		arguments_json TEXT,
		previous_hash TEXT NOT NULL,
		hash TEXT NOT NULL,
		response_status TEXT,
		error_message TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_audit_log_tool ON audit_log(tool);
	CREATE INDEX IF NOT EXISTS idx_audit_log_host ON audit_log(host);
	CREATE INDEX IF NOT EXISTS idx_audit_log_agent ON audit_log(agent);
	CREATE INDEX IF NOT EXISTS idx_audit_log_verdict ON audit_log(verdict);
	CREATE INDEX IF NOT EXISTS idx_audit_log_ts ON audit_log(ts);
	CREATE INDEX IF NOT EXISTS idx_audit_log_host_ts ON audit_log(host, ts);
	`
	_, err := d.Write.Exec(schema)
	return err
}
