package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
)

// ConfigStore persists the process-global key/value settings table --
// at minimum the current mode, per the persisted state layout. Anomaly
// thresholds are not stored here: the detector's five component weights
// are fixed package constants, not operator-configurable (see
// internal/domain/sentinel/anomaly), so the only key this module writes
// today is "mode".
type ConfigStore struct {
	db *DB
}

// NewConfigStore wraps db.
func NewConfigStore(db *DB) *ConfigStore { return &ConfigStore{db: db} }

// Get returns the persisted value for key, or ok=false if unset.
func (s *ConfigStore) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	row := s.db.Read.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key)
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("sqlstore: reading config key %q: %w", key, err)
	}
	return value, true, nil
}

// Set upserts key's value.
func (s *ConfigStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.Write.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("sqlstore: writing config key %q: %w", key, err)
	}
	return nil
}
