package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sentinelgate/sentinel/internal/domain/sentinel/breaker"
)

// BreakerStore implements breaker.Store against the circuit_breaker
// table, one row per host.
type BreakerStore struct {
	db *DB
}

func NewBreakerStore(db *DB) *BreakerStore { return &BreakerStore{db: db} }

func (s *BreakerStore) Get(ctx context.Context, host string) (*breaker.Record, error) {
	row := s.db.Read.QueryRowContext(ctx, `
		SELECT host, state, failure_count, last_failure, last_success, opened_at, half_open_at
		FROM circuit_breaker WHERE host = ?`, host)

	var r breaker.Record
	var state string
	var lastFailure, lastSuccess, openedAt, halfOpenAt sql.NullTime

	err := row.Scan(&r.Host, &state, &r.FailureCount, &lastFailure, &lastSuccess, &openedAt, &halfOpenAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: loading circuit breaker state for %s: %w", host, err)
	}

	r.State = breaker.State(state)
	r.LastFailure = nullTimePtr(lastFailure)
	r.LastSuccess = nullTimePtr(lastSuccess)
	r.OpenedAt = nullTimePtr(openedAt)
	r.HalfOpenAt = nullTimePtr(halfOpenAt)
	return &r, nil
}

func (s *BreakerStore) Put(ctx context.Context, r breaker.Record) error {
	_, err := s.db.Write.ExecContext(ctx, `
		INSERT INTO circuit_breaker (host, state, failure_count, last_failure, last_success, opened_at, half_open_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(host) DO UPDATE SET
			state=excluded.state, failure_count=excluded.failure_count, last_failure=excluded.last_failure,
			last_success=excluded.last_success, opened_at=excluded.opened_at, half_open_at=excluded.half_open_at`,
		r.Host, string(r.State), r.FailureCount, nullableTime(r.LastFailure), nullableTime(r.LastSuccess),
		nullableTime(r.OpenedAt), nullableTime(r.HalfOpenAt),
	)
	if err != nil {
		return fmt.Errorf("sqlstore: saving circuit breaker state for %s: %w", r.Host, err)
	}
	return nil
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
