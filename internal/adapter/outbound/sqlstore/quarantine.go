package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sentinelgate/sentinel/internal/domain/sentinel/policy"
)

// QuarantineStore implements policy.QuarantineStore against the
// quarantine table. Expired entries are swept lazily on read, matching
// the teacher's pattern of sweeping stale state at lookup time rather
// than running a background janitor.
type QuarantineStore struct {
	db *DB
}

func NewQuarantineStore(db *DB) *QuarantineStore { return &QuarantineStore{db: db} }

func (s *QuarantineStore) IsQuarantined(ctx context.Context, scope policy.QuarantineScope, target string) (*policy.QuarantineEntry, error) {
	row := s.db.Read.QueryRowContext(ctx, `
		SELECT scope, target, reason, created_at, expires_at, created_by
		FROM quarantine WHERE scope = ? AND target = ?`, string(scope), target)

	e, err := scanQuarantineEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: loading quarantine entry: %w", err)
	}

	if e.ExpiresAt != nil && !e.ExpiresAt.After(time.Now()) {
		if delErr := s.Delete(ctx, scope, target); delErr != nil {
			return nil, delErr
		}
		return nil, nil
	}
	return e, nil
}

func (s *QuarantineStore) Upsert(ctx context.Context, e policy.QuarantineEntry) error {
	_, err := s.db.Write.ExecContext(ctx, `
		INSERT INTO quarantine (scope, target, reason, created_at, expires_at, created_by)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(scope, target) DO UPDATE SET
			reason=excluded.reason, expires_at=excluded.expires_at, created_by=excluded.created_by`,
		string(e.Scope), e.Target, e.Reason, e.CreatedAt, nullableTime(e.ExpiresAt), e.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: upserting quarantine entry: %w", err)
	}
	return nil
}

func (s *QuarantineStore) Delete(ctx context.Context, scope policy.QuarantineScope, target string) error {
	_, err := s.db.Write.ExecContext(ctx, `DELETE FROM quarantine WHERE scope = ? AND target = ?`, string(scope), target)
	if err != nil {
		return fmt.Errorf("sqlstore: deleting quarantine entry: %w", err)
	}
	return nil
}

func (s *QuarantineStore) List(ctx context.Context) ([]policy.QuarantineEntry, error) {
	rows, err := s.db.Read.QueryContext(ctx, `
		SELECT scope, target, reason, created_at, expires_at, created_by FROM quarantine`)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: listing quarantine entries: %w", err)
	}
	defer rows.Close()

	now := time.Now()
	var expired []policy.QuarantineEntry
	var live []policy.QuarantineEntry
	for rows.Next() {
		e, err := scanQuarantineEntry(rows)
		if err != nil {
			return nil, err
		}
		if e.ExpiresAt != nil && !e.ExpiresAt.After(now) {
			expired = append(expired, *e)
			continue
		}
		live = append(live, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, e := range expired {
		if err := s.Delete(ctx, e.Scope, e.Target); err != nil {
			return nil, err
		}
	}
	return live, nil
}

func scanQuarantineEntry(row rowScanner) (*policy.QuarantineEntry, error) {
	var e policy.QuarantineEntry
	var scope string
	var expiresAt sql.NullTime

	if err := row.Scan(&scope, &e.Target, &e.Reason, &e.CreatedAt, &expiresAt, &e.CreatedBy); err != nil {
		return nil, err
	}
	e.Scope = policy.QuarantineScope(scope)
	if expiresAt.Valid {
		t := expiresAt.Time
		e.ExpiresAt = &t
	}
	return &e, nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
