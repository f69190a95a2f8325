package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sentinelgate/sentinel/internal/domain/sentinel/ratelimit"
)

// RateLimitStore implements ratelimit.Store against the
// rate_limit_buckets table, one row per (rule, tool, host, agent) key.
type RateLimitStore struct {
	db *DB
}

func NewRateLimitStore(db *DB) *RateLimitStore { return &RateLimitStore{db: db} }

func (s *RateLimitStore) Get(ctx context.Context, key ratelimit.Key) (*ratelimit.Bucket, error) {
	row := s.db.Read.QueryRowContext(ctx, `
		SELECT rule_id, tool, host, agent, tokens, updated_at
		FROM rate_limit_buckets WHERE rule_id = ? AND tool = ? AND host = ? AND agent = ?`,
		key.RuleID, key.Tool, key.Host, key.Agent)

	var b ratelimit.Bucket
	err := row.Scan(&b.Key.RuleID, &b.Key.Tool, &b.Key.Host, &b.Key.Agent, &b.Tokens, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: loading rate limit bucket: %w", err)
	}
	return &b, nil
}

func (s *RateLimitStore) Put(ctx context.Context, b ratelimit.Bucket) error {
	_, err := s.db.Write.ExecContext(ctx, `
		INSERT INTO rate_limit_buckets (rule_id, tool, host, agent, tokens, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(rule_id, tool, host, agent) DO UPDATE SET
			tokens=excluded.tokens, updated_at=excluded.updated_at`,
		b.Key.RuleID, b.Key.Tool, b.Key.Host, b.Key.Agent, b.Tokens, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: saving rate limit bucket: %w", err)
	}
	return nil
}
