package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/sentinelgate/sentinel/internal/domain/sentinel/policy"
)

// RuleStore implements policy.RuleStore against the rules table.
type RuleStore struct {
	db *DB
}

// NewRuleStore wraps db.
func NewRuleStore(db *DB) *RuleStore { return &RuleStore{db: db} }

func (s *RuleStore) EnabledRules(ctx context.Context) ([]policy.Rule, error) {
	rows, err := s.db.Read.QueryContext(ctx, `
		SELECT id, name, priority, action, enabled, tool_pattern, host_pattern, agent_pattern,
		       argument_pattern, condition, rate_limit, schedule, created_at, updated_at
		FROM rules WHERE enabled = 1 ORDER BY priority ASC, created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: listing enabled rules: %w", err)
	}
	defer rows.Close()

	var rules []policy.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *r)
	}
	return rules, rows.Err()
}

func (s *RuleStore) Rule(ctx context.Context, id string) (*policy.Rule, error) {
	row := s.db.Read.QueryRowContext(ctx, `
		SELECT id, name, priority, action, enabled, tool_pattern, host_pattern, agent_pattern,
		       argument_pattern, condition, rate_limit, schedule, created_at, updated_at
		FROM rules WHERE id = ?`, id)
	r, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, policy.ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: loading rule %s: %w", id, err)
	}
	return r, nil
}

func (s *RuleStore) SaveRule(ctx context.Context, r *policy.Rule) error {
	var rateLimitJSON, scheduleJSON []byte
	var err error
	if r.RateLimit != nil {
		rateLimitJSON, err = json.Marshal(r.RateLimit)
		if err != nil {
			return fmt.Errorf("sqlstore: marshaling rate limit: %w", err)
		}
	}
	if r.Schedule != nil {
		scheduleJSON, err = json.Marshal(r.Schedule)
		if err != nil {
			return fmt.Errorf("sqlstore: marshaling schedule: %w", err)
		}
	}

	enabled := 0
	if r.Enabled {
		enabled = 1
	}

	_, err = s.db.Write.ExecContext(ctx, `
		INSERT INTO rules (id, name, priority, action, enabled, tool_pattern, host_pattern, agent_pattern,
		                    argument_pattern, condition, rate_limit, schedule, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, priority=excluded.priority, action=excluded.action, enabled=excluded.enabled,
			tool_pattern=excluded.tool_pattern, host_pattern=excluded.host_pattern, agent_pattern=excluded.agent_pattern,
			argument_pattern=excluded.argument_pattern, condition=excluded.condition,
			rate_limit=excluded.rate_limit, schedule=excluded.schedule, updated_at=excluded.updated_at`,
		r.ID, r.Name, r.Priority, string(r.Action), enabled, r.ToolPattern, r.HostPattern, r.AgentPattern,
		r.ArgumentPattern, r.Condition, nullableString(rateLimitJSON), nullableString(scheduleJSON),
		r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: saving rule %s: %w", r.ID, err)
	}
	return nil
}

func (s *RuleStore) DeleteRule(ctx context.Context, id string) error {
	_, err := s.db.Write.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlstore: deleting rule %s: %w", id, err)
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (*policy.Rule, error) {
	var r policy.Rule
	var action string
	var enabled int
	var rateLimitJSON, scheduleJSON sql.NullString

	if err := row.Scan(&r.ID, &r.Name, &r.Priority, &action, &enabled, &r.ToolPattern, &r.HostPattern,
		&r.AgentPattern, &r.ArgumentPattern, &r.Condition, &rateLimitJSON, &scheduleJSON,
		&r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}

	r.Action = policy.Action(action)
	r.Enabled = enabled != 0

	if rateLimitJSON.Valid && rateLimitJSON.String != "" {
		var rl policy.RateLimitSpec
		if err := json.Unmarshal([]byte(rateLimitJSON.String), &rl); err != nil {
			return nil, fmt.Errorf("sqlstore: unmarshaling rate limit for rule %s: %w", r.ID, err)
		}
		r.RateLimit = &rl
	}
	if scheduleJSON.Valid && scheduleJSON.String != "" {
		var sched policy.Schedule
		if err := json.Unmarshal([]byte(scheduleJSON.String), &sched); err != nil {
			return nil, fmt.Errorf("sqlstore: unmarshaling schedule for rule %s: %w", r.ID, err)
		}
		r.Schedule = &sched
	}
	return &r, nil
}

func nullableString(b []byte) interface{} {
	if b == nil {
		return nil
	}
	return string(b)
}
