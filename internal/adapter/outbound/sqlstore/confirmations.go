package sqlstore

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sentinelgate/sentinel/internal/domain/sentinel/policy"
)

// ConfirmationStore implements policy.ConfirmationStore against the
// confirmation_tokens table. Validate runs its load-check-mark-used
// sequence inside a single write transaction so two concurrent retries
// of the same token can never both succeed.
type ConfirmationStore struct {
	db *DB
}

func NewConfirmationStore(db *DB) *ConfirmationStore { return &ConfirmationStore{db: db} }

func (s *ConfirmationStore) Mint(ctx context.Context, tool, host, agent string, arguments map[string]interface{}, ttl time.Duration) (*policy.ConfirmationToken, error) {
	token, err := randomToken()
	if err != nil {
		return nil, fmt.Errorf("sqlstore: generating confirmation token: %w", err)
	}

	argsJSON, err := json.Marshal(arguments)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: marshaling confirmation arguments: %w", err)
	}

	now := time.Now()
	t := &policy.ConfirmationToken{
		Token:     token,
		Tool:      tool,
		Host:      host,
		Agent:     agent,
		Arguments: arguments,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	_, err = s.db.Write.ExecContext(ctx, `
		INSERT INTO confirmation_tokens (token, tool, host, agent, arguments, created_at, expires_at, used)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
		t.Token, t.Tool, t.Host, t.Agent, string(argsJSON), t.CreatedAt, t.ExpiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: minting confirmation token: %w", err)
	}
	return t, nil
}

func (s *ConfirmationStore) Validate(ctx context.Context, token, tool, host, agent string) (bool, error) {
	tx, err := s.db.Write.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("sqlstore: beginning confirmation validation: %w", err)
	}
	defer tx.Rollback()

	var dbTool, dbHost, dbAgent string
	var used int
	var expiresAt time.Time
	err = tx.QueryRowContext(ctx, `
		SELECT tool, host, agent, used, expires_at FROM confirmation_tokens WHERE token = ?`, token,
	).Scan(&dbTool, &dbHost, &dbAgent, &used, &expiresAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlstore: loading confirmation token: %w", err)
	}

	if used != 0 || !expiresAt.After(time.Now()) || dbTool != tool || dbHost != host || dbAgent != agent {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `UPDATE confirmation_tokens SET used = 1 WHERE token = ?`, token); err != nil {
		return false, fmt.Errorf("sqlstore: marking confirmation token used: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("sqlstore: committing confirmation validation: %w", err)
	}
	return true, nil
}

func randomToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
