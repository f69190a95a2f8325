package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/sentinelgate/sentinel/internal/domain/sentinel/audit"
)

// auditCacheSize bounds the in-memory ring buffer of recently appended
// entries, mirroring the teacher's auditCache ring buffer ahead of its
// slower persistent log. Append and SetResponse keep it current; no read
// path consults it, and admin queries read from the database.
const auditCacheSize = 256

// AuditStore implements audit.Store and audit.QueryStore against the
// audit_log table. Append computes Sequence/PreviousHash/Hash from the
// current chain tail inside one write transaction, so the sequence
// number assignment and the insert are atomic -- no other writer can
// observe or extend the tail in between.
type AuditStore struct {
	db *DB

	mu    sync.Mutex
	cache []audit.Entry // most-recent last, bounded to auditCacheSize
}

func NewAuditStore(db *DB) *AuditStore { return &AuditStore{db: db} }

func (s *AuditStore) Append(ctx context.Context, e audit.Entry) (int64, error) {
	tx, err := s.db.Write.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: beginning audit append: %w", err)
	}
	defer tx.Rollback()

	var lastSeq sql.NullInt64
	var lastHash sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT sequence_number, hash FROM audit_log ORDER BY sequence_number DESC LIMIT 1`,
	).Scan(&lastSeq, &lastHash)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("sqlstore: reading audit chain tail: %w", err)
	}

	previousHash := audit.Genesis
	sequence := int64(1)
	if lastSeq.Valid {
		sequence = lastSeq.Int64 + 1
		previousHash = lastHash.String
	}

	hash := audit.ComputeHash(sequence, e.Timestamp, e.Tool, e.Host, e.Agent, e.Verdict, previousHash)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_log (sequence_number, ts, tool, host, agent, verdict, risk_score,
		                        arguments_json, previous_hash, hash, response_status, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL)`,
		sequence, e.Timestamp, e.Tool, e.Host, e.Agent, e.Verdict, e.RiskScore,
		nullableString(e.ArgumentsJSON), previousHash, hash,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: inserting audit entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlstore: committing audit append: %w", err)
	}

	e.Sequence = sequence
	e.PreviousHash = previousHash
	e.Hash = hash
	s.pushCache(e)

	return sequence, nil
}

func (s *AuditStore) SetResponse(ctx context.Context, sequence int64, status, errorMessage string) error {
	_, err := s.db.Write.ExecContext(ctx, `
		UPDATE audit_log SET response_status = ?, error_message = ? WHERE sequence_number = ?`,
		status, errorMessage, sequence)
	if err != nil {
		return fmt.Errorf("sqlstore: setting audit response for sequence %d: %w", sequence, err)
	}

	s.mu.Lock()
	for i := range s.cache {
		if s.cache[i].Sequence == sequence {
			s.cache[i].ResponseStatus = status
			s.cache[i].ErrorMessage = errorMessage
			break
		}
	}
	s.mu.Unlock()

	return nil
}

func (s *AuditStore) RecentStats(ctx context.Context, tool, host string, since, asOf time.Time) (ops, errored int, err error) {
	var errCount sql.NullInt64
	err = s.db.Read.QueryRowContext(ctx, `
		SELECT COUNT(*), SUM(CASE WHEN response_status = ? THEN 1 ELSE 0 END)
		FROM audit_log WHERE tool = ? AND host = ? AND ts > ? AND ts <= ?`,
		audit.ResponseStatusError, tool, host, since, asOf,
	).Scan(&ops, &errCount)
	if err != nil {
		return 0, 0, fmt.Errorf("sqlstore: reading recent audit stats for %s@%s: %w", tool, host, err)
	}
	return ops, int(errCount.Int64), nil
}

func (s *AuditStore) LastForHost(ctx context.Context, host string, asOf time.Time) (audit.Entry, bool, error) {
	row := s.db.Read.QueryRowContext(ctx, `
		SELECT sequence_number, ts, tool, host, agent, verdict, risk_score, arguments_json,
		       previous_hash, hash, response_status, error_message
		FROM audit_log WHERE host = ? AND ts < ? ORDER BY sequence_number DESC LIMIT 1`,
		host, asOf)

	e, err := scanAuditEntry(row)
	if err == sql.ErrNoRows {
		return audit.Entry{}, false, nil
	}
	if err != nil {
		return audit.Entry{}, false, fmt.Errorf("sqlstore: reading last audit entry for host %s: %w", host, err)
	}
	return *e, true, nil
}

func (s *AuditStore) Flush(ctx context.Context) error { return nil }

func (s *AuditStore) Close() error { return nil }

func (s *AuditStore) pushCache(e audit.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = append(s.cache, e)
	if len(s.cache) > auditCacheSize {
		s.cache = s.cache[len(s.cache)-auditCacheSize:]
	}
}

func (s *AuditStore) Query(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	query := `
		SELECT sequence_number, ts, tool, host, agent, verdict, risk_score, arguments_json,
		       previous_hash, hash, response_status, error_message
		FROM audit_log WHERE ts >= ? AND ts <= ?`
	args := []interface{}{filter.StartTime, filter.EndTime}

	if filter.Tool != "" {
		query += " AND tool = ?"
		args = append(args, filter.Tool)
	}
	if filter.Host != "" {
		query += " AND host = ?"
		args = append(args, filter.Host)
	}
	if filter.Agent != "" {
		query += " AND agent = ?"
		args = append(args, filter.Agent)
	}
	if filter.Verdict != "" {
		query += " AND verdict = ?"
		args = append(args, filter.Verdict)
	}
	query += " ORDER BY sequence_number DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.Read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: querying audit log: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (s *AuditStore) AllOrdered(ctx context.Context) ([]audit.Entry, error) {
	rows, err := s.db.Read.QueryContext(ctx, `
		SELECT sequence_number, ts, tool, host, agent, verdict, risk_score, arguments_json,
		       previous_hash, hash, response_status, error_message
		FROM audit_log ORDER BY sequence_number ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: reading full audit chain: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func scanAuditEntry(row rowScanner) (*audit.Entry, error) {
	var e audit.Entry
	var argsJSON, responseStatus, errorMessage sql.NullString

	if err := row.Scan(&e.Sequence, &e.Timestamp, &e.Tool, &e.Host, &e.Agent, &e.Verdict, &e.RiskScore,
		&argsJSON, &e.PreviousHash, &e.Hash, &responseStatus, &errorMessage); err != nil {
		return nil, err
	}
	if argsJSON.Valid {
		e.ArgumentsJSON = []byte(argsJSON.String)
	}
	e.ResponseStatus = responseStatus.String
	e.ErrorMessage = errorMessage.String
	return &e, nil
}
