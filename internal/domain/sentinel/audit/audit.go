// Package audit implements the append-only, SHA-256 hash-chained,
// write-ahead audit log. The interface split (AuditStore for the hot
// write path, AuditQueryStore for admin reads) mirrors the teacher's own
// domain/audit package, but the storage model underneath is replaced: a
// gapless, hash-chained sequence persisted in SQLite instead of the
// teacher's unordered, unchained ring-buffer-plus-JSONL design.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Genesis is the previous_hash value of the first entry in a chain.
const Genesis = "GENESIS"

const (
	VerdictAllowed = "allowed"
	VerdictDenied  = "denied"
	VerdictAsked   = "asked"
)

const (
	ResponseStatusOK      = "success"
	ResponseStatusError   = "error"
	ResponseStatusTimeout = "timeout"
)

// Entry is one row of the audit chain. Hash covers Sequence, Timestamp,
// Tool, Host, Agent, Verdict, and PreviousHash only -- ResponseStatus and
// ErrorMessage are set later, by the late-update path, and are
// deliberately excluded from the hash so that update does not require
// rehashing or breaking the chain.
type Entry struct {
	Sequence      int64
	Timestamp     time.Time
	Tool          string
	Host          string
	Agent         string
	Verdict       string
	RiskScore     float64
	ArgumentsJSON []byte // canonical, redacted JSON of ctx.arguments
	PreviousHash  string
	Hash          string

	ResponseStatus string // empty until the late update
	ErrorMessage   string
}

// ComputeHash returns the hash for an entry with the given fields, using
// the exact wire format required for chain verification across any
// implementation: seq|ts_unixnano|tool|host|agent|verdict|previous_hash,
// decimal integers, the literal byte '|' as separator, no whitespace.
func ComputeHash(sequence int64, ts time.Time, tool, host, agent, verdict, previousHash string) string {
	input := strconv.FormatInt(sequence, 10) + "|" +
		strconv.FormatInt(ts.UnixNano(), 10) + "|" +
		tool + "|" + host + "|" + agent + "|" + verdict + "|" + previousHash
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// VerdictString chooses the persisted verdict label from a decision's
// three booleans, per the write-path rule: asked takes priority over
// allowed/denied since a rule can be both "not allowed yet" and "requires
// confirmation" at once.
func VerdictString(allowed, requiresConfirmation bool) string {
	if requiresConfirmation {
		return VerdictAsked
	}
	if allowed {
		return VerdictAllowed
	}
	return VerdictDenied
}

// Store is the hot write-path interface: append new entries (write-ahead,
// before any forwarding side effect is attempted), and patch in the
// late-arriving response status. Implementations must serialize the
// read-last-sequence-then-insert sequence so sequence numbers never gap
// or race under concurrent requests.
type Store interface {
	// Append computes Sequence, PreviousHash, and Hash internally from the
	// store's current chain tail and persists the entry, returning the
	// sequence number assigned. ResponseStatus must be empty on insert.
	Append(ctx context.Context, e Entry) (sequence int64, err error)

	// SetResponse patches ResponseStatus/ErrorMessage onto the entry at
	// sequence, without touching Hash or any hashed field.
	SetResponse(ctx context.Context, sequence int64, status, errorMessage string) error

	// RecentStats returns the op count and the count of ops whose
	// response_status is "error", for tool and host, with timestamps in
	// (since, asOf]. Feeds the anomaly detector's frequency and error-rate
	// components, which score ops_last_hour and error_rate_last_hour
	// against a learned per-(tool,host) baseline.
	RecentStats(ctx context.Context, tool, host string, since, asOf time.Time) (ops, errored int, err error)

	// LastForHost returns the most recent entry recorded for host with a
	// timestamp strictly before asOf, or ok=false if the host has none.
	// Feeds the anomaly detector's sequence component: prev_tool is the
	// tool of the host's last entry, independent of the tool being
	// scored.
	LastForHost(ctx context.Context, host string, asOf time.Time) (entry Entry, ok bool, err error)

	Flush(ctx context.Context) error
	Close() error
}

// Filter narrows a Query call. Zero values mean "no constraint" for that
// field except StartTime/EndTime, which are both required.
type Filter struct {
	Tool      string
	Host      string
	Agent     string
	Verdict   string
	StartTime time.Time
	EndTime   time.Time
	Limit     int
	Offset    int
}

// QueryStore is the read-side interface for admin queries and chain
// verification, kept separate from Store per the teacher's own
// AuditStore/AuditQueryStore split.
type QueryStore interface {
	// Query returns entries matching filter, ordered by sequence_number
	// descending.
	Query(ctx context.Context, filter Filter) ([]Entry, error)

	// AllOrdered streams every entry in sequence_number ascending order,
	// for Verify to walk.
	AllOrdered(ctx context.Context) ([]Entry, error)
}

// Break describes one discontinuity found by Verify.
type Break struct {
	Sequence     int64
	ExpectedHash string
	ActualHash   string
	Reason       string
}

// ErrEmptyChain describes an audit chain with no entries. Verify does not
// return it: an empty chain is trivially valid, and Verify reports no
// breaks for it.
var ErrEmptyChain = errors.New("audit: chain is empty")

// Verify walks entries in sequence order, checking gaplessness, the
// previous_hash linkage (the first entry's previous_hash must equal
// Genesis), and that each entry's recomputed hash matches its stored
// hash. It returns every break found rather than stopping at the first.
func Verify(entries []Entry) []Break {
	var breaks []Break
	prevHash := Genesis
	var expectedSeq int64 = 1

	for _, e := range entries {
		if e.Sequence != expectedSeq {
			breaks = append(breaks, Break{
				Sequence:     e.Sequence,
				ExpectedHash: "",
				ActualHash:   "",
				Reason:       fmt.Sprintf("sequence gap: expected %d, got %d", expectedSeq, e.Sequence),
			})
		}
		if e.PreviousHash != prevHash {
			breaks = append(breaks, Break{
				Sequence:     e.Sequence,
				ExpectedHash: prevHash,
				ActualHash:   e.PreviousHash,
				Reason:       "previous_hash linkage broken",
			})
		}

		want := ComputeHash(e.Sequence, e.Timestamp, e.Tool, e.Host, e.Agent, e.Verdict, e.PreviousHash)
		if want != e.Hash {
			breaks = append(breaks, Break{
				Sequence:     e.Sequence,
				ExpectedHash: want,
				ActualHash:   e.Hash,
				Reason:       "hash mismatch",
			})
		}

		prevHash = e.Hash
		expectedSeq = e.Sequence + 1
	}
	return breaks
}
