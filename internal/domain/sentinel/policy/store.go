package policy

import (
	"context"
	"time"
)

// RuleStore persists and retrieves firewall rules. Reads must be strongly
// consistent: the engine never caches rules across evaluations, so every
// request sees the latest operator-committed state.
type RuleStore interface {
	// EnabledRules returns all enabled rules ordered by priority ascending,
	// then created_at ascending -- exactly the order step 4 iterates.
	EnabledRules(ctx context.Context) ([]Rule, error)
	Rule(ctx context.Context, id string) (*Rule, error)
	SaveRule(ctx context.Context, r *Rule) error
	DeleteRule(ctx context.Context, id string) error
}

// QuarantineScope identifies what kind of identifier a quarantine entry
// targets.
type QuarantineScope string

const (
	ScopeHost  QuarantineScope = "host"
	ScopeTool  QuarantineScope = "tool"
	ScopeAgent QuarantineScope = "agent"
)

// QuarantineEntry blocks all traffic matching (Scope, Target).
type QuarantineEntry struct {
	Scope     QuarantineScope
	Target    string
	Reason    string
	CreatedAt time.Time
	ExpiresAt *time.Time
	CreatedBy string
}

// QuarantineStore is the CRUD + lookup surface for quarantine entries.
// Inserts are upsert-by-(scope,target). Listing and lookup sweep expired
// entries first.
type QuarantineStore interface {
	// IsQuarantined reports whether (scope, target) is currently
	// quarantined, sweeping the entry out first if it has expired. Match
	// is case-sensitive and exact -- no normalization of target strings.
	IsQuarantined(ctx context.Context, scope QuarantineScope, target string) (*QuarantineEntry, error)
	Upsert(ctx context.Context, e QuarantineEntry) error
	Delete(ctx context.Context, scope QuarantineScope, target string) error
	List(ctx context.Context) ([]QuarantineEntry, error)
}

// ConfirmationToken is a single-use bearer value minted when a rule with
// action ask matches (or the engine defaults to ask in alert mode).
type ConfirmationToken struct {
	Token     string
	Tool      string
	Host      string
	Agent     string
	Arguments map[string]interface{}
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
}

// DefaultConfirmationTTL is the default token lifetime when none is
// specified at mint time.
const DefaultConfirmationTTL = 5 * time.Minute

// ConfirmationStore mints and atomically validates confirmation tokens.
type ConfirmationStore interface {
	Mint(ctx context.Context, tool, host, agent string, arguments map[string]interface{}, ttl time.Duration) (*ConfirmationToken, error)
	// Validate atomically loads by token, checks unused + unexpired +
	// exact (tool, host, agent) match, marks it used, and returns true.
	// Any failed check returns false without mutating the token.
	Validate(ctx context.Context, token, tool, host, agent string) (bool, error)
}
