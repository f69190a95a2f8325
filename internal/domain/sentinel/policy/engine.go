package policy

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Engine evaluates a Context against the 7-step order. The engine itself
// holds no state beyond its dependencies -- all mutable state (rules,
// quarantine, tokens, breaker, buckets) lives behind the injected
// interfaces, so one Engine is safe to share across concurrent requests
// as long as those stores serialize their own read-modify-write
// sequences.
type Engine struct {
	rules         RuleStore
	quarantine    QuarantineStore
	confirmations ConfirmationStore
	breaker       BreakerGate
	rateLimit     RateLimitGate
	condition     ConditionEvaluator
}

// New builds an Engine. condition may be nil; a rule with a non-empty
// Condition then fails to match (the predicate cannot be evaluated, so it
// is treated as not satisfied rather than silently ignored).
func New(rules RuleStore, quarantine QuarantineStore, confirmations ConfirmationStore, breaker BreakerGate, rateLimit RateLimitGate, condition ConditionEvaluator) *Engine {
	return &Engine{
		rules:         rules,
		quarantine:    quarantine,
		confirmations: confirmations,
		breaker:       breaker,
		rateLimit:     rateLimit,
		condition:     condition,
	}
}

// Evaluate runs the 7-step order for ctx under mode, folding anomalyScore
// (0 when anomaly detection supplied nothing) and any extraRiskFactors
// gathered upstream (e.g. static tool classification) into the returned
// Verdict's risk annotation. The first step that produces a verdict
// short-circuits every later step; ordering is load-bearing.
func (e *Engine) Evaluate(ctx context.Context, rc Context, mode Mode, anomalyScore float64, extraRiskFactors []RiskFactor) (Verdict, error) {
	// Step 1: circuit-breaker gate.
	if e.breaker != nil {
		ok, retryAfter, err := e.breaker.Allowed(ctx, rc.Host, rc.Timestamp)
		if err != nil {
			return Verdict{}, fmt.Errorf("policy: circuit breaker check: %w", err)
		}
		if !ok {
			return Verdict{
				Allowed:    false,
				Action:     ActionDeny,
				Reason:     "circuit breaker open",
				RiskScore:  100,
				RetryAfter: retryAfter,
			}, nil
		}
	}

	// Step 2: quarantine gate, host -> tool -> agent.
	if e.quarantine != nil {
		for _, check := range []struct {
			scope  QuarantineScope
			target string
		}{
			{ScopeHost, rc.Host},
			{ScopeTool, rc.Tool},
			{ScopeAgent, rc.Agent},
		} {
			entry, err := e.quarantine.IsQuarantined(ctx, check.scope, check.target)
			if err != nil {
				return Verdict{}, fmt.Errorf("policy: quarantine check: %w", err)
			}
			if entry != nil {
				return Verdict{
					Allowed:   false,
					Action:    ActionDeny,
					Reason:    fmt.Sprintf("%s %q is quarantined: %s", check.scope, check.target, entry.Reason),
					RiskScore: 100,
				}, nil
			}
		}
	}

	// Step 3: mode gate.
	if mode == ModeLockdown {
		lower := strings.ToLower(rc.Tool)
		if strings.Contains(lower, "health") || strings.Contains(lower, "status") {
			return Verdict{Allowed: true, Action: ActionAllow, Reason: "lockdown health/status exemption", RiskScore: 0}, nil
		}
		return Verdict{Allowed: false, Action: ActionDeny, Reason: "lockdown mode", RiskScore: 100}, nil
	}

	// Step 4: rule match.
	rules, err := e.rules.EnabledRules(ctx)
	if err != nil {
		return Verdict{}, fmt.Errorf("policy: loading rules: %w", err)
	}

	var matched *Rule
	for i := range rules {
		r := &rules[i]
		ok, err := e.ruleMatches(ctx, r, rc)
		if err != nil {
			return Verdict{}, fmt.Errorf("policy: evaluating rule %s: %w", r.ID, err)
		}
		if ok {
			matched = r
			break
		}
	}

	var verdict Verdict
	if matched == nil {
		// Step 7: default for unmatched rule (lockdown already handled).
		verdict = e.defaultVerdict(mode)
	} else if matched.Action == ActionAsk && rc.ConfirmationToken != "" && e.confirmations != nil {
		valid, err := e.confirmations.Validate(ctx, rc.ConfirmationToken, rc.Tool, rc.Host, rc.Agent)
		if err != nil {
			return Verdict{}, fmt.Errorf("policy: validating confirmation token: %w", err)
		}
		if valid {
			verdict = Verdict{Allowed: true, Action: ActionAllow, Reason: "confirmed via token", MatchedRuleID: matched.ID}
		} else {
			verdict = verdictForAction(matched.Action, matched.ID)
		}
	} else {
		verdict = verdictForAction(matched.Action, matched.ID)
	}

	// Step 5: rate limit, only when a rule matched and carries a limit.
	if matched != nil && matched.RateLimit != nil && e.rateLimit != nil && verdict.Action != ActionDeny {
		ok, retryAfter, err := e.rateLimit.Allow(ctx, matched.ID, rc.Tool, rc.Host, rc.Agent, *matched.RateLimit, rc.Timestamp)
		if err != nil {
			return Verdict{}, fmt.Errorf("policy: rate limit check: %w", err)
		}
		if !ok {
			verdict = Verdict{
				Allowed:       false,
				Action:        ActionDeny,
				Reason:        "rate limited",
				MatchedRuleID: matched.ID,
				RetryAfter:    retryAfter,
			}
		}
	}

	// Step 6: anomaly score fold-in. Never changes allowed/action, only
	// the risk annotation.
	e.foldInRisk(&verdict, anomalyScore, extraRiskFactors)

	return verdict, nil
}

func verdictForAction(action Action, ruleID string) Verdict {
	v := Verdict{Action: action, MatchedRuleID: ruleID}
	switch action {
	case ActionAllow, ActionLogOnly:
		v.Allowed = true
		v.Reason = "matched rule"
	case ActionDeny:
		v.Allowed = false
		v.Reason = "matched rule"
	case ActionAsk:
		v.Allowed = false
		v.Reason = "matched rule"
		v.RequiresConfirmation = true
	}
	return v
}

func (e *Engine) defaultVerdict(mode Mode) Verdict {
	switch mode {
	case ModeSilentAllow:
		return Verdict{Allowed: true, Action: ActionAllow, Reason: "default allow (silent-allow mode, no rule matched)"}
	case ModeSilentDeny:
		return Verdict{Allowed: false, Action: ActionDeny, Reason: "default deny (silent-deny mode, no rule matched)"}
	case ModeAlert:
		return Verdict{Allowed: false, Action: ActionAsk, Reason: "default ask (alert mode, no rule matched)", RequiresConfirmation: true}
	default:
		return Verdict{Allowed: false, Action: ActionDeny, Reason: "default deny (unknown mode, no rule matched)"}
	}
}

// MintConfirmation mints and attaches a confirmation token to verdict in
// place. Kept out of Evaluate so token minting -- which has side effects
// and a TTL choice -- stays an explicit, separately-testable step for
// callers that received a verdict with RequiresConfirmation set. ttl of
// zero uses DefaultConfirmationTTL.
func (e *Engine) MintConfirmation(ctx context.Context, verdict *Verdict, rc Context, ttl time.Duration) error {
	if e.confirmations == nil {
		return fmt.Errorf("policy: no confirmation store configured")
	}
	if ttl <= 0 {
		ttl = DefaultConfirmationTTL
	}
	token, err := e.confirmations.Mint(ctx, rc.Tool, rc.Host, rc.Agent, rc.Arguments, ttl)
	if err != nil {
		return fmt.Errorf("policy: minting confirmation token: %w", err)
	}
	verdict.ConfirmationToken = token.Token
	return nil
}

func (e *Engine) foldInRisk(v *Verdict, anomalyScore float64, extra []RiskFactor) {
	v.RiskFactors = append(v.RiskFactors, extra...)

	if anomalyScore == 0 && len(extra) == 0 {
		return
	}

	if len(extra) == 0 {
		v.RiskScore = anomalyScore
		return
	}

	var sum float64
	for _, f := range extra {
		sum += f.Score
	}
	mean := sum / float64(len(extra))
	v.RiskScore = 0.6*anomalyScore + 0.4*mean
}

func (e *Engine) ruleMatches(ctx context.Context, r *Rule, rc Context) (bool, error) {
	if !matchGlob(r.ToolPattern, rc.Tool) {
		return false, nil
	}
	if !matchGlob(r.HostPattern, rc.Host) {
		return false, nil
	}
	if !matchGlob(r.AgentPattern, rc.Agent) {
		return false, nil
	}
	if r.ArgumentPattern != "" {
		ok, err := matchArgumentPattern(r.ArgumentPattern, rc.Arguments)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	if r.Schedule != nil && !scheduleMatches(r.Schedule, rc.Timestamp) {
		return false, nil
	}
	if r.Condition != "" {
		if e.condition == nil {
			return false, nil
		}
		ok, err := e.condition.Evaluate(ctx, r.Condition, rc)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
