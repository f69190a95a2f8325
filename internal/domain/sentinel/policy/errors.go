package policy

import "errors"

var (
	// ErrInvalidMode is returned when a persisted or configured mode string
	// is not one of the four enumerated values. Callers MUST treat this as
	// fatal to the request; they must never fall through to a permissive
	// default.
	ErrInvalidMode = errors.New("policy: invalid mode")

	// ErrRuleNotFound is returned by stores when a rule ID does not exist.
	ErrRuleNotFound = errors.New("policy: rule not found")

	// ErrTokenNotFound is returned when a confirmation token is unknown.
	ErrTokenNotFound = errors.New("policy: confirmation token not found")
)
