package domain

// RuleDecision is the outcome of evaluating a hostname against the rule table.
// Pure value type, no external dependencies.
type RuleDecision struct {
	Blocked       bool   // true if an active rule covers the name
	MatchedDomain string // rule domain that matched (the name itself or a parent)
	RuleID        int
}

// IsBlocked is a convenience accessor.
func (d RuleDecision) IsBlocked() bool { return d.Blocked }

// AllowDecision returns a not-blocked decision.
func AllowDecision() RuleDecision { return RuleDecision{Blocked: false} }
