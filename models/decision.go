package models

import (
	"time"
)

// DefaultDenyReason is reported when no rule matched a request
const DefaultDenyReason = "default-deny"

// Outcome is the result of an authorization decision
type Outcome string

const (
	OutcomeAllow Outcome = "allow"
	OutcomeDeny  Outcome = "deny"
)

// Decision is the Rule Matcher's verdict for a single request
type Decision struct {
	Outcome     Outcome   `json:"outcome"`
	MatchedRule *string   `json:"matched_rule,omitempty"` // nil only for implicit default-deny
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// NewDecision creates a decision produced by a matching rule
func NewDecision(outcome Outcome, ruleName string, evaluatedAt time.Time) Decision {
	name := ruleName
	return Decision{
		Outcome:     outcome,
		MatchedRule: &name,
		EvaluatedAt: evaluatedAt,
	}
}

// DefaultDeny creates the implicit fail-closed decision
func DefaultDeny(evaluatedAt time.Time) Decision {
	return Decision{
		Outcome:     OutcomeDeny,
		EvaluatedAt: evaluatedAt,
	}
}

// Allowed reports whether the decision allows the request
func (d Decision) Allowed() bool {
	return d.Outcome == OutcomeAllow
}

// Reason returns the matched rule name, or DefaultDenyReason when none matched
func (d Decision) Reason() string {
	if d.MatchedRule == nil {
		return DefaultDenyReason
	}
	return *d.MatchedRule
}
