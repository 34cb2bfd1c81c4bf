package policy

import (
	"fmt"
	"time"

	"github.com/upb/authority-gate/internal/clock"
	"github.com/upb/authority-gate/models"
	"github.com/upb/authority-gate/services"
)

// PrecedenceMode selects how overlapping rules are resolved
type PrecedenceMode string

const (
	// PrecedenceFirstMatch lets the first matching rule in declared order win.
	PrecedenceFirstMatch PrecedenceMode = "first_match"

	// PrecedenceDenyOverrides lets any matching deny rule win over any
	// matching allow rule, regardless of order.
	PrecedenceDenyOverrides PrecedenceMode = "deny_overrides"
)

// ParsePrecedence parses a precedence mode, defaulting to first match
func ParsePrecedence(s string) (PrecedenceMode, error) {
	switch PrecedenceMode(s) {
	case "", PrecedenceFirstMatch:
		return PrecedenceFirstMatch, nil
	case PrecedenceDenyOverrides:
		return PrecedenceDenyOverrides, nil
	default:
		return "", fmt.Errorf("unknown precedence mode %q", s)
	}
}

// Matcher evaluates authorization requests against a rule set
type Matcher struct {
	mode  PrecedenceMode
	clock clock.Clock
}

// NewMatcher creates a Matcher with the given precedence mode.
// Decisions are stamped from clk; nil uses the real clock.
func NewMatcher(mode PrecedenceMode, clk clock.Clock) *Matcher {
	if mode == "" {
		mode = PrecedenceFirstMatch
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Matcher{
		mode:  mode,
		clock: clk,
	}
}

// Mode returns the precedence mode of the matcher
func (m *Matcher) Mode() PrecedenceMode {
	return m.mode
}

// Evaluate evaluates a request against a rule set using first-match precedence
func Evaluate(req *models.AuthorizationRequest, rs *RuleSet) (models.Decision, error) {
	return NewMatcher(PrecedenceFirstMatch, nil).Evaluate(req, rs)
}

// Evaluate resolves the request to an allow/deny decision.
// A request matching no rule is denied with no matched rule.
// Malformed requests return a structural error instead of a decision.
func (m *Matcher) Evaluate(req *models.AuthorizationRequest, rs *RuleSet) (models.Decision, error) {
	if err := ValidateRequest(req); err != nil {
		return models.Decision{}, err
	}

	now := m.clock.Now()
	if rs == nil {
		return models.DefaultDeny(now), nil
	}

	var firstAllow *models.PolicyRule
	for i := range rs.rules {
		rule := &rs.rules[i]
		if !ruleMatches(rule, req) {
			continue
		}

		if m.mode == PrecedenceFirstMatch {
			return decisionFor(rule, now), nil
		}

		// Deny overrides: any matching deny wins; remember the first allow.
		if rule.Effect == models.EffectDeny {
			return decisionFor(rule, now), nil
		}
		if firstAllow == nil {
			firstAllow = rule
		}
	}

	if firstAllow != nil {
		return decisionFor(firstAllow, now), nil
	}
	return models.DefaultDeny(now), nil
}

// ValidateRequest rejects requests that cannot be evaluated
func ValidateRequest(req *models.AuthorizationRequest) error {
	if req == nil {
		return services.ErrStructural
	}
	if req.Principal() == "" {
		return services.ErrMissingPrincipal
	}
	if req.Action() == "" {
		return services.ErrEmptyAction
	}
	if req.Resource() == "" {
		return services.ErrEmptyResource
	}
	return nil
}

// ruleMatches checks principal, action and resource predicates of a rule
func ruleMatches(rule *models.PolicyRule, req *models.AuthorizationRequest) bool {
	return MatchAnyPattern(rule.Principals, req.Principal()) &&
		MatchAnyPattern(rule.Actions, req.Action()) &&
		MatchAnyPattern(rule.Resources, req.Resource())
}

func decisionFor(rule *models.PolicyRule, now time.Time) models.Decision {
	outcome := models.OutcomeDeny
	if rule.Effect == models.EffectAllow {
		outcome = models.OutcomeAllow
	}
	return models.NewDecision(outcome, rule.Name, now)
}
