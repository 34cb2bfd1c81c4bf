package policy

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/upb/authority-gate/internal/canonical"
	"github.com/upb/authority-gate/models"
	"github.com/upb/authority-gate/services"
	"github.com/upb/authority-gate/utils"
	"github.com/zeebo/blake3"
)

// RuleSet is an ordered, immutable list of policy rules.
// Reloading produces a new RuleSet; an existing one is never modified.
type RuleSet struct {
	rules    []models.PolicyRule
	version  string
	source   string
	loadedAt time.Time
}

// NewRuleSet validates the rules and builds an immutable RuleSet.
// Rule names must be unique; empty principal/resource lists default to "*".
func NewRuleSet(rules []models.PolicyRule, source string, loadedAt time.Time) (*RuleSet, error) {
	seen := make(map[string]struct{}, len(rules))
	normalized := make([]models.PolicyRule, 0, len(rules))

	for i, rule := range rules {
		if err := utils.ValidateStruct(rule); err != nil {
			return nil, services.WrapStructural(fmt.Sprintf("rule %d (%q) is invalid", i, rule.Name), err)
		}
		if _, dup := seen[rule.Name]; dup {
			return nil, services.NewDomainError(services.ErrorTypeStructural,
				fmt.Sprintf("duplicate rule name %q", rule.Name), nil).
				WithDetail("rule", rule.Name)
		}
		seen[rule.Name] = struct{}{}
		normalized = append(normalized, rule.WithDefaults())
	}

	version, err := digestRules(normalized)
	if err != nil {
		return nil, services.WrapInternal("failed to compute rule set version", err)
	}

	return &RuleSet{
		rules:    normalized,
		version:  version,
		source:   source,
		loadedAt: loadedAt,
	}, nil
}

// MustRuleSet is like NewRuleSet but panics on error. Intended for tests
// and static rule sets compiled into a binary.
func MustRuleSet(rules ...models.PolicyRule) *RuleSet {
	rs, err := NewRuleSet(rules, "static", time.Now())
	if err != nil {
		panic(err)
	}
	return rs
}

// Rules returns a copy of the rules in declared order
func (rs *RuleSet) Rules() []models.PolicyRule {
	out := make([]models.PolicyRule, len(rs.rules))
	copy(out, rs.rules)
	return out
}

// Len returns the number of rules
func (rs *RuleSet) Len() int {
	return len(rs.rules)
}

// Version returns a content digest identifying this rule set
func (rs *RuleSet) Version() string {
	return rs.version
}

// Info returns a description of the rule set for API responses
func (rs *RuleSet) Info() models.RuleSetInfo {
	return models.RuleSetInfo{
		Version:   rs.version,
		LoadedAt:  rs.loadedAt,
		Source:    rs.source,
		RuleCount: len(rs.rules),
		Rules:     rs.Rules(),
	}
}

// digestRules hashes the canonical encoding of the normalized rules
func digestRules(rules []models.PolicyRule) (string, error) {
	data, err := canonical.Marshal(rules)
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:16]), nil
}
