package models

import (
	"time"
)

// Effect is the outcome a policy rule produces when it matches
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Valid reports whether the effect is a known value
func (e Effect) Valid() bool {
	return e == EffectAllow || e == EffectDeny
}

// PolicyRule is a single principal/action/resource rule.
// Priority is implicit: the position of the rule in its rule set.
type PolicyRule struct {
	Name       string   `json:"name" yaml:"name" validate:"required"`
	Effect     Effect   `json:"effect" yaml:"effect" validate:"required,oneof=allow deny"`
	Principals []string `json:"principals,omitempty" yaml:"principals,omitempty"`
	Actions    []string `json:"actions" yaml:"actions" validate:"required,min=1,dive,required"`
	Resources  []string `json:"resources,omitempty" yaml:"resources,omitempty"`
}

// WithDefaults returns a copy of the rule with empty principal and
// resource lists widened to the wildcard
func (r PolicyRule) WithDefaults() PolicyRule {
	out := PolicyRule{
		Name:       r.Name,
		Effect:     r.Effect,
		Principals: append([]string(nil), r.Principals...),
		Actions:    append([]string(nil), r.Actions...),
		Resources:  append([]string(nil), r.Resources...),
	}
	if len(out.Principals) == 0 {
		out.Principals = []string{"*"}
	}
	if len(out.Resources) == 0 {
		out.Resources = []string{"*"}
	}
	return out
}

// PolicyDocument is the on-disk/over-the-wire rule set source
type PolicyDocument struct {
	Rules []PolicyRule `json:"rules" yaml:"rules" validate:"dive"`
}

// RuleSetInfo describes a loaded rule set
type RuleSetInfo struct {
	Version   string       `json:"version"`
	LoadedAt  time.Time    `json:"loaded_at"`
	Source    string       `json:"source,omitempty"`
	RuleCount int          `json:"rule_count"`
	Rules     []PolicyRule `json:"rules"`
}
