package policy

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/authority-gate/internal/clock"
	"github.com/upb/authority-gate/models"
	"github.com/upb/authority-gate/services"
)

func request(principal, action, resource string) *models.AuthorizationRequest {
	return models.NewAuthorizationRequest(models.Principal{ID: principal}, action, resource, nil, time.Now())
}

func rule(name string, effect models.Effect, principals, actions, resources []string) models.PolicyRule {
	return models.PolicyRule{
		Name:       name,
		Effect:     effect,
		Principals: principals,
		Actions:    actions,
		Resources:  resources,
	}
}

func TestEvaluate_AllowScenario(t *testing.T) {
	rs := MustRuleSet(rule("allow-orders", models.EffectAllow, []string{"temporal-worker"}, []string{"process_order"}, nil))

	decision, err := Evaluate(request("temporal-worker", "process_order", "*"), rs)
	require.NoError(t, err)

	assert.True(t, decision.Allowed())
	require.NotNil(t, decision.MatchedRule)
	assert.Equal(t, "allow-orders", *decision.MatchedRule)
	assert.Equal(t, "allow-orders", decision.Reason())
}

func TestEvaluate_FirstMatchWins(t *testing.T) {
	rs := MustRuleSet(
		rule("no-deletes", models.EffectDeny, []string{"*"}, []string{"delete_*"}, nil),
		rule("allow-all", models.EffectAllow, nil, []string{"*"}, nil),
	)

	decision, err := Evaluate(request("temporal-worker", "delete_order", "*"), rs)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeDeny, decision.Outcome)
	assert.Equal(t, "no-deletes", decision.Reason())

	decision, err = Evaluate(request("temporal-worker", "process_order", "*"), rs)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAllow, decision.Outcome)
	assert.Equal(t, "allow-all", decision.Reason())
}

func TestEvaluate_DefaultDeny(t *testing.T) {
	tests := []struct {
		name string
		rs   *RuleSet
		req  *models.AuthorizationRequest
	}{
		{
			name: "no rule matches principal",
			rs:   MustRuleSet(rule("r", models.EffectAllow, []string{"billing"}, []string{"*"}, nil)),
			req:  request("temporal-worker", "process_order", "*"),
		},
		{
			name: "no rule matches resource",
			rs:   MustRuleSet(rule("r", models.EffectAllow, nil, []string{"*"}, []string{"db:orders"})),
			req:  request("temporal-worker", "process_order", "db:users"),
		},
		{
			name: "empty rule set",
			rs:   MustRuleSet(),
			req:  request("temporal-worker", "process_order", "*"),
		},
		{
			name: "nil rule set",
			rs:   nil,
			req:  request("temporal-worker", "process_order", "*"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := Evaluate(tt.req, tt.rs)
			require.NoError(t, err)
			assert.Equal(t, models.OutcomeDeny, decision.Outcome)
			assert.Nil(t, decision.MatchedRule)
			assert.Equal(t, models.DefaultDenyReason, decision.Reason())
		})
	}
}

func TestEvaluate_StructuralErrors(t *testing.T) {
	rs := MustRuleSet(rule("allow-all", models.EffectAllow, nil, []string{"*"}, nil))

	tests := []struct {
		name string
		req  *models.AuthorizationRequest
		want error
	}{
		{"nil request", nil, services.ErrStructural},
		{"empty principal", request("", "process_order", "*"), services.ErrMissingPrincipal},
		{"empty action", request("temporal-worker", "", "*"), services.ErrEmptyAction},
		{"empty resource", request("temporal-worker", "process_order", ""), services.ErrEmptyResource},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Evaluate(tt.req, rs)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, services.IsStructuralError(err))
		})
	}
}

func TestMatcher_DenyOverrides(t *testing.T) {
	rs := MustRuleSet(
		rule("allow-all", models.EffectAllow, nil, []string{"*"}, nil),
		rule("no-deletes", models.EffectDeny, nil, []string{"delete_*"}, nil),
	)

	first := NewMatcher(PrecedenceFirstMatch, nil)
	decision, err := first.Evaluate(request("w", "delete_order", "*"), rs)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAllow, decision.Outcome)

	overrides := NewMatcher(PrecedenceDenyOverrides, nil)
	decision, err = overrides.Evaluate(request("w", "delete_order", "*"), rs)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeDeny, decision.Outcome)
	assert.Equal(t, "no-deletes", decision.Reason())

	decision, err = overrides.Evaluate(request("w", "process_order", "*"), rs)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAllow, decision.Outcome)
	assert.Equal(t, "allow-all", decision.Reason())
}

func TestMatcher_StampsDecisionsFromClock(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clk := clock.Fake(at)
	m := NewMatcher(PrecedenceFirstMatch, clk)
	rs := MustRuleSet(rule("allow-all", models.EffectAllow, nil, []string{"*"}, nil))

	decision, err := m.Evaluate(request("w", "process_order", "*"), rs)
	require.NoError(t, err)
	assert.Equal(t, at, decision.EvaluatedAt)

	clk.Advance(time.Minute)
	decision, err = m.Evaluate(request("w", "unknown", "*"), nil)
	require.NoError(t, err)
	assert.Equal(t, at.Add(time.Minute), decision.EvaluatedAt)
}

func TestParsePrecedence(t *testing.T) {
	mode, err := ParsePrecedence("")
	require.NoError(t, err)
	assert.Equal(t, PrecedenceFirstMatch, mode)

	mode, err = ParsePrecedence("deny_overrides")
	require.NoError(t, err)
	assert.Equal(t, PrecedenceDenyOverrides, mode)

	_, err = ParsePrecedence("most_specific")
	assert.Error(t, err)

	assert.Equal(t, PrecedenceFirstMatch, NewMatcher("", nil).Mode())
}

func TestEvaluate_ConcurrentReaders(t *testing.T) {
	rs := MustRuleSet(
		rule("no-deletes", models.EffectDeny, nil, []string{"delete_*"}, nil),
		rule("allow-all", models.EffectAllow, nil, []string{"*"}, nil),
	)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				decision, err := Evaluate(request("w", "delete_order", "*"), rs)
				assert.NoError(t, err)
				assert.Equal(t, models.OutcomeDeny, decision.Outcome)
			}
		}()
	}
	wg.Wait()
}
