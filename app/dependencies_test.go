package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/authority-gate/config"
	"github.com/upb/authority-gate/models"
	"github.com/upb/authority-gate/services"
	"github.com/upb/authority-gate/services/gate"
	"github.com/upb/authority-gate/services/policy"
	"go.uber.org/zap/zaptest"
)

const testPolicy = `
rules:
  - name: no-deletes
    effect: deny
    actions: ["delete_*"]
  - name: allow-worker
    effect: allow
    principals: [temporal-worker]
    actions: ["*"]
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testPolicy), 0o600))

	return &config.Config{
		Environment: "test",
		Gate: config.GateConfig{
			SigningKey:           "test-secret",
			SigningAlgorithm:     "hmac",
			KeyID:                "test",
			MandateTTL:           time.Minute,
			DecisionTimeout:      time.Second,
			CacheMaxSize:         100,
			CacheCleanupInterval: time.Minute,
			Principal:            "temporal-worker",
			Resource:             "temporal:activity",
		},
		Policy: config.PolicyConfig{
			File:       path,
			Precedence: "first_match",
		},
		Audit: config.AuditConfig{BufferSize: 10, WorkerCount: 1, BatchSize: 5},
	}
}

func TestNewDependencies(t *testing.T) {
	t.Run("local gate without persistence", func(t *testing.T) {
		deps, err := NewDependencies(context.Background(), testConfig(t), zaptest.NewLogger(t))
		require.NoError(t, err)
		defer deps.Close()

		assert.NotNil(t, deps.Signer)
		assert.NotNil(t, deps.Issuer)
		assert.NotNil(t, deps.Policies)
		assert.NotNil(t, deps.Engine)
		assert.NotNil(t, deps.Cache)
		assert.NotNil(t, deps.Gate)

		assert.Nil(t, deps.DB)
		assert.Nil(t, deps.Audit)
		assert.Nil(t, deps.Redis)
		assert.Nil(t, deps.SharedStore)
	})

	t.Run("gate decisions follow the loaded rules", func(t *testing.T) {
		deps, err := NewDependencies(context.Background(), testConfig(t), zaptest.NewLogger(t))
		require.NoError(t, err)
		defer deps.Close()

		verdict, err := deps.Gate.Authorize(context.Background(), gate.Call{Action: "process_order", Args: []any{"o-1"}})
		require.NoError(t, err)
		assert.True(t, verdict.Proceed)
		require.NotNil(t, verdict.Mandate)

		verdict, err = deps.Gate.Authorize(context.Background(), gate.Call{Action: "delete_order", Args: []any{"o-1"}})
		require.NoError(t, err)
		assert.False(t, verdict.Proceed)
	})

	t.Run("policy reload clears the mandate cache", func(t *testing.T) {
		deps, err := NewDependencies(context.Background(), testConfig(t), zaptest.NewLogger(t))
		require.NoError(t, err)
		defer deps.Close()

		_, err = deps.Gate.Authorize(context.Background(), gate.Call{Action: "process_order"})
		require.NoError(t, err)
		require.Equal(t, 1, deps.Cache.Stats().Size)

		_, err = deps.Policies.Reload()
		require.NoError(t, err)
		assert.Equal(t, 0, deps.Cache.Stats().Size)
	})

	t.Run("swapped rules bypass mandates cached under the old version", func(t *testing.T) {
		deps, err := NewDependencies(context.Background(), testConfig(t), zaptest.NewLogger(t))
		require.NoError(t, err)
		defer deps.Close()

		verdict, err := deps.Gate.Authorize(context.Background(), gate.Call{Action: "process_order"})
		require.NoError(t, err)
		require.True(t, verdict.Proceed)

		// Replace does not run reload hooks, so the cache is not cleared
		deps.Policies.Replace(policy.MustRuleSet(models.PolicyRule{
			Name: "freeze", Effect: models.EffectDeny, Actions: []string{"*"},
		}))

		verdict, err = deps.Gate.Authorize(context.Background(), gate.Call{Action: "process_order"})
		require.NoError(t, err)
		assert.False(t, verdict.Proceed)
		assert.Equal(t, "freeze", verdict.Reason)
	})

	t.Run("missing policy file", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Policy.File = filepath.Join(t.TempDir(), "absent.yaml")

		_, err := NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
		require.Error(t, err)
		assert.True(t, services.IsConfigurationError(err))
	})

	t.Run("unknown signing algorithm", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Gate.SigningAlgorithm = "rsa"

		_, err := NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
		require.Error(t, err)
	})

	t.Run("unreachable redis", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Redis.URL = "not-a-redis-url"

		_, err := NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
		require.Error(t, err)
	})
}

func TestDependencies_CloseIsIdempotent(t *testing.T) {
	deps, err := NewDependencies(context.Background(), testConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)

	deps.Close()
	assert.NotPanics(t, deps.Close)
}
