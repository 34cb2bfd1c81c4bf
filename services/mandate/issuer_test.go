package mandate

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/authority-gate/internal/clock"
	"github.com/upb/authority-gate/models"
	"github.com/upb/authority-gate/services"
	"go.uber.org/zap"
)

func newTestIssuer(t *testing.T, clk clock.Clock) *Issuer {
	t.Helper()
	signer, err := NewHMACSigner([]byte("test-secret"), "k1")
	require.NoError(t, err)
	issuer, err := NewIssuer(signer, 0, clk, zap.NewNop())
	require.NoError(t, err)
	return issuer
}

func testRequest(action string) *models.AuthorizationRequest {
	return models.NewAuthorizationRequest(
		models.Principal{ID: "temporal-worker"},
		action,
		models.DefaultResource,
		[]models.ContextField{{Key: "order_id", Value: "o-1"}},
		epoch,
	)
}

func TestNewIssuer(t *testing.T) {
	t.Run("nil signer is a configuration error", func(t *testing.T) {
		_, err := NewIssuer(nil, time.Minute, nil, zap.NewNop())
		require.Error(t, err)
		assert.True(t, services.IsConfigurationError(err))
	})

	t.Run("non-positive ttl uses default", func(t *testing.T) {
		issuer := newTestIssuer(t, clock.Fake(epoch))
		assert.Equal(t, DefaultTTL, issuer.DefaultTTL())
	})
}

func TestIssuer_IssueAllow(t *testing.T) {
	clk := clock.Fake(epoch)
	issuer := newTestIssuer(t, clk)

	decision := models.NewDecision(models.OutcomeAllow, "allow-orders", epoch)
	m, err := issuer.Issue(testRequest("process_order"), decision, 0)
	require.NoError(t, err)

	assert.NotEmpty(t, m.MandateID)
	assert.Equal(t, models.OutcomeAllow, m.Outcome)
	assert.Equal(t, "allow-orders", m.Reason)
	assert.Equal(t, "temporal-worker", m.Principal)
	assert.Equal(t, "process_order", m.Action)
	assert.Equal(t, "*", m.Resource)
	assert.Equal(t, epoch, m.IssuedAt)
	assert.Equal(t, epoch.Add(300*time.Second), m.ExpiresAt)
	assert.Equal(t, "k1", m.KeyID)
	assert.NotEmpty(t, m.Signature)
	assert.True(t, m.Grants(epoch))

	require.NoError(t, issuer.Verify(m))
}

func TestIssuer_IssueDeny(t *testing.T) {
	issuer := newTestIssuer(t, clock.Fake(epoch))

	t.Run("rule deny carries rule name", func(t *testing.T) {
		decision := models.NewDecision(models.OutcomeDeny, "no-deletes", epoch)
		m, err := issuer.Issue(testRequest("delete_order"), decision, time.Minute)
		require.NoError(t, err)

		assert.Equal(t, models.OutcomeDeny, m.Outcome)
		assert.Equal(t, "no-deletes", m.Reason)
		assert.Equal(t, epoch.Add(time.Minute), m.ExpiresAt)
		assert.False(t, m.Grants(epoch))
		require.NoError(t, issuer.Verify(m))
	})

	t.Run("default deny", func(t *testing.T) {
		m, err := issuer.Issue(testRequest("unknown"), models.DefaultDeny(epoch), 0)
		require.NoError(t, err)

		assert.Equal(t, models.DefaultDenyReason, m.Reason)
		assert.False(t, m.Grants(epoch))
	})
}

func TestIssuer_UniqueMandateIDs(t *testing.T) {
	issuer := newTestIssuer(t, clock.Fake(epoch))
	decision := models.NewDecision(models.OutcomeAllow, "r", epoch)

	a, err := issuer.Issue(testRequest("a"), decision, 0)
	require.NoError(t, err)
	b, err := issuer.Issue(testRequest("a"), decision, 0)
	require.NoError(t, err)

	assert.NotEqual(t, a.MandateID, b.MandateID)
}

func TestVerify_TamperDetection(t *testing.T) {
	issuer := newTestIssuer(t, clock.Fake(epoch))
	decision := models.NewDecision(models.OutcomeDeny, "no-deletes", epoch)
	original, err := issuer.Issue(testRequest("delete_order"), decision, 0)
	require.NoError(t, err)

	tests := []struct {
		name   string
		tamper func(m *models.Mandate)
	}{
		{"mandate id", func(m *models.Mandate) { m.MandateID = "forged" }},
		{"outcome", func(m *models.Mandate) { m.Outcome = models.OutcomeAllow }},
		{"reason", func(m *models.Mandate) { m.Reason = "allow-all" }},
		{"principal", func(m *models.Mandate) { m.Principal = "root" }},
		{"action", func(m *models.Mandate) { m.Action = "process_order" }},
		{"resource", func(m *models.Mandate) { m.Resource = "db:orders" }},
		{"issued at", func(m *models.Mandate) { m.IssuedAt = m.IssuedAt.Add(time.Second) }},
		{"expires at", func(m *models.Mandate) { m.ExpiresAt = m.ExpiresAt.Add(time.Hour) }},
		{"signature", func(m *models.Mandate) { m.Signature[0] ^= 0xff }},
		{"key id", func(m *models.Mandate) { m.KeyID = "other" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := original.Clone()
			tt.tamper(m)

			err := issuer.Verify(m)
			require.Error(t, err)
			assert.True(t, services.IsIntegrityError(err))
		})
	}
}

func TestVerify_MissingOrUnsigned(t *testing.T) {
	issuer := newTestIssuer(t, clock.Fake(epoch))

	err := issuer.Verify(nil)
	assert.True(t, services.IsIntegrityError(err))

	err = issuer.Verify(&models.Mandate{KeyID: "k1"})
	assert.True(t, services.IsIntegrityError(err))
}

func TestVerify_WrongKey(t *testing.T) {
	issuer := newTestIssuer(t, clock.Fake(epoch))
	m, err := issuer.Issue(testRequest("a"), models.NewDecision(models.OutcomeAllow, "r", epoch), 0)
	require.NoError(t, err)

	other, err := NewHMACSigner([]byte("another-secret"), "k1")
	require.NoError(t, err)

	err = Verify(other, m)
	require.Error(t, err)
	assert.True(t, services.IsIntegrityError(err))
}

func TestEd25519_RoundTrip(t *testing.T) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	signer, err := NewEd25519Signer(private, "ed-1")
	require.NoError(t, err)
	assert.Equal(t, AlgorithmEd25519, signer.Algorithm())
	assert.Equal(t, public, signer.PublicKey())

	issuer, err := NewIssuer(signer, time.Minute, clock.Fake(epoch), zap.NewNop())
	require.NoError(t, err)

	m, err := issuer.Issue(testRequest("process_order"), models.NewDecision(models.OutcomeAllow, "r", epoch), 0)
	require.NoError(t, err)

	// Downstream holders need only the public key
	verifier, err := NewEd25519Verifier(public, "ed-1")
	require.NoError(t, err)
	require.NoError(t, Verify(verifier, m))

	m.ExpiresAt = m.ExpiresAt.Add(time.Hour)
	assert.True(t, services.IsIntegrityError(Verify(verifier, m)))
}

func TestNewSigner(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	_, err := rand.Read(seed)
	require.NoError(t, err)

	tests := []struct {
		name      string
		algorithm string
		key       string
		wantAlg   string
		wantErr   bool
	}{
		{"hmac default", "", "secret", AlgorithmHMAC, false},
		{"hmac explicit", "HMAC", "secret", AlgorithmHMAC, false},
		{"ed25519 seed", "ed25519", base64.StdEncoding.EncodeToString(seed), AlgorithmEd25519, false},
		{"ed25519 private key", "ed25519", base64.StdEncoding.EncodeToString(ed25519.NewKeyFromSeed(seed)), AlgorithmEd25519, false},
		{"ed25519 not base64", "ed25519", "%%%", "", true},
		{"ed25519 wrong size", "ed25519", base64.StdEncoding.EncodeToString([]byte("short")), "", true},
		{"missing key", "hmac", "", "", true},
		{"unknown algorithm", "rsa", "secret", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signer, err := NewSigner(tt.algorithm, tt.key, "k")
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, services.IsConfigurationError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAlg, signer.Algorithm())

			sig, err := signer.Sign([]byte("payload"))
			require.NoError(t, err)
			assert.NoError(t, signer.Verify([]byte("payload"), sig))
			assert.Error(t, signer.Verify([]byte("payload!"), sig))
		})
	}
}
