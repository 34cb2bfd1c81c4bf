package mandate

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/authority-gate/internal/canonical"
	"github.com/upb/authority-gate/internal/clock"
	"github.com/upb/authority-gate/models"
	"github.com/upb/authority-gate/services"
	"go.uber.org/zap"
)

// DefaultTTL is the mandate lifetime used when none is configured
const DefaultTTL = 300 * time.Second

// signedFields is the canonical serialization covered by a mandate signature.
// Integer keys keep the encoding compact and independent of Go field names.
type signedFields struct {
	MandateID string `cbor:"1,keyasint"`
	Principal string `cbor:"2,keyasint"`
	Action    string `cbor:"3,keyasint"`
	Resource  string `cbor:"4,keyasint"`
	Outcome   string `cbor:"5,keyasint"`
	Reason    string `cbor:"6,keyasint"`
	IssuedAt  int64  `cbor:"7,keyasint"` // Unix nanoseconds
	ExpiresAt int64  `cbor:"8,keyasint"` // Unix nanoseconds
	KeyID     string `cbor:"9,keyasint,omitempty"`
}

// CanonicalBytes returns the deterministic encoding of the signed mandate fields
func CanonicalBytes(m *models.Mandate) ([]byte, error) {
	data, err := canonical.Marshal(signedFields{
		MandateID: m.MandateID,
		Principal: m.Principal,
		Action:    m.Action,
		Resource:  m.Resource,
		Outcome:   string(m.Outcome),
		Reason:    m.Reason,
		IssuedAt:  m.IssuedAt.UnixNano(),
		ExpiresAt: m.ExpiresAt.UnixNano(),
		KeyID:     m.KeyID,
	})
	if err != nil {
		return nil, fmt.Errorf("mandate: canonical encoding: %w", err)
	}
	return data, nil
}

// Issuer turns matcher decisions into signed, TTL-bound mandates
type Issuer struct {
	signer     Signer
	defaultTTL time.Duration
	clock      clock.Clock
	logger     *zap.Logger
}

// NewIssuer creates an Issuer. A nil signer is a configuration error,
// surfaced at startup rather than per request.
func NewIssuer(signer Signer, defaultTTL time.Duration, clk clock.Clock, logger *zap.Logger) (*Issuer, error) {
	if signer == nil {
		return nil, services.ErrSigningKeyMissing
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Issuer{
		signer:     signer,
		defaultTTL: defaultTTL,
		clock:      clk,
		logger:     logger,
	}, nil
}

// DefaultTTL returns the configured mandate lifetime
func (i *Issuer) DefaultTTL() time.Duration {
	return i.defaultTTL
}

// Verifier returns the verifier matching the issuer's signing key
func (i *Issuer) Verifier() Verifier {
	return i.signer
}

// Issue produces a signed mandate for the decision. Deny decisions are
// signed too, for audit integrity, but never grant execution.
// A ttl <= 0 uses the issuer default.
func (i *Issuer) Issue(req *models.AuthorizationRequest, decision models.Decision, ttl time.Duration) (*models.Mandate, error) {
	if ttl <= 0 {
		ttl = i.defaultTTL
	}

	now := i.clock.Now()
	m := &models.Mandate{
		MandateID: uuid.NewString(),
		Outcome:   decision.Outcome,
		Reason:    decision.Reason(),
		Principal: req.Principal(),
		Action:    req.Action(),
		Resource:  req.Resource(),
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
		KeyID:     i.signer.KeyID(),
	}

	payload, err := CanonicalBytes(m)
	if err != nil {
		return nil, services.WrapInternal("failed to encode mandate", err)
	}

	sig, err := i.signer.Sign(payload)
	if err != nil {
		return nil, services.WrapInternal("failed to sign mandate", err)
	}
	m.Signature = sig

	i.logger.Debug("mandate issued",
		zap.String("mandate_id", m.MandateID),
		zap.String("outcome", string(m.Outcome)),
		zap.String("reason", m.Reason),
		zap.String("principal", m.Principal),
		zap.String("action", m.Action),
		zap.Time("expires_at", m.ExpiresAt))

	return m, nil
}

// Verify checks the mandate's signature. Any modified field fails verification.
func Verify(v Verifier, m *models.Mandate) error {
	if m == nil {
		return services.WrapIntegrity("mandate is missing", nil)
	}
	if len(m.Signature) == 0 {
		return services.WrapIntegrity("mandate is unsigned", nil)
	}
	if m.KeyID != v.KeyID() {
		return services.NewDomainError(services.ErrorTypeIntegrity, "mandate signed with unknown key", nil).
			WithDetail("key_id", m.KeyID)
	}

	payload, err := CanonicalBytes(m)
	if err != nil {
		return services.WrapIntegrity("failed to encode mandate", err)
	}
	return v.Verify(payload, m.Signature)
}

// Verify checks a mandate against this issuer's key
func (i *Issuer) Verify(m *models.Mandate) error {
	return Verify(i.signer, m)
}
