// Package gate is the pre-execution interception point. Every call is
// resolved to Proceed or Abort before its body runs; any uncertainty
// resolves to Abort.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/upb/authority-gate/internal/clock"
	"github.com/upb/authority-gate/models"
	"github.com/upb/authority-gate/services"
	"github.com/upb/authority-gate/services/mandate"
	"github.com/upb/authority-gate/services/policy"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Reasons reported on Abort that do not come from a policy rule
const (
	ReasonMalformedRequest = "malformed-request"
	ReasonMandateExpired   = "mandate-expired"
)

// DefaultDecisionTimeout bounds a single engine round trip
const DefaultDecisionTimeout = 2 * time.Second

// Config holds the identity and limits the gate applies to every call
type Config struct {
	Principal       models.Principal
	Resource        string        // resource used for every call; "" means models.DefaultResource
	DecisionTimeout time.Duration // per-call bound on engine evaluation
	MandateTTL      time.Duration // requested mandate lifetime; 0 uses the issuer default
}

// Call is an intercepted invocation
type Call struct {
	Action    string
	Args      []any
	NamedArgs map[string]any
}

// Verdict is the terminal result of authorizing one call
type Verdict struct {
	Proceed bool
	Reason  string
	Mandate *models.Mandate
}

// DeniedError is returned to callers whose call was aborted
type DeniedError struct {
	Action string
	Reason string
	Err    error
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("Zero-Trust Denial: action '%s' not authorized. Reason: %s", e.Action, e.Reason)
}

func (e *DeniedError) Unwrap() error {
	return e.Err
}

// IsDenied reports whether err is a gate denial
func IsDenied(err error) bool {
	var denied *DeniedError
	return errors.As(err, &denied)
}

// SharedStore is a second-tier mandate store shared between gate instances.
// A nil mandate with a nil error is a miss.
type SharedStore interface {
	Get(ctx context.Context, fingerprint string) (*models.Mandate, error)
	Set(ctx context.Context, fingerprint string, m *models.Mandate) error
}

// AuditRecorder receives one entry per terminal verdict. Implementations must not block.
type AuditRecorder interface {
	RecordDecision(entry *models.AuditLog) error
}

// Option configures optional gate collaborators
type Option func(*Gate)

// WithSharedStore adds a shared second-tier mandate store
func WithSharedStore(store SharedStore) Option {
	return func(g *Gate) { g.shared = store }
}

// WithAudit records every verdict
func WithAudit(recorder AuditRecorder) Option {
	return func(g *Gate) { g.audit = recorder }
}

// WithClock overrides the time source
func WithClock(clk clock.Clock) Option {
	return func(g *Gate) { g.clock = clk }
}

// WithFingerprinter overrides which request fields key the cache
func WithFingerprinter(f *mandate.Fingerprinter) Option {
	return func(g *Gate) { g.fingerprinter = f }
}

// WithRuleVersion scopes cache keys to the active rule set version, so
// mandates issued under a replaced rule set are never looked up again
func WithRuleVersion(version func() string) Option {
	return func(g *Gate) { g.ruleVersion = version }
}

// Gate authorizes intercepted calls
type Gate struct {
	cfg           Config
	engine        DecisionEngine
	verifier      mandate.Verifier
	cache         *mandate.Cache
	fingerprinter *mandate.Fingerprinter
	shared        SharedStore
	audit         AuditRecorder
	ruleVersion   func() string
	clock         clock.Clock
	logger        *zap.Logger

	// flights deduplicates concurrent engine calls per fingerprint
	flights singleflight.Group
}

// New creates a Gate. Mandates from the engine are verified with verifier
// before they are cached or acted upon.
func New(cfg Config, engine DecisionEngine, verifier mandate.Verifier, cache *mandate.Cache, logger *zap.Logger, opts ...Option) (*Gate, error) {
	if engine == nil {
		return nil, services.WrapConfiguration("gate requires a decision engine", nil)
	}
	if verifier == nil {
		return nil, services.WrapConfiguration("gate requires a mandate verifier", nil)
	}
	if cache == nil {
		return nil, services.WrapConfiguration("gate requires a mandate cache", nil)
	}
	if cfg.Resource == "" {
		cfg.Resource = models.DefaultResource
	}
	if cfg.DecisionTimeout <= 0 {
		cfg.DecisionTimeout = DefaultDecisionTimeout
	}

	g := &Gate{
		cfg:           cfg,
		engine:        engine,
		verifier:      verifier,
		cache:         cache,
		fingerprinter: mandate.NewFingerprinter(),
		clock:         clock.Real(),
		logger:        logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Cache returns the gate's mandate cache
func (g *Gate) Cache() *mandate.Cache {
	return g.cache
}

// Authorize resolves a call to Proceed or Abort.
//
// A non-nil error accompanies Abort only for malformed requests and
// integrity failures. Engine denials, transport failures and timeouts
// yield Abort with a nil error.
func (g *Gate) Authorize(ctx context.Context, call Call) (Verdict, error) {
	start := g.clock.Now()
	req := models.NewAuthorizationRequest(g.cfg.Principal, call.Action, g.cfg.Resource, contextFields(call), start)

	argsHash, err := mandate.HashArgs(call.Args)
	if err != nil {
		return g.structural(req, "", start, services.WrapStructural("call arguments are not serializable", err))
	}

	if err := policy.ValidateRequest(req); err != nil {
		return g.structural(req, argsHash, start, err)
	}

	fp, err := g.cacheKey(req)
	if err != nil {
		return g.structural(req, argsHash, start, services.WrapStructural("failed to fingerprint request", err))
	}

	if m, ok := g.cache.Lookup(fp); ok {
		if !m.Expired(g.clock.Now()) {
			return g.conclude(req, m, models.DecisionSourceCache, argsHash, start)
		}
		// Lapsed after lookup
		g.cache.Invalidate(fp)
	}

	if m := g.lookupShared(ctx, fp, req); m != nil {
		g.cache.Store(fp, m)
		return g.conclude(req, m, models.DecisionSourceCache, argsHash, start)
	}

	m, err := g.evaluate(ctx, fp, req)
	if err != nil {
		return g.failClosed(req, argsHash, start, err)
	}
	return g.conclude(req, m, models.DecisionSourceEngine, argsHash, start)
}

// Wrap returns a function that runs fn only when the call is authorized.
// On Abort fn is never invoked and a *DeniedError is returned.
func (g *Gate) Wrap(action string, fn func(ctx context.Context, args ...any) (any, error)) func(ctx context.Context, args ...any) (any, error) {
	return func(ctx context.Context, args ...any) (any, error) {
		verdict, err := g.Authorize(ctx, Call{Action: action, Args: args})
		if !verdict.Proceed {
			if err == nil {
				err = services.ErrPolicyDeny
				if verdict.Reason == services.ReasonAuthorizationUnavailable {
					err = services.ErrAuthorizationUnavailable
				}
			}
			return nil, &DeniedError{Action: action, Reason: verdict.Reason, Err: err}
		}
		return fn(ctx, args...)
	}
}

// evaluate runs one engine call per fingerprint, shared by every
// concurrent caller with the same fingerprint
func (g *Gate) evaluate(ctx context.Context, fp string, req *models.AuthorizationRequest) (*models.Mandate, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.DecisionTimeout)
	defer cancel()

	ch := g.flights.DoChan(fp, func() (any, error) {
		// A flight that started just after another stored its result
		if m, ok := g.cache.Lookup(fp); ok && !m.Expired(g.clock.Now()) {
			return m, nil
		}

		// Detached from any single caller so one cancellation does not
		// fail the others; still bounded by the decision timeout.
		flightCtx, flightCancel := context.WithTimeout(context.Background(), g.cfg.DecisionTimeout)
		defer flightCancel()

		m, err := g.engine.Decide(flightCtx, req, g.cfg.MandateTTL)
		if err != nil {
			if flightCtx.Err() != nil {
				return nil, services.NewDomainError(services.ErrorTypeTransport, "authorization decision timed out", err)
			}
			return nil, err
		}

		if err := g.checkMandate(req, m); err != nil {
			return nil, err
		}

		g.cache.Store(fp, m)
		g.storeShared(fp, m)
		return m, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.Mandate).Clone(), nil
	case <-ctx.Done():
		return nil, services.NewDomainError(services.ErrorTypeTransport, "authorization decision timed out", ctx.Err())
	}
}

// checkMandate verifies a mandate's signature and that it answers req
func (g *Gate) checkMandate(req *models.AuthorizationRequest, m *models.Mandate) error {
	if err := mandate.Verify(g.verifier, m); err != nil {
		return err
	}
	if m.Principal != req.Principal() || m.Action != req.Action() || m.Resource != req.Resource() {
		return services.NewDomainError(services.ErrorTypeIntegrity, "mandate does not match request", nil).
			WithDetail("mandate_id", m.MandateID)
	}
	return nil
}

// cacheKey is the request fingerprint, prefixed with the rule set
// version when one is configured
func (g *Gate) cacheKey(req *models.AuthorizationRequest) (string, error) {
	fp, err := g.fingerprinter.Fingerprint(req)
	if err != nil {
		return "", err
	}
	if g.ruleVersion == nil {
		return fp, nil
	}
	return g.ruleVersion() + ":" + fp, nil
}

// lookupShared returns a live mandate from the shared store that was
// signed by a trusted key for exactly this request. Anything else is a miss.
func (g *Gate) lookupShared(ctx context.Context, fp string, req *models.AuthorizationRequest) *models.Mandate {
	if g.shared == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.DecisionTimeout)
	defer cancel()

	m, err := g.shared.Get(ctx, fp)
	if err != nil {
		g.logger.Warn("shared mandate store lookup failed", zap.Error(err))
		return nil
	}
	if m == nil || m.Expired(g.clock.Now()) {
		return nil
	}
	if err := g.checkMandate(req, m); err != nil {
		g.logger.Error("shared mandate store integrity failure, ignoring entry",
			zap.String("fingerprint", fp),
			zap.String("mandate_id", m.MandateID),
			zap.Error(err))
		return nil
	}
	return m
}

func (g *Gate) storeShared(fp string, m *models.Mandate) {
	if g.shared == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.DecisionTimeout)
	defer cancel()

	if err := g.shared.Set(ctx, fp, m); err != nil {
		g.logger.Warn("shared mandate store write failed", zap.Error(err))
	}
}

// conclude turns a verified mandate into a verdict. The mandate is
// re-checked against the clock immediately before Proceed.
func (g *Gate) conclude(req *models.AuthorizationRequest, m *models.Mandate, source models.DecisionSource, argsHash string, start time.Time) (Verdict, error) {
	now := g.clock.Now()

	var verdict Verdict
	switch {
	case m.Grants(now):
		verdict = Verdict{Proceed: true, Reason: m.Reason, Mandate: m}
	case m.Outcome == models.OutcomeAllow:
		verdict = Verdict{Reason: ReasonMandateExpired, Mandate: m}
	default:
		verdict = Verdict{Reason: m.Reason, Mandate: m}
	}

	outcome := models.OutcomeDeny
	if verdict.Proceed {
		outcome = models.OutcomeAllow
	}

	entry := g.auditEntry(req, outcome, verdict.Reason, source, argsHash, start).WithMandate(m.MandateID)
	g.record(entry)

	g.logger.Debug("authorization verdict",
		zap.String("action", req.Action()),
		zap.Bool("proceed", verdict.Proceed),
		zap.String("reason", verdict.Reason),
		zap.String("source", string(source)),
		zap.String("mandate_id", m.MandateID))

	return verdict, nil
}

// failClosed maps an engine-side failure to Abort
func (g *Gate) failClosed(req *models.AuthorizationRequest, argsHash string, start time.Time, err error) (Verdict, error) {
	var (
		verdict  Verdict
		returned error
	)

	switch {
	case services.IsStructuralError(err):
		return g.structural(req, argsHash, start, err)

	case services.IsIntegrityError(err):
		verdict = Verdict{Reason: services.ReasonIntegrityFailure}
		returned = err
		g.logger.Error("mandate integrity failure, aborting call",
			zap.String("principal", req.Principal()),
			zap.String("action", req.Action()),
			zap.String("resource", req.Resource()),
			zap.Error(err))

	default:
		verdict = Verdict{Reason: services.ReasonAuthorizationUnavailable}
		g.logger.Warn("authorization unavailable, aborting call",
			zap.String("action", req.Action()),
			zap.Error(err))
	}

	entry := g.auditEntry(req, models.OutcomeDeny, verdict.Reason, models.DecisionSourceFailClosed, argsHash, start).
		WithError(err.Error())
	g.record(entry)

	return verdict, returned
}

func (g *Gate) structural(req *models.AuthorizationRequest, argsHash string, start time.Time, err error) (Verdict, error) {
	g.logger.Error("malformed authorization request",
		zap.String("principal", req.Principal()),
		zap.String("action", req.Action()),
		zap.String("resource", req.Resource()),
		zap.Error(err))

	entry := g.auditEntry(req, models.OutcomeDeny, ReasonMalformedRequest, models.DecisionSourceStructural, argsHash, start).
		WithError(err.Error())
	g.record(entry)

	return Verdict{Reason: ReasonMalformedRequest}, err
}

func (g *Gate) auditEntry(req *models.AuthorizationRequest, outcome models.Outcome, reason string, source models.DecisionSource, argsHash string, start time.Time) *models.AuditLog {
	return models.NewAuditLog(req.Principal(), req.Action(), req.Resource(), outcome, reason, source).
		WithTenant(req.TenantID(), req.SessionID()).
		WithArgsHash(argsHash).
		WithLatency(g.clock.Now().Sub(start))
}

func (g *Gate) record(entry *models.AuditLog) {
	if g.audit == nil {
		return
	}
	if err := g.audit.RecordDecision(entry); err != nil {
		g.logger.Warn("failed to record authorization audit entry", zap.Error(err))
	}
}

// contextFields flattens call arguments into ordered request context:
// positional arguments first as "arg0", "arg1", ..., then named
// arguments sorted by name
func contextFields(call Call) []models.ContextField {
	fields := make([]models.ContextField, 0, len(call.Args)+len(call.NamedArgs))
	for i, a := range call.Args {
		fields = append(fields, models.ContextField{Key: fmt.Sprintf("arg%d", i), Value: a})
	}

	names := make([]string, 0, len(call.NamedArgs))
	for name := range call.NamedArgs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fields = append(fields, models.ContextField{Key: name, Value: call.NamedArgs[name]})
	}
	return fields
}
