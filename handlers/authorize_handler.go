package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/upb/authority-gate/internal/clock"
	"github.com/upb/authority-gate/internal/observability"
	"github.com/upb/authority-gate/models"
	"github.com/upb/authority-gate/services"
	"github.com/upb/authority-gate/services/gate"
	"github.com/upb/authority-gate/utils"
	"go.uber.org/zap"
)

// MandateTTLHeader lets a gate ask for a mandate lifetime in seconds
const MandateTTLHeader = "X-Mandate-TTL"

// maxRequestBytes bounds authorization request bodies
const maxRequestBytes = 1 << 20

// Authorizer renders a decision and a signed mandate for a request
type Authorizer interface {
	Authorize(ctx context.Context, req *models.AuthorizationRequest, ttl time.Duration) (models.Decision, *models.Mandate, error)
}

// AuthorizeHandler serves the policy engine boundary
type AuthorizeHandler struct {
	engine Authorizer
	audit  gate.AuditRecorder
	maxTTL time.Duration
	clock  clock.Clock
	logger *zap.Logger
}

// NewAuthorizeHandler creates a new AuthorizeHandler. Requested TTLs above maxTTL are capped.
func NewAuthorizeHandler(engine Authorizer, maxTTL time.Duration, clk clock.Clock, logger *zap.Logger) *AuthorizeHandler {
	if clk == nil {
		clk = clock.Real()
	}
	return &AuthorizeHandler{
		engine: engine,
		maxTTL: maxTTL,
		clock:  clk,
		logger: logger,
	}
}

// WithAudit records every decision and engine failure
func (h *AuthorizeHandler) WithAudit(recorder gate.AuditRecorder) *AuthorizeHandler {
	h.audit = recorder
	return h
}

// HandleAuthorize handles POST /v1/authorize
func (h *AuthorizeHandler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.WithRequest(ctx, h.logger)

	var payload models.AuthorizationPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&payload); err != nil {
		logger.Debug("invalid authorization request body", zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(payload); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	ttl, err := h.requestedTTL(r)
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), map[string]interface{}{"header": MandateTTLHeader})
		return
	}

	start := h.clock.Now()
	req := payload.Request(start)
	decision, m, err := h.engine.Authorize(ctx, req, ttl)
	if err != nil {
		logger.Warn("authorization failed",
			zap.String("principal", payload.Principal),
			zap.String("action", payload.Action),
			zap.Error(err))
		h.recordFailure(req, start, err)
		HandleServiceError(w, err, logger)
		return
	}

	h.record(models.NewAuditLog(m.Principal, m.Action, m.Resource, m.Outcome, m.Reason, models.DecisionSourceEngine).
		WithTenant(req.TenantID(), req.SessionID()).
		WithMandate(m.MandateID).
		WithLatency(h.clock.Now().Sub(start)))

	logger.Info("authorization decided",
		zap.String("mandate_id", m.MandateID),
		zap.String("principal", m.Principal),
		zap.String("action", m.Action),
		zap.String("resource", m.Resource),
		zap.String("outcome", string(m.Outcome)),
		zap.String("reason", m.Reason))

	// Gates decode this body directly, so it is not wrapped in a data envelope
	if err := utils.WriteJSON(w, http.StatusOK, models.NewAuthorizeResponse(decision, m)); err != nil {
		h.logger.Error("failed to write authorization response", zap.Error(err))
	}
}

func (h *AuthorizeHandler) recordFailure(req *models.AuthorizationRequest, start time.Time, err error) {
	source, reason := models.DecisionSourceFailClosed, services.ReasonAuthorizationUnavailable
	if services.IsStructuralError(err) {
		source, reason = models.DecisionSourceStructural, gate.ReasonMalformedRequest
	}
	h.record(models.NewAuditLog(req.Principal(), req.Action(), req.Resource(), models.OutcomeDeny, reason, source).
		WithTenant(req.TenantID(), req.SessionID()).
		WithLatency(h.clock.Now().Sub(start)).
		WithError(err.Error()))
}

func (h *AuthorizeHandler) record(entry *models.AuditLog) {
	if h.audit == nil {
		return
	}
	if err := h.audit.RecordDecision(entry); err != nil {
		h.logger.Warn("failed to record authorization audit entry", zap.Error(err))
	}
}

func (h *AuthorizeHandler) requestedTTL(r *http.Request) (time.Duration, error) {
	raw := r.Header.Get(MandateTTLHeader)
	if raw == "" {
		return 0, nil
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return 0, services.NewDomainError(services.ErrorTypeStructural,
			MandateTTLHeader+" must be a positive number of seconds", err)
	}
	ttl := time.Duration(secs) * time.Second
	if h.maxTTL > 0 && ttl > h.maxTTL {
		ttl = h.maxTTL
	}
	return ttl, nil
}
