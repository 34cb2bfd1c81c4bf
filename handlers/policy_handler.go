package handlers

import (
	"net/http"

	"github.com/upb/authority-gate/middleware"
	"github.com/upb/authority-gate/models"
	"github.com/upb/authority-gate/services/policy"
	"github.com/upb/authority-gate/utils"
	"go.uber.org/zap"
)

// PolicyStore exposes the active rule set and reloads it from its source
type PolicyStore interface {
	RuleSet() *policy.RuleSet
	Reload() (*policy.RuleSet, error)
}

// PolicyHandler handles policy-related HTTP requests
type PolicyHandler struct {
	store  PolicyStore
	logger *zap.Logger
}

// NewPolicyHandler creates a new PolicyHandler
func NewPolicyHandler(store PolicyStore, logger *zap.Logger) *PolicyHandler {
	return &PolicyHandler{
		store:  store,
		logger: logger,
	}
}

// HandleGetPolicies handles GET /v1/policies
func (h *PolicyHandler) HandleGetPolicies(w http.ResponseWriter, r *http.Request) {
	if err := utils.WriteOK(w, h.store.RuleSet().Info()); err != nil {
		h.logger.Error("failed to write policies response", zap.Error(err))
	}
}

// ReloadResponse reports the outcome of a rule-set reload
type ReloadResponse struct {
	PreviousVersion string             `json:"previous_version"`
	RuleSet         models.RuleSetInfo `json:"rule_set"`
}

// HandleReload handles POST /v1/policies/reload.
// A failed reload leaves the previous rule set active.
func (h *PolicyHandler) HandleReload(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestIDFromContext(r.Context())
	previous := h.store.RuleSet().Version()

	rs, err := h.store.Reload()
	if err != nil {
		h.logger.Warn("policy reload rejected",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, ReloadResponse{
		PreviousVersion: previous,
		RuleSet:         rs.Info(),
	}); err != nil {
		h.logger.Error("failed to write reload response", zap.Error(err))
	}
}
