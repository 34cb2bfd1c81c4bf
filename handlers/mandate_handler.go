package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/upb/authority-gate/internal/clock"
	"github.com/upb/authority-gate/models"
	"github.com/upb/authority-gate/services/mandate"
	"github.com/upb/authority-gate/utils"
	"go.uber.org/zap"
)

// MandateHandler verifies mandates and reports cache state
type MandateHandler struct {
	verifier mandate.Verifier
	cache    *mandate.Cache
	clock    clock.Clock
	logger   *zap.Logger
}

// NewMandateHandler creates a new MandateHandler. cache may be nil.
func NewMandateHandler(verifier mandate.Verifier, cache *mandate.Cache, clk clock.Clock, logger *zap.Logger) *MandateHandler {
	if clk == nil {
		clk = clock.Real()
	}
	return &MandateHandler{
		verifier: verifier,
		cache:    cache,
		clock:    clk,
		logger:   logger,
	}
}

// HandleVerify handles POST /v1/mandates/verify.
// The body is a mandate in the same form /v1/authorize returns.
func (h *MandateHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var body models.AuthorizeResponse
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&body); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if body.MandateID == "" {
		_ = utils.WriteBadRequest(w, "mandate_id is required", nil)
		return
	}

	m := body.Mandate()
	now := h.clock.Now()
	resp := models.VerifyMandateResponse{Expired: m.Expired(now)}

	if err := mandate.Verify(h.verifier, m); err != nil {
		h.logger.Warn("mandate verification failed",
			zap.String("mandate_id", m.MandateID),
			zap.Error(err))
		resp.Error = err.Error()
	} else {
		resp.Valid = true
		resp.Grants = m.Grants(now)
	}

	if err := utils.WriteOK(w, resp); err != nil {
		h.logger.Error("failed to write verify response", zap.Error(err))
	}
}

// HandleCacheStats handles GET /v1/cache/stats
func (h *MandateHandler) HandleCacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		_ = utils.WriteNotFound(w, "mandate cache is not enabled")
		return
	}
	if err := utils.WriteOK(w, h.cache.Stats()); err != nil {
		h.logger.Error("failed to write cache stats response", zap.Error(err))
	}
}

// HandleCacheClear handles DELETE /v1/cache
func (h *MandateHandler) HandleCacheClear(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		_ = utils.WriteNotFound(w, "mandate cache is not enabled")
		return
	}
	h.cache.Clear()
	h.logger.Info("mandate cache cleared")
	utils.WriteNoContent(w)
}
