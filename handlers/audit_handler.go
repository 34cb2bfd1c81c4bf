package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/upb/authority-gate/models"
	"github.com/upb/authority-gate/utils"
	"go.uber.org/zap"
)

// AuditReader queries recorded gate decisions
type AuditReader interface {
	ListByPrincipal(ctx context.Context, principal string, limit, offset int) ([]*models.AuditLog, error)
	ListByMandate(ctx context.Context, mandateID string) ([]*models.AuditLog, error)
}

// AuditHandler serves the decision audit trail
type AuditHandler struct {
	reader AuditReader
	logger *zap.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(reader AuditReader, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		reader: reader,
		logger: logger,
	}
}

// HandleListDecisions handles GET /v1/audit/decisions?principal=&limit=&offset=
func (h *AuditHandler) HandleListDecisions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	principal := q.Get("principal")
	if err := utils.ValidateRequired(principal, "principal"); err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	limit, err := queryInt(q.Get("limit"), 50)
	if err != nil {
		_ = utils.WriteBadRequest(w, "limit must be an integer", nil)
		return
	}
	offset, err := queryInt(q.Get("offset"), 0)
	if err != nil {
		_ = utils.WriteBadRequest(w, "offset must be an integer", nil)
		return
	}

	logs, err := h.reader.ListByPrincipal(r.Context(), principal, limit, offset)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if logs == nil {
		logs = []*models.AuditLog{}
	}
	_ = utils.WriteOK(w, logs)
}

// HandleMandateDecisions handles GET /v1/audit/mandates/{mandateID}
func (h *AuditHandler) HandleMandateDecisions(w http.ResponseWriter, r *http.Request) {
	mandateID := chi.URLParam(r, "mandateID")
	if err := utils.ValidateUUID(mandateID); err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	logs, err := h.reader.ListByMandate(r.Context(), mandateID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if len(logs) == 0 {
		_ = utils.WriteNotFound(w, "no decisions recorded for mandate")
		return
	}
	_ = utils.WriteOK(w, logs)
}

func queryInt(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
