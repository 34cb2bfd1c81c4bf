package handlers

import (
	"net/http"

	"github.com/upb/authority-gate/services"
	"github.com/upb/authority-gate/utils"
	"go.uber.org/zap"
)

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	details := services.GetErrorDetails(err)
	var writeErr error

	switch {
	case services.IsStructuralError(err):
		if utils.IsValidationError(err) {
			details = fieldDetails(err, details)
		}
		writeErr = utils.WriteBadRequest(w, err.Error(), details)

	case services.IsNotFoundError(err):
		writeErr = utils.WriteNotFound(w, err.Error())

	case services.IsPolicyDenyError(err):
		writeErr = utils.WriteForbidden(w, err.Error())

	case services.IsIntegrityError(err):
		logger.Error("mandate integrity failure", zap.Error(err))
		writeErr = utils.WriteForbidden(w, services.ReasonIntegrityFailure)

	case services.IsTransportError(err):
		writeErr = utils.WriteError(w, http.StatusBadGateway, err.Error(), details)

	case services.IsConfigurationError(err):
		logger.Error("configuration error", zap.Error(err))
		writeErr = utils.WriteInternalServerError(w, err.Error())

	case services.IsInternalError(err):
		// Log internal errors but return generic message
		logger.Error("internal server error", zap.Error(err))
		writeErr = utils.WriteInternalServerError(w, "An internal error occurred")

	default:
		logger.Error("unhandled error type",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		writeErr = utils.WriteInternalServerError(w, "An unexpected error occurred")
	}

	if writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		if err := utils.WriteBadRequest(w, "Validation failed", fieldDetails(err, nil)); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}

func fieldDetails(err error, details map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(details))
	for k, v := range details {
		out[k] = v
	}
	for k, v := range utils.GetValidationFields(err) {
		out[k] = v
	}
	return out
}
