package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/upb/authority-gate/models"
)

// TransactionManager runs a unit of work atomically
type TransactionManager interface {
	// InTransaction commits if fn succeeds and rolls back otherwise.
	// Repository calls made with the ctx passed to fn join the transaction.
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// AuditRepository handles authorization audit log operations
type AuditRepository interface {
	// Insert inserts a new audit log entry
	Insert(ctx context.Context, log *models.AuditLog) error

	// InsertBatch inserts entries atomically
	InsertBatch(ctx context.Context, logs []*models.AuditLog) error

	// GetByID retrieves an audit log by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.AuditLog, error)

	// GetByPrincipal retrieves audit logs for a principal with pagination, newest first
	GetByPrincipal(ctx context.Context, principal string, limit, offset int) ([]*models.AuditLog, error)

	// GetByMandateID retrieves the audit logs that reference a mandate
	GetByMandateID(ctx context.Context, mandateID string) ([]*models.AuditLog, error)

	// GetByDateRange retrieves audit logs within a date range
	GetByDateRange(ctx context.Context, start, end time.Time, limit, offset int) ([]*models.AuditLog, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	AuditLogs AuditRepository
}
