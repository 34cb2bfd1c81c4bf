package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/authority-gate/models"
	"github.com/upb/authority-gate/repositories"
	"github.com/upb/authority-gate/services"
	"go.uber.org/zap"
)

const auditColumns = `id, mandate_id, principal, tenant_id, session_id, action, resource,
		       outcome, reason, source, args_hash, latency_ms, timestamp, error_message`

// AuditRepository implements the repositories.AuditRepository interface
type AuditRepository struct {
	db     *DB
	txm    repositories.TransactionManager
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, logger *zap.Logger) repositories.AuditRepository {
	return &AuditRepository{
		db:     db,
		txm:    NewTransactionManager(db, logger),
		logger: logger,
	}
}

// Insert inserts a new audit log entry
func (r *AuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	query := `
		INSERT INTO authorization_audit_logs (
			id, mandate_id, principal, tenant_id, session_id, action, resource,
			outcome, reason, source, args_hash, latency_ms, timestamp, error_message
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		log.ID,
		log.MandateID,
		log.Principal,
		log.TenantID,
		log.SessionID,
		log.Action,
		log.Resource,
		log.Outcome,
		log.Reason,
		log.Source,
		log.ArgsHash,
		log.LatencyMs,
		log.Timestamp,
		log.ErrorMessage,
	)

	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	r.logger.Debug("audit log inserted", zap.String("id", log.ID.String()), zap.String("action", log.Action))
	return nil
}

// InsertBatch inserts all entries in one transaction
func (r *AuditRepository) InsertBatch(ctx context.Context, logs []*models.AuditLog) error {
	if len(logs) == 0 {
		return nil
	}
	return r.txm.InTransaction(ctx, func(txCtx context.Context) error {
		for _, log := range logs {
			if err := r.Insert(txCtx, log); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetByID retrieves an audit log by ID
func (r *AuditRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditLog, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM authorization_audit_logs
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	log, err := scanAuditLog(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, services.NewDomainError(services.ErrorTypeNotFound, "audit log not found", err).
				WithDetail("id", id.String())
		}
		return nil, fmt.Errorf("failed to get audit log: %w", err)
	}

	return log, nil
}

// GetByPrincipal retrieves audit logs for a principal with pagination
func (r *AuditRepository) GetByPrincipal(ctx context.Context, principal string, limit, offset int) ([]*models.AuditLog, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM authorization_audit_logs
		WHERE principal = $1
		ORDER BY timestamp DESC
		LIMIT $2 OFFSET $3
	`

	return r.queryAuditLogs(ctx, query, principal, limit, offset)
}

// GetByMandateID retrieves the audit logs that reference a mandate
func (r *AuditRepository) GetByMandateID(ctx context.Context, mandateID string) ([]*models.AuditLog, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM authorization_audit_logs
		WHERE mandate_id = $1
		ORDER BY timestamp DESC
	`

	return r.queryAuditLogs(ctx, query, mandateID)
}

// GetByDateRange retrieves audit logs within a date range
func (r *AuditRepository) GetByDateRange(ctx context.Context, start, end time.Time, limit, offset int) ([]*models.AuditLog, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM authorization_audit_logs
		WHERE timestamp >= $1 AND timestamp <= $2
		ORDER BY timestamp DESC
		LIMIT $3 OFFSET $4
	`

	return r.queryAuditLogs(ctx, query, start, end, limit, offset)
}

// queryAuditLogs is a helper method to query multiple audit logs
func (r *AuditRepository) queryAuditLogs(ctx context.Context, query string, args ...interface{}) ([]*models.AuditLog, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.AuditLog
	for rows.Next() {
		log, err := scanAuditLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log rows: %w", err)
	}

	return logs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAuditLog(row rowScanner) (*models.AuditLog, error) {
	log := &models.AuditLog{}
	err := row.Scan(
		&log.ID,
		&log.MandateID,
		&log.Principal,
		&log.TenantID,
		&log.SessionID,
		&log.Action,
		&log.Resource,
		&log.Outcome,
		&log.Reason,
		&log.Source,
		&log.ArgsHash,
		&log.LatencyMs,
		&log.Timestamp,
		&log.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	return log, nil
}
