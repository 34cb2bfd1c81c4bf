package models

import (
	"time"

	"github.com/google/uuid"
)

// DecisionSource records where a gate verdict came from
type DecisionSource string

const (
	DecisionSourceCache      DecisionSource = "cache"
	DecisionSourceEngine     DecisionSource = "engine"
	DecisionSourceFailClosed DecisionSource = "fail_closed"
	DecisionSourceStructural DecisionSource = "structural"
)

// AuditLog represents an audit trail entry for a single gate verdict
type AuditLog struct {
	ID           uuid.UUID      `json:"id" db:"id"`
	MandateID    *string        `json:"mandate_id,omitempty" db:"mandate_id"`
	Principal    string         `json:"principal" db:"principal"`
	TenantID     *string        `json:"tenant_id,omitempty" db:"tenant_id"`
	SessionID    *string        `json:"session_id,omitempty" db:"session_id"`
	Action       string         `json:"action" db:"action"`
	Resource     string         `json:"resource" db:"resource"`
	Outcome      Outcome        `json:"outcome" db:"outcome"`
	Reason       string         `json:"reason" db:"reason"`
	Source       DecisionSource `json:"source" db:"source"`
	ArgsHash     string         `json:"args_hash,omitempty" db:"args_hash"`
	LatencyMs    int            `json:"latency_ms" db:"latency_ms"`
	Timestamp    time.Time      `json:"timestamp" db:"timestamp"`
	ErrorMessage *string        `json:"error_message,omitempty" db:"error_message"`
}

// TableName returns the table name for the AuditLog model
func (AuditLog) TableName() string {
	return "authorization_audit_logs"
}

// NewAuditLog creates a new AuditLog instance
func NewAuditLog(principal, action, resource string, outcome Outcome, reason string, source DecisionSource) *AuditLog {
	return &AuditLog{
		ID:        uuid.New(),
		Principal: principal,
		Action:    action,
		Resource:  resource,
		Outcome:   outcome,
		Reason:    reason,
		Source:    source,
		Timestamp: time.Now(),
	}
}

// WithMandate sets the mandate ID
func (a *AuditLog) WithMandate(mandateID string) *AuditLog {
	if mandateID != "" {
		a.MandateID = &mandateID
	}
	return a
}

// WithTenant sets tenant and session identifiers
func (a *AuditLog) WithTenant(tenantID, sessionID string) *AuditLog {
	if tenantID != "" {
		a.TenantID = &tenantID
	}
	if sessionID != "" {
		a.SessionID = &sessionID
	}
	return a
}

// WithArgsHash sets the digest of the call arguments
func (a *AuditLog) WithArgsHash(hash string) *AuditLog {
	a.ArgsHash = hash
	return a
}

// WithLatency sets the decision latency
func (a *AuditLog) WithLatency(d time.Duration) *AuditLog {
	a.LatencyMs = int(d.Milliseconds())
	return a
}

// WithError sets error information
func (a *AuditLog) WithError(errorMessage string) *AuditLog {
	a.ErrorMessage = &errorMessage
	return a
}
