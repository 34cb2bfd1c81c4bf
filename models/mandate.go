package models

import (
	"time"
)

// Mandate is a signed, time-bounded record of an authorization decision.
// A mandate with OutcomeDeny exists for audit only and never grants execution.
type Mandate struct {
	MandateID string    `json:"mandate_id"`
	Outcome   Outcome   `json:"outcome"`
	Reason    string    `json:"reason"`
	Principal string    `json:"principal"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Signature []byte    `json:"signature"`
	KeyID     string    `json:"key_id,omitempty"`
}

// Expired reports whether the mandate can no longer be served at now
func (m *Mandate) Expired(now time.Time) bool {
	return !now.Before(m.ExpiresAt)
}

// Grants reports whether the mandate authorizes execution at now
func (m *Mandate) Grants(now time.Time) bool {
	return m.Outcome == OutcomeAllow && !m.Expired(now)
}

// TTL returns the remaining lifetime of the mandate at now
func (m *Mandate) TTL(now time.Time) time.Duration {
	if m.Expired(now) {
		return 0
	}
	return m.ExpiresAt.Sub(now)
}

// Clone returns a deep copy of the mandate
func (m *Mandate) Clone() *Mandate {
	c := *m
	c.Signature = append([]byte(nil), m.Signature...)
	return &c
}
