package models

import (
	"time"
)

// AuthorizeResponse is the decision service's answer to an AuthorizationPayload
type AuthorizeResponse struct {
	Outcome     Outcome   `json:"outcome"`
	Reason      string    `json:"reason"`
	MatchedRule *string   `json:"matched_rule"`
	MandateID   string    `json:"mandate_id"`
	Principal   string    `json:"principal"`
	Action      string    `json:"action"`
	Resource    string    `json:"resource"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Signature   []byte    `json:"signature"` // base64 in JSON
	KeyID       string    `json:"key_id,omitempty"`
}

// NewAuthorizeResponse builds a response from a decision and its mandate
func NewAuthorizeResponse(decision Decision, m *Mandate) AuthorizeResponse {
	return AuthorizeResponse{
		Outcome:     m.Outcome,
		Reason:      m.Reason,
		MatchedRule: decision.MatchedRule,
		MandateID:   m.MandateID,
		Principal:   m.Principal,
		Action:      m.Action,
		Resource:    m.Resource,
		IssuedAt:    m.IssuedAt,
		ExpiresAt:   m.ExpiresAt,
		Signature:   m.Signature,
		KeyID:       m.KeyID,
	}
}

// Mandate extracts the signed mandate carried by the response
func (r AuthorizeResponse) Mandate() *Mandate {
	return &Mandate{
		MandateID: r.MandateID,
		Outcome:   r.Outcome,
		Reason:    r.Reason,
		Principal: r.Principal,
		Action:    r.Action,
		Resource:  r.Resource,
		IssuedAt:  r.IssuedAt,
		ExpiresAt: r.ExpiresAt,
		Signature: r.Signature,
		KeyID:     r.KeyID,
	}
}

// VerifyMandateResponse reports the result of a mandate verification
type VerifyMandateResponse struct {
	Valid   bool   `json:"valid"`
	Grants  bool   `json:"grants"`
	Expired bool   `json:"expired"`
	Error   string `json:"error,omitempty"`
}
