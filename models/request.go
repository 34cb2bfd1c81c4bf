package models

import (
	"time"
)

// DefaultResource is the resource used when a request does not name one
const DefaultResource = "*"

// Principal identifies the caller on whose behalf a call is being made
type Principal struct {
	ID        string `json:"principal_id" validate:"required"`
	TenantID  string `json:"tenant_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// ContextField is a single key/value pair of request context (e.g. a call argument)
type ContextField struct {
	Key   string `json:"key" cbor:"k"`
	Value any    `json:"value" cbor:"v"`
}

// AuthorizationRequest is built once per intercepted call and never mutated
type AuthorizationRequest struct {
	principal string
	action    string
	resource  string
	context   []ContextField
	tenantID  string
	sessionID string
	timestamp time.Time
}

// NewAuthorizationRequest creates a new AuthorizationRequest.
// The context slice is copied so later changes by the caller are not observed.
// The resource is kept as given; callers that have no resource pass DefaultResource.
func NewAuthorizationRequest(principal Principal, action, resource string, ctxFields []ContextField, now time.Time) *AuthorizationRequest {
	fields := make([]ContextField, len(ctxFields))
	copy(fields, ctxFields)

	return &AuthorizationRequest{
		principal: principal.ID,
		action:    action,
		resource:  resource,
		context:   fields,
		tenantID:  principal.TenantID,
		sessionID: principal.SessionID,
		timestamp: now,
	}
}

// Principal returns the principal ID
func (r *AuthorizationRequest) Principal() string { return r.principal }

// Action returns the requested action
func (r *AuthorizationRequest) Action() string { return r.action }

// Resource returns the requested resource
func (r *AuthorizationRequest) Resource() string { return r.resource }

// TenantID returns the optional tenant ID
func (r *AuthorizationRequest) TenantID() string { return r.tenantID }

// SessionID returns the optional session ID
func (r *AuthorizationRequest) SessionID() string { return r.sessionID }

// Timestamp returns the time the request was constructed
func (r *AuthorizationRequest) Timestamp() time.Time { return r.timestamp }

// Context returns a copy of the ordered request context
func (r *AuthorizationRequest) Context() []ContextField {
	fields := make([]ContextField, len(r.context))
	copy(fields, r.context)
	return fields
}

// ContextValue looks up a context field by key
func (r *AuthorizationRequest) ContextValue(key string) (any, bool) {
	for _, f := range r.context {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// AuthorizationPayload is the wire form of an AuthorizationRequest
// sent to a decision service
type AuthorizationPayload struct {
	Principal string         `json:"principal" validate:"required"`
	Action    string         `json:"action" validate:"required"`
	Resource  *string        `json:"resource,omitempty"` // nil means DefaultResource
	Context   []ContextField `json:"context,omitempty"`
	TenantID  string         `json:"tenant_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
}

// Payload converts the request to its wire form
func (r *AuthorizationRequest) Payload() AuthorizationPayload {
	resource := r.resource
	return AuthorizationPayload{
		Principal: r.principal,
		Action:    r.action,
		Resource:  &resource,
		Context:   r.Context(),
		TenantID:  r.tenantID,
		SessionID: r.sessionID,
	}
}

// Request rebuilds an AuthorizationRequest from its wire form
func (p AuthorizationPayload) Request(now time.Time) *AuthorizationRequest {
	resource := DefaultResource
	if p.Resource != nil {
		resource = *p.Resource
	}
	return NewAuthorizationRequest(Principal{
		ID:        p.Principal,
		TenantID:  p.TenantID,
		SessionID: p.SessionID,
	}, p.Action, resource, p.Context, now)
}
