package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeStructural    ErrorType = "structural"
	ErrorTypePolicyDeny    ErrorType = "policy_deny"
	ErrorTypeTransport     ErrorType = "transport"
	ErrorTypeIntegrity     ErrorType = "integrity"
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeInternal      ErrorType = "internal"
)

// Reasons reported to callers when a call is aborted without a policy decision
const (
	ReasonAuthorizationUnavailable = "authorization-unavailable"
	ReasonIntegrityFailure         = "integrity-failure"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables

var (
	// Structural Errors
	ErrStructural      = NewDomainError(ErrorTypeStructural, "malformed authorization request", nil)
	ErrEmptyAction     = NewDomainError(ErrorTypeStructural, "action cannot be empty", nil)
	ErrEmptyResource   = NewDomainError(ErrorTypeStructural, "resource cannot be empty", nil)
	ErrMissingPrincipal = NewDomainError(ErrorTypeStructural, "principal is required", nil)
	ErrInvalidRuleSet  = NewDomainError(ErrorTypeStructural, "invalid policy rule set", nil)

	// Policy Deny
	ErrPolicyDeny = NewDomainError(ErrorTypePolicyDeny, "authorization denied", nil)

	// Transport Errors
	ErrAuthorizationUnavailable = NewDomainError(ErrorTypeTransport, "authorization unavailable", nil)
	ErrDecisionTimeout          = NewDomainError(ErrorTypeTransport, "authorization decision timed out", nil)
	ErrMalformedResponse        = NewDomainError(ErrorTypeTransport, "malformed decision response", nil)

	// Integrity Errors
	ErrIntegrity        = NewDomainError(ErrorTypeIntegrity, "mandate integrity check failed", nil)
	ErrInvalidSignature = NewDomainError(ErrorTypeIntegrity, "invalid mandate signature", nil)

	// Configuration Errors
	ErrConfiguration     = NewDomainError(ErrorTypeConfiguration, "invalid configuration", nil)
	ErrSigningKeyMissing = NewDomainError(ErrorTypeConfiguration, "signing key is required", nil)
	ErrRuleSetUnreadable = NewDomainError(ErrorTypeConfiguration, "policy rule set source is unreadable", nil)

	// Not Found Errors
	ErrMandateNotFound = NewDomainError(ErrorTypeNotFound, "mandate not found", nil)

	// Internal Errors
	ErrInternal = NewDomainError(ErrorTypeInternal, "internal error", nil)
)

// Error type checking helper functions

// IsStructuralError checks if an error is a structural (malformed request) error
func IsStructuralError(err error) bool {
	return GetErrorType(err) == ErrorTypeStructural
}

// IsPolicyDenyError checks if an error is a policy deny
func IsPolicyDenyError(err error) bool {
	return GetErrorType(err) == ErrorTypePolicyDeny
}

// IsTransportError checks if an error is a transport or timeout error
func IsTransportError(err error) bool {
	return GetErrorType(err) == ErrorTypeTransport
}

// IsIntegrityError checks if an error is a signature/integrity error
func IsIntegrityError(err error) bool {
	return GetErrorType(err) == ErrorTypeIntegrity
}

// IsConfigurationError checks if an error is a configuration error
func IsConfigurationError(err error) bool {
	return GetErrorType(err) == ErrorTypeConfiguration
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return GetErrorType(err) == ErrorTypeNotFound
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeInternal
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapStructural wraps an error as a structural error
func WrapStructural(message string, err error) error {
	return NewDomainError(ErrorTypeStructural, message, err)
}

// WrapTransport wraps an error as a transport error
func WrapTransport(message string, err error) error {
	return NewDomainError(ErrorTypeTransport, message, err)
}

// WrapIntegrity wraps an error as an integrity error
func WrapIntegrity(message string, err error) error {
	return NewDomainError(ErrorTypeIntegrity, message, err)
}

// WrapConfiguration wraps an error as a configuration error
func WrapConfiguration(message string, err error) error {
	return NewDomainError(ErrorTypeConfiguration, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}
