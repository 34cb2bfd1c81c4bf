package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDomainError(t *testing.T) {
	baseErr := errors.New("base error")
	domainErr := NewDomainError(ErrorTypeNotFound, "mandate not found", baseErr)

	assert.Equal(t, ErrorTypeNotFound, domainErr.Type)
	assert.Equal(t, "mandate not found", domainErr.Message)
	assert.Equal(t, baseErr, domainErr.Err)
	assert.NotNil(t, domainErr.Details)
}

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *DomainError
		wantMsg string
	}{
		{
			name: "error with wrapped error",
			err: &DomainError{
				Type:    ErrorTypeTransport,
				Message: "authorization unavailable",
				Err:     errors.New("connection refused"),
			},
			wantMsg: "transport: authorization unavailable (connection refused)",
		},
		{
			name: "error without wrapped error",
			err: &DomainError{
				Type:    ErrorTypeStructural,
				Message: "action cannot be empty",
			},
			wantMsg: "structural: action cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMsg, tt.err.Error())
		})
	}
}

func TestDomainError_Unwrap(t *testing.T) {
	baseErr := errors.New("base error")
	domainErr := NewDomainError(ErrorTypeInternal, "internal error", baseErr)

	assert.Equal(t, baseErr, errors.Unwrap(domainErr))
}

func TestDomainError_Is(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{
			name:   "same error type",
			err:    NewDomainError(ErrorTypeStructural, "bad", nil),
			target: ErrStructural,
			want:   true,
		},
		{
			name:   "different error type",
			err:    NewDomainError(ErrorTypeTransport, "down", nil),
			target: ErrIntegrity,
			want:   false,
		},
		{
			name:   "wrapped with fmt.Errorf",
			err:    fmt.Errorf("outer: %w", ErrEmptyAction),
			target: ErrStructural,
			want:   true,
		},
		{
			name:   "non-domain error",
			err:    errors.New("plain"),
			target: ErrStructural,
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestDomainError_WithDetail(t *testing.T) {
	err := NewDomainError(ErrorTypePolicyDeny, "denied", nil).
		WithDetail("rule", "deny-dangerous").
		WithDetail("action", "delete_order")

	assert.Equal(t, "deny-dangerous", err.Details["rule"])
	assert.Equal(t, "delete_order", err.Details["action"])

	bare := &DomainError{Type: ErrorTypeInternal}
	bare.WithDetail("k", 1)
	require.NotNil(t, bare.Details)
	assert.Equal(t, 1, bare.Details["k"])
}

func TestErrorTypeHelpers(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"structural", ErrEmptyAction, IsStructuralError},
		{"policy deny", ErrPolicyDeny, IsPolicyDenyError},
		{"transport", ErrDecisionTimeout, IsTransportError},
		{"integrity", ErrInvalidSignature, IsIntegrityError},
		{"configuration", ErrSigningKeyMissing, IsConfigurationError},
		{"not found", ErrMandateNotFound, IsNotFoundError},
		{"internal", WrapInternal("boom", errors.New("x")), IsInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.True(t, tt.check(fmt.Errorf("wrapped: %w", tt.err)))
			assert.False(t, tt.check(errors.New("plain")))
		})
	}
}

func TestGetErrorTypeAndDetails(t *testing.T) {
	err := WrapTransport("engine unreachable", errors.New("dial tcp"))
	assert.Equal(t, ErrorTypeTransport, GetErrorType(err))
	assert.NotNil(t, GetErrorDetails(err))

	assert.Equal(t, ErrorType(""), GetErrorType(errors.New("plain")))
	assert.Nil(t, GetErrorDetails(errors.New("plain")))
}

func TestWrapHelpers(t *testing.T) {
	base := errors.New("cause")

	assert.True(t, IsStructuralError(WrapStructural("m", base)))
	assert.True(t, IsIntegrityError(WrapIntegrity("m", base)))
	assert.True(t, IsConfigurationError(WrapConfiguration("m", base)))
	assert.True(t, IsTransportError(WrapError(ErrorTypeTransport, "m", base)))
	assert.ErrorIs(t, WrapIntegrity("m", base), base)
}
