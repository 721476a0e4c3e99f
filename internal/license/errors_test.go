package license

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{ErrNotFound, "INVALID_LICENSE"},
		{ErrNotActive, "INVALID_LICENSE"},
		{ErrRevoked, "INVALID_LICENSE"},
		{ErrExpired, "LICENSE_EXPIRED"},
		{ErrSuspended, "LICENSE_SUSPENDED"},
		{ErrMaxActivations, "MAX_ACTIVATIONS"},
		{ErrDomainRequired, "DOMAIN_NOT_AUTHORIZED"},
		{ErrDomainNotAuthorized, "DOMAIN_NOT_AUTHORIZED"},
		{fmt.Errorf("wrapped: %w", ErrExpired), "LICENSE_EXPIRED"},
		{ErrActivationNotFound, ""},
		{NewValidationError("domain", "required"), ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, ErrorCode(tt.err), "error %v", tt.err)
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("customer_email", "invalid email")
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "customer_email")

	assert.False(t, IsValidation(ErrNotFound))
	assert.True(t, IsValidation(fmt.Errorf("create: %w", err)))
}
