package license

import "errors"

var (
	ErrNotFound             = errors.New("license: not found")
	ErrNotActive            = errors.New("license: not active")
	ErrSuspended            = errors.New("license: suspended")
	ErrRevoked              = errors.New("license: revoked")
	ErrExpired              = errors.New("license: expired")
	ErrDomainRequired       = errors.New("license: domain required")
	ErrDomainNotAuthorized  = errors.New("license: domain not authorized")
	ErrMaxActivations       = errors.New("license: max activations reached")
	ErrActivationNotFound   = errors.New("license: no active activation for domain")
	ErrAlreadySuspended     = errors.New("license: already suspended")
	ErrNotSuspended         = errors.New("license: not suspended")
	ErrAlreadyRevoked       = errors.New("license: already revoked")
	ErrNoFieldsToUpdate     = errors.New("license: no fields to update")
	ErrDuplicateKey         = errors.New("license: key already exists")
	ErrKeyGenerationFailure = errors.New("license: could not generate unique key")
)

// ValidationError reports a bad input shape or missing required field.
// It is recoverable at the API boundary and carries the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "license: validation: " + e.Message
	}
	return "license: validation: " + e.Field + ": " + e.Message
}

// NewValidationError builds a field-scoped validation error.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ErrorCode maps a lifecycle error to the string code surfaced to API callers.
// Unknown errors map to the empty string and should be treated as internal.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNotActive), errors.Is(err, ErrRevoked):
		return "INVALID_LICENSE"
	case errors.Is(err, ErrExpired):
		return "LICENSE_EXPIRED"
	case errors.Is(err, ErrSuspended):
		return "LICENSE_SUSPENDED"
	case errors.Is(err, ErrMaxActivations):
		return "MAX_ACTIVATIONS"
	case errors.Is(err, ErrDomainRequired), errors.Is(err, ErrDomainNotAuthorized):
		return "DOMAIN_NOT_AUTHORIZED"
	}
	return ""
}
