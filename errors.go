package aureuspay

import (
	"errors"
	"fmt"
)

// Error represents a payment-client error with a stable machine-readable code.
type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Common error codes
const (
	ErrCodeMalformedCredential = "malformed_credential"
	ErrCodeMissingSubject      = "missing_subject"
	ErrCodeExpiredCredential   = "expired_credential"
	ErrCodeInvalidPaymentSpec  = "invalid_payment_spec"
	ErrCodeMissingID           = "missing_id"
	ErrCodeUnauthorized        = "unauthorized"
	ErrCodeServerRejected      = "server_rejected"
	ErrCodeNoResponse          = "no_response"
	ErrCodeRequestError        = "request_error"
	ErrCodeTransportRequired   = "transport_required"
)

// NewError creates a new client error
func NewError(code, message string, details map[string]interface{}) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// IsCode reports whether err is (or wraps) a client *Error carrying the given code.
func IsCode(err error, code string) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// wrapOp prefixes an operation-specific message onto an error while keeping
// the original code visible to errors.As.
func wrapOp(prefix string, err error) error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return NewError(apiErr.Code, fmt.Sprintf("%s: %s", prefix, apiErr.Message), apiErr.Details)
	}
	return fmt.Errorf("%s: %w", prefix, err)
}
