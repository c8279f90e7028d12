// Package errors provides the error taxonomy for the EASM SDK.
// It follows industry best practices (HashiCorp, AWS SDK) for error handling.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// =============================================================================
// Base Error Types
// =============================================================================

// Error is the base error type for all SDK errors.
type Error struct {
	// Kind indicates the category of error
	Kind Kind

	// Op is the operation being performed (e.g., "easm.GetAssets")
	Op string

	// Message is a human-readable description
	Message string

	// Err is the underlying error
	Err error
}

// Kind represents the kind/category of error.
type Kind uint8

const (
	KindUnknown Kind = iota

	// KindValidation: caller-supplied arguments were malformed. Raised
	// before any network call and never retried.
	KindValidation

	// KindWorkspaceNotFound: the named workspace is absent from the
	// session's endpoint registry.
	KindWorkspaceNotFound

	// KindConfiguration: required credentials or settings were missing
	// at session construction.
	KindConfiguration

	// KindTimeout: a poll/wait deadline was exceeded.
	KindTimeout

	// KindAPIRequest: the request executor exhausted its retries or got
	// a non-retryable status.
	KindAPIRequest

	// KindNetwork: transport-level failure (connect, DNS, reset).
	KindNetwork
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindWorkspaceNotFound:
		return "workspace_not_found"
	case KindConfiguration:
		return "configuration"
	case KindTimeout:
		return "timeout"
	case KindAPIRequest:
		return "api_request"
	case KindNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		if e.Message == "" {
			return e.Err.Error()
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// =============================================================================
// API Error
// =============================================================================

// APIError represents a failed API exchange. LastText carries a redacted
// snippet of the final response body so operators can diagnose without
// re-running with verbose logging.
type APIError struct {
	// StatusCode is the final HTTP status observed.
	StatusCode int `json:"status_code"`

	// Code is an API-specific error code, when the body exposed one.
	Code string `json:"code,omitempty"`

	// Message is the error message from the API.
	Message string `json:"message,omitempty"`

	// LastText is a redacted snippet of the final response body.
	LastText string `json:"last_text,omitempty"`

	// Attempts is how many attempts were made before giving up.
	Attempts int `json:"attempts,omitempty"`
}

// Error implements the error interface. The last_status / last_text
// layout is load-bearing: callers parse these markers out of forwarded
// error strings.
func (e *APIError) Error() string {
	msg := fmt.Sprintf("last_status: %d -- last_text: %s", e.StatusCode, e.LastText)
	if e.Code != "" {
		return fmt.Sprintf("[%s] %s -- %s", e.Code, http.StatusText(e.StatusCode), msg)
	}
	return msg
}

// =============================================================================
// Constructors
// =============================================================================

// E constructs an Error from the given arguments.
// Arguments can be: Kind, string (Op then Message), error.
func E(args ...interface{}) error {
	e := &Error{}
	for _, arg := range args {
		switch a := arg.(type) {
		case Kind:
			e.Kind = a
		case string:
			if e.Op == "" {
				e.Op = a
			} else {
				e.Message = a
			}
		case error:
			e.Err = a
		}
	}
	return e
}

// New creates a new simple error.
func New(message string) error {
	return &Error{Message: message}
}

// Validation creates a validation error for the given operation.
func Validation(op, message string) error {
	return &Error{Kind: KindValidation, Op: op, Message: message}
}

// WorkspaceNotFound creates a workspace-lookup error.
func WorkspaceNotFound(op, workspace string) error {
	return &Error{
		Kind:    KindWorkspaceNotFound,
		Op:      op,
		Message: fmt.Sprintf("workspace %q not found in session registry", workspace),
	}
}

// Configuration creates a configuration error.
func Configuration(op, message string) error {
	return &Error{Kind: KindConfiguration, Op: op, Message: message}
}

// Timeout creates a timeout error.
func Timeout(op, message string) error {
	return &Error{Kind: KindTimeout, Op: op, Message: message}
}

// Wrap wraps an error with an operation name.
func Wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// =============================================================================
// Error Checkers
// =============================================================================

// GetKind returns the Kind of the error, or KindUnknown.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// AsAPIError checks if err wraps an APIError and returns it.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return GetKind(err) == KindValidation
}

// IsWorkspaceNotFound checks if the error is a workspace-lookup error.
func IsWorkspaceNotFound(err error) bool {
	return GetKind(err) == KindWorkspaceNotFound
}

// IsConfiguration checks if the error is a configuration error.
func IsConfiguration(err error) bool {
	return GetKind(err) == KindConfiguration
}

// IsTimeout checks if the error is a timeout error.
func IsTimeout(err error) bool {
	return GetKind(err) == KindTimeout
}

// IsAPIRequest checks if the error is an exhausted-request error.
func IsAPIRequest(err error) bool {
	if GetKind(err) == KindAPIRequest {
		return true
	}
	_, ok := AsAPIError(err)
	return ok
}

// StatusCode returns the final HTTP status carried by an API error,
// or 0 when the error carries none.
func StatusCode(err error) int {
	if apiErr, ok := AsAPIError(err); ok {
		return apiErr.StatusCode
	}
	return 0
}
