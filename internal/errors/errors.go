package errors

import (
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// QueryFailed indicates a provider reported a fetch failure
	QueryFailed ErrorCode = "QUERY_FAILED"
	// NoProvider indicates no cache entry or provider satisfies the query
	NoProvider ErrorCode = "NO_PROVIDER"
	// UnsupportedPagination indicates a limited or offset query reached the providers
	UnsupportedPagination ErrorCode = "UNSUPPORTED_PAGINATION"
	// CacheError indicates a cache operation failed
	CacheError ErrorCode = "CACHE_ERROR"
	// Cancelled indicates the query was cancelled; not a failure
	Cancelled ErrorCode = "CANCELLED"
	// Interrupted indicates a provider stopped because its work was interrupted
	Interrupted ErrorCode = "INTERRUPTED"
	// InvalidArgument indicates an illegal state transition or malformed query
	InvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// Timeout indicates a wait for completion timed out
	Timeout ErrorCode = "TIMEOUT"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// Sentinels usable with errors.Is; matching is by code.
var (
	ErrQueryFailed           = &RegistryError{Code: QueryFailed}
	ErrNoProvider            = &RegistryError{Code: NoProvider}
	ErrUnsupportedPagination = &RegistryError{Code: UnsupportedPagination}
	ErrCache                 = &RegistryError{Code: CacheError}
	ErrCancelled             = &RegistryError{Code: Cancelled}
	ErrInterrupted           = &RegistryError{Code: Interrupted}
	ErrInvalidArgument       = &RegistryError{Code: InvalidArgument}
	ErrTimeout               = &RegistryError{Code: Timeout}
)

// RegistryError represents a registry error with code, message and cause
type RegistryError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	cause   error       // Underlying error (not exported to JSON)
}

// New creates a new RegistryError
func New(code ErrorCode, message string, cause error) *RegistryError {
	return &RegistryError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Newf creates a new RegistryError with a formatted message and no cause
func Newf(code ErrorCode, format string, args ...interface{}) *RegistryError {
	return &RegistryError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Error implements the error interface
func (e *RegistryError) Error() string {
	if e.Message == "" {
		if e.cause != nil {
			return fmt.Sprintf("[%s] %v", e.Code, e.cause)
		}
		return fmt.Sprintf("[%s]", e.Code)
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *RegistryError) Unwrap() error {
	return e.cause
}

// Is reports whether target is a RegistryError with the same code
func (e *RegistryError) Is(target error) bool {
	t, ok := target.(*RegistryError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetails adds details to the error
func (e *RegistryError) WithDetails(details interface{}) *RegistryError {
	e.Details = details
	return e
}

// CodeOf returns the code of the first RegistryError in err's chain, or
// InternalError when there is none.
func CodeOf(err error) ErrorCode {
	for err != nil {
		if re, ok := err.(*RegistryError); ok {
			return re.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return InternalError
}

// HasCode reports whether any RegistryError in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		if re, ok := err.(*RegistryError); ok && re.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
