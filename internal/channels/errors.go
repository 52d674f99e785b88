package channels

import (
	"errors"
	"fmt"
)

// ErrorCode classifies channel failures for metrics and retry decisions.
type ErrorCode string

const (
	ErrCodeConnection     ErrorCode = "CONNECTION_ERROR"
	ErrCodeAuthentication ErrorCode = "AUTH_ERROR"
	ErrCodeRateLimit      ErrorCode = "RATE_LIMIT_ERROR"
	ErrCodeInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrCodeTimeout        ErrorCode = "TIMEOUT_ERROR"
	ErrCodeInternal       ErrorCode = "INTERNAL_ERROR"
	ErrCodeUnavailable    ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeConfig         ErrorCode = "CONFIG_ERROR"

	// ErrCodeQueueFull means a message was rejected because a bounded
	// queue had no room.
	ErrCodeQueueFull ErrorCode = "QUEUE_FULL"
)

// Error is a classified channel error.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error

	// Context carries debugging key-value pairs such as channel_id.
	Context map[string]any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// WithContext adds a debugging value and returns e.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// IsRetryable reports whether the failure is transient.
func (e *Error) IsRetryable() bool {
	switch e.Code {
	case ErrCodeRateLimit, ErrCodeTimeout, ErrCodeUnavailable, ErrCodeConnection, ErrCodeQueueFull:
		return true
	default:
		return false
	}
}

func ErrConnection(message string, err error) *Error {
	return NewError(ErrCodeConnection, message, err)
}

func ErrAuthentication(message string, err error) *Error {
	return NewError(ErrCodeAuthentication, message, err)
}

func ErrRateLimit(message string, err error) *Error {
	return NewError(ErrCodeRateLimit, message, err)
}

func ErrInvalidInput(message string, err error) *Error {
	return NewError(ErrCodeInvalidInput, message, err)
}

func ErrTimeout(message string, err error) *Error {
	return NewError(ErrCodeTimeout, message, err)
}

func ErrInternal(message string, err error) *Error {
	return NewError(ErrCodeInternal, message, err)
}

func ErrUnavailable(message string, err error) *Error {
	return NewError(ErrCodeUnavailable, message, err)
}

func ErrConfig(message string, err error) *Error {
	return NewError(ErrCodeConfig, message, err)
}

func ErrQueueFull(message string, err error) *Error {
	return NewError(ErrCodeQueueFull, message, err)
}

// GetErrorCode extracts the ErrorCode from err, defaulting to
// ErrCodeInternal for unclassified errors.
func GetErrorCode(err error) ErrorCode {
	var chErr *Error
	if errors.As(err, &chErr) {
		return chErr.Code
	}
	return ErrCodeInternal
}

// IsRetryable reports whether err is a retryable channel error.
func IsRetryable(err error) bool {
	var chErr *Error
	if errors.As(err, &chErr) {
		return chErr.IsRetryable()
	}
	return false
}
