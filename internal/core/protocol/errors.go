package protocol

import (
	"time"

	"github.com/pkg/errors"
)

// Core protocol errors
var (
	// Envelope errors

	ErrInvalidEnvelope = errors.New("invalid envelope")
	ErrSchemaViolation = errors.New("envelope violates schema")
	ErrUnknownEvent    = errors.New("unknown event")
	ErrInvalidPayload  = errors.New("invalid payload")

	// Connection errors

	ErrConnectionClosed = errors.New("connection is closed")
	ErrDialFailed       = errors.New("dial failed")
	ErrMessageTooLarge  = errors.New("message too large")

	// Transport errors

	ErrTransportNotSupported = errors.New("transport not supported")
	ErrInvalidAddress        = errors.New("invalid address")
)

// ErrorCode represents a numeric error code for reporting
type ErrorCode int

const (
	ErrorCodeSuccess ErrorCode = 0

	// Envelope error codes (3000-3999)

	ErrorCodeInvalidEnvelope ErrorCode = 3001
	ErrorCodeSchemaViolation ErrorCode = 3002
	ErrorCodeUnknownEvent    ErrorCode = 3003
	ErrorCodeInvalidPayload  ErrorCode = 3004
	ErrorCodeMessageTooLarge ErrorCode = 3005

	// Connection error codes (1000-1999)

	ErrorCodeConnectionClosed ErrorCode = 1001
	ErrorCodeDialFailed       ErrorCode = 1002

	// Transport error codes (7000-7999)

	ErrorCodeTransportNotSupported ErrorCode = 7001
	ErrorCodeInvalidAddress        ErrorCode = 7002

	ErrorCodeUnknownError ErrorCode = 9999
)

// Error represents a protocol error with additional context
type Error struct {
	Code      ErrorCode
	Message   string
	Cause     error
	Context   map[string]any
	Timestamp int64
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewProtocolError creates a new protocol error
func NewProtocolError(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Context:   make(map[string]any),
		Timestamp: time.Now().Unix(),
	}
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

// IsTemporary reports whether reconnecting may help.
func (e *Error) IsTemporary() bool {
	switch e.Code {
	case ErrorCodeConnectionClosed, ErrorCodeDialFailed:
		return true
	default:
		return false
	}
}

// IsDropped reports whether the error only affects a single envelope.
func (e *Error) IsDropped() bool {
	switch e.Code {
	case ErrorCodeInvalidEnvelope,
		ErrorCodeSchemaViolation,
		ErrorCodeUnknownEvent,
		ErrorCodeInvalidPayload,
		ErrorCodeMessageTooLarge:
		return true
	default:
		return false
	}
}

var errorCodes = []struct {
	err  error
	code ErrorCode
}{
	{ErrInvalidEnvelope, ErrorCodeInvalidEnvelope},
	{ErrSchemaViolation, ErrorCodeSchemaViolation},
	{ErrUnknownEvent, ErrorCodeUnknownEvent},
	{ErrInvalidPayload, ErrorCodeInvalidPayload},
	{ErrMessageTooLarge, ErrorCodeMessageTooLarge},
	{ErrConnectionClosed, ErrorCodeConnectionClosed},
	{ErrDialFailed, ErrorCodeDialFailed},
	{ErrTransportNotSupported, ErrorCodeTransportNotSupported},
	{ErrInvalidAddress, ErrorCodeInvalidAddress},
}

// GetErrorCode returns the error code for err, looking through wrapping.
func GetErrorCode(err error) ErrorCode {
	if err == nil {
		return ErrorCodeSuccess
	}

	var protocolErr *Error
	if errors.As(err, &protocolErr) {
		return protocolErr.Code
	}

	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ErrorCodeUnknownError
}

// WrapError wraps err into a protocol Error
func WrapError(err error, message string) *Error {
	return NewProtocolError(GetErrorCode(err), message, err)
}
