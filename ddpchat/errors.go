package ddpchat

import (
	"errors"
	"fmt"

	"github.com/vovakirdan/ddpchat-sdk-go/ddpchat/ddp"
)

// ErrorCode represents a categorized error type.
type ErrorCode int

const (
	ErrorUnknown ErrorCode = iota

	// Connection-level failures; they reset the session.
	ErrorTransport
	ErrorConnectionLost

	// Single bad frame or unexpected correlation; the session continues.
	ErrorDecode
	ErrorProtocol
	ErrorUnknownCorrelationID

	// RPC reply carrying an error payload.
	ErrorServer

	// Client-side misuse
	ErrorNotConnected
	ErrorAlreadyConnected
	ErrorNotReady
	ErrorDuplicateCorrelationID
	ErrorUnknownRoom
	ErrorInvalidConfig
	ErrorSerialization
	ErrorPersistence
)

// String returns the string representation of an ErrorCode.
func (e ErrorCode) String() string {
	switch e {
	case ErrorUnknown:
		return "unknown"
	case ErrorTransport:
		return "transport_error"
	case ErrorConnectionLost:
		return "connection_lost"
	case ErrorDecode:
		return "decode_error"
	case ErrorProtocol:
		return "protocol_error"
	case ErrorUnknownCorrelationID:
		return "unknown_correlation_id"
	case ErrorServer:
		return "server_error"
	case ErrorNotConnected:
		return "not_connected"
	case ErrorAlreadyConnected:
		return "already_connected"
	case ErrorNotReady:
		return "not_ready"
	case ErrorDuplicateCorrelationID:
		return "duplicate_correlation_id"
	case ErrorUnknownRoom:
		return "unknown_room"
	case ErrorInvalidConfig:
		return "invalid_config"
	case ErrorSerialization:
		return "serialization_error"
	case ErrorPersistence:
		return "persistence_error"
	default:
		return fmt.Sprintf("unknown_code_%d", e)
	}
}

// ClientError is a structured error with code and context.
type ClientError struct {
	Code    ErrorCode
	Message string
	Wrapped error
}

// Error implements the error interface.
func (e *ClientError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s (wrapped: %v)", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Unwrap support.
func (e *ClientError) Unwrap() error {
	return e.Wrapped
}

// Is reports whether target is a ClientError with the same code, so the
// sentinels below match any error of their category.
func (e *ClientError) Is(target error) bool {
	t, ok := target.(*ClientError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a new ClientError with the given code and message.
func NewError(code ErrorCode, message string) *ClientError {
	return &ClientError{
		Code:    code,
		Message: message,
	}
}

// WrapError wraps an existing error with a ClientError.
func WrapError(code ErrorCode, message string, err error) *ClientError {
	return &ClientError{
		Code:    code,
		Message: message,
		Wrapped: err,
	}
}

var (
	ErrNotConnected           = NewError(ErrorNotConnected, "not connected")
	ErrAlreadyConnected       = NewError(ErrorAlreadyConnected, "already connected")
	ErrNotReady               = NewError(ErrorNotReady, "session is not ready")
	ErrConnectionLost         = NewError(ErrorConnectionLost, "connection lost")
	ErrUnknownCorrelationID   = NewError(ErrorUnknownCorrelationID, "unknown correlation id")
	ErrDuplicateCorrelationID = NewError(ErrorDuplicateCorrelationID, "correlation id already outstanding")
	ErrUnknownRoom            = NewError(ErrorUnknownRoom, "unknown room")
)

// FromServerError converts an RPC error payload to a ClientError.
func FromServerError(e *ddp.Error) *ClientError {
	if e == nil {
		return nil
	}
	return &ClientError{
		Code:    ErrorServer,
		Message: e.Error(),
		Wrapped: e,
	}
}

// IsServerError checks if an error came back from the server as an RPC error.
func IsServerError(err error) bool {
	return hasCode(err, ErrorServer)
}

// IsTransportError checks if an error is a connection-level failure.
func IsTransportError(err error) bool {
	return hasCode(err, ErrorTransport) || hasCode(err, ErrorConnectionLost)
}

func hasCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	var ce *ClientError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code == code
}
