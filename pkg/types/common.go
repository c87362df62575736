package types

import (
	"errors"
)

// Status represents the operational status of components
type Status string

const (
	StatusUnknown  Status = "unknown"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusStopped  Status = "stopped"
	StatusError    Status = "error"
)

// Error represents an error with additional context
type Error struct {
	Code    string
	Message string
	Err     error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new error with code and message
func NewError(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WrapError wraps an existing error with code and message
func WrapError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsErrCode reports whether any error in err's chain carries the given code.
func IsErrCode(err error, code string) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Err
	}
	return false
}

// GetErrorCode returns the code of the outermost *Error in err's chain
func GetErrorCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Common error codes
const (
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeAlreadyExists      = "ALREADY_EXISTS"
	ErrCodeInvalidArgument    = "INVALID_ARGUMENT"
	ErrCodeInvalid            = "INVALID"
	ErrCodeInternal           = "INTERNAL"
	ErrCodeUnavailable        = "UNAVAILABLE"
	ErrCodeTimeout            = "TIMEOUT"
	ErrCodeCanceled           = "CANCELED"
	ErrCodeUnsupported        = "UNSUPPORTED"
	ErrCodeFailedPrecondition = "FAILED_PRECONDITION"
)

// Multicast and relay error codes
const (
	// ErrCodeNotMulticast: the group address is not an IPv4 multicast address.
	ErrCodeNotMulticast = "NOT_MULTICAST"
	// ErrCodeJoinFailed: bind or group membership failed at the OS level.
	ErrCodeJoinFailed = "JOIN_FAILED"
	// ErrCodeConnectFailed: the relay channel could not be reached and no
	// broker could be spawned.
	ErrCodeConnectFailed = "CONNECT_FAILED"
	// ErrCodeEncodingOverflow: the message does not fit the destination buffer.
	ErrCodeEncodingOverflow = "ENCODING_OVERFLOW"
	// ErrCodeDecoding: malformed or truncated control message.
	ErrCodeDecoding = "DECODING"
	// ErrCodeBrokerFailed: fatal relay broker failure.
	ErrCodeBrokerFailed = "BROKER_FAILED"
	// ErrCodeEncoding: a session could not encode an outgoing message.
	ErrCodeEncoding = "ENCODING"
	// ErrCodeTransport: a session could not hand bytes to its communicator.
	ErrCodeTransport = "TRANSPORT"
)
