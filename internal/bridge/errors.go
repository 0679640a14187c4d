package bridge

import (
	"errors"
	"fmt"
)

// ProtocolErrorCode categorizes renderer protocol failures.
type ProtocolErrorCode string

const (
	// ErrCodeMalformed indicates the payload was not valid JSON.
	ErrCodeMalformed ProtocolErrorCode = "MALFORMED"

	// ErrCodeSchemaViolation indicates valid JSON that breaks the message schema.
	ErrCodeSchemaViolation ProtocolErrorCode = "SCHEMA_VIOLATION"

	// ErrCodeUnencodable indicates a host command could not be serialized.
	ErrCodeUnencodable ProtocolErrorCode = "UNENCODABLE"
)

// ProtocolError is returned for messages that cannot be accepted.
type ProtocolError struct {
	Code    ProtocolErrorCode
	Type    string // message type, when it could be read
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Type != "" {
		msg = fmt.Sprintf("%s (type=%s)", msg, e.Type)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying decode or validation error.
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsProtocolError returns true if err is (or wraps) a *ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
