package upstream

import (
	"errors"
	"fmt"
)

type ErrorStatus string

const (
	ErrorStatusConnection ErrorStatus = "connection_error"
	ErrorStatusSend       ErrorStatus = "send_error"
	ErrorStatusClosed     ErrorStatus = "connection_closed"
	ErrorStatusProtocol   ErrorStatus = "protocol_error"
)

// Error is returned by every upstream operation
type Error struct {
	Status  ErrorStatus
	Message string
	Code    int // HTTP status of a failed handshake, 0 otherwise
	Cause   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("upstream: %s: %s", e.Status, e.Message)
	if e.Code != 0 {
		msg = fmt.Sprintf("upstream: %s (code=%d): %s", e.Status, e.Code, e.Message)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func NewError(status ErrorStatus, message string, cause error) *Error {
	return &Error{
		Status:  status,
		Message: message,
		Cause:   cause,
	}
}

// IsErrorStatus reports whether err is an upstream error with the given status
func IsErrorStatus(err error, status ErrorStatus) bool {
	var upErr *Error
	if errors.As(err, &upErr) {
		return upErr.Status == status
	}
	return false
}

var (
	ErrClosed  = NewError(ErrorStatusClosed, "connection closed", nil)
	ErrNotOpen = NewError(ErrorStatusSend, "connection is not open", nil)
)
