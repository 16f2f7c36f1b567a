package synth

import (
	"errors"
	"fmt"
)

type ErrorStatus string

const (
	ErrorStatusEmptyText   ErrorStatus = "empty_text"
	ErrorStatusAuthError   ErrorStatus = "auth_error"
	ErrorStatusRateLimited ErrorStatus = "rate_limited"
	ErrorStatusAPIError    ErrorStatus = "api_error"
	ErrorStatusTransport   ErrorStatus = "transport_error"
	ErrorStatusEmptyAudio  ErrorStatus = "empty_audio"
)

// Error is returned for every failed synthesis
type Error struct {
	Status  ErrorStatus
	Message string
	Code    *int
	Cause   error
}

func (e *Error) Error() string {
	if e.Code != nil {
		return fmt.Sprintf("synth: %s (code=%d): %s", e.Status, *e.Code, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("synth: %s: %s: %v", e.Status, e.Message, e.Cause)
	}
	return fmt.Sprintf("synth: %s: %s", e.Status, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func NewError(status ErrorStatus, message string) *Error {
	return &Error{
		Status:  status,
		Message: message,
	}
}

func NewErrorWithCause(status ErrorStatus, message string, cause error) *Error {
	return &Error{
		Status:  status,
		Message: message,
		Cause:   cause,
	}
}

// MapAPIError maps an HTTP status from the voice service to a typed error
func MapAPIError(message string, code int) *Error {
	var status ErrorStatus
	switch code {
	case 401, 403:
		status = ErrorStatusAuthError
	case 429:
		status = ErrorStatusRateLimited
	default:
		status = ErrorStatusAPIError
	}
	return &Error{Status: status, Message: message, Code: &code}
}

func IsErrorStatus(err error, status ErrorStatus) bool {
	var synthErr *Error
	if errors.As(err, &synthErr) {
		return synthErr.Status == status
	}
	return false
}

// StatusOf returns the status of a synthesis error, or transport_error for foreign errors
func StatusOf(err error) ErrorStatus {
	var synthErr *Error
	if errors.As(err, &synthErr) {
		return synthErr.Status
	}
	return ErrorStatusTransport
}

var (
	ErrEmptyText  = NewError(ErrorStatusEmptyText, "text is empty")
	ErrEmptyAudio = NewError(ErrorStatusEmptyAudio, "service returned no audio")
)
