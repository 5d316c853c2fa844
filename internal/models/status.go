package models

import (
	"errors"
	"fmt"
	"net/http"
)

// Status is an HTTP-shaped outcome code shared by every database operation.
type Status int

const (
	StatusOK                  Status = http.StatusOK
	StatusCreated             Status = http.StatusCreated
	StatusNotModified         Status = http.StatusNotModified
	StatusBadRequest          Status = http.StatusBadRequest
	StatusForbidden           Status = http.StatusForbidden
	StatusNotFound            Status = http.StatusNotFound
	StatusMethodNotAllowed    Status = http.StatusMethodNotAllowed
	StatusNotAcceptable       Status = http.StatusNotAcceptable
	StatusConflict            Status = http.StatusConflict
	StatusPreconditionFailed  Status = http.StatusPreconditionFailed
	StatusInternalServerError Status = http.StatusInternalServerError
)

// IsSuccessful reports whether s is in the success range (0, 400).
func (s Status) IsSuccessful() bool {
	return s > 0 && s < 400
}

func (s Status) String() string {
	if text := http.StatusText(int(s)); text != "" {
		return fmt.Sprintf("%d %s", int(s), text)
	}
	return fmt.Sprintf("%d", int(s))
}

// StatusError carries a failure Status through error returns. Expected
// outcomes (not found, conflict, bad request, forbidden) are StatusErrors;
// anything else reaching StatusOf is treated as an internal error.
type StatusError struct {
	Status Status
	Msg    string
	Err    error
}

// NewStatusError creates a StatusError with a fixed message.
func NewStatusError(status Status, msg string) *StatusError {
	return &StatusError{Status: status, Msg: msg}
}

// Errorf creates a StatusError with a formatted message. A %w verb wraps the
// corresponding argument.
func Errorf(status Status, format string, args ...any) *StatusError {
	wrapped := fmt.Errorf(format, args...)
	return &StatusError{Status: status, Msg: wrapped.Error(), Err: errors.Unwrap(wrapped)}
}

func (e *StatusError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Status.String()
}

func (e *StatusError) Unwrap() error { return e.Err }

// StatusCode returns the numeric status.
func (e *StatusError) StatusCode() int { return int(e.Status) }

// StatusOf maps an error to a Status: nil is OK, a StatusError anywhere in the
// chain yields its status, everything else is InternalServerError.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return StatusInternalServerError
}

// IsStatus reports whether err maps to status.
func IsStatus(err error, status Status) bool {
	return err != nil && StatusOf(err) == status
}
