// Package apperr defines the error kinds shared by the clinic services and
// their mapping to HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// ---------------------------------------------------------------------------
// Kinds
// ---------------------------------------------------------------------------

var (
	ErrValidation  = errors.New("validation error")
	ErrConflict    = errors.New("conflict error")
	ErrNotFound    = errors.New("not found")
	ErrPersistence = errors.New("persistence error")
	ErrDelivery    = errors.New("delivery error")
)

// Error carries a user-facing message together with its kind and an
// optional underlying cause.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

func Validation(format string, args ...interface{}) error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...interface{}) error {
	return &Error{Kind: ErrConflict, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...interface{}) error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf(format, args...)}
}

// Persistence wraps a store failure.
func Persistence(err error, format string, args ...interface{}) error {
	return &Error{Kind: ErrPersistence, Message: fmt.Sprintf(format, args...), Err: err}
}

// Delivery wraps a mail transport failure.
func Delivery(err error, format string, args ...interface{}) error {
	return &Error{Kind: ErrDelivery, Message: fmt.Sprintf(format, args...), Err: err}
}

// Message returns the user-facing part of err. For errors that are not an
// *Error the full text is returned.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// StatusCode maps an error kind to an HTTP status.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDelivery):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// HTTP converts err into an echo error carrying its status and message.
func HTTP(err error) error {
	if err == nil {
		return nil
	}
	return echo.NewHTTPError(StatusCode(err), Message(err))
}
