// Package apperr defines the error kinds every workflow operation reports.
// Callers match them with errors.Is against the sentinel values below.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Kind classifies a workflow failure.
type Kind string

const (
	KindUnauthorized     Kind = "unauthorized"
	KindNotFound         Kind = "not_found"
	KindAlreadyDecided   Kind = "already_decided"
	KindAlreadyApproved  Kind = "already_approved"
	KindDuplicateRequest Kind = "duplicate_request"
	KindInvalidInput     Kind = "invalid_input"
	KindAttachmentFailed Kind = "attachment_failed"
	KindLedgerError      Kind = "ledger_error"
)

// Error is a classified failure. Err, when set, is the underlying cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same Kind, so the sentinels below work
// with errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrUnauthorized     = &Error{Kind: KindUnauthorized, Msg: "unauthorized"}
	ErrNotFound         = &Error{Kind: KindNotFound, Msg: "not found"}
	ErrAlreadyDecided   = &Error{Kind: KindAlreadyDecided, Msg: "already decided"}
	ErrAlreadyApproved  = &Error{Kind: KindAlreadyApproved, Msg: "already approved"}
	ErrDuplicateRequest = &Error{Kind: KindDuplicateRequest, Msg: "duplicate request"}
	ErrInvalidInput     = &Error{Kind: KindInvalidInput, Msg: "invalid input"}
	ErrAttachmentFailed = &Error{Kind: KindAttachmentFailed, Msg: "attachment upload failed"}
	ErrLedger           = &Error{Kind: KindLedgerError, Msg: "ledger error"}
)

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Unauthorized(format string, args ...interface{}) error {
	return newf(KindUnauthorized, format, args...)
}

func NotFound(format string, args ...interface{}) error {
	return newf(KindNotFound, format, args...)
}

func AlreadyDecided(format string, args ...interface{}) error {
	return newf(KindAlreadyDecided, format, args...)
}

func AlreadyApproved(format string, args ...interface{}) error {
	return newf(KindAlreadyApproved, format, args...)
}

func DuplicateRequest(format string, args ...interface{}) error {
	return newf(KindDuplicateRequest, format, args...)
}

func InvalidInput(format string, args ...interface{}) error {
	return newf(KindInvalidInput, format, args...)
}

// AttachmentFailed wraps an attachment store failure.
func AttachmentFailed(err error) error {
	return &Error{Kind: KindAttachmentFailed, Msg: "attachment upload failed", Err: err}
}

// Ledger wraps a ledger transport or storage failure.
func Ledger(op string, err error) error {
	return &Error{Kind: KindLedgerError, Msg: op, Err: err}
}

// KindOf returns the kind of err, or "" if err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// StatusCode maps an error kind to the HTTP status returned to callers.
func StatusCode(err error) int {
	switch KindOf(err) {
	case KindUnauthorized:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindAlreadyDecided, KindAlreadyApproved, KindDuplicateRequest:
		return http.StatusConflict
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindAttachmentFailed:
		return http.StatusBadGateway
	case KindLedgerError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPError converts err into an echo error with a JSON body carrying the
// kind and message.
func HTTPError(err error) *echo.HTTPError {
	code := StatusCode(err)
	kind := KindOf(err)
	if kind == "" {
		return echo.NewHTTPError(code, "internal error")
	}
	return echo.NewHTTPError(code, map[string]string{
		"error":   string(kind),
		"message": err.Error(),
	})
}
