package errcode

import (
	"errors"
	"net/http"
)

// Error codes:
// - 0: no error
// - 4xxx: caller-correctable failures
// - 5xxx: system or upstream failures
const (
	OK              = 0
	Validation      = 4000
	Unauthorized    = 4001
	Forbidden       = 4003
	NotFound        = 4004
	ResourceMissing = NotFound
	SystemError     = 5000
	InternalRender  = 5001
	ExternalService = 5002
)

// Error carries a code alongside a message and an optional cause.
type Error struct {
	Code int
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Msg == "" {
			return e.Err.Error()
		}
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a coded error without a cause.
func New(code int, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Wrap attaches a code to err. A nil err stays nil.
func Wrap(code int, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Err: err}
}

// CodeOf returns the outermost code in err's chain, or SystemError.
func CodeOf(err error) int {
	if err == nil {
		return OK
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return SystemError
}

// HTTPStatus maps a code to the matching HTTP status.
func HTTPStatus(code int) int {
	switch code {
	case OK:
		return http.StatusOK
	case Validation:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case ExternalService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
