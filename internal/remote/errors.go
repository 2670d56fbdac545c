package remote

import (
	"errors"
	"fmt"
	"strings"
)

// Code classifies a failed call.
type Code string

const (
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden    Code = "FORBIDDEN"
	CodeNotFound     Code = "NOT_FOUND"
	CodeBadRequest   Code = "BAD_REQUEST"
	CodeConflict     Code = "CONFLICT"
	CodeServer       Code = "SERVER_ERROR"
	CodeNetwork      Code = "NETWORK_ERROR"
	CodeGeneral      Code = "GENERAL_ERROR"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrBadRequest   = errors.New("bad request")
	ErrConflict     = errors.New("conflict")
	ErrServer       = errors.New("server error")
	ErrNetwork      = errors.New("network error")
	ErrGeneral      = errors.New("api error")
)

// APIError is returned for every failed call. errors.Is matches it against
// the sentinel for its Code.
type APIError struct {
	Code      Code
	Status    int // HTTP status or body failure code; 0 when no response
	Procedure string
	Message   string
	Details   []string
	Err       error
}

func (e *APIError) Error() string {
	var b strings.Builder
	if e.Procedure != "" {
		b.WriteString(e.Procedure)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (%s %d)", e.Code, e.Status)
	} else {
		fmt.Fprintf(&b, " (%s)", e.Code)
	}
	return b.String()
}

// Unwrap exposes both the code sentinel and the underlying cause.
func (e *APIError) Unwrap() []error {
	errs := []error{sentinel(e.Code)}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func sentinel(c Code) error {
	switch c {
	case CodeUnauthorized:
		return ErrUnauthorized
	case CodeForbidden:
		return ErrForbidden
	case CodeNotFound:
		return ErrNotFound
	case CodeBadRequest:
		return ErrBadRequest
	case CodeConflict:
		return ErrConflict
	case CodeServer:
		return ErrServer
	case CodeNetwork:
		return ErrNetwork
	default:
		return ErrGeneral
	}
}

// codeForStatus maps an HTTP status or body failure code.
func codeForStatus(status int) Code {
	switch {
	case status == 401:
		return CodeUnauthorized
	case status == 403:
		return CodeForbidden
	case status == 404:
		return CodeNotFound
	case status == 400:
		return CodeBadRequest
	case status == 409:
		return CodeConflict
	case status >= 500 && status < 600:
		return CodeServer
	default:
		return CodeGeneral
	}
}

// statusError is an HTTP-level failure seen inside the retry loop.
type statusError struct {
	status int
	body   []byte
}

func (e *statusError) Error() string   { return fmt.Sprintf("http status %d", e.status) }
func (e *statusError) StatusCode() int { return e.status }
