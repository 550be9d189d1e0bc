package relay

import (
	"errors"
	"fmt"
)

// Code identifies a class of routing failure. Codes are stable strings so
// they can travel to clients inside error events.
type Code string

const (
	CodeUnauthenticated     Code = "unauthenticated"
	CodeForbidden           Code = "forbidden"
	CodeNotFound            Code = "not_found"
	CodeRoomFull            Code = "room_full"
	CodePayloadTooLarge     Code = "payload_too_large"
	CodeUpstreamUnavailable Code = "upstream_unavailable"
)

// Error is a coded error. Local validation errors are returned synchronously
// to the caller and never retried; only CodeUpstreamUnavailable is retriable.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// E builds a coded error with a formatted message.
func E(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

var (
	ErrUnauthenticated     = &Error{Code: CodeUnauthenticated, Message: "no valid session"}
	ErrForbidden           = &Error{Code: CodeForbidden, Message: "operation not permitted"}
	ErrNotFound            = &Error{Code: CodeNotFound, Message: "not found"}
	ErrRoomFull            = &Error{Code: CodeRoomFull, Message: "room capacity reached"}
	ErrPayloadTooLarge     = &Error{Code: CodePayloadTooLarge, Message: "payload exceeds limit"}
	ErrUpstreamUnavailable = &Error{Code: CodeUpstreamUnavailable, Message: "upstream unreachable"}
)

// CodeOf extracts the error code, or empty string for uncoded errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
