package room

import "fmt"

type ErrorCode string

const (
	ErrorCodeValidation     ErrorCode = "validation_error"
	ErrorCodeNotAuthorized  ErrorCode = "not_authorized"
	ErrorCodeNotFound       ErrorCode = "not_found"
	ErrorCodeConflict       ErrorCode = "conflict"
	ErrorCodePartialFailure ErrorCode = "partial_failure"
	ErrorCodeInternal       ErrorCode = "internal_error"
)

type Error struct {
	Code    ErrorCode
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op string, code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: message,
		Err:     err,
	}
}
