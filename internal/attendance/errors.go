package attendance

import (
	"errors"
	"fmt"
)

// Kind identifies a class of check-in failure so callers can map it to a response.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindInvalidCode     Kind = "invalid_code"
	KindNoActiveSession Kind = "no_active_session"
	KindDuplicateUser   Kind = "duplicate_user"
)

// Error is a typed attendance failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

var (
	ErrInvalidCode     = &Error{Kind: KindInvalidCode, Message: "incorrect attendance code"}
	ErrNoActiveSession = &Error{Kind: KindNoActiveSession, Message: "no active session"}

	// ErrUniqueViolation is returned by stores when an insert hits a uniqueness constraint.
	ErrUniqueViolation = errors.New("unique constraint violation")
)

func validationError(msg string) error {
	return &Error{Kind: KindValidation, Message: msg}
}

// KindOf returns the Kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// MessageOf returns the human readable message of an *Error, falling back to err.Error().
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
