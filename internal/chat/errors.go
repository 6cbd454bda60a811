package chat

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrAuthentication = errors.New("authentication failed")
	ErrValidation     = errors.New("invalid request")
	ErrAuthorization  = errors.New("not a participant of this conversation")
	ErrNotFound       = errors.New("not found")
	ErrPersistence    = errors.New("storage failure")
)

// Error is a classified failure. Msg is safe to show to the client; Err is
// the underlying cause and is only logged.
type Error struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func validationError(op, msg string) error {
	return &Error{Kind: ErrValidation, Op: op, Msg: msg}
}

func authorizationError(op string) error {
	return &Error{Kind: ErrAuthorization, Op: op, Msg: "not a participant of this conversation"}
}

func notFoundError(op, msg string) error {
	return &Error{Kind: ErrNotFound, Op: op, Msg: msg}
}

func persistenceError(op, msg string, err error) error {
	return &Error{Kind: ErrPersistence, Op: op, Msg: msg, Err: err}
}

// Code returns the wire code of err's kind ("validation", "authorization", ...).
// Unclassified errors map to "internal".
func Code(err error) string {
	switch {
	case errors.Is(err, ErrAuthentication):
		return "authentication"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrAuthorization):
		return "authorization"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	default:
		return "internal"
	}
}

// PublicMessage returns a client-facing message for err without leaking causes.
func PublicMessage(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		if ce.Msg != "" {
			return ce.Msg
		}
		return ce.Kind.Error()
	}
	return "internal error"
}
