package socket

import (
	"errors"
	"fmt"
)

// Kind classifies the terminal errors a caller of this package may see.
// Named per SPEC_FULL.md §7 ("error kinds, not type names").
type Kind int

const (
	// KindUnknown is the zero value; never returned by this package.
	KindUnknown Kind = iota

	// KindInvalidOperation is returned by Client.Subscribe and Client.Query
	// once Dispose has been called.
	KindInvalidOperation

	// KindNoCredentials is returned when an authenticated subscription or
	// query is requested but the Client has no credentials configured.
	KindNoCredentials

	// KindCantConnect is returned when the transport never opened.
	KindCantConnect

	// KindConnectionLost is returned to pending queries and subscriptions
	// when the transport drops mid-operation.
	KindConnectionLost

	// KindCancellationRequested is returned when the caller's context is
	// cancelled or a query times out waiting for a matching reply.
	KindCancellationRequested

	// KindServerError is returned when the server signals a failure,
	// including a paused connection.
	KindServerError

	// KindAuthenticationFailed is returned when a connection fails to
	// authenticate; the connection is closed when this occurs.
	KindAuthenticationFailed
)

func (k Kind) String() string {
	switch k {
	case KindInvalidOperation:
		return "InvalidOperation"
	case KindNoCredentials:
		return "NoCredentials"
	case KindCantConnect:
		return "CantConnect"
	case KindConnectionLost:
		return "ConnectionLost"
	case KindCancellationRequested:
		return "CancellationRequested"
	case KindServerError:
		return "ServerError"
	case KindAuthenticationFailed:
		return "AuthenticationFailed"
	default:
		return "Unknown"
	}
}

// Error is the typed error surfaced by this package's exported operations.
// It wraps an optional inner error and satisfies errors.Is/As/Unwrap so
// callers can branch with IsKind(err, socket.KindX),
// errors.Is(err, &socket.Error{Kind: socket.KindX}) via Is, or errors.As.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func WrapError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, &Error{Kind: K}) match any *Error of kind K,
// regardless of message or wrapped cause.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return te.Kind == e.Kind
}

// KindOf reports the Kind carried by err, if any, and whether one was found.
func KindOf(err error) (Kind, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return KindUnknown, false
}

// IsKind reports whether err carries the given Kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
