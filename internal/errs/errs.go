// internal/errs/errs.go
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies every domain failure the command surface can return.
// Handlers map these onto HTTP statuses; the automation gateway maps them
// onto ignored results.
type Kind int

const (
	Unknown Kind = iota
	RoomNotFound
	BetNotFound
	Forbidden
	InvalidTransition
	InvalidArgument
	DuplicateActiveBet
	DuplicateWager
	InsufficientPoints
	ResourceExhausted
	StaleWrite
	AutomationDisabled
)

// String returns the wire name of the kind, e.g. "DuplicateActiveBet".
func (k Kind) String() string {
	switch k {
	case RoomNotFound:
		return "RoomNotFound"
	case BetNotFound:
		return "BetNotFound"
	case Forbidden:
		return "Forbidden"
	case InvalidTransition:
		return "InvalidTransition"
	case InvalidArgument:
		return "InvalidArgument"
	case DuplicateActiveBet:
		return "DuplicateActiveBet"
	case DuplicateWager:
		return "DuplicateWager"
	case InsufficientPoints:
		return "InsufficientPoints"
	case ResourceExhausted:
		return "ResourceExhausted"
	case StaleWrite:
		return "StaleWrite"
	case AutomationDisabled:
		return "AutomationDisabled"
	default:
		return "Unknown"
	}
}

// Error is a domain error carrying a Kind. Wrapped causes survive errors.Is/As.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Msg != "" && e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a domain error with a formatted message.
func E(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying cause.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from err, or Unknown if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
