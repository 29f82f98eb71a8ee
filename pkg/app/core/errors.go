package core

import (
	"errors"
	"fmt"
)

// Reason is the wire-visible rejection code.
type Reason string

const (
	ReasonUnknownSymbol    Reason = "UnknownSymbol"
	ReasonInvalidSide      Reason = "InvalidSide"
	ReasonInvalidQuantity  Reason = "InvalidQuantity"
	ReasonInvalidPrice     Reason = "InvalidPrice"
	ReasonDuplicateRequest Reason = "DuplicateRequest"
	ReasonInvalidRequest   Reason = "InvalidRequest"
	ReasonNoLiquidity      Reason = "NoLiquidity"
	ReasonNotFound         Reason = "NotFound"
	ReasonAlreadyFilled    Reason = "AlreadyFilled"
	ReasonSlowConsumer     Reason = "SlowConsumer"
	ReasonInternal         Reason = "Internal"
)

// Class groups reasons by who can act on them.
type Class int8

const (
	ClassValidation Class = iota // client-correctable, never retried
	ClassEngine                  // reported synchronously, not retried
	ClassDelivery                // subscriber must resubscribe
	ClassInternal                // order rejected, operator alerted
)

func (c Class) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassEngine:
		return "engine"
	case ClassDelivery:
		return "delivery"
	case ClassInternal:
		return "internal"
	default:
		return "unknown"
	}
}

type Error struct {
	Reason Reason
	Class  Class
	Msg    string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Msg)
}

// Is matches on Reason so a detailed error satisfies errors.Is against its sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Reason == e.Reason
}

var (
	ErrUnknownSymbol    = &Error{Reason: ReasonUnknownSymbol, Class: ClassValidation}
	ErrInvalidSide      = &Error{Reason: ReasonInvalidSide, Class: ClassValidation}
	ErrInvalidQuantity  = &Error{Reason: ReasonInvalidQuantity, Class: ClassValidation}
	ErrInvalidPrice     = &Error{Reason: ReasonInvalidPrice, Class: ClassValidation}
	ErrDuplicateRequest = &Error{Reason: ReasonDuplicateRequest, Class: ClassValidation}
	ErrInvalidRequest   = &Error{Reason: ReasonInvalidRequest, Class: ClassValidation}

	ErrNoLiquidity   = &Error{Reason: ReasonNoLiquidity, Class: ClassEngine}
	ErrNotFound      = &Error{Reason: ReasonNotFound, Class: ClassEngine}
	ErrAlreadyFilled = &Error{Reason: ReasonAlreadyFilled, Class: ClassEngine}

	ErrSlowConsumer = &Error{Reason: ReasonSlowConsumer, Class: ClassDelivery}

	ErrInternal = &Error{Reason: ReasonInternal, Class: ClassInternal}
)

// Reject returns a copy of sentinel carrying a formatted detail message.
func Reject(sentinel *Error, format string, args ...any) error {
	return &Error{Reason: sentinel.Reason, Class: sentinel.Class, Msg: fmt.Sprintf(format, args...)}
}

// ReasonOf extracts the rejection reason from err, or ReasonInternal for foreign errors.
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ReasonInternal
}

// ClassOf extracts the error class, or ClassInternal for foreign errors.
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ClassInternal
}
