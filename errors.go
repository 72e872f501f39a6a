package tlsctx

import (
	"errors"
	"fmt"
)

var (
	// ErrOperationNotSupported is returned when a dependent setting is applied out of order,
	// such as a private key without a certificate recorded through the same channel.
	// No engine call is made in that case.
	ErrOperationNotSupported = fmt.Errorf("tlsctx: operation not supported: %w", errors.ErrUnsupported)

	// ErrContextEmpty is returned by operations on a Context that was moved from or closed.
	ErrContextEmpty = fmt.Errorf("tlsctx: context is empty")

	// ErrReleased is returned when retaining a store whose handle was already released.
	ErrReleased = fmt.Errorf("tlsctx: credentials released")
)

// Category maps engine status codes to messages.
type Category interface {
	Name() string
	Message(code int) string
}

type engineCategory struct{}

func (engineCategory) Name() string { return "tlsctx" }

func (engineCategory) Message(code int) string {
	if s := Strerror(code); s != "" {
		return s
	}
	return "TLS engine error"
}

var theEngineCategory Category = engineCategory{}

// EngineCategory returns the category of engine status codes.
// The same value is returned on every call.
func EngineCategory() Category { return theEngineCategory }

// Error is an engine failure. Code is the raw engine status.
type Error struct {
	Code     int
	Category Category
}

func newEngineError(code int) *Error {
	return &Error{Code: code, Category: theEngineCategory}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%d)", e.Category.Name(), e.Category.Message(e.Code), e.Code)
}

// Message returns the category message for the code.
func (e *Error) Message() string {
	return e.Category.Message(e.Code)
}

// Is matches another *Error with the same category and code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Category == e.Category
}

// StatusOf returns the engine status carried by err, if any.
func StatusOf(err error) (int, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}

// AllocationError is returned when the engine cannot allocate a credential handle.
type AllocationError struct {
	Code int
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("tlsctx: allocate credentials: %s", theEngineCategory.Message(e.Code))
}

// Unwrap exposes the engine status as an *Error.
func (e *AllocationError) Unwrap() error {
	return newEngineError(e.Code)
}
