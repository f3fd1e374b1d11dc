package host

import (
	"fmt"
)

type HandlerFunc func(*Request) (any, error)
type MiddlewareFunc func(*Request, NextFunc) (any, error)
type NextFunc func() (any, error)
type ConnectFunc func(*Socket)

type handlerEntry struct {
	handler    HandlerFunc
	middleware []MiddlewareFunc
}

// Error carries a structured error payload back to the caller instead of
// the default {"message": ...} object.
type Error struct {
	Payload any
}

func (e *Error) Error() string {
	return fmt.Sprintf("host error: %v", e.Payload)
}

// Fail returns an error whose payload is sent verbatim as the response error.
func Fail(payload any) error {
	return &Error{Payload: payload}
}

func handlerKey(className, method string) string {
	return className + "." + method
}
