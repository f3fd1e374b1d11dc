package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrTransportUnavailable = errors.New("transport unavailable")
	ErrSendFailed           = errors.New("send failed")
	ErrTimeout              = errors.New("request timeout")
	ErrHostError            = errors.New("host error")
	ErrNotSettled           = errors.New("future not settled")
)

// ErrorKind tells the caller which path failed a call.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindTransport  ErrorKind = "transport"
	KindHost       ErrorKind = "host"
	KindTimeout    ErrorKind = "timeout"
)

var (
	timeoutPayload      = json.RawMessage(`{"reason":"timeout"}`)
	unknownErrorPayload = json.RawMessage(`{"message":"Unknown error"}`)
)

// CallError is the failure arm of a Future.
//
// Payload holds the JSON error body: the host's error object, the timeout
// marker, or nil for local validation and transport failures.
type CallError struct {
	Kind      ErrorKind
	ID        string
	ClassName string
	Method    string
	Payload   json.RawMessage
	Err       error
}

func (e *CallError) Error() string {
	target := e.ClassName + "." + e.Method
	if len(e.Payload) > 0 {
		return fmt.Sprintf("%s %s: %v: %s", e.Kind, target, e.Err, e.Payload)
	}
	return fmt.Sprintf("%s %s: %v", e.Kind, target, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

func IsTimeout(err error) bool {
	return hasKind(err, KindTimeout)
}

func IsTransport(err error) bool {
	return hasKind(err, KindTransport)
}

func IsHostError(err error) bool {
	return hasKind(err, KindHost)
}

func IsValidation(err error) bool {
	return hasKind(err, KindValidation)
}

func hasKind(err error, kind ErrorKind) bool {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}
