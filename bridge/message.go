package bridge

import (
	"encoding/json"
	"fmt"
)

// CallMessage is the outbound wire message.
type CallMessage struct {
	ID        string          `json:"id"`
	ClassName string          `json:"className"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params"`
}

// EventMessage is an inbound event pushed by the host.
type EventMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// ResponseMessage is the host's answer to a CallMessage.
type ResponseMessage struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   any    `json:"error,omitempty"`
}

// MessageKind classifies an inbound message.
type MessageKind int

const (
	MessageUnrecognized MessageKind = iota
	MessageEvent
	MessageResponse
)

func (k MessageKind) String() string {
	switch k {
	case MessageEvent:
		return "event"
	case MessageResponse:
		return "response"
	default:
		return "unrecognized"
	}
}

// Inbound is a parsed inbound message. Only the fields relevant to Kind are set.
type Inbound struct {
	Kind MessageKind

	// event
	Event string

	// response
	ID      string
	Success bool
	Error   json.RawMessage

	Data json.RawMessage
}

// ParseInbound decodes raw and classifies it. Malformed JSON and non-object
// payloads return an error; well-formed objects of an unknown shape come back
// as MessageUnrecognized with a nil error.
//
// An event field wins over response fields. A response needs a string id
// and a boolean success; data is taken as-is whatever success says.
func ParseInbound(raw []byte) (Inbound, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Inbound{}, fmt.Errorf("parse inbound message: %w", err)
	}
	if fields == nil {
		return Inbound{}, fmt.Errorf("parse inbound message: not an object")
	}

	if name, ok := stringField(fields, "event"); ok && name != "" {
		return Inbound{
			Kind:  MessageEvent,
			Event: name,
			Data:  nonNull(fields["data"]),
		}, nil
	}

	id, hasID := stringField(fields, "id")
	var success bool
	hasSuccess := false
	if rawSuccess, ok := fields["success"]; ok {
		hasSuccess = json.Unmarshal(rawSuccess, &success) == nil && !isNull(rawSuccess)
	}
	if hasID && id != "" && hasSuccess {
		return Inbound{
			Kind:    MessageResponse,
			ID:      id,
			Success: success,
			Data:    nonNull(fields["data"]),
			Error:   nonNull(fields["error"]),
		}, nil
	}

	return Inbound{Kind: MessageUnrecognized}, nil
}

func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || isNull(raw) {
		return "", false
	}
	return s, true
}

func isNull(raw json.RawMessage) bool {
	return string(raw) == "null"
}

func nonNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || isNull(raw) {
		return nil
	}
	return raw
}
