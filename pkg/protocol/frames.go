// Package protocol defines the NDJSON frames exchanged between the zalouser
// bridge and its host agent runtime over stdio.
//
// Every line is one JSON object with a "type" discriminator. The host sends
// request frames on the bridge's stdin; the bridge answers with response
// frames and pushes event frames (inbound messages, lifecycle) on stdout.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is bumped on incompatible frame changes.
const ProtocolVersion = 1

// FrameType discriminates frames.
type FrameType string

const (
	FrameTypeRequest  FrameType = "req"
	FrameTypeResponse FrameType = "res"
	FrameTypeEvent    FrameType = "event"
)

// Error codes carried in ErrorShape.Code.
const (
	ErrInvalidRequest = "INVALID_REQUEST"
	ErrUnknownMethod  = "UNKNOWN_METHOD"
	ErrNotFound       = "NOT_FOUND"
	ErrUnavailable    = "UNAVAILABLE"
	ErrInternal       = "INTERNAL"
)

// RequestFrame is a host → bridge call.
type RequestFrame struct {
	Type   FrameType       `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ResponseFrame answers a RequestFrame with the same ID.
type ResponseFrame struct {
	Type    FrameType   `json:"type"`
	ID      string      `json:"id"`
	OK      bool        `json:"ok"`
	Payload any         `json:"payload,omitempty"`
	Error   *ErrorShape `json:"error,omitempty"`
}

// ErrorShape describes a failed request.
type ErrorShape struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EventFrame is an unsolicited bridge → host notification.
type EventFrame struct {
	Type    FrameType `json:"type"`
	Event   string    `json:"event"`
	Seq     int64     `json:"seq,omitempty"`
	Payload any       `json:"payload,omitempty"`
}

// NewOKResponse builds a successful response.
func NewOKResponse(id string, payload any) *ResponseFrame {
	return &ResponseFrame{Type: FrameTypeResponse, ID: id, OK: true, Payload: payload}
}

// NewErrorResponse builds a failed response.
func NewErrorResponse(id, code, message string) *ResponseFrame {
	return &ResponseFrame{
		Type:  FrameTypeResponse,
		ID:    id,
		Error: &ErrorShape{Code: code, Message: message},
	}
}

// NewEvent builds an event frame.
func NewEvent(name string, payload any) *EventFrame {
	return &EventFrame{Type: FrameTypeEvent, Event: name, Payload: payload}
}

// ParseFrameType peeks at the "type" field of a raw frame.
func ParseFrameType(raw []byte) (FrameType, error) {
	var head struct {
		Type FrameType `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return "", fmt.Errorf("parse frame: %w", err)
	}
	switch head.Type {
	case FrameTypeRequest, FrameTypeResponse, FrameTypeEvent:
		return head.Type, nil
	case "":
		return "", fmt.Errorf("parse frame: missing type")
	}
	return "", fmt.Errorf("parse frame: unknown type %q", head.Type)
}
