package cdp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// ErrorCodeServer is the JSON-RPC error code used for every error the relay
	// synthesizes on behalf of a device.
	ErrorCodeServer = -32000
)

var (
	ErrInvalidFrame = errors.New("CDP frames must be JSON objects with an id or a method")
)

// Frame is a single CDP message.  Requests carry ID and Method, responses echo
// ID with Result or Error, and events carry only Method.  The ID is kept as raw
// JSON since CDP permits both numeric and string identifiers; it is echoed
// verbatim wherever the relay synthesizes a reply.
type Frame struct {
	ID        json.RawMessage `json:"id,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *FrameError     `json:"error,omitempty"`
}

// FrameError is the error member of a CDP response frame.
type FrameError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// DecodeFrame parses a raw websocket payload into a Frame.  A payload that is
// not a JSON object, or that carries neither an id nor a method, is rejected.
// Callers are expected to log and drop rejected payloads without closing the
// transport.
func DecodeFrame(data []byte) (*Frame, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrInvalidFrame
	}

	frame := new(Frame)
	if err := json.Unmarshal(trimmed, frame); err != nil {
		return nil, fmt.Errorf("malformed CDP frame: %w", err)
	}

	if len(frame.ID) == 0 && len(frame.Method) == 0 {
		return nil, ErrInvalidFrame
	}

	return frame, nil
}

// Encode marshals this frame for transmission.
func (f *Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// IsRequest tests if this frame is a client request: an id plus a method.
func (f *Frame) IsRequest() bool {
	return len(f.ID) > 0 && len(f.Method) > 0
}

// IsResponse tests if this frame is a response: an id with no method.
func (f *Frame) IsResponse() bool {
	return len(f.ID) > 0 && len(f.Method) == 0
}

// IsEvent tests if this frame is an unsolicited event: a method with no id.
func (f *Frame) IsEvent() bool {
	return len(f.ID) == 0 && len(f.Method) > 0
}

// Key returns the correlation key for this frame's id: the raw JSON bytes.
// "5" and "\"5\"" are distinct keys, which matches how Chrome correlates them.
func (f *Frame) Key() string {
	return string(f.ID)
}

// NewResponse creates a success response frame echoing the given raw id.
// A nil result produces an empty result object.
func NewResponse(id json.RawMessage, result interface{}) (*Frame, error) {
	encoded := json.RawMessage(`{}`)
	if result != nil {
		var err error
		if encoded, err = json.Marshal(result); err != nil {
			return nil, err
		}
	}

	return &Frame{ID: id, Result: encoded}, nil
}

// NewErrorResponse creates an error response frame echoing the given raw id.
// The message follows the "<CODE>: <text>" convention used across the relay.
func NewErrorResponse(id json.RawMessage, code, text string) *Frame {
	return &Frame{
		ID: id,
		Error: &FrameError{
			Code:    ErrorCodeServer,
			Message: fmt.Sprintf("%s: %s", code, text),
		},
	}
}

// NewEvent creates an event frame carrying the given params.
func NewEvent(method string, params interface{}) (*Frame, error) {
	encoded, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	return &Frame{Method: method, Params: encoded}, nil
}
