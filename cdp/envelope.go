package cdp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Envelope types recognized by the v2 endpoints.
const (
	TypeV2Register      = "device:register"
	TypeV2RegisterAck   = "device:register:ack"
	TypeV2Heartbeat     = "device:heartbeat"
	TypeV2HeartbeatAck  = "device:heartbeat:ack"
	TypeV2Disconnect    = "device:disconnect"
	TypeV2Error         = "device:error"
	TypeControlStatus   = "control:status"
	TypeControlMetrics  = "control:metrics"
	TypeControlCommand  = "control:command"
	TypeControlAck      = "control:ack"
	TypeControlError    = "control:error"
)

var (
	ErrMissingEnvelopeType = errors.New("envelope frames require a type field")
)

// Envelope is the structured frame shape shared by the v2 device, CDP and
// control endpoints.
type Envelope struct {
	Type      string                 `json:"type"`
	ID        string                 `json:"id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      json.RawMessage        `json:"data"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// DecodeEnvelope parses a raw payload into an Envelope.  Only the type field
// is mandatory; an absent data member decodes as an empty object so that
// handlers can unmarshal unconditionally.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	envelope := new(Envelope)
	if err := json.Unmarshal(data, envelope); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}

	if len(envelope.Type) == 0 {
		return nil, ErrMissingEnvelopeType
	}

	if len(envelope.Data) == 0 {
		envelope.Data = json.RawMessage(`{}`)
	}

	return envelope, nil
}

// NewEnvelope creates an envelope of the given type whose data member is the
// JSON encoding of data.  The timestamp is always server time in UTC.
func NewEnvelope(envelopeType string, data interface{}) (*Envelope, error) {
	encoded := json.RawMessage(`{}`)
	if data != nil {
		var err error
		if encoded, err = json.Marshal(data); err != nil {
			return nil, err
		}
	}

	return &Envelope{
		Type:      envelopeType,
		Timestamp: time.Now().UTC(),
		Data:      encoded,
	}, nil
}

// Reply creates a response envelope correlated to this one.  The id, when
// present, is echoed so operators can match acks to commands.
func (e *Envelope) Reply(envelopeType string, data interface{}) (*Envelope, error) {
	reply, err := NewEnvelope(envelopeType, data)
	if err != nil {
		return nil, err
	}

	reply.ID = e.ID
	return reply, nil
}

// Encode marshals this envelope for transmission.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}
