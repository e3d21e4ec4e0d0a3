package cdp

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message type discriminators used on the legacy extension socket.
const (
	TypeDeviceRegister = "device_register"
	TypePing           = "ping"
	TypePong           = "pong"
	TypeConnectionInfo = "connection_info"
)

// DeviceInfo is the descriptor an extension supplies at registration time.
type DeviceInfo struct {
	Name      string `json:"name,omitempty"`
	Version   string `json:"version,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// TargetInfo mirrors the CDP targetInfo structure the extension reports once
// its debugger is attached to a tab.
type TargetInfo struct {
	TargetID string `json:"targetId"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Attached bool   `json:"attached"`
}

// ConnectionInfo is the targetInfo/sessionId pair required to synthesize
// Target.* and Page.getFrameTree replies without round-tripping to the device.
type ConnectionInfo struct {
	SessionID  string     `json:"sessionId"`
	TargetInfo TargetInfo `json:"targetInfo"`
}

// ExtensionMessage is the union of the type-discriminated control messages
// spoken on the legacy extension socket.  Which fields are set depends on Type.
type ExtensionMessage struct {
	Type       string      `json:"type"`
	DeviceID   string      `json:"deviceId,omitempty"`
	DeviceInfo *DeviceInfo `json:"deviceInfo,omitempty"`
	SessionID  string      `json:"sessionId,omitempty"`
	TargetInfo *TargetInfo `json:"targetInfo,omitempty"`
	Timestamp  int64       `json:"timestamp,omitempty"`
}

// ConnectionInfo assembles the connection-info block carried by a
// connection_info message, or nil for any other message type.
func (m *ExtensionMessage) ConnectionInfo() *ConnectionInfo {
	if m.Type != TypeConnectionInfo || m.TargetInfo == nil {
		return nil
	}

	return &ConnectionInfo{
		SessionID:  m.SessionID,
		TargetInfo: *m.TargetInfo,
	}
}

// NewPong creates the pong reply for a ping from the given device.
func NewPong(deviceID string, now time.Time) *ExtensionMessage {
	return &ExtensionMessage{
		Type:      TypePong,
		DeviceID:  deviceID,
		Timestamp: now.UnixMilli(),
	}
}

// Encode marshals this message for transmission.
func (m *ExtensionMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeInbound classifies a raw payload from an extension socket.  Payloads
// carrying a recognized type discriminator decode to an ExtensionMessage;
// anything else must parse as a CDP frame.  Exactly one of the returned
// message and frame is non-nil on success.
func DecodeInbound(data []byte) (*ExtensionMessage, *Frame, error) {
	var probe struct {
		Type string `json:"type"`
	}

	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, nil, fmt.Errorf("malformed extension payload: %w", err)
	}

	switch probe.Type {
	case TypeDeviceRegister, TypePing, TypePong, TypeConnectionInfo:
		message := new(ExtensionMessage)
		if err := json.Unmarshal(data, message); err != nil {
			return nil, nil, fmt.Errorf("malformed %s message: %w", probe.Type, err)
		}

		return message, nil, nil

	case "":
		frame, err := DecodeFrame(data)
		if err != nil {
			return nil, nil, err
		}

		return nil, frame, nil

	default:
		return nil, nil, fmt.Errorf("unknown extension message type: %s", probe.Type)
	}
}
