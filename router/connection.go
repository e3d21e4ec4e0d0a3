package router

import (
	"time"

	"github.com/browser-go/extension-bridge/cdp"
	"github.com/browser-go/extension-bridge/device"
)

// Transport is the client-facing side of a CDP connection.  Implementations
// serialize their own writes.
type Transport interface {
	Send([]byte) error
	Close(code int, reason string) error
}

// Conn is the record for one CDP client connection.  A connection optionally
// targets a single device; a legacy connection with no device id is a
// broadcast subscriber and receives every device's events.
type Conn struct {
	id        string
	deviceID  device.ID
	transport Transport
	createdAt time.Time
}

// NewConn creates a connection record.  The id is server-generated and the
// deviceID may be empty under the legacy endpoint.
func NewConn(id string, deviceID device.ID, transport Transport, now func() time.Time) *Conn {
	if now == nil {
		now = time.Now
	}

	return &Conn{
		id:        id,
		deviceID:  deviceID,
		transport: transport,
		createdAt: now(),
	}
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) DeviceID() device.ID {
	return c.deviceID
}

func (c *Conn) CreatedAt() time.Time {
	return c.createdAt
}

// Send encodes and transmits a frame to the client.
func (c *Conn) Send(frame *cdp.Frame) error {
	data, err := frame.Encode()
	if err != nil {
		return err
	}

	return c.transport.Send(data)
}

// SendRaw transmits an already-encoded payload to the client.
func (c *Conn) SendRaw(data []byte) error {
	return c.transport.Send(data)
}

// Close tears down the client transport.
func (c *Conn) Close(code int, reason string) error {
	return c.transport.Close(code, reason)
}
