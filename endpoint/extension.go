package endpoint

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/segmentio/ksuid"

	"github.com/browser-go/extension-bridge/cdp"
	"github.com/browser-go/extension-bridge/device"
	"github.com/browser-go/extension-bridge/logging"
)

// ServeExtension is the legacy device endpoint.  Extensions connect here,
// announce themselves with a device_register or ping message, and then speak
// raw CDP frames interleaved with pings and connection_info updates.
func (b *Bridge) ServeExtension(response http.ResponseWriter, request *http.Request) {
	conn, _, ok := b.upgrade(response, request, "/extension")
	if !ok {
		return
	}

	connectionID := ksuid.New().String()
	var d *device.Device

	for {
		_, raw, err := conn.ws.ReadMessage()
		if err != nil {
			break
		}

		message, frame, err := cdp.DecodeInbound(raw)
		if err != nil {
			logging.Warn(b.logger).Log(
				logging.MessageKey(), "dropping undecodable extension payload",
				logging.ConnectionKey(), connectionID,
				logging.ErrorKey(), err,
			)

			continue
		}

		switch {
		case message != nil:
			d = b.handleExtensionMessage(conn, connectionID, d, message)

		case d != nil:
			d.Touch()
			b.router.HandleDeviceFrame(d, frame, raw)

		default:
			logging.Warn(b.logger).Log(
				logging.MessageKey(), "dropping frame from unregistered extension",
				logging.ConnectionKey(), connectionID,
			)
		}
	}

	if d != nil && !d.Closed() {
		b.registry.Unregister(d.ID(), "connection closed")
	} else {
		conn.Close(websocket.CloseNormalClosure, "")
	}
}

// handleExtensionMessage processes one control message, returning the current
// device record.  Both device_register and ping establish the registration if
// one does not exist yet; some extension builds only ever send pings.
func (b *Bridge) handleExtensionMessage(conn *wsConn, connectionID string, d *device.Device, message *cdp.ExtensionMessage) *device.Device {
	switch message.Type {
	case cdp.TypeDeviceRegister, cdp.TypePing:
		if d == nil {
			registered, err := b.registerLegacy(conn, connectionID, message)
			if err != nil {
				logging.Error(b.logger).Log(
					logging.MessageKey(), "legacy registration failed",
					logging.ConnectionKey(), connectionID,
					logging.DeviceKey(), message.DeviceID,
					logging.ErrorKey(), err,
				)

				return nil
			}

			d = registered
		}

		if message.Type == cdp.TypePing {
			b.registry.UpdateLastHeartbeat(d.ID())
			if data, err := cdp.NewPong(string(d.ID()), b.now()).Encode(); err == nil {
				conn.Send(data)
			}
		}

	case cdp.TypeConnectionInfo:
		if d != nil {
			d.SetConnectionInfo(message.ConnectionInfo())
			d.Touch()
		}

	case cdp.TypePong:
		if d != nil {
			d.Touch()
		}
	}

	return d
}

// registerLegacy walks a fresh device record through the registration state
// machine.  The legacy protocol has no capability validation, so whatever the
// extension reported becomes the capability set.
func (b *Bridge) registerLegacy(conn *wsConn, connectionID string, message *cdp.ExtensionMessage) (*device.Device, error) {
	id, err := device.ParseID(message.DeviceID)
	if err != nil {
		return nil, err
	}

	d := device.NewDevice(id, connectionID, conn, b.now)
	d.SetCapabilities(device.FromDeviceInfo(message.DeviceInfo))
	if err := d.Advance(device.StateAuthenticating); err != nil {
		return nil, err
	}

	if err := b.registry.Register(d); err != nil {
		return nil, err
	}

	if err := b.registry.UpdateState(id, device.StateRegistered); err != nil {
		return nil, err
	}

	if err := b.registry.UpdateState(id, device.StateActive); err != nil {
		return nil, err
	}

	return d, nil
}
