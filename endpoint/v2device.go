package endpoint

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/segmentio/ksuid"

	"github.com/browser-go/extension-bridge/cdp"
	"github.com/browser-go/extension-bridge/device"
	"github.com/browser-go/extension-bridge/logging"
)

// v2Registration is the data member of a device:register envelope.
type v2Registration struct {
	DeviceID   string                 `json:"deviceId"`
	DeviceInfo map[string]interface{} `json:"deviceInfo"`
}

// decodeV2 classifies a payload from a v2 socket: anything with a type
// discriminator is an envelope, everything else must be a CDP frame.
func decodeV2(data []byte) (*cdp.Envelope, *cdp.Frame, error) {
	var probe struct {
		Type string `json:"type"`
	}

	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, nil, err
	}

	if len(probe.Type) > 0 {
		envelope, err := cdp.DecodeEnvelope(data)
		return envelope, nil, err
	}

	frame, err := cdp.DecodeFrame(data)
	return nil, frame, err
}

// sendEnvelope encodes and transmits an envelope, logging delivery failures.
func (b *Bridge) sendEnvelope(conn *wsConn, envelope *cdp.Envelope, err error) {
	if err != nil {
		logging.Error(b.logger).Log(
			logging.MessageKey(), "failed to build envelope",
			logging.ErrorKey(), err,
		)

		return
	}

	data, err := envelope.Encode()
	if err == nil {
		err = conn.Send(data)
	}

	if err != nil {
		logging.Debug(b.logger).Log(
			logging.MessageKey(), "failed to deliver envelope",
			"type", envelope.Type,
			logging.ErrorKey(), err,
		)
	}
}

// ServeV2Device is the structured device endpoint.  Devices register with a
// device:register envelope carrying validated capabilities, heartbeat with
// device:heartbeat, and interleave raw CDP frames with envelope traffic.
func (b *Bridge) ServeV2Device(response http.ResponseWriter, request *http.Request) {
	conn, _, ok := b.upgrade(response, request, "/v2/device")
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

		envelope, frame, err := decodeV2(raw)
		if err != nil {
			logging.Warn(b.logger).Log(
				logging.MessageKey(), "dropping undecodable device payload",
				logging.ConnectionKey(), connectionID,
				logging.ErrorKey(), err,
			)

			continue
		}

		if frame != nil {
			if d != nil {
				d.Touch()
				b.router.HandleDeviceFrame(d, frame, raw)
			}

			continue
		}

		switch envelope.Type {
		case cdp.TypeV2Register:
			registered, err := b.registerV2(conn, connectionID, envelope)
			if err != nil {
				reply, buildErr := envelope.Reply(cdp.TypeV2Error, err)
				b.sendEnvelope(conn, reply, buildErr)
				continue
			}

			d = registered
			reply, buildErr := envelope.Reply(cdp.TypeV2RegisterAck, map[string]interface{}{
				"deviceId":          string(d.ID()),
				"state":             d.State().String(),
				"heartbeatInterval": b.options.heartbeatInterval().Milliseconds(),
			})
			b.sendEnvelope(conn, reply, buildErr)

		case cdp.TypeV2Heartbeat:
			if d == nil {
				continue
			}

			b.registry.UpdateLastHeartbeat(d.ID())
			reply, buildErr := envelope.Reply(cdp.TypeV2HeartbeatAck, map[string]interface{}{
				"serverTime": b.now().UnixMilli(),
				"status":     "ok",
			})
			b.sendEnvelope(conn, reply, buildErr)

		case cdp.TypeV2Disconnect:
			if d != nil {
				b.registry.Unregister(d.ID(), "device requested disconnect")
				return
			}

			conn.Close(websocket.CloseNormalClosure, "")
			return

		default:
			logging.Warn(b.logger).Log(
				logging.MessageKey(), "unexpected envelope on device socket",
				logging.ConnectionKey(), connectionID,
				"type", envelope.Type,
			)
		}
	}

	if d != nil && !d.Closed() {
		b.registry.Unregister(d.ID(), "connection closed")
	} else {
		conn.Close(websocket.CloseNormalClosure, "")
	}
}

// registerV2 validates a structured registration and walks the record through
// the registration state machine.  Validation failures leave no record behind.
func (b *Bridge) registerV2(conn *wsConn, connectionID string, envelope *cdp.Envelope) (*device.Device, error) {
	var registration v2Registration
	if err := json.Unmarshal(envelope.Data, &registration); err != nil {
		return nil, device.NewValidationError("", "device:register data is malformed")
	}

	id, err := device.ParseID(registration.DeviceID)
	if err != nil {
		return nil, device.NewValidationError("", "deviceId is required")
	}

	capabilities, err := device.ParseCapabilities(id, registration.DeviceInfo)
	if err != nil {
		return nil, err
	}

	d := device.NewDevice(id, connectionID, conn, b.now)
	d.SetCapabilities(capabilities)
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
