package endpoint

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/browser-go/extension-bridge/cdp"
	"github.com/browser-go/extension-bridge/device"
	"github.com/browser-go/extension-bridge/logging"
)

// controlCommand is the data member of a control:command envelope.
type controlCommand struct {
	Command  string `json:"command"`
	DeviceID string `json:"deviceId,omitempty"`
}

// deviceSummary is one row of a listDevices reply.
type deviceSummary struct {
	DeviceID     string              `json:"deviceId"`
	State        string              `json:"state"`
	ConnectedAt  string              `json:"connectedAt"`
	LastSeen     string              `json:"lastSeen"`
	Capabilities device.Capabilities `json:"capabilities"`
}

// ServeControl is the operator control channel.  Operators poll status and
// metrics and issue commands over structured envelopes; CDP frames are not
// spoken here.
func (b *Bridge) ServeControl(response http.ResponseWriter, request *http.Request) {
	conn, _, ok := b.upgrade(response, request, "/v2/control")
	if !ok {
		return
	}

	for {
		_, raw, err := conn.ws.ReadMessage()
		if err != nil {
			break
		}

		envelope, err := cdp.DecodeEnvelope(raw)
		if err != nil {
			logging.Warn(b.logger).Log(
				logging.MessageKey(), "dropping undecodable control payload",
				logging.ErrorKey(), err,
			)

			continue
		}

		switch envelope.Type {
		case cdp.TypeControlStatus:
			reply, buildErr := envelope.Reply(cdp.TypeControlStatus, map[string]interface{}{
				"health":  b.monitor.Snapshot(),
				"devices": b.registry.Stats(),
				"routing": b.router.Snapshot(),
			})
			b.sendEnvelope(conn, reply, buildErr)

		case cdp.TypeControlMetrics:
			reply, buildErr := b.metricsReply(envelope)
			b.sendEnvelope(conn, reply, buildErr)

		case cdp.TypeControlCommand:
			reply, buildErr := b.dispatchCommand(envelope)
			b.sendEnvelope(conn, reply, buildErr)

		default:
			reply, buildErr := envelope.Reply(cdp.TypeControlError, map[string]interface{}{
				"code":    "UNSUPPORTED_TYPE",
				"message": "unsupported envelope type: " + envelope.Type,
			})
			b.sendEnvelope(conn, reply, buildErr)
		}
	}

	conn.Close(websocket.CloseNormalClosure, "")
}

func (b *Bridge) metricsReply(envelope *cdp.Envelope) (*cdp.Envelope, error) {
	devices := make([]interface{}, 0, b.registry.Len())
	for _, d := range b.registry.GetAll() {
		if m, err := b.router.MetricsFor(d.ID()); err == nil {
			devices = append(devices, m)
		}
	}

	return envelope.Reply(cdp.TypeControlMetrics, map[string]interface{}{
		"routing": b.router.Snapshot(),
		"devices": devices,
	})
}

// dispatchCommand executes one operator command, answering with a control:ack
// on success and a control:error otherwise.
func (b *Bridge) dispatchCommand(envelope *cdp.Envelope) (*cdp.Envelope, error) {
	var command controlCommand
	if err := json.Unmarshal(envelope.Data, &command); err != nil {
		return envelope.Reply(cdp.TypeControlError, map[string]interface{}{
			"code":    "MALFORMED_COMMAND",
			"message": "control:command data is malformed",
		})
	}

	switch command.Command {
	case "listDevices":
		devices := b.registry.GetAll()
		summaries := make([]deviceSummary, 0, len(devices))
		for _, d := range devices {
			summaries = append(summaries, deviceSummary{
				DeviceID:     string(d.ID()),
				State:        d.State().String(),
				ConnectedAt:  d.RegisteredAt().UTC().Format(time.RFC3339),
				LastSeen:     d.LastSeen().UTC().Format(time.RFC3339),
				Capabilities: d.Capabilities(),
			})
		}

		return envelope.Reply(cdp.TypeControlAck, map[string]interface{}{
			"command": command.Command,
			"devices": summaries,
		})

	case "disconnectDevice":
		id, err := device.ParseID(command.DeviceID)
		if err == nil {
			err = b.registry.Unregister(id, "administrative disconnect")
		}
		if err != nil {
			return b.commandError(envelope, command.Command, err)
		}

		return envelope.Reply(cdp.TypeControlAck, map[string]interface{}{
			"command":      command.Command,
			"deviceId":     command.DeviceID,
			"disconnected": true,
		})

	case "getDeviceMetrics":
		id, err := device.ParseID(command.DeviceID)
		if err != nil {
			return b.commandError(envelope, command.Command, err)
		}

		metrics, err := b.router.MetricsFor(id)
		if err != nil {
			return b.commandError(envelope, command.Command, err)
		}

		return envelope.Reply(cdp.TypeControlAck, map[string]interface{}{
			"command": command.Command,
			"metrics": metrics,
		})

	default:
		return envelope.Reply(cdp.TypeControlError, map[string]interface{}{
			"code":    "UNKNOWN_COMMAND",
			"message": "unknown command: " + command.Command,
		})
	}
}

func (b *Bridge) commandError(envelope *cdp.Envelope, command string, err error) (*cdp.Envelope, error) {
	data := map[string]interface{}{
		"command": command,
		"message": err.Error(),
	}

	if relayErr, ok := err.(*device.Error); ok {
		data["code"] = relayErr.Code
		data["message"] = relayErr.Message
	}

	return envelope.Reply(cdp.TypeControlError, data)
}
