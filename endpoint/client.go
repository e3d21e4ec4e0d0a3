package endpoint

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/segmentio/ksuid"

	"github.com/browser-go/extension-bridge/cdp"
	"github.com/browser-go/extension-bridge/device"
	"github.com/browser-go/extension-bridge/logging"
	"github.com/browser-go/extension-bridge/router"
)

// closeDeviceGone is the close code sent when the device named at upgrade
// time is not connected.  Legacy clients key their reconnect logic off it.
const closeDeviceGone = websocket.CloseProtocolError

// ServeClient is the legacy CDP client endpoint.  A client optionally names a
// device with the deviceId query parameter; without one it becomes a
// broadcast subscriber that receives every device's events.
func (b *Bridge) ServeClient(response http.ResponseWriter, request *http.Request) {
	if !b.addClient() {
		http.Error(response, "connection limit reached", http.StatusServiceUnavailable)
		return
	}
	defer b.removeClient()

	conn, _, ok := b.upgrade(response, request, "/cdp")
	if !ok {
		return
	}

	deviceID := device.ID(request.URL.Query().Get("deviceId"))
	if len(deviceID) > 0 {
		if _, ok := b.registry.Get(deviceID); !ok {
			conn.Close(closeDeviceGone, "no device is connected with id ["+string(deviceID)+"]")
			return
		}
	}

	c := router.NewConn(ksuid.New().String(), deviceID, conn, b.now)
	b.router.AddConnection(c)

	for {
		_, raw, err := conn.ws.ReadMessage()
		if err != nil {
			break
		}

		frame, err := cdp.DecodeFrame(raw)
		if err != nil {
			logging.Warn(b.logger).Log(
				logging.MessageKey(), "dropping undecodable client payload",
				logging.ConnectionKey(), c.ID(),
				logging.ErrorKey(), err,
			)

			continue
		}

		if err := b.router.Route(c, frame, raw); err != nil {
			logging.Debug(b.logger).Log(
				logging.MessageKey(), "routing failed",
				logging.ConnectionKey(), c.ID(),
				logging.ErrorKey(), err,
			)
		}
	}

	b.router.RemoveConnection(c.ID())
	conn.Close(websocket.CloseNormalClosure, "")
}
