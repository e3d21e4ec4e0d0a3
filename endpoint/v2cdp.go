package endpoint

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/segmentio/ksuid"

	"github.com/browser-go/extension-bridge/device"
	"github.com/browser-go/extension-bridge/logging"
	"github.com/browser-go/extension-bridge/router"
)

// Application close codes on the v2 CDP endpoint.  These are delivered after
// a successful upgrade so that clients can distinguish them from transport
// failures.
const (
	closeV2MissingDevice   = 4000
	closeV2UnknownDevice   = 4001
	closeV2DeviceNotActive = 4002
)

// ServeV2CDP is the structured CDP client endpoint.  The target device is
// named in the path; a socket opened with role=device instead feeds frames
// into the router as if they came from the device's own transport.
func (b *Bridge) ServeV2CDP(response http.ResponseWriter, request *http.Request) {
	deviceMode := request.URL.Query().Get("role") == "device"
	if !deviceMode && !b.addClient() {
		http.Error(response, "connection limit reached", http.StatusServiceUnavailable)
		return
	}
	if !deviceMode {
		defer b.removeClient()
	}

	conn, _, ok := b.upgrade(response, request, "/v2/cdp")
	if !ok {
		return
	}

	id, err := device.ParseID(mux.Vars(request)["deviceId"])
	if err != nil {
		conn.Close(closeV2MissingDevice, "a device id is required")
		return
	}

	d, ok := b.registry.Get(id)
	if !ok {
		conn.Close(closeV2UnknownDevice, "no device is connected with id ["+string(id)+"]")
		return
	}

	if deviceMode {
		b.serveV2DeviceMode(conn, id)
		return
	}

	if !d.State().Routable() {
		conn.Close(closeV2DeviceNotActive, device.NewDeviceNotActiveError(id, d.State()).Message)
		return
	}

	c := router.NewConn(ksuid.New().String(), id, conn, b.now)
	b.router.AddConnection(c)

	for {
		_, raw, err := conn.ws.ReadMessage()
		if err != nil {
			break
		}

		envelope, frame, err := decodeV2(raw)
		if err != nil || envelope != nil {
			logging.Warn(b.logger).Log(
				logging.MessageKey(), "dropping non-CDP payload on client socket",
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

// serveV2DeviceMode reads CDP frames off an auxiliary device socket.  The
// device record must already exist; this transport supplements the one the
// record owns and is not tracked by the registry.
func (b *Bridge) serveV2DeviceMode(conn *wsConn, id device.ID) {
	for {
		_, raw, err := conn.ws.ReadMessage()
		if err != nil {
			break
		}

		d, ok := b.registry.Get(id)
		if !ok {
			conn.Close(closeV2UnknownDevice, "device record is gone")
			return
		}

		envelope, frame, err := decodeV2(raw)
		if err != nil || envelope != nil {
			logging.Warn(b.logger).Log(
				logging.MessageKey(), "dropping non-CDP payload on device socket",
				logging.DeviceKey(), id,
				logging.ErrorKey(), err,
			)

			continue
		}

		d.Touch()
		b.router.HandleDeviceFrame(d, frame, raw)
	}

	conn.Close(websocket.CloseNormalClosure, "")
}
