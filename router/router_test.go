package router

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browser-go/extension-bridge/device"
	"github.com/browser-go/extension-bridge/logging"
)

func testRouteDeviceNotFound(t *testing.T) {
	var (
		assert  = assert.New(t)
		require = require.New(t)

		registry  = device.NewRegistry(&device.Options{Logger: logging.NewTestLogger(nil, t)})
		r         = New(registry, &Options{Logger: logging.NewTestLogger(nil, t)})
		transport = newTestTransport()
		c         = NewConn("client-1", device.ID("nosuch"), transport, nil)
	)

	frame, raw := mustFrame(t, `{"id": 1, "method": "Page.navigate", "params": {"url": "https://example.com"}}`)
	require.NoError(r.Route(c, frame, raw))

	response := transport.lastFrame(t)
	require.NotNil(response.Error)
	assert.Contains(response.Error.Message, device.CodeDeviceNotFound)
	assert.Equal("1", response.Key())
}

func testRouteDeviceNotActive(t *testing.T) {
	var (
		assert  = assert.New(t)
		require = require.New(t)

		registry        = device.NewRegistry(&device.Options{Logger: logging.NewTestLogger(nil, t)})
		r               = New(registry, &Options{Logger: logging.NewTestLogger(nil, t)})
		deviceTransport = newTestTransport()
		clientTransport = newTestTransport()
	)

	d := device.NewDevice(device.ID("device-1"), "device-conn-1", deviceTransport, nil)
	require.NoError(d.Advance(device.StateAuthenticating))
	require.NoError(registry.Register(d))
	require.NoError(registry.UpdateState(device.ID("device-1"), device.StateRegistered))

	c := NewConn("client-1", device.ID("device-1"), clientTransport, nil)
	frame, raw := mustFrame(t, `{"id": 1, "method": "Page.navigate"}`)
	require.NoError(r.Route(c, frame, raw))

	response := clientTransport.lastFrame(t)
	require.NotNil(response.Error)
	assert.Contains(response.Error.Message, device.CodeDeviceNotActive)
	assert.Zero(deviceTransport.sentCount())
}

func testRouteWriteThrough(t *testing.T) {
	var (
		assert  = assert.New(t)
		require = require.New(t)

		registry        = device.NewRegistry(&device.Options{Logger: logging.NewTestLogger(nil, t)})
		r               = New(registry, &Options{Logger: logging.NewTestLogger(nil, t)})
		deviceTransport = newTestTransport()
		clientTransport = newTestTransport()
	)

	d := newActiveDevice(t, registry, "device-1", deviceTransport, nil)
	c := NewConn("client-1", device.ID("device-1"), clientTransport, nil)
	r.AddConnection(c)

	frame, raw := mustFrame(t, `{"id": 11, "method": "DOM.getDocument"}`)
	require.NoError(r.Route(c, frame, raw))
	assert.Equal(1, deviceTransport.sentCount())
	assert.Equal(1, r.PendingDepth())

	response, responseRaw := mustFrame(t, `{"id": 11, "result": {"root": {}}}`)
	r.HandleDeviceFrame(d, response, responseRaw)

	assert.Equal(responseRaw, clientTransport.sent[len(clientTransport.sent)-1])
	assert.Zero(r.PendingDepth())

	snapshot := r.Snapshot()
	assert.Equal(uint64(1), snapshot.Requests)
	assert.Equal(uint64(1), snapshot.Responses)
	assert.Zero(snapshot.Failures)
	assert.Equal(uint64(1), d.Statistics().MessagesReceived())
}

func testRouteDuplicateRequestID(t *testing.T) {
	var (
		assert  = assert.New(t)
		require = require.New(t)

		registry        = device.NewRegistry(&device.Options{Logger: logging.NewTestLogger(nil, t)})
		r               = New(registry, &Options{Logger: logging.NewTestLogger(nil, t)})
		deviceTransport = newTestTransport()
		clientTransport = newTestTransport()
	)

	newActiveDevice(t, registry, "device-1", deviceTransport, nil)
	c := NewConn("client-1", device.ID("device-1"), clientTransport, nil)
	r.AddConnection(c)

	frame, raw := mustFrame(t, `{"id": 11, "method": "DOM.getDocument"}`)
	require.NoError(r.Route(c, frame, raw))
	require.NoError(r.Route(c, frame, raw))

	response := clientTransport.lastFrame(t)
	require.NotNil(response.Error)
	assert.Contains(response.Error.Message, "DUPLICATE_REQUEST_ID")
	assert.Equal(1, deviceTransport.sentCount())
}

func testRouteSharedRequestID(t *testing.T) {
	var (
		assert  = assert.New(t)
		require = require.New(t)

		registry        = device.NewRegistry(&device.Options{Logger: logging.NewTestLogger(nil, t)})
		r               = New(registry, &Options{Logger: logging.NewTestLogger(nil, t)})
		deviceTransport = newTestTransport()
		firstTransport  = newTestTransport()
		secondTransport = newTestTransport()
	)

	d := newActiveDevice(t, registry, "device-1", deviceTransport, nil)

	first := NewConn("client-1", device.ID("device-1"), firstTransport, nil)
	second := NewConn("client-2", device.ID("device-1"), secondTransport, nil)
	r.AddConnection(first)
	r.AddConnection(second)

	frame, raw := mustFrame(t, `{"id": 7, "method": "Runtime.evaluate", "params": {"expression": "1"}}`)
	require.NoError(r.Route(first, frame, raw))
	require.NoError(r.Route(second, frame, raw))
	assert.Equal(2, deviceTransport.sentCount())

	// responses with the shared id resolve in enqueue order
	response, responseRaw := mustFrame(t, `{"id": 7, "result": {"value": 1}}`)
	r.HandleDeviceFrame(d, response, responseRaw)
	assert.Equal(1, firstTransport.sentCount())
	assert.Zero(secondTransport.sentCount())

	r.HandleDeviceFrame(d, response, responseRaw)
	assert.Equal(1, firstTransport.sentCount())
	assert.Equal(1, secondTransport.sentCount())

	// a third response matches nothing and is dropped
	r.HandleDeviceFrame(d, response, responseRaw)
	assert.Equal(1, firstTransport.sentCount())
	assert.Equal(1, secondTransport.sentCount())
}

func testRouteEventFanout(t *testing.T) {
	var (
		assert = assert.New(t)

		registry           = device.NewRegistry(&device.Options{Logger: logging.NewTestLogger(nil, t)})
		r                  = New(registry, &Options{Logger: logging.NewTestLogger(nil, t)})
		deviceTransport    = newTestTransport()
		boundTransport     = newTestTransport()
		broadcastTransport = newTestTransport()
		otherTransport     = newTestTransport()
	)

	d := newActiveDevice(t, registry, "device-1", deviceTransport, nil)
	r.AddConnection(NewConn("client-1", device.ID("device-1"), boundTransport, nil))
	r.AddConnection(NewConn("client-2", "", broadcastTransport, nil))
	r.AddConnection(NewConn("client-3", device.ID("device-2"), otherTransport, nil))

	event, eventRaw := mustFrame(t, `{"method": "Page.loadEventFired", "params": {"timestamp": 1}}`)
	r.HandleDeviceFrame(d, event, eventRaw)

	assert.Equal(1, boundTransport.sentCount())
	assert.Equal(1, broadcastTransport.sentCount())
	assert.Zero(otherTransport.sentCount())
}

func testRouteQueueFull(t *testing.T) {
	var (
		assert  = assert.New(t)
		require = require.New(t)

		registry = device.NewRegistry(&device.Options{Logger: logging.NewTestLogger(nil, t)})
		r        = New(registry, &Options{
			Logger:       logging.NewTestLogger(nil, t),
			MaxQueueSize: 1,
		})
		deviceTransport = newTestTransport()
		clientTransport = newTestTransport()
	)

	newActiveDevice(t, registry, "device-1", deviceTransport, nil)
	c := NewConn("client-1", device.ID("device-1"), clientTransport, nil)
	r.AddConnection(c)

	deviceTransport.setWritable(false)

	frame, raw := mustFrame(t, `{"id": 1, "method": "DOM.getDocument"}`)
	require.NoError(r.Route(c, frame, raw))
	assert.Equal(1, r.QueueDepth())
	assert.Zero(clientTransport.sentCount())

	frame, raw = mustFrame(t, `{"id": 2, "method": "DOM.getDocument"}`)
	require.NoError(r.Route(c, frame, raw))

	response := clientTransport.lastFrame(t)
	require.NotNil(response.Error)
	assert.Contains(response.Error.Message, device.CodeQueueFull)
	assert.Equal(1, r.PendingDepth())

	// the device recovers and the backlog drains on the next tick
	deviceTransport.setWritable(true)
	r.processQueues()
	assert.Equal(1, deviceTransport.sentCount())
	assert.Zero(r.QueueDepth())
}

func testRouteDeviceGone(t *testing.T) {
	var (
		assert  = assert.New(t)
		require = require.New(t)

		registry        = device.NewRegistry(&device.Options{Logger: logging.NewTestLogger(nil, t)})
		r               = New(registry, &Options{Logger: logging.NewTestLogger(nil, t)})
		deviceTransport = newTestTransport()
		clientTransport = newTestTransport()
	)

	newActiveDevice(t, registry, "device-1", deviceTransport, nil)
	c := NewConn("client-1", device.ID("device-1"), clientTransport, nil)
	r.AddConnection(c)

	frame, raw := mustFrame(t, `{"id": 1, "method": "Page.navigate"}`)
	require.NoError(r.Route(c, frame, raw))
	require.Equal(1, r.PendingDepth())

	r.DeviceGone(device.ID("device-1"))

	response := clientTransport.lastFrame(t)
	require.NotNil(response.Error)
	assert.Contains(response.Error.Message, device.CodeDeviceUnavailable)
	assert.Zero(r.PendingDepth())
}

func testRouteRetryThenTimeout(t *testing.T) {
	var (
		assert  = assert.New(t)
		require = require.New(t)

		now      = time.Unix(1000, 0)
		registry = device.NewRegistry(&device.Options{
			Logger: logging.NewTestLogger(nil, t),
			Now:    func() time.Time { return now },
		})
		r = New(registry, &Options{
			Logger:         logging.NewTestLogger(nil, t),
			MessageTimeout: 5 * time.Second,
			MaxRetries:     1,
			RetryDelay:     time.Second,
			Now:            func() time.Time { return now },
		})
		deviceTransport = newTestTransport()
		clientTransport = newTestTransport()
	)

	newActiveDevice(t, registry, "device-1", deviceTransport, func() time.Time { return now })
	c := NewConn("client-1", device.ID("device-1"), clientTransport, nil)
	r.AddConnection(c)

	frame, raw := mustFrame(t, `{"id": 1, "method": "Page.navigate"}`)
	require.NoError(r.Route(c, frame, raw))
	require.Equal(1, deviceTransport.sentCount())

	// past the deadline: one retry is re-sent to the device
	now = now.Add(6 * time.Second)
	r.expirePending()
	assert.Equal(2, deviceTransport.sentCount())
	assert.Zero(clientTransport.sentCount())
	assert.Equal(1, r.PendingDepth())

	// past the retry deadline with retries exhausted: the client sees the timeout
	now = now.Add(2 * time.Second)
	r.expirePending()
	assert.Equal(2, deviceTransport.sentCount())

	response := clientTransport.lastFrame(t)
	require.NotNil(response.Error)
	assert.Contains(response.Error.Message, device.CodeMessageTimeout)
	assert.Zero(r.PendingDepth())

	snapshot := r.Snapshot()
	assert.Equal(uint64(1), snapshot.Timeouts)
	assert.Equal(uint64(1), snapshot.Failures)
}

func testRouteTTLEviction(t *testing.T) {
	var (
		assert  = assert.New(t)
		require = require.New(t)

		now      = time.Unix(1000, 0)
		registry = device.NewRegistry(&device.Options{
			Logger: logging.NewTestLogger(nil, t),
			Now:    func() time.Time { return now },
		})
		r = New(registry, &Options{
			Logger:     logging.NewTestLogger(nil, t),
			PendingTTL: 60 * time.Second,
			Now:        func() time.Time { return now },
		})
		deviceTransport = newTestTransport()
		clientTransport = newTestTransport()
	)

	newActiveDevice(t, registry, "device-1", deviceTransport, func() time.Time { return now })
	c := NewConn("client-1", device.ID("device-1"), clientTransport, nil)
	r.AddConnection(c)

	frame, raw := mustFrame(t, `{"id": 1, "method": "Page.navigate"}`)
	require.NoError(r.Route(c, frame, raw))

	// TTL eviction is silent
	now = now.Add(61 * time.Second)
	r.expirePending()
	assert.Zero(clientTransport.sentCount())
	assert.Zero(r.PendingDepth())
}

func testRemoveConnectionPurges(t *testing.T) {
	var (
		assert  = assert.New(t)
		require = require.New(t)

		registry        = device.NewRegistry(&device.Options{Logger: logging.NewTestLogger(nil, t)})
		r               = New(registry, &Options{Logger: logging.NewTestLogger(nil, t)})
		deviceTransport = newTestTransport()
		clientTransport = newTestTransport()
	)

	d := newActiveDevice(t, registry, "device-1", deviceTransport, nil)
	c := NewConn("client-1", device.ID("device-1"), clientTransport, nil)
	r.AddConnection(c)

	frame, raw := mustFrame(t, `{"id": 1, "method": "Page.navigate"}`)
	require.NoError(r.Route(c, frame, raw))

	r.RemoveConnection(c.ID())
	assert.Zero(r.PendingDepth())

	// a late response matches nothing and is dropped silently
	response, responseRaw := mustFrame(t, `{"id": 1, "result": {}}`)
	r.HandleDeviceFrame(d, response, responseRaw)
	assert.Zero(clientTransport.sentCount())
}

func testShutdownFailsPending(t *testing.T) {
	var (
		assert  = assert.New(t)
		require = require.New(t)

		registry        = device.NewRegistry(&device.Options{Logger: logging.NewTestLogger(nil, t)})
		r               = New(registry, &Options{Logger: logging.NewTestLogger(nil, t)})
		deviceTransport = newTestTransport()
		clientTransport = newTestTransport()
	)

	newActiveDevice(t, registry, "device-1", deviceTransport, nil)
	c := NewConn("client-1", device.ID("device-1"), clientTransport, nil)
	r.AddConnection(c)

	frame, raw := mustFrame(t, `{"id": 1, "method": "Page.navigate"}`)
	require.NoError(r.Route(c, frame, raw))

	r.Shutdown()

	response := clientTransport.lastFrame(t)
	require.NotNil(response.Error)
	assert.Contains(response.Error.Message, "Router cleanup")
	assert.True(clientTransport.closed)
	assert.Equal(websocket.CloseNormalClosure, clientTransport.closeCode)
	assert.Zero(r.ConnectionCount())

	// Shutdown is idempotent
	r.Shutdown()
}

func TestRouter(t *testing.T) {
	t.Run("DeviceNotFound", testRouteDeviceNotFound)
	t.Run("DeviceNotActive", testRouteDeviceNotActive)
	t.Run("WriteThrough", testRouteWriteThrough)
	t.Run("DuplicateRequestID", testRouteDuplicateRequestID)
	t.Run("SharedRequestID", testRouteSharedRequestID)
	t.Run("EventFanout", testRouteEventFanout)
	t.Run("QueueFull", testRouteQueueFull)
	t.Run("DeviceGone", testRouteDeviceGone)
	t.Run("RetryThenTimeout", testRouteRetryThenTimeout)
	t.Run("TTLEviction", testRouteTTLEviction)
	t.Run("RemoveConnectionPurges", testRemoveConnectionPurges)
	t.Run("ShutdownFailsPending", testShutdownFailsPending)
}

func TestMetricsFor(t *testing.T) {
	var (
		assert  = assert.New(t)
		require = require.New(t)

		registry        = device.NewRegistry(&device.Options{Logger: logging.NewTestLogger(nil, t)})
		r               = New(registry, &Options{Logger: logging.NewTestLogger(nil, t)})
		deviceTransport = newTestTransport()
		clientTransport = newTestTransport()
	)

	_, err := r.MetricsFor(device.ID("nosuch"))
	assert.Error(err)

	d := newActiveDevice(t, registry, "device-1", deviceTransport, nil)
	d.Statistics().AddMessagesSent(3)
	r.AddConnection(NewConn("client-1", device.ID("device-1"), clientTransport, nil))

	m, err := r.MetricsFor(device.ID("device-1"))
	require.NoError(err)
	assert.Equal("device-1", m.DeviceID)
	assert.Equal("ACTIVE", m.State)
	assert.Equal(uint64(3), m.MessagesSent)
	assert.Equal(1, m.Connections)
}
