package router

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/gorilla/websocket"

	"github.com/browser-go/extension-bridge/cdp"
	"github.com/browser-go/extension-bridge/device"
	"github.com/browser-go/extension-bridge/logging"
)

const (
	// shutdownReason is the message attached to every pending request failed
	// during router shutdown.
	shutdownReason = "Router cleanup"
)

// Router owns the client connection set and the per-device pending tables.
// One Router serves both endpoint families; the legacy and v2 handlers are
// thin translation layers over it.
type Router struct {
	logger   log.Logger
	measures Measures
	now      func() time.Time

	registry *device.Registry

	messageTimeout time.Duration
	pendingTTL     time.Duration
	maxQueueSize   int
	maxRetries     int
	retryDelay     time.Duration
	maxRetryDelay  time.Duration
	tick           time.Duration

	connLock    sync.RWMutex
	connections map[string]*Conn

	pendLock sync.Mutex
	pending  map[device.ID]*pendingTable
	queues   map[device.ID]*backlog

	requests  uint64
	responses uint64
	timeouts  uint64
	failures  uint64

	latencyLock sync.Mutex
	avgLatency  time.Duration
	samples     uint64

	shutdownOnce sync.Once
}

// New constructs a Router over the given registry.
func New(registry *device.Registry, o *Options) *Router {
	return &Router{
		logger:         o.logger(),
		measures:       NewMeasures(o.metricsProvider()),
		now:            o.now(),
		registry:       registry,
		messageTimeout: o.messageTimeout(),
		pendingTTL:     o.pendingTTL(),
		maxQueueSize:   o.maxQueueSize(),
		maxRetries:     o.maxRetries(),
		retryDelay:     o.retryDelay(),
		maxRetryDelay:  o.maxRetryDelay(),
		tick:           o.tick(),
		connections:    make(map[string]*Conn),
		pending:        make(map[device.ID]*pendingTable),
		queues:         make(map[device.ID]*backlog),
	}
}

// AddConnection registers a client connection for routing and fan-out.
func (r *Router) AddConnection(c *Conn) {
	r.connLock.Lock()
	r.connections[c.ID()] = c
	r.connLock.Unlock()

	logging.Debug(r.logger).Log(
		logging.MessageKey(), "client connected",
		logging.ConnectionKey(), c.ID(),
		logging.DeviceKey(), c.DeviceID(),
	)
}

// RemoveConnection deregisters a client connection and purges every pending
// entry keyed to it.  Responses that later match a purged entry are dropped
// silently; no cancellation is sent to the extension.
func (r *Router) RemoveConnection(connID string) {
	r.connLock.Lock()
	delete(r.connections, connID)
	r.connLock.Unlock()

	r.pendLock.Lock()
	tables := make([]*pendingTable, 0, len(r.pending))
	for _, t := range r.pending {
		tables = append(tables, t)
	}
	backlogs := make([]*backlog, 0, len(r.queues))
	for _, q := range r.queues {
		backlogs = append(backlogs, q)
	}
	r.pendLock.Unlock()

	for _, t := range tables {
		t.removeConn(connID)
	}
	for _, q := range backlogs {
		q.removeConn(connID)
	}
}

// Connection resolves a client connection by id.
func (r *Router) Connection(connID string) (*Conn, bool) {
	r.connLock.RLock()
	c, ok := r.connections[connID]
	r.connLock.RUnlock()
	return c, ok
}

// ConnectionsFor returns every client connection subscribed to the given
// device: those bound to its id plus legacy connections with no device id,
// which are broadcast subscribers.
func (r *Router) ConnectionsFor(id device.ID) []*Conn {
	r.connLock.RLock()
	defer r.connLock.RUnlock()

	var matches []*Conn
	for _, c := range r.connections {
		if c.DeviceID() == id || c.DeviceID() == "" {
			matches = append(matches, c)
		}
	}

	return matches
}

// ConnectionCount returns the number of registered client connections.
func (r *Router) ConnectionCount() int {
	r.connLock.RLock()
	defer r.connLock.RUnlock()
	return len(r.connections)
}

func (r *Router) tableFor(id device.ID) *pendingTable {
	r.pendLock.Lock()
	defer r.pendLock.Unlock()

	t, ok := r.pending[id]
	if !ok {
		t = newPendingTable()
		r.pending[id] = t
	}

	return t
}

func (r *Router) queueFor(id device.ID) *backlog {
	r.pendLock.Lock()
	defer r.pendLock.Unlock()

	q, ok := r.queues[id]
	if !ok {
		q = newBacklog(r.maxQueueSize)
		r.queues[id] = q
	}

	return q
}

// Route processes one frame from a client connection.  raw is the payload as
// received; it is forwarded verbatim when the method is not handled locally.
func (r *Router) Route(c *Conn, frame *cdp.Frame, raw []byte) error {
	var d *device.Device
	if id := c.DeviceID(); len(id) > 0 {
		d, _ = r.registry.Get(id)
	}

	if handled, err := r.handleLocal(c, d, frame); handled {
		return err
	}

	if len(c.DeviceID()) == 0 || d == nil {
		if frame.IsRequest() {
			return c.Send(cdp.NewErrorResponse(frame.ID, device.CodeDeviceNotFound,
				"no device is connected with id ["+string(c.DeviceID())+"]"))
		}

		return nil
	}

	if !d.State().Routable() {
		if frame.IsRequest() {
			return c.Send(cdp.NewErrorResponse(frame.ID, device.CodeDeviceNotActive,
				device.NewDeviceNotActiveError(d.ID(), d.State()).Message))
		}

		return nil
	}

	if !frame.IsRequest() {
		// nothing to correlate; best-effort write-through
		if err := d.Send(raw); err != nil {
			logging.Debug(r.logger).Log(
				logging.MessageKey(), "dropped uncorrelated client frame",
				logging.DeviceKey(), d.ID(),
				logging.ErrorKey(), err,
			)
		}

		return nil
	}

	now := r.now()
	e := &pendingEntry{
		connID:   c.ID(),
		key:      frame.Key(),
		method:   frame.Method,
		deviceID: d.ID(),
		priority: MethodPriority(frame.Method),
		enqueued: now,
		deadline: now.Add(r.messageTimeout),
		expires:  now.Add(r.pendingTTL),
		frame:    raw,
	}

	if !r.tableFor(d.ID()).add(e) {
		return c.Send(cdp.NewErrorResponse(frame.ID, "DUPLICATE_REQUEST_ID",
			"a request with this id is already in flight on this connection"))
	}

	atomic.AddUint64(&r.requests, 1)
	r.measures.Request.Add(1)

	if err := d.Send(raw); err != nil {
		if !r.queueFor(d.ID()).enqueue(e) {
			r.tableFor(d.ID()).remove(e)
			return c.Send(cdp.NewErrorResponse(frame.ID, device.CodeQueueFull,
				device.NewQueueFullError(d.ID(), r.maxQueueSize).Message))
		}
	}

	return nil
}

// HandleDeviceFrame processes one CDP frame arriving from a device: responses
// consume their pending entry and go to exactly the originating connection;
// events fan out to every subscribed connection.
func (r *Router) HandleDeviceFrame(d *device.Device, frame *cdp.Frame, raw []byte) {
	d.Statistics().AddMessagesReceived(1)
	d.Statistics().AddBytesReceived(uint64(len(raw)))

	if len(frame.ID) > 0 {
		e := r.tableFor(d.ID()).consume(frame.Key())
		if e == nil {
			// late response for a canceled or unknown request
			r.measures.Dropped.Add(1)
			return
		}

		latency := r.now().Sub(e.enqueued)
		d.Statistics().RecordLatency(latency)
		r.recordLatency(latency)
		atomic.AddUint64(&r.responses, 1)
		r.measures.Response.Add(1)
		if frame.Error != nil {
			atomic.AddUint64(&r.failures, 1)
			d.Statistics().AddErrors(1)
		}

		if c, ok := r.Connection(e.connID); ok {
			if err := c.SendRaw(raw); err != nil {
				logging.Debug(r.logger).Log(
					logging.MessageKey(), "failed to deliver response",
					logging.ConnectionKey(), e.connID,
					logging.ErrorKey(), err,
				)
			}
		}

		return
	}

	r.measures.Event.Add(1)
	for _, c := range r.ConnectionsFor(d.ID()) {
		if err := c.SendRaw(raw); err != nil {
			logging.Debug(r.logger).Log(
				logging.MessageKey(), "failed to broadcast event",
				logging.ConnectionKey(), c.ID(),
				logging.ErrorKey(), err,
			)
		}
	}
}

// DeviceGone fails every in-flight and queued request for a device with
// DEVICE_UNAVAILABLE and discards its tables.  Invoked when the device's
// extension transport closes or its record is evicted.
func (r *Router) DeviceGone(id device.ID) {
	r.pendLock.Lock()
	t := r.pending[id]
	q := r.queues[id]
	delete(r.pending, id)
	delete(r.queues, id)
	r.pendLock.Unlock()

	unavailable := device.NewDeviceUnavailableError(id)
	if t != nil {
		for _, e := range t.removeAll() {
			r.failEntry(e, device.CodeDeviceUnavailable, unavailable.Message)
		}
	}

	if q != nil {
		for _, e := range q.drain(0) {
			r.failEntry(e, device.CodeDeviceUnavailable, unavailable.Message)
		}
	}
}

// failEntry emits a CDP error frame for a dead pending entry to its
// originating connection, if that connection is still around.
func (r *Router) failEntry(e *pendingEntry, code, text string) {
	atomic.AddUint64(&r.failures, 1)
	if c, ok := r.Connection(e.connID); ok {
		if err := c.Send(cdp.NewErrorResponse(json.RawMessage(e.key), code, text)); err != nil {
			logging.Debug(r.logger).Log(
				logging.MessageKey(), "failed to deliver error frame",
				logging.ConnectionKey(), e.connID,
				logging.ErrorKey(), err,
			)
		}
	}
}

// Run executes the shared queue-processing task until shutdown is signaled.
// Each tick drains device backlogs and expires pending entries.
func (r *Router) Run(shutdown <-chan struct{}) {
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.processQueues()
			r.expirePending()
			r.measures.Pending.Set(float64(r.PendingDepth()))
			r.measures.Queue.Set(float64(r.QueueDepth()))
		case <-shutdown:
			return
		}
	}
}

func (r *Router) processQueues() {
	r.pendLock.Lock()
	ids := make([]device.ID, 0, len(r.queues))
	for id := range r.queues {
		ids = append(ids, id)
	}
	r.pendLock.Unlock()

	for _, id := range ids {
		q := r.queueFor(id)
		if q.len() == 0 {
			continue
		}

		d, ok := r.registry.Get(id)
		if !ok {
			r.DeviceGone(id)
			continue
		}

		if !d.State().Routable() {
			continue
		}

		for _, e := range q.drain(0) {
			if err := d.Send(e.frame); err != nil {
				// device went unwritable again; put it back
				if !q.enqueue(e) {
					r.tableFor(id).remove(e)
					r.failEntry(e, device.CodeQueueFull,
						device.NewQueueFullError(id, r.maxQueueSize).Message)
				}
				break
			}
		}
	}
}

func (r *Router) expirePending() {
	r.pendLock.Lock()
	tables := make(map[device.ID]*pendingTable, len(r.pending))
	for id, t := range r.pending {
		tables[id] = t
	}
	r.pendLock.Unlock()

	now := r.now()
	for id, t := range tables {
		timedOut, expired := t.expire(now)

		for _, e := range expired {
			logging.Warn(r.logger).Log(
				logging.MessageKey(), "pending entry exceeded TTL",
				logging.ConnectionKey(), e.connID,
				logging.DeviceKey(), id,
				"method", e.method,
			)
		}

		for _, e := range timedOut {
			d, ok := r.registry.Get(id)
			if ok && d.State().Routable() && e.retries < r.maxRetries {
				delay := r.retryDelay << uint(e.retries)
				if delay > r.maxRetryDelay {
					delay = r.maxRetryDelay
				}

				e.retries++
				e.deadline = now.Add(delay)
				if t.add(e) {
					r.measures.Retry.Add(1)
					if err := d.Send(e.frame); err != nil {
						r.queueFor(id).enqueue(e)
					}
					continue
				}
			}

			atomic.AddUint64(&r.timeouts, 1)
			r.measures.Timeout.Add(1)
			r.failEntry(e, device.CodeMessageTimeout,
				device.NewMessageTimeoutError(id, e.method).Message)
		}
	}
}

// Shutdown fails every pending request and closes every client transport with
// a normal close.  Idempotent.
func (r *Router) Shutdown() {
	r.shutdownOnce.Do(func() {
		r.pendLock.Lock()
		tables := make([]*pendingTable, 0, len(r.pending))
		for _, t := range r.pending {
			tables = append(tables, t)
		}
		backlogs := make([]*backlog, 0, len(r.queues))
		for _, q := range r.queues {
			backlogs = append(backlogs, q)
		}
		r.pending = make(map[device.ID]*pendingTable)
		r.queues = make(map[device.ID]*backlog)
		r.pendLock.Unlock()

		for _, t := range tables {
			for _, e := range t.removeAll() {
				r.failEntry(e, device.CodeDeviceUnavailable, shutdownReason)
			}
		}
		for _, q := range backlogs {
			for _, e := range q.drain(0) {
				r.failEntry(e, device.CodeDeviceUnavailable, shutdownReason)
			}
		}

		r.connLock.Lock()
		connections := make([]*Conn, 0, len(r.connections))
		for _, c := range r.connections {
			connections = append(connections, c)
		}
		r.connections = make(map[string]*Conn)
		r.connLock.Unlock()

		for _, c := range connections {
			c.Close(websocket.CloseNormalClosure, "server shutdown")
		}
	})
}

func (r *Router) recordLatency(d time.Duration) {
	r.latencyLock.Lock()
	defer r.latencyLock.Unlock()

	r.samples++
	if r.samples == 1 {
		r.avgLatency = d
		return
	}

	r.avgLatency = time.Duration(latencyAlpha*float64(d) + (1-latencyAlpha)*float64(r.avgLatency))
}

// latencyAlpha matches the per-device smoothing factor.
const latencyAlpha = 0.1

// PendingDepth returns the count of in-flight requests across all devices.
func (r *Router) PendingDepth() int {
	r.pendLock.Lock()
	tables := make([]*pendingTable, 0, len(r.pending))
	for _, t := range r.pending {
		tables = append(tables, t)
	}
	r.pendLock.Unlock()

	var n int
	for _, t := range tables {
		n += t.len()
	}

	return n
}

// QueueDepth returns the aggregate backlog size across all devices.
func (r *Router) QueueDepth() int {
	r.pendLock.Lock()
	backlogs := make([]*backlog, 0, len(r.queues))
	for _, q := range r.queues {
		backlogs = append(backlogs, q)
	}
	r.pendLock.Unlock()

	var n int
	for _, q := range backlogs {
		n += q.len()
	}

	return n
}

// Stats is the aggregate routing snapshot consumed by the control plane.
type Stats struct {
	Requests         uint64  `json:"requests"`
	Responses        uint64  `json:"responses"`
	Timeouts         uint64  `json:"timeouts"`
	Failures         uint64  `json:"failures"`
	AverageLatencyMs int64   `json:"averageLatencyMs"`
	ErrorRate        float64 `json:"errorRate"`
	Pending          int     `json:"pending"`
	Queued           int     `json:"queued"`
	Connections      int     `json:"connections"`
}

// Snapshot computes the current aggregate routing statistics.
func (r *Router) Snapshot() Stats {
	requests := atomic.LoadUint64(&r.requests)
	failures := atomic.LoadUint64(&r.failures)

	r.latencyLock.Lock()
	avg := r.avgLatency
	r.latencyLock.Unlock()

	s := Stats{
		Requests:         requests,
		Responses:        atomic.LoadUint64(&r.responses),
		Timeouts:         atomic.LoadUint64(&r.timeouts),
		Failures:         failures,
		AverageLatencyMs: avg.Milliseconds(),
		Pending:          r.PendingDepth(),
		Queued:           r.QueueDepth(),
		Connections:      r.ConnectionCount(),
	}

	if requests > 0 {
		s.ErrorRate = float64(failures) / float64(requests)
	}

	return s
}

// DeviceMetrics is the per-device routing view consumed by the control plane.
type DeviceMetrics struct {
	DeviceID         string  `json:"deviceId"`
	State            string  `json:"state"`
	MessagesReceived uint64  `json:"messagesReceived"`
	MessagesSent     uint64  `json:"messagesSent"`
	BytesReceived    uint64  `json:"bytesReceived"`
	BytesSent        uint64  `json:"bytesSent"`
	Errors           uint64  `json:"errors"`
	Reconnects       uint64  `json:"reconnects"`
	AverageLatencyMs int64   `json:"averageLatencyMs"`
	LastLatencyMs    int64   `json:"lastLatencyMs"`
	UpTimeSeconds    float64 `json:"upTimeSeconds"`
	Pending          int     `json:"pending"`
	Queued           int     `json:"queued"`
	Connections      int     `json:"connections"`
}

// MetricsFor assembles the routing metrics for one device.
func (r *Router) MetricsFor(id device.ID) (*DeviceMetrics, error) {
	d, ok := r.registry.Get(id)
	if !ok {
		return nil, device.NewDeviceNotFoundError(id)
	}

	stats := d.Statistics()
	m := &DeviceMetrics{
		DeviceID:         string(id),
		State:            d.State().String(),
		MessagesReceived: stats.MessagesReceived(),
		MessagesSent:     stats.MessagesSent(),
		BytesReceived:    stats.BytesReceived(),
		BytesSent:        stats.BytesSent(),
		Errors:           stats.Errors(),
		Reconnects:       stats.Reconnects(),
		AverageLatencyMs: stats.AverageLatency().Milliseconds(),
		LastLatencyMs:    stats.LastLatency().Milliseconds(),
		UpTimeSeconds:    stats.UpTime().Seconds(),
		Pending:          r.tableFor(id).len(),
		Queued:           r.queueFor(id).len(),
	}

	for _, c := range r.ConnectionsFor(id) {
		if c.DeviceID() == id {
			m.Connections++
		}
	}

	return m, nil
}
