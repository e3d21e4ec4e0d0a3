package device

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/browser-go/extension-bridge/cdp"
	"github.com/browser-go/extension-bridge/semaphore"
)

// Connection is the transport bound to a device: the websocket the extension
// opened toward the relay.  Implementations serialize their own writes.
type Connection interface {
	// Send transmits one text frame to the extension.
	Send([]byte) error

	// Close sends a close frame with the given code and reason, then tears
	// down the underlying socket.  Close is idempotent.
	Close(code int, reason string) error
}

// Device is the authoritative record for one connected extension.  The
// registry exclusively owns instances; all other components hold non-owning
// references and must be prepared for the device to vanish.
//
// Mutable fields are individually synchronized so that registry lookups never
// block behind the per-device advisory lock.
type Device struct {
	id           ID
	connectionID string
	registeredAt time.Time
	now          func() time.Time

	state         int32
	lastSeen      int64
	lastHeartbeat int64
	closed        int32

	// lock is the advisory lock serializing registry mutations of this record
	lock semaphore.Interface

	connLock   sync.RWMutex
	connection Connection

	capsLock     sync.RWMutex
	capabilities Capabilities

	infoLock       sync.RWMutex
	connectionInfo *cdp.ConnectionInfo

	statistics *Statistics
}

// NewDevice creates a record in the CONNECTING state bound to the given
// transport.  connectionID identifies the transport, not the device; it is
// what GetByConnectionID resolves.
func NewDevice(id ID, connectionID string, c Connection, now func() time.Time) *Device {
	if now == nil {
		now = time.Now
	}

	connectedAt := now()
	d := &Device{
		id:           id,
		connectionID: connectionID,
		registeredAt: connectedAt,
		now:          now,
		state:        int32(StateConnecting),
		lock:         semaphore.Mutex(),
		connection:   c,
		statistics:   NewStatistics(now, connectedAt),
	}

	d.Touch()
	return d
}

func (d *Device) ID() ID {
	return d.id
}

func (d *Device) ConnectionID() string {
	return d.connectionID
}

func (d *Device) RegisteredAt() time.Time {
	return d.registeredAt
}

func (d *Device) State() State {
	return State(atomic.LoadInt32(&d.state))
}

func (d *Device) setState(s State) {
	atomic.StoreInt32(&d.state, int32(s))
}

// Advance applies a state transition directly on the record.  Used while a
// device is still being built, before a registry owns it; registered devices
// transition through Registry.UpdateState instead.
func (d *Device) Advance(next State) error {
	old := d.State()
	if !old.CanTransition(next) {
		return NewInvalidStateTransitionError(d.id, old, next)
	}

	d.setState(next)
	return nil
}

// Touch refreshes the last-seen timestamp.  Idempotent.
func (d *Device) Touch() {
	atomic.StoreInt64(&d.lastSeen, d.now().UnixNano())
}

// TouchHeartbeat refreshes both the heartbeat and last-seen timestamps.
func (d *Device) TouchHeartbeat() {
	now := d.now().UnixNano()
	atomic.StoreInt64(&d.lastHeartbeat, now)
	atomic.StoreInt64(&d.lastSeen, now)
}

func (d *Device) LastSeen() time.Time {
	return time.Unix(0, atomic.LoadInt64(&d.lastSeen))
}

func (d *Device) LastHeartbeat() time.Time {
	return time.Unix(0, atomic.LoadInt64(&d.lastHeartbeat))
}

func (d *Device) Capabilities() Capabilities {
	d.capsLock.RLock()
	defer d.capsLock.RUnlock()
	return d.capabilities
}

func (d *Device) SetCapabilities(c Capabilities) {
	d.capsLock.Lock()
	d.capabilities = c
	d.capsLock.Unlock()
}

// ConnectionInfo returns the targetInfo/sessionId block last reported by the
// extension, or nil if the extension has not attached to a tab yet.
func (d *Device) ConnectionInfo() *cdp.ConnectionInfo {
	d.infoLock.RLock()
	defer d.infoLock.RUnlock()
	return d.connectionInfo
}

func (d *Device) SetConnectionInfo(info *cdp.ConnectionInfo) {
	d.infoLock.Lock()
	d.connectionInfo = info
	d.infoLock.Unlock()
}

func (d *Device) Statistics() *Statistics {
	return d.statistics
}

// Closed tests if this record has been torn down.  Once closed, a device
// cannot be reused; reconnection always produces a fresh record.
func (d *Device) Closed() bool {
	return atomic.LoadInt32(&d.closed) != 0
}

// Send transmits a payload over the extension transport and updates the
// outbound counters.  Sending to a closed device fails with DEVICE_UNAVAILABLE.
func (d *Device) Send(data []byte) error {
	if d.Closed() {
		return NewDeviceUnavailableError(d.id)
	}

	d.connLock.RLock()
	c := d.connection
	d.connLock.RUnlock()

	if c == nil {
		return NewDeviceUnavailableError(d.id)
	}

	if err := c.Send(data); err != nil {
		d.statistics.AddErrors(1)
		return err
	}

	d.statistics.AddMessagesSent(1)
	d.statistics.AddBytesSent(uint64(len(data)))
	return nil
}

// Close tears down the record: the state machine is walked through
// DISCONNECTING to CLOSED and the extension transport receives a close frame
// with the given code.  The first call wins; later calls are no-ops.
func (d *Device) Close(code int, reason string) error {
	if !atomic.CompareAndSwapInt32(&d.closed, 0, 1) {
		return nil
	}

	d.setState(StateDisconnecting)

	d.connLock.Lock()
	c := d.connection
	d.connection = nil
	d.connLock.Unlock()

	var err error
	if c != nil {
		err = c.Close(code, reason)
	}

	d.setState(StateClosed)
	return err
}

// acquire takes the advisory lock, giving up after timeout.
func (d *Device) acquire(timeout time.Duration) error {
	if err := d.lock.AcquireWait(time.After(timeout)); err != nil {
		return NewLockTimeoutError(d.id)
	}

	return nil
}

func (d *Device) release() {
	d.lock.Release()
}
