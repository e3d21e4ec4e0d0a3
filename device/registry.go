package device

import (
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/gorilla/websocket"

	"github.com/browser-go/extension-bridge/logging"
)

// Registry is the authoritative mapping of device id to device record.  All
// mutations are serialized per device through an advisory lock with a bounded
// wait; lookups never take a device lock and only briefly hold the registry's
// read lock.
type Registry struct {
	logger   log.Logger
	measures Measures
	now      func() time.Time

	heartbeatInterval time.Duration
	lockTimeout       time.Duration
	listeners         []Listener

	lock           sync.RWMutex
	byID           map[ID]*Device
	byConnectionID map[string]*Device
}

// NewRegistry constructs a Registry using a set of Options.
func NewRegistry(o *Options) *Registry {
	return &Registry{
		logger:            o.logger(),
		measures:          NewMeasures(o.metricsProvider()),
		now:               o.now(),
		heartbeatInterval: o.heartbeatInterval(),
		lockTimeout:       o.lockTimeout(),
		listeners:         o.listeners(),
		byID:              make(map[ID]*Device, o.initialCapacity()),
		byConnectionID:    make(map[string]*Device, o.initialCapacity()),
	}
}

func (r *Registry) dispatch(e *Event) {
	for _, listener := range r.listeners {
		listener(e)
	}
}

// Register installs a new device record.  The record must be CONNECTING or
// AUTHENTICATING.  If a record already exists under the same id, the existing
// transport is closed with 1001 and the new record replaces it: the most
// recent connection wins, since a reconnecting extension is indistinguishable
// from a duplicate.
func (r *Registry) Register(d *Device) error {
	if s := d.State(); s != StateConnecting && s != StateAuthenticating {
		return NewInvalidRegistrationStateError(d.id, s)
	}

	r.lock.Lock()
	existing := r.byID[d.id]
	if existing != nil {
		delete(r.byConnectionID, existing.connectionID)
	}

	r.byID[d.id] = d
	r.byConnectionID[d.connectionID] = d
	total := len(r.byID)
	r.lock.Unlock()

	if existing != nil {
		existing.Close(websocket.CloseGoingAway, "new connection established")
		d.statistics.AddReconnects(1)
		r.measures.Duplicates.Add(1)
		r.dispatch(&Event{Type: Conflict, Device: existing})
		logging.Warn(r.logger).Log(
			logging.MessageKey(), "device conflict, most recent connection wins",
			logging.DeviceKey(), d.id,
		)
	}

	r.measures.Connect.Add(1)
	r.measures.Device.Set(float64(total))
	r.dispatch(&Event{Type: Register, Device: d})
	logging.Info(r.logger).Log(
		logging.MessageKey(), "device registered",
		logging.DeviceKey(), d.id,
		logging.ConnectionKey(), d.connectionID,
	)

	return nil
}

// UpdateState validates and applies a state transition, refreshing the
// device's last-seen timestamp.  The device's advisory lock is held for the
// duration; waiting longer than the configured lock timeout fails with
// LOCK_TIMEOUT.
func (r *Registry) UpdateState(id ID, next State) error {
	d, ok := r.Get(id)
	if !ok {
		return NewDeviceNotFoundError(id)
	}

	if err := d.acquire(r.lockTimeout); err != nil {
		return err
	}
	defer d.release()

	old := d.State()
	if !old.CanTransition(next) {
		return NewInvalidStateTransitionError(id, old, next)
	}

	d.setState(next)
	d.Touch()
	r.dispatch(&Event{Type: StateChanged, Device: d, OldState: old, NewState: next})
	return nil
}

// UpdateLastSeen refreshes a device's last-seen timestamp.  Idempotent.
func (r *Registry) UpdateLastSeen(id ID) error {
	d, ok := r.Get(id)
	if !ok {
		return NewDeviceNotFoundError(id)
	}

	d.Touch()
	return nil
}

// UpdateLastHeartbeat refreshes a device's heartbeat and last-seen timestamps.
func (r *Registry) UpdateLastHeartbeat(id ID) error {
	d, ok := r.Get(id)
	if !ok {
		return NewDeviceNotFoundError(id)
	}

	d.TouchHeartbeat()
	return nil
}

// Get returns the record registered under id.  The returned reference is
// snapshot-safe: its mutable fields may change after this method returns.
func (r *Registry) Get(id ID) (*Device, bool) {
	r.lock.RLock()
	d, ok := r.byID[id]
	r.lock.RUnlock()
	return d, ok
}

// GetByConnectionID resolves the device bound to the given transport id.
func (r *Registry) GetByConnectionID(connectionID string) (*Device, bool) {
	r.lock.RLock()
	d, ok := r.byConnectionID[connectionID]
	r.lock.RUnlock()
	return d, ok
}

// GetByState returns every device currently in the given state.
func (r *Registry) GetByState(s State) []*Device {
	r.lock.RLock()
	defer r.lock.RUnlock()

	var matches []*Device
	for _, d := range r.byID {
		if d.State() == s {
			matches = append(matches, d)
		}
	}

	return matches
}

// GetAll returns a snapshot of every registered device.
func (r *Registry) GetAll() []*Device {
	r.lock.RLock()
	defer r.lock.RUnlock()

	all := make([]*Device, 0, len(r.byID))
	for _, d := range r.byID {
		all = append(all, d)
	}

	return all
}

// Len returns the count of registered devices.
func (r *Registry) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.byID)
}

// Unregister removes a device record, walking it through DISCONNECTING to
// CLOSED and closing its transport with 1000.  Used for administrative
// disconnects, extension socket closure, and stale eviction.
func (r *Registry) Unregister(id ID, reason string) error {
	r.lock.Lock()
	d, ok := r.byID[id]
	if ok {
		delete(r.byID, id)
		delete(r.byConnectionID, d.connectionID)
	}
	total := len(r.byID)
	r.lock.Unlock()

	if !ok {
		return NewDeviceNotFoundError(id)
	}

	d.Close(websocket.CloseNormalClosure, reason)
	r.measures.Disconnect.Add(1)
	r.measures.Device.Set(float64(total))
	r.dispatch(&Event{Type: Unregister, Device: d})
	logging.Info(r.logger).Log(
		logging.MessageKey(), "device unregistered",
		logging.DeviceKey(), id,
		"reason", reason,
	)

	return nil
}

// Sweep performs one stale-device pass: any device whose last-seen timestamp
// is older than 3x the heartbeat interval is unregistered.  Returns the count
// of evicted devices.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-staleFactor * r.heartbeatInterval)

	r.lock.RLock()
	var stale []ID
	for id, d := range r.byID {
		if d.LastSeen().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	r.lock.RUnlock()

	for _, id := range stale {
		logging.Warn(r.logger).Log(
			logging.MessageKey(), "evicting stale device",
			logging.DeviceKey(), id,
		)

		if r.Unregister(id, "heartbeat expired") == nil {
			r.measures.Stale.Add(1)
		}
	}

	return len(stale)
}

// Run executes the periodic stale sweep until shutdown is signaled.  The
// sweep ticks at 2x the heartbeat interval.
func (r *Registry) Run(shutdown <-chan struct{}) {
	ticker := time.NewTicker(sweepFactor * r.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Sweep()
		case <-shutdown:
			return
		}
	}
}

// Shutdown unregisters every device, closing each transport with 1000.
func (r *Registry) Shutdown() {
	for _, d := range r.GetAll() {
		r.Unregister(d.ID(), "server shutdown")
	}
}

// RegistryStats is the aggregate view returned by Stats.
type RegistryStats struct {
	Total                int            `json:"total"`
	ByState              map[string]int `json:"byState"`
	AverageUptimeSeconds float64        `json:"averageUptimeSeconds"`
	TotalMessages        uint64         `json:"totalMessages"`
}

// Stats computes totals by state, average uptime, and the aggregate message
// count across all registered devices.
func (r *Registry) Stats() RegistryStats {
	devices := r.GetAll()
	stats := RegistryStats{
		Total:   len(devices),
		ByState: make(map[string]int),
	}

	var totalUptime time.Duration
	for _, d := range devices {
		stats.ByState[d.State().String()]++
		stats.TotalMessages += d.Statistics().MessagesReceived() + d.Statistics().MessagesSent()
		totalUptime += d.Statistics().UpTime()
	}

	if len(devices) > 0 {
		stats.AverageUptimeSeconds = totalUptime.Seconds() / float64(len(devices))
	}

	return stats
}
