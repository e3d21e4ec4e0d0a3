package device

import (
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/metrics/provider"

	"github.com/browser-go/extension-bridge/logging"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultLockTimeout       = 5 * time.Second
	DefaultInitialCapacity   = 100

	// staleFactor and sweepFactor derive the sweep schedule from the
	// heartbeat interval: sweep every 2x, evict past 3x.
	staleFactor = 3
	sweepFactor = 2
)

// Options represent the available configuration options for a registry.
type Options struct {
	// HeartbeatInterval is the cadence devices are expected to ping at.  The
	// stale sweep runs every 2x this interval and evicts devices whose
	// last-seen timestamp is older than 3x.  If not supplied,
	// DefaultHeartbeatInterval is used.
	HeartbeatInterval time.Duration

	// LockTimeout bounds how long a mutating registry operation waits for a
	// device's advisory lock.  If not supplied, DefaultLockTimeout is used.
	LockTimeout time.Duration

	// InitialCapacity is the initial capacity of the internal device map.
	InitialCapacity int

	// Listeners contains the event sinks for registries created using these options
	Listeners []Listener

	// Logger is the output sink for log messages.  If not supplied, log output
	// is sent to a NOP logger.
	Logger log.Logger

	// MetricsProvider is the go-kit factory for metrics
	MetricsProvider provider.Provider

	// Now is the closure used to determine the current time.  If not set, time.Now is used.
	Now func() time.Time
}

func (o *Options) heartbeatInterval() time.Duration {
	if o != nil && o.HeartbeatInterval > 0 {
		return o.HeartbeatInterval
	}

	return DefaultHeartbeatInterval
}

func (o *Options) lockTimeout() time.Duration {
	if o != nil && o.LockTimeout > 0 {
		return o.LockTimeout
	}

	return DefaultLockTimeout
}

func (o *Options) initialCapacity() int {
	if o != nil && o.InitialCapacity > 0 {
		return o.InitialCapacity
	}

	return DefaultInitialCapacity
}

func (o *Options) listeners() []Listener {
	if o != nil {
		return o.Listeners
	}

	return nil
}

func (o *Options) logger() log.Logger {
	if o != nil && o.Logger != nil {
		return o.Logger
	}

	return logging.DefaultLogger()
}

func (o *Options) metricsProvider() provider.Provider {
	if o != nil && o.MetricsProvider != nil {
		return o.MetricsProvider
	}

	return provider.NewDiscardProvider()
}

func (o *Options) now() func() time.Time {
	if o != nil && o.Now != nil {
		return o.Now
	}

	return time.Now
}
