package router

import (
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/metrics/provider"

	"github.com/browser-go/extension-bridge/logging"
)

const (
	DefaultMessageTimeout = 5 * time.Second
	DefaultPendingTTL     = 60 * time.Second
	DefaultMaxQueueSize   = 100
	DefaultMaxRetries     = 3
	DefaultRetryDelay     = 1 * time.Second
	DefaultMaxRetryDelay  = 30 * time.Second
	DefaultTick           = 100 * time.Millisecond
)

// Options represent the available configuration options for a Router.
type Options struct {
	// MessageTimeout is the per-request deadline.  A pending request with no
	// response by its deadline is retried or failed with MESSAGE_TIMEOUT.
	MessageTimeout time.Duration

	// PendingTTL is the hard lifetime of a pending entry.  Entries older than
	// this are garbage-collected by the tick even if no response ever arrives.
	PendingTTL time.Duration

	// MaxQueueSize bounds each device's backlog of unwritable requests.
	MaxQueueSize int

	// MaxRetries is the number of times a timed-out request is re-sent before
	// the originating client sees an error.
	MaxRetries int

	// RetryDelay seeds the exponential backoff between retries.
	RetryDelay time.Duration

	// MaxRetryDelay caps the exponential backoff.
	MaxRetryDelay time.Duration

	// Tick is the cadence of the shared queue-processing task.
	Tick time.Duration

	// Logger is the output sink for log messages.  If not supplied, log output
	// is sent to a NOP logger.
	Logger log.Logger

	// MetricsProvider is the go-kit factory for metrics
	MetricsProvider provider.Provider

	// Now is the closure used to determine the current time.  If not set, time.Now is used.
	Now func() time.Time
}

func (o *Options) messageTimeout() time.Duration {
	if o != nil && o.MessageTimeout > 0 {
		return o.MessageTimeout
	}

	return DefaultMessageTimeout
}

func (o *Options) pendingTTL() time.Duration {
	if o != nil && o.PendingTTL > 0 {
		return o.PendingTTL
	}

	return DefaultPendingTTL
}

func (o *Options) maxQueueSize() int {
	if o != nil && o.MaxQueueSize > 0 {
		return o.MaxQueueSize
	}

	return DefaultMaxQueueSize
}

func (o *Options) maxRetries() int {
	if o != nil && o.MaxRetries > 0 {
		return o.MaxRetries
	}

	return DefaultMaxRetries
}

func (o *Options) retryDelay() time.Duration {
	if o != nil && o.RetryDelay > 0 {
		return o.RetryDelay
	}

	return DefaultRetryDelay
}

func (o *Options) maxRetryDelay() time.Duration {
	if o != nil && o.MaxRetryDelay > 0 {
		return o.MaxRetryDelay
	}

	return DefaultMaxRetryDelay
}

func (o *Options) tick() time.Duration {
	if o != nil && o.Tick > 0 {
		return o.Tick
	}

	return DefaultTick
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
