// Package server owns the HTTP listener lifecycle: startup, the shutdown
// signal, and the ordered teardown of connections, devices, and the listener.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-kit/kit/log"

	"github.com/browser-go/extension-bridge/logging"
)

const (
	DefaultAddress         = ":3000"
	DefaultShutdownTimeout = 10 * time.Second
)

// Options represent the available configuration options for the relay's
// HTTP listener.
type Options struct {
	// Address is the listen address in host:port form.  If not supplied,
	// DefaultAddress is used.
	Address string

	// ReadTimeout is the optional maximum duration for reading a request.
	ReadTimeout time.Duration

	// WriteTimeout is the optional maximum duration for writing a response.
	// Websocket upgrades are exempt once hijacked.
	WriteTimeout time.Duration

	// IdleTimeout is the optional keep-alive idle limit.
	IdleTimeout time.Duration

	// ShutdownTimeout bounds graceful shutdown.  If not supplied,
	// DefaultShutdownTimeout is used.
	ShutdownTimeout time.Duration

	// Logger is the output sink for log messages.  If not supplied, log output
	// is sent to a NOP logger.
	Logger log.Logger
}

func (o *Options) address() string {
	if o != nil && len(o.Address) > 0 {
		return o.Address
	}

	return DefaultAddress
}

func (o *Options) shutdownTimeout() time.Duration {
	if o != nil && o.ShutdownTimeout > 0 {
		return o.ShutdownTimeout
	}

	return DefaultShutdownTimeout
}

func (o *Options) logger() log.Logger {
	if o != nil && o.Logger != nil {
		return o.Logger
	}

	return logging.DefaultLogger()
}

// Relay wraps an http.Server with the teardown hooks the relay requires.
// Hooks run in registration order before the listener stops accepting; the
// conventional order is client connections, then devices, then the listener.
type Relay struct {
	logger          log.Logger
	server          *http.Server
	shutdownTimeout time.Duration
	hooks           []func()
}

// New constructs a Relay serving the given handler.
func New(handler http.Handler, o *Options) *Relay {
	return &Relay{
		logger: o.logger(),
		server: &http.Server{
			Addr:         o.address(),
			Handler:      handler,
			ReadTimeout:  o.ReadTimeout,
			WriteTimeout: o.WriteTimeout,
			IdleTimeout:  o.IdleTimeout,
		},
		shutdownTimeout: o.shutdownTimeout(),
	}
}

// OnShutdown registers a teardown hook.  Hooks run synchronously, in
// registration order, when Shutdown is invoked.
func (r *Relay) OnShutdown(hook func()) {
	r.hooks = append(r.hooks, hook)
}

// Run starts the listener and blocks until it stops.  http.ErrServerClosed
// is swallowed since it is the expected result of Shutdown.
func (r *Relay) Run() error {
	logging.Info(r.logger).Log(
		logging.MessageKey(), "listening",
		"address", r.server.Addr,
	)

	err := r.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}

	return err
}

// Shutdown runs the teardown hooks, then gracefully stops the listener.
func (r *Relay) Shutdown() error {
	logging.Info(r.logger).Log(logging.MessageKey(), "shutting down")
	for _, hook := range r.hooks {
		hook()
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.shutdownTimeout)
	defer cancel()
	return r.server.Shutdown(ctx)
}
