// Package endpoint implements the websocket surfaces of the relay: the legacy
// extension and CDP client endpoints, their structured v2 counterparts, and
// the operator control channel.  Handlers translate socket traffic into
// registry and router operations and hold no routing state of their own.
package endpoint

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/justinas/alice"

	"github.com/browser-go/extension-bridge/device"
	"github.com/browser-go/extension-bridge/health"
	"github.com/browser-go/extension-bridge/logging"
	"github.com/browser-go/extension-bridge/router"
)

// Bridge binds the websocket endpoints to a registry and router pair.
type Bridge struct {
	options  *Options
	upgrader *websocket.Upgrader
	logger   log.Logger
	now      func() time.Time

	registry *device.Registry
	router   *router.Router
	monitor  *health.Monitor

	clients int32
}

// New produces a Bridge over the given registry, router, and health monitor.
func New(registry *device.Registry, r *router.Router, monitor *health.Monitor, o *Options) *Bridge {
	return &Bridge{
		options:  o,
		upgrader: o.upgrader(),
		logger:   o.logger(),
		now:      o.now(),
		registry: registry,
		router:   r,
		monitor:  monitor,
	}
}

// Routes mounts the legacy websocket endpoints on the given mux router.  The
// legacy endpoints use path prefixes so that /key/value parameter pairs
// embedded in the path still match.
func (b *Bridge) Routes(r *mux.Router) {
	chain := alice.New(Logging(b.logger))
	r.PathPrefix("/extension").Handler(chain.Then(http.HandlerFunc(b.ServeExtension)))
	r.PathPrefix("/cdp").Handler(chain.Then(http.HandlerFunc(b.ServeClient)))
}

// V2Routes mounts the structured endpoints and the operator control channel.
func (b *Bridge) V2Routes(r *mux.Router) {
	chain := alice.New(Logging(b.logger))
	r.Handle("/v2/device", chain.Then(http.HandlerFunc(b.ServeV2Device)))
	r.Handle("/v2/cdp", chain.Then(http.HandlerFunc(b.ServeV2CDP)))
	r.Handle("/v2/cdp/{deviceId}", chain.Then(http.HandlerFunc(b.ServeV2CDP)))
	r.Handle("/v2/control", chain.Then(http.HandlerFunc(b.ServeControl)))
}

// upgrade authenticates and upgrades a request, answering the appropriate
// HTTP status itself when the request may not proceed.
func (b *Bridge) upgrade(response http.ResponseWriter, request *http.Request, prefix string) (*wsConn, map[string]string, bool) {
	pathParams := PathParams(request.URL.Path, prefix)
	if status, reason := b.options.authorize(request, pathParams); status != 0 {
		http.Error(response, reason, status)
		return nil, nil, false
	}

	ws, err := b.upgrader.Upgrade(response, request, nil)
	if err != nil {
		logging.Error(b.logger).Log(
			logging.MessageKey(), "websocket upgrade failed",
			logging.ErrorKey(), err,
		)

		return nil, nil, false
	}

	return newWSConn(ws, b.options.writeTimeout()), pathParams, true
}

func (b *Bridge) addClient() bool {
	max := b.options.maxConnections()
	for {
		current := atomic.LoadInt32(&b.clients)
		if max > 0 && int(current) >= max {
			return false
		}

		if atomic.CompareAndSwapInt32(&b.clients, current, current+1) {
			return true
		}
	}
}

func (b *Bridge) removeClient() {
	atomic.AddInt32(&b.clients, -1)
}

// ClientCount returns the number of active CDP client connections.
func (b *Bridge) ClientCount() int {
	return int(atomic.LoadInt32(&b.clients))
}
