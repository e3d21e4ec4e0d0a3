package endpoint

import (
	"net/http"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/gorilla/websocket"

	"github.com/browser-go/extension-bridge/logging"
)

const (
	DefaultWriteTimeout      = 60 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
)

// Options represent the available configuration options for the websocket
// endpoint handlers.
type Options struct {
	// Token is the shared bearer token required on every upgrade, supplied as
	// the token query parameter or embedded in the path as /token/<value>.
	Token string

	// MaxConnections bounds concurrent CDP client connections.  Upgrades past
	// the limit are refused with 503.  Zero means unlimited.
	MaxConnections int

	// HeartbeatInterval is echoed to devices in registration acks so they
	// know how often to ping.  If not supplied, DefaultHeartbeatInterval is used.
	HeartbeatInterval time.Duration

	// WriteTimeout is the write timeout for each websocket.  If not supplied,
	// DefaultWriteTimeout is used.
	WriteTimeout time.Duration

	// HandshakeTimeout is the optional websocket handshake timeout.  If not
	// supplied, the internal gorilla default is used.
	HandshakeTimeout time.Duration

	// ReadBufferSize is the optional size of websocket read buffers.  If not
	// supplied, the internal gorilla default is used.
	ReadBufferSize int

	// WriteBufferSize is the optional size of websocket write buffers.  If not
	// supplied, the internal gorilla default is used.
	WriteBufferSize int

	// Logger is the output sink for log messages.  If not supplied, log output
	// is sent to a NOP logger.
	Logger log.Logger

	// Now is the closure used to determine the current time.  If not set, time.Now is used.
	Now func() time.Time
}

func (o *Options) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		HandshakeTimeout: o.handshakeTimeout(),
		ReadBufferSize:   o.readBufferSize(),
		WriteBufferSize:  o.writeBufferSize(),
		CheckOrigin: func(*http.Request) bool {
			// extensions and automation clients connect from arbitrary origins
			return true
		},
	}
}

func (o *Options) token() string {
	if o != nil {
		return o.Token
	}

	return ""
}

func (o *Options) maxConnections() int {
	if o != nil && o.MaxConnections > 0 {
		return o.MaxConnections
	}

	return 0
}

func (o *Options) heartbeatInterval() time.Duration {
	if o != nil && o.HeartbeatInterval > 0 {
		return o.HeartbeatInterval
	}

	return DefaultHeartbeatInterval
}

func (o *Options) writeTimeout() time.Duration {
	if o != nil && o.WriteTimeout > 0 {
		return o.WriteTimeout
	}

	return DefaultWriteTimeout
}

func (o *Options) handshakeTimeout() time.Duration {
	if o != nil {
		return o.HandshakeTimeout
	}

	return 0
}

func (o *Options) readBufferSize() int {
	if o != nil {
		return o.ReadBufferSize
	}

	return 0
}

func (o *Options) writeBufferSize() int {
	if o != nil {
		return o.WriteBufferSize
	}

	return 0
}

func (o *Options) logger() log.Logger {
	if o != nil && o.Logger != nil {
		return o.Logger
	}

	return logging.DefaultLogger()
}

func (o *Options) now() func() time.Time {
	if o != nil && o.Now != nil {
		return o.Now
	}

	return time.Now
}
