package endpoint

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var errConnClosed = errors.New("websocket connection is closed")

// wsConn adapts a gorilla websocket to the transport interfaces consumed by
// the registry and router.  All outbound traffic funnels through Send, which
// serializes writes with an explicit mutex so that at most one frame is in
// flight to a socket at a time.
type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	lock   sync.Mutex
	closed bool
}

func newWSConn(ws *websocket.Conn, writeTimeout time.Duration) *wsConn {
	return &wsConn{
		ws:           ws,
		writeTimeout: writeTimeout,
	}
}

func (c *wsConn) Send(data []byte) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.closed {
		return errConnClosed
	}

	if c.writeTimeout > 0 {
		c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}

	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame with the given code, then tears down the socket.
// The first call wins; later calls are no-ops.
func (c *wsConn) Close(code int, reason string) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	deadline := time.Now().Add(c.writeTimeout)
	c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	return c.ws.Close()
}
