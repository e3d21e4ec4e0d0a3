package router

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/browser-go/extension-bridge/cdp"
	"github.com/browser-go/extension-bridge/device"
)

var errUnwritable = errors.New("transport is unwritable")

// testTransport is a capturing transport used on both sides of the router:
// it satisfies the client Transport and the device Connection interfaces.
type testTransport struct {
	lock        sync.Mutex
	sent        [][]byte
	writable    bool
	closed      bool
	closeCode   int
	closeReason string
}

func newTestTransport() *testTransport {
	return &testTransport{writable: true}
}

func (t *testTransport) Send(data []byte) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	if !t.writable {
		return errUnwritable
	}

	buffered := make([]byte, len(data))
	copy(buffered, data)
	t.sent = append(t.sent, buffered)
	return nil
}

func (t *testTransport) Close(code int, reason string) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.closed = true
	t.closeCode = code
	t.closeReason = reason
	return nil
}

func (t *testTransport) setWritable(writable bool) {
	t.lock.Lock()
	t.writable = writable
	t.lock.Unlock()
}

func (t *testTransport) sentCount() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.sent)
}

// frames decodes everything sent so far.
func (t *testTransport) frames(test *testing.T) []*cdp.Frame {
	t.lock.Lock()
	defer t.lock.Unlock()

	decoded := make([]*cdp.Frame, 0, len(t.sent))
	for _, data := range t.sent {
		frame, err := cdp.DecodeFrame(data)
		require.NoError(test, err)
		decoded = append(decoded, frame)
	}

	return decoded
}

func (t *testTransport) lastFrame(test *testing.T) *cdp.Frame {
	frames := t.frames(test)
	require.NotEmpty(test, frames)
	return frames[len(frames)-1]
}

var _ Transport = (*testTransport)(nil)
var _ device.Connection = (*testTransport)(nil)

// newActiveDevice registers a device and walks it to ACTIVE.
func newActiveDevice(t *testing.T, registry *device.Registry, id string, transport device.Connection, now func() time.Time) *device.Device {
	require := require.New(t)

	d := device.NewDevice(device.ID(id), "device-conn-"+id, transport, now)
	require.NoError(d.Advance(device.StateAuthenticating))
	require.NoError(registry.Register(d))
	require.NoError(registry.UpdateState(device.ID(id), device.StateRegistered))
	require.NoError(registry.UpdateState(device.ID(id), device.StateActive))
	return d
}

// mustFrame parses a raw payload that is expected to be well formed.
func mustFrame(t *testing.T, raw string) (*cdp.Frame, []byte) {
	frame, err := cdp.DecodeFrame([]byte(raw))
	require.NoError(t, err)
	return frame, []byte(raw)
}
