package device

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browser-go/extension-bridge/logging"
)

// registerActive walks a fresh device through the full registration sequence.
func registerActive(t *testing.T, r *Registry, id ID, connectionID string, conn Connection, now func() time.Time) *Device {
	require := require.New(t)

	d := NewDevice(id, connectionID, conn, now)
	require.NoError(d.Advance(StateAuthenticating))
	require.NoError(r.Register(d))
	require.NoError(r.UpdateState(id, StateRegistered))
	require.NoError(r.UpdateState(id, StateActive))
	return d
}

func testRegisterLifecycle(t *testing.T) {
	var (
		assert  = assert.New(t)
		require = require.New(t)

		events []*Event
		r      = NewRegistry(&Options{
			Logger:    logging.NewTestLogger(nil, t),
			Listeners: []Listener{func(e *Event) { events = append(events, e) }},
		})
	)

	d := registerActive(t, r, ID("device-1"), "conn-1", new(MockConnection), nil)
	assert.Equal(StateActive, d.State())
	assert.Equal(1, r.Len())

	actual, ok := r.Get(ID("device-1"))
	require.True(ok)
	assert.True(actual == d)

	byConn, ok := r.GetByConnectionID("conn-1")
	require.True(ok)
	assert.True(byConn == d)

	require.Len(events, 3)
	assert.Equal(Register, events[0].Type)
	assert.Equal(StateChanged, events[1].Type)
	assert.Equal(StateChanged, events[2].Type)
	assert.Equal(StateRegistered, events[1].NewState)
	assert.Equal(StateActive, events[2].NewState)
}

func testRegisterRejectsLateStates(t *testing.T) {
	var (
		assert  = assert.New(t)
		require = require.New(t)
		r       = NewRegistry(&Options{Logger: logging.NewTestLogger(nil, t)})
	)

	d := NewDevice(ID("device-1"), "conn-1", new(MockConnection), nil)
	require.NoError(d.Advance(StateAuthenticating))
	d.setState(StateActive)

	err := r.Register(d)
	require.Error(err)
	relayErr, ok := err.(*Error)
	require.True(ok)
	assert.Equal(CodeInvalidRegistrationState, relayErr.Code)
	assert.Zero(r.Len())
}

func testRegisterConflict(t *testing.T) {
	var (
		assert  = assert.New(t)
		require = require.New(t)

		events  []*Event
		oldConn = new(MockConnection)
		newConn = new(MockConnection)
		r       = NewRegistry(&Options{
			Logger:    logging.NewTestLogger(nil, t),
			Listeners: []Listener{func(e *Event) { events = append(events, e) }},
		})
	)

	oldConn.On("Close", websocket.CloseGoingAway, "new connection established").Return(error(nil)).Once()

	old := registerActive(t, r, ID("device-1"), "conn-1", oldConn, nil)
	replacement := registerActive(t, r, ID("device-1"), "conn-2", newConn, nil)

	assert.Equal(1, r.Len())
	assert.True(old.Closed())
	assert.Equal(uint64(1), replacement.Statistics().Reconnects())

	actual, ok := r.Get(ID("device-1"))
	require.True(ok)
	assert.True(actual == replacement)

	_, ok = r.GetByConnectionID("conn-1")
	assert.False(ok)

	var sawConflict bool
	for _, e := range events {
		if e.Type == Conflict {
			sawConflict = true
			assert.True(e.Device == old)
		}
	}

	assert.True(sawConflict)
	oldConn.AssertExpectations(t)
	newConn.AssertExpectations(t)
}

func TestRegister(t *testing.T) {
	t.Run("Lifecycle", testRegisterLifecycle)
	t.Run("RejectsLateStates", testRegisterRejectsLateStates)
	t.Run("Conflict", testRegisterConflict)
}

func testUpdateStateInvalidTransition(t *testing.T) {
	var (
		assert  = assert.New(t)
		require = require.New(t)
		r       = NewRegistry(&Options{Logger: logging.NewTestLogger(nil, t)})
	)

	registerActive(t, r, ID("device-1"), "conn-1", new(MockConnection), nil)

	err := r.UpdateState(ID("device-1"), StateAuthenticating)
	require.Error(err)
	relayErr, ok := err.(*Error)
	require.True(ok)
	assert.Equal(CodeInvalidStateTransition, relayErr.Code)
}

func testUpdateStateNotFound(t *testing.T) {
	var (
		assert  = assert.New(t)
		require = require.New(t)
		r       = NewRegistry(&Options{Logger: logging.NewTestLogger(nil, t)})
	)

	err := r.UpdateState(ID("nosuch"), StateActive)
	require.Error(err)
	relayErr, ok := err.(*Error)
	require.True(ok)
	assert.Equal(CodeDeviceNotFound, relayErr.Code)
}

func TestUpdateState(t *testing.T) {
	t.Run("InvalidTransition", testUpdateStateInvalidTransition)
	t.Run("NotFound", testUpdateStateNotFound)
}

func testUnregisterClosesTransport(t *testing.T) {
	var (
		assert  = assert.New(t)
		require = require.New(t)

		events []*Event
		conn   = new(MockConnection)
		r      = NewRegistry(&Options{
			Logger:    logging.NewTestLogger(nil, t),
			Listeners: []Listener{func(e *Event) { events = append(events, e) }},
		})
	)

	conn.On("Close", websocket.CloseNormalClosure, "administrative disconnect").Return(error(nil)).Once()
	d := registerActive(t, r, ID("device-1"), "conn-1", conn, nil)

	require.NoError(r.Unregister(ID("device-1"), "administrative disconnect"))
	assert.Zero(r.Len())
	assert.True(d.Closed())
	assert.Equal(Unregister, events[len(events)-1].Type)
	conn.AssertExpectations(t)
}

func testUnregisterNotFound(t *testing.T) {
	var (
		assert = assert.New(t)
		r      = NewRegistry(&Options{Logger: logging.NewTestLogger(nil, t)})
	)

	assert.Error(r.Unregister(ID("nosuch"), "whatever"))
}

func TestUnregister(t *testing.T) {
	t.Run("ClosesTransport", testUnregisterClosesTransport)
	t.Run("NotFound", testUnregisterNotFound)
}

func TestSweep(t *testing.T) {
	var (
		assert  = assert.New(t)
		require = require.New(t)

		now       = time.Unix(1000, 0)
		staleConn = new(MockConnection)
		liveConn  = new(MockConnection)
		r         = NewRegistry(&Options{
			Logger:            logging.NewTestLogger(nil, t),
			HeartbeatInterval: 30 * time.Second,
			Now:               func() time.Time { return now },
		})
	)

	staleConn.On("Close", websocket.CloseNormalClosure, "heartbeat expired").Return(error(nil)).Once()

	registerActive(t, r, ID("stale"), "conn-1", staleConn, func() time.Time { return now })
	require.Equal(1, r.Len())

	// just under the eviction threshold
	now = now.Add(89 * time.Second)
	live := registerActive(t, r, ID("live"), "conn-2", liveConn, func() time.Time { return now })

	// the stale device is now past 3x the heartbeat interval
	now = now.Add(2 * time.Second)
	assert.Equal(1, r.Sweep())
	assert.Equal(1, r.Len())
	assert.False(live.Closed())

	_, ok := r.Get(ID("stale"))
	assert.False(ok)
	staleConn.AssertExpectations(t)
	liveConn.AssertExpectations(t)
}

func TestStats(t *testing.T) {
	var (
		assert = assert.New(t)
		r      = NewRegistry(&Options{Logger: logging.NewTestLogger(nil, t)})
	)

	first := registerActive(t, r, ID("device-1"), "conn-1", new(MockConnection), nil)
	second := registerActive(t, r, ID("device-2"), "conn-2", new(MockConnection), nil)
	first.Statistics().AddMessagesReceived(5)
	second.Statistics().AddMessagesSent(7)

	stats := r.Stats()
	assert.Equal(2, stats.Total)
	assert.Equal(map[string]int{"ACTIVE": 2}, stats.ByState)
	assert.Equal(uint64(12), stats.TotalMessages)
}

func TestShutdown(t *testing.T) {
	var (
		assert = assert.New(t)
		first  = new(MockConnection)
		second = new(MockConnection)
		r      = NewRegistry(&Options{Logger: logging.NewTestLogger(nil, t)})
	)

	first.On("Close", websocket.CloseNormalClosure, "server shutdown").Return(error(nil)).Once()
	second.On("Close", websocket.CloseNormalClosure, "server shutdown").Return(error(nil)).Once()

	registerActive(t, r, ID("device-1"), "conn-1", first, nil)
	registerActive(t, r, ID("device-2"), "conn-2", second, nil)

	r.Shutdown()
	assert.Zero(r.Len())
	first.AssertExpectations(t)
	second.AssertExpectations(t)
}
