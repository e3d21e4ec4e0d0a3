package device

import (
	"encoding/json"
	"sync"
	"time"
)

// latencyAlpha is the smoothing factor of the moving-average response latency.
const latencyAlpha = 0.1

// Statistics tracks the traffic counters and latency figures for a single
// device.  Instances are safe for concurrent access.
type Statistics struct {
	lock sync.RWMutex

	bytesReceived    uint64
	bytesSent        uint64
	messagesReceived uint64
	messagesSent     uint64
	errors           uint64
	reconnects       uint64

	lastLatency    time.Duration
	averageLatency time.Duration
	samples        uint64

	now                  func() time.Time
	connectedAt          time.Time
	formattedConnectedAt string
}

// NewStatistics creates a Statistics instance with the given connection time.
// If now is nil, time.Now is used.
func NewStatistics(now func() time.Time, connectedAt time.Time) *Statistics {
	if now == nil {
		now = time.Now
	}

	connectedAt = connectedAt.UTC()
	return &Statistics{
		now:                  now,
		connectedAt:          connectedAt,
		formattedConnectedAt: connectedAt.Format(time.RFC3339),
	}
}

func (s *Statistics) BytesReceived() uint64 {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.bytesReceived
}

func (s *Statistics) AddBytesReceived(delta uint64) {
	s.lock.Lock()
	s.bytesReceived += delta
	s.lock.Unlock()
}

func (s *Statistics) BytesSent() uint64 {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.bytesSent
}

func (s *Statistics) AddBytesSent(delta uint64) {
	s.lock.Lock()
	s.bytesSent += delta
	s.lock.Unlock()
}

func (s *Statistics) MessagesReceived() uint64 {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.messagesReceived
}

func (s *Statistics) AddMessagesReceived(delta uint64) {
	s.lock.Lock()
	s.messagesReceived += delta
	s.lock.Unlock()
}

func (s *Statistics) MessagesSent() uint64 {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.messagesSent
}

func (s *Statistics) AddMessagesSent(delta uint64) {
	s.lock.Lock()
	s.messagesSent += delta
	s.lock.Unlock()
}

func (s *Statistics) Errors() uint64 {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.errors
}

func (s *Statistics) AddErrors(delta uint64) {
	s.lock.Lock()
	s.errors += delta
	s.lock.Unlock()
}

func (s *Statistics) Reconnects() uint64 {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.reconnects
}

func (s *Statistics) AddReconnects(delta uint64) {
	s.lock.Lock()
	s.reconnects += delta
	s.lock.Unlock()
}

// RecordLatency folds a completed request's round-trip time into the
// exponentially-weighted moving average.  The first sample seeds the average.
func (s *Statistics) RecordLatency(d time.Duration) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.lastLatency = d
	s.samples++
	if s.samples == 1 {
		s.averageLatency = d
		return
	}

	s.averageLatency = time.Duration(
		latencyAlpha*float64(d) + (1-latencyAlpha)*float64(s.averageLatency),
	)
}

func (s *Statistics) LastLatency() time.Duration {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.lastLatency
}

func (s *Statistics) AverageLatency() time.Duration {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.averageLatency
}

// ConnectedAt returns the connection time at which this instance began tracking.
func (s *Statistics) ConnectedAt() time.Time {
	return s.connectedAt
}

// UpTime computes the duration for which the device has been connected.
func (s *Statistics) UpTime() time.Duration {
	return s.now().Sub(s.connectedAt)
}

func (s *Statistics) MarshalJSON() ([]byte, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return json.Marshal(map[string]interface{}{
		"bytesReceived":    s.bytesReceived,
		"bytesSent":        s.bytesSent,
		"messagesReceived": s.messagesReceived,
		"messagesSent":     s.messagesSent,
		"errors":           s.errors,
		"reconnects":       s.reconnects,
		"lastLatencyMs":    s.lastLatency.Milliseconds(),
		"averageLatencyMs": s.averageLatency.Milliseconds(),
		"connectedAt":      s.formattedConnectedAt,
		"upTime":           s.now().Sub(s.connectedAt).String(),
	})
}

func (s *Statistics) String() string {
	data, _ := s.MarshalJSON()
	return string(data)
}
