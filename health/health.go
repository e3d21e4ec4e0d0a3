// Package health tracks process-level health: uptime and memory utilization.
// The control plane and the /healthz endpoint consume its snapshots.
package health

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"time"
)

// MemoryStats is the subset of runtime memory figures exposed to operators.
// Max values are high-water marks since the monitor was created.
type MemoryStats struct {
	Alloc        uint64 `json:"alloc"`
	HeapSys      uint64 `json:"heapSys"`
	Sys          uint64 `json:"sys"`
	MaxAlloc     uint64 `json:"maxAlloc"`
	MaxHeapSys   uint64 `json:"maxHeapSys"`
	NumGC        uint32 `json:"numGC"`
	NumGoroutine int    `json:"numGoroutine"`
}

// Snapshot is one observation of process health.
type Snapshot struct {
	Version       string      `json:"version"`
	StartedAt     string      `json:"startedAt"`
	UpTimeSeconds float64     `json:"upTimeSeconds"`
	Memory        MemoryStats `json:"memory"`
}

// Monitor produces health snapshots.  Instances are safe for concurrent use.
type Monitor struct {
	version   string
	startedAt time.Time
	now       func() time.Time

	lock       sync.Mutex
	maxAlloc   uint64
	maxHeapSys uint64
}

// New creates a Monitor for the given build version.  If now is nil, time.Now
// is used.
func New(version string, now func() time.Time) *Monitor {
	if now == nil {
		now = time.Now
	}

	return &Monitor{
		version:   version,
		startedAt: now().UTC(),
		now:       now,
	}
}

// Snapshot reads the runtime memory statistics and assembles an observation,
// updating the high-water marks.
func (m *Monitor) Snapshot() Snapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.lock.Lock()
	if memStats.Alloc > m.maxAlloc {
		m.maxAlloc = memStats.Alloc
	}
	if memStats.HeapSys > m.maxHeapSys {
		m.maxHeapSys = memStats.HeapSys
	}
	maxAlloc, maxHeapSys := m.maxAlloc, m.maxHeapSys
	m.lock.Unlock()

	return Snapshot{
		Version:       m.version,
		StartedAt:     m.startedAt.Format(time.RFC3339),
		UpTimeSeconds: m.now().Sub(m.startedAt).Seconds(),
		Memory: MemoryStats{
			Alloc:        memStats.Alloc,
			HeapSys:      memStats.HeapSys,
			Sys:          memStats.Sys,
			MaxAlloc:     maxAlloc,
			MaxHeapSys:   maxHeapSys,
			NumGC:        memStats.NumGC,
			NumGoroutine: runtime.NumGoroutine(),
		},
	}
}

// ServeHTTP writes the current snapshot as JSON.  Mounted at /healthz.
func (m *Monitor) ServeHTTP(response http.ResponseWriter, request *http.Request) {
	response.Header().Set("Content-Type", "application/json")
	json.NewEncoder(response).Encode(m.Snapshot())
}
