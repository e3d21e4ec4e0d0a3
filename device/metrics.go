package device

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/provider"
)

const (
	DeviceGauge       = "device_count"
	ConnectCounter    = "connect_count"
	DisconnectCounter = "disconnect_count"
	DuplicatesCounter = "duplicate_count"
	StaleCounter      = "stale_device_count"
)

// Measures holds the registry-level metric objects for runtime consumption.
type Measures struct {
	Device     metrics.Gauge
	Connect    metrics.Counter
	Disconnect metrics.Counter
	Duplicates metrics.Counter
	Stale      metrics.Counter
}

// NewMeasures constructs a Measures given a go-kit metrics Provider.
func NewMeasures(p provider.Provider) Measures {
	return Measures{
		Device:     p.NewGauge(DeviceGauge),
		Connect:    p.NewCounter(ConnectCounter),
		Disconnect: p.NewCounter(DisconnectCounter),
		Duplicates: p.NewCounter(DuplicatesCounter),
		Stale:      p.NewCounter(StaleCounter),
	}
}
