package router

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/provider"
)

const (
	RequestCounter  = "request_count"
	ResponseCounter = "response_count"
	EventCounter    = "event_count"
	TimeoutCounter  = "timeout_count"
	RetryCounter    = "retry_count"
	DroppedCounter  = "dropped_response_count"
	PendingGauge    = "pending_count"
	QueueGauge      = "queue_size"
)

// Measures holds the router-level metric objects for runtime consumption.
type Measures struct {
	Request  metrics.Counter
	Response metrics.Counter
	Event    metrics.Counter
	Timeout  metrics.Counter
	Retry    metrics.Counter
	Dropped  metrics.Counter
	Pending  metrics.Gauge
	Queue    metrics.Gauge
}

// NewMeasures constructs a Measures given a go-kit metrics Provider.
func NewMeasures(p provider.Provider) Measures {
	return Measures{
		Request:  p.NewCounter(RequestCounter),
		Response: p.NewCounter(ResponseCounter),
		Event:    p.NewCounter(EventCounter),
		Timeout:  p.NewCounter(TimeoutCounter),
		Retry:    p.NewCounter(RetryCounter),
		Dropped:  p.NewCounter(DroppedCounter),
		Pending:  p.NewGauge(PendingGauge),
		Queue:    p.NewGauge(QueueGauge),
	}
}
