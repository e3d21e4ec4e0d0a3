package router

// Priority buckets for queued requests.  Lower values drain first.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityNormal
	PriorityLow
)

var methodPriorities = map[string]Priority{
	"Runtime.evaluate":      PriorityHigh,
	"Page.navigate":         PriorityHigh,
	"Target.activateTarget": PriorityHigh,
	"Log.enable":            PriorityLow,
	"Runtime.enable":        PriorityLow,
	"Page.enable":           PriorityLow,
}

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "HIGH"
	case PriorityLow:
		return "LOW"
	default:
		return "NORMAL"
	}
}

// MethodPriority maps a CDP method to its queue priority.  Interactive
// methods jump the queue; enable-style housekeeping yields to everything else.
func MethodPriority(method string) Priority {
	if p, ok := methodPriorities[method]; ok {
		return p
	}

	return PriorityNormal
}
