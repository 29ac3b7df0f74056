package metrics

import "time"

// Recorder collects engine events. Counter names used by the engine:
// "tick", "tick_error", "match", "confirmation", "delivery",
// "delivery_error", "expired".
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}
