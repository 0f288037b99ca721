// Package telemetry collects sensor values from the upstream application
// into a bounded time-windowed buffer and fans new samples out to live
// subscribers.
package telemetry

import "time"

// Sample is one collection tick's worth of point values. Samples are
// immutable once produced; subscribers and buffer readers must not mutate
// the Values map.
type Sample struct {
	Timestamp time.Time          `json:"timestamp"`
	Values    map[string]float64 `json:"values"`
	// Missing lists point IDs whose read failed this tick.
	Missing []string `json:"missing,omitempty"`
	// Degraded marks a tick where every configured point failed to read,
	// which usually means the upstream itself is unreachable.
	Degraded bool `json:"degraded,omitempty"`
}
