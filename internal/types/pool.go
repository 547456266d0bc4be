package types

// PoolStats are the lifetime counters plus current-state snapshot exposed
// by a Browser Pool's getStats().
type PoolStats struct {
	SessionName string `json:"sessionName"`
	Total       int    `json:"total"`
	Active      int    `json:"active"`
	Idle        int    `json:"idle"`
	Created     int64  `json:"created"`
	Destroyed   int64  `json:"destroyed"`
	Reused      int64  `json:"reused"`
	Waiting     int    `json:"waiting"`
}

// BreakerState is one of the circuit breaker's three states.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)
