// Package admission rate-limits connection attempts per source address
// before any session logic runs.
package admission

import (
	"errors"
	"sync"
	"time"
)

// ErrTooManyConnections indicates the source address exceeded its
// connection budget for the current window.
var ErrTooManyConnections = errors.New("admission: too many connections")

const (
	// DefaultWindow bounds the sliding window consulted per address.
	DefaultWindow = 60 * time.Second
	// DefaultLimit is the number of attempts allowed inside the window.
	DefaultLimit = 15
)

// GuardConfig tunes the sliding window. Zero values fall back to the
// package defaults.
type GuardConfig struct {
	Window time.Duration
	Limit  int
}

// Guard tracks recent connection attempts per source address.
type Guard struct {
	mu       sync.Mutex
	window   time.Duration
	limit    int
	attempts map[string][]time.Time
}

// NewGuard constructs a Guard from the supplied config.
func NewGuard(cfg GuardConfig) *Guard {
	window := cfg.Window
	if window <= 0 {
		window = DefaultWindow
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Guard{
		window:   window,
		limit:    limit,
		attempts: make(map[string][]time.Time),
	}
}

// Admit records a connection attempt from sourceAddress at now and
// reports whether it is allowed. The attempt is counted even when
// rejected, so a flooding address keeps extending its own window.
func (g *Guard) Admit(sourceAddress string, now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := now.Add(-g.window)
	recent := g.attempts[sourceAddress][:0]
	for _, attempt := range g.attempts[sourceAddress] {
		if attempt.After(cutoff) {
			recent = append(recent, attempt)
		}
	}
	recent = append(recent, now)
	g.attempts[sourceAddress] = recent

	if len(recent) > g.limit {
		return ErrTooManyConnections
	}
	return nil
}
