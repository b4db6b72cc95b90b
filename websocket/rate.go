package websocket

import (
	"sync"
	"time"
)

// limiter is a token bucket refilled continuously at burst tokens per
// interval. A nil limiter means limiting is disabled.
type limiter struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	perSec   float64
	last     time.Time
}

func newLimiter(burst int, interval time.Duration) *limiter {
	if burst <= 0 || interval <= 0 {
		return nil
	}
	return &limiter{
		tokens:   float64(burst),
		capacity: float64(burst),
		perSec:   float64(burst) / interval.Seconds(),
		last:     time.Now(),
	}
}

func (l *limiter) allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.tokens += now.Sub(l.last).Seconds() * l.perSec
	l.last = now
	if l.tokens > l.capacity {
		l.tokens = l.capacity
	}

	if l.tokens < 1 {
		return false
	}
	l.tokens--
	return true
}
