package server

import (
	"sync"
	"time"

	"github.com/Tyrowin/livechat/internal/config"
)

// frameBudget is a token bucket over inbound frames: Burst frames are
// available up front and one more becomes available every
// RefillInterval/Burst.
type frameBudget struct {
	mu       sync.Mutex
	capacity float64
	perToken time.Duration
	tokens   float64
	last     time.Time
	now      func() time.Time
}

func newFrameBudget(rl config.RateLimitConfig) *frameBudget {
	burst := max(rl.Burst, 1)
	interval := rl.RefillInterval
	if interval <= 0 {
		interval = time.Second
	}

	b := &frameBudget{
		capacity: float64(burst),
		perToken: interval / time.Duration(burst),
		tokens:   float64(burst),
		now:      time.Now,
	}
	if b.perToken <= 0 {
		b.perToken = time.Nanosecond
	}
	b.last = b.now()
	return b
}

// take spends one frame if any is left.
func (b *frameBudget) take() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if elapsed := now.Sub(b.last); elapsed > 0 {
		b.tokens = min(b.capacity, b.tokens+float64(elapsed)/float64(b.perToken))
	}
	b.last = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
