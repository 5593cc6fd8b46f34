package platform

import (
	"context"
	"sync"
	"time"
)

// Pacer serializes outbound platform calls and enforces a hard minimum
// spacing between them for this process. This is serialization, not
// cancellation: a waiter released early by context cancellation does not
// consume a slot.
type Pacer struct {
	mu       sync.Mutex
	last     time.Time
	interval time.Duration

	// Injected for tests.
	now   func() time.Time
	sleep func(d time.Duration)
}

func NewPacer(interval time.Duration) *Pacer {
	return &Pacer{
		interval: interval,
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// Wait blocks until at least the configured interval has passed since the
// previous call was released.
func (p *Pacer) Wait(ctx context.Context) error {
	if p.interval <= 0 {
		return ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if wait := p.interval - p.now().Sub(p.last); wait > 0 {
		p.sleep(wait)
	}
	p.last = p.now()
	return ctx.Err()
}
