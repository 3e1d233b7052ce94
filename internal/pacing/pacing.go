// Package pacing computes inter-request delays and retry backoff.
package pacing

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Policy produces jittered exponential backoff: a base delay drawn uniformly
// from [baseMin, baseMax], doubled per retry attempt. Attempt 0 is the plain
// between-pages delay; retries of the same page start at attempt 1.
type Policy struct {
	mu       sync.Mutex
	baseMin  time.Duration
	baseMax  time.Duration
	outerMin time.Duration
	outerMax time.Duration
	rng      *rand.Rand
}

// New creates a policy with the given base-delay bounds and outer-retry
// sleep bounds.
func New(baseMin, baseMax, outerMin, outerMax time.Duration) *Policy {
	return &Policy{
		baseMin:  baseMin,
		baseMax:  baseMax,
		outerMin: outerMin,
		outerMax: outerMax,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Default returns the policy used by both crawlers: 2-5s base delay,
// 10-20s outer-retry sleep.
func Default() *Policy {
	return New(2*time.Second, 5*time.Second, 10*time.Second, 20*time.Second)
}

// Delay returns uniform(baseMin, baseMax) * 2^attempt.
func (p *Policy) Delay(attempt int) time.Duration {
	return p.uniform(p.baseMin, p.baseMax) << attempt
}

// OuterDelay returns the sleep between whole-term retry passes.
func (p *Policy) OuterDelay() time.Duration {
	return p.uniform(p.outerMin, p.outerMax)
}

func (p *Policy) uniform(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return min + time.Duration(p.rng.Int63n(int64(max-min)))
}

// Sleep blocks for d or until the context is cancelled. Pacing sleeps are
// legal cancellation points for the crawlers.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
