package gate

import (
	"time"

	"golang.org/x/time/rate"
)

// CallBudget is a soft wall-clock deadline checked before each gate tool
// invocation. It is built over rate.Limiter's reservation timer instead
// of a hand-rolled countdown: a single-token bucket refilling exactly
// once, at totalMs, so the "is the budget exhausted" question reduces to
// "has the bucket's consumed starting token refilled".
type CallBudget struct {
	limiter *rate.Limiter
	start   time.Time
	total   time.Duration
}

// NewCallBudget returns nil (an unbounded budget) when totalMs is 0.
func NewCallBudget(totalMs uint64) *CallBudget {
	if totalMs == 0 {
		return nil
	}
	total := time.Duration(totalMs) * time.Millisecond
	lim := rate.NewLimiter(rate.Every(total), 1)
	lim.Allow() // consume the starting token; the bucket will not refill until total has elapsed
	return &CallBudget{limiter: lim, start: time.Now(), total: total}
}

// RemainingMs returns the time left before the budget is exhausted, 0 if
// already exhausted, and 0 for a nil (unbounded) budget, which the runner
// reads as "no timeout override".
func (b *CallBudget) RemainingMs() uint64 {
	if b == nil {
		return 0
	}
	remaining := b.total - time.Since(b.start)
	if remaining <= 0 {
		return 0
	}
	return uint64(remaining.Milliseconds())
}

// Exhausted reports whether the deadline has passed. A nil budget is
// never exhausted (unbounded). This reads the limiter's reservation
// state without consuming a token, so repeated calls are side-effect
// free.
func (b *CallBudget) Exhausted() bool {
	if b == nil {
		return false
	}
	return b.limiter.TokensAt(time.Now()) >= 1
}
