package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Config describes the retry behavior.
type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JitterFactor   float64
}

// Do executes fn and retries with exponential backoff until it succeeds, the
// attempts run out or the context is cancelled.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}
	if cfg.JitterFactor < 0 {
		cfg.JitterFactor = 0
	}

	backoff := cfg.InitialBackoff
	var err error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err = fn(); err == nil {
			return nil
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		sleep := applyJitter(backoff, cfg.JitterFactor)
		if sleep > cfg.MaxBackoff {
			sleep = cfg.MaxBackoff
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}

		if backoff < cfg.MaxBackoff {
			backoff *= 2
			if backoff > cfg.MaxBackoff {
				backoff = cfg.MaxBackoff
			}
		}
	}
	return err
}

func applyJitter(duration time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		return duration
	}
	delta := int64(float64(duration) * factor)
	if delta <= 0 {
		return duration
	}
	return duration + time.Duration(rand.Int63n(2*delta)-delta)
}

// Budget is a fixed-delay retry allowance for callers that schedule their own
// retries instead of blocking in Do. Max <= 0 means unbounded.
type Budget struct {
	Max   int
	Delay time.Duration
	used  int
}

// Spend records one failed attempt and returns the delay before the next one.
// ok is false when the recorded attempt exhausts the budget.
func (b *Budget) Spend() (delay time.Duration, ok bool) {
	b.used++
	if b.Max > 0 && b.used >= b.Max {
		return 0, false
	}
	return b.Delay, true
}

// Used returns the number of attempts recorded so far.
func (b *Budget) Used() int {
	return b.used
}

// Exhausted reports whether no retry is left.
func (b *Budget) Exhausted() bool {
	return b.Max > 0 && b.used >= b.Max
}

// Reset forgets all recorded attempts.
func (b *Budget) Reset() {
	b.used = 0
}
