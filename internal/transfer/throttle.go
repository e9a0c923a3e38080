package transfer

import (
	"context"

	"golang.org/x/time/rate"
)

// Throttler rate-limits an outbound byte stream to a byte/sec budget with
// a one-second burst, built on golang.org/x/time/rate's token bucket.
// A non-positive limit disables throttling entirely.
type Throttler struct {
	limiter *rate.Limiter
}

// NewThrottler builds a Throttler for limitBytesPerSec. limitBytesPerSec
// <= 0 means unthrottled.
func NewThrottler(limitBytesPerSec int) *Throttler {
	if limitBytesPerSec <= 0 {
		return &Throttler{}
	}
	return &Throttler{
		limiter: rate.NewLimiter(rate.Limit(limitBytesPerSec), limitBytesPerSec),
	}
}

// WaitForTokens blocks until n bytes' worth of budget is available, then
// deducts it. A burst larger than the bucket capacity still waits the
// full proportional delay rather than failing, matching a token bucket
// with unbounded patience.
func (t *Throttler) WaitForTokens(ctx context.Context, n int) error {
	if t.limiter == nil || n <= 0 {
		return nil
	}

	burst := t.limiter.Burst()
	for n > burst {
		if err := t.limiter.WaitN(ctx, burst); err != nil {
			return err
		}
		n -= burst
	}
	if n == 0 {
		return nil
	}
	return t.limiter.WaitN(ctx, n)
}
