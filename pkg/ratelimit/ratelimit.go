// Package ratelimit admits or denies requests per key with a token bucket.
//
// Each key owns a bucket of Capacity tokens refilled continuously at
// Rate tokens per Window. Refill is lazy: it is computed from the elapsed
// time on every TryAcquire, so idle keys cost nothing.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Limiter answers whether a request for key may proceed. A non-nil error
// means the backing store could not be consulted.
type Limiter interface {
	TryAcquire(ctx context.Context, key string) (bool, error)
}

// Maintainer is implemented by limiters that keep per-key state in memory.
type Maintainer interface {
	// Maintain drops all bucket state once the key count exceeds the
	// configured ceiling. It reports whether anything was cleared.
	Maintain() bool
}

type Config struct {
	Capacity int
	Rate     int
	Window   time.Duration
}

// Defaults for the two gates every protected request passes.
var (
	PrincipalDefault = Config{Capacity: 100, Rate: 100, Window: time.Minute}
	OriginDefault    = Config{Capacity: 1000, Rate: 1000, Window: time.Minute}
)

var ErrInvalidConfig = errors.New("ratelimit: invalid config")

func (c Config) Validate() error {
	if c.Capacity <= 0 || c.Rate <= 0 || c.Window <= 0 {
		return fmt.Errorf("%w: capacity=%d rate=%d window=%s", ErrInvalidConfig, c.Capacity, c.Rate, c.Window)
	}
	return nil
}

// Interval is the time it takes to refill a single token.
func (c Config) Interval() time.Duration {
	return c.Window / time.Duration(c.Rate)
}

func (c Config) perSecond() rate.Limit {
	return rate.Limit(float64(c.Rate) / c.Window.Seconds())
}

func (c Config) perMillisecond() float64 {
	return float64(c.Rate) / float64(c.Window.Milliseconds())
}
