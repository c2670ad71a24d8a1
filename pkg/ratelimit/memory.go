package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/aussiebroadwan/gatekeeper/pkg/clock"
)

const DefaultMaxKeys = 100_000

// MemoryLimiter keeps one rate.Limiter per key in process memory. Each
// bucket guards itself, so distinct keys never contend on a shared lock.
// State is lost on restart.
type MemoryLimiter struct {
	cfg     Config
	clock   clock.Clock
	maxKeys int64

	buckets sync.Map // map[string]*rate.Limiter
	size    atomic.Int64
}

func NewMemoryLimiter(cfg Config, clk clock.Clock, maxKeys int) *MemoryLimiter {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	return &MemoryLimiter{cfg: cfg, clock: clock.Or(clk), maxKeys: int64(maxKeys)}
}

func (l *MemoryLimiter) TryAcquire(_ context.Context, key string) (bool, error) {
	return l.bucket(key).AllowN(l.clock.Now(), 1), nil
}

func (l *MemoryLimiter) bucket(key string) *rate.Limiter {
	if b, ok := l.buckets.Load(key); ok {
		return b.(*rate.Limiter)
	}
	b, loaded := l.buckets.LoadOrStore(key, rate.NewLimiter(l.cfg.perSecond(), l.cfg.Capacity))
	if !loaded {
		l.size.Add(1)
	}
	return b.(*rate.Limiter)
}

// Len is the approximate number of tracked keys.
func (l *MemoryLimiter) Len() int {
	return int(l.size.Load())
}

func (l *MemoryLimiter) Maintain() bool {
	if l.size.Load() <= l.maxKeys {
		return false
	}
	l.buckets.Clear()
	l.size.Store(0)
	return true
}

func (l *MemoryLimiter) Config() Config { return l.cfg }
