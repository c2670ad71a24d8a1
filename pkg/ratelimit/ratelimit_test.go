package ratelimit_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/gatekeeper/internal/testutil"
	"github.com/aussiebroadwan/gatekeeper/pkg/clock"
	"github.com/aussiebroadwan/gatekeeper/pkg/ratelimit"
	"github.com/aussiebroadwan/gatekeeper/pkg/slogx"
)

var epoch = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

func TestConfig(t *testing.T) {
	t.Parallel()

	require.NoError(t, ratelimit.PrincipalDefault.Validate())
	require.NoError(t, ratelimit.OriginDefault.Validate())
	require.Equal(t, 600*time.Millisecond, ratelimit.PrincipalDefault.Interval())

	for _, c := range []ratelimit.Config{
		{},
		{Capacity: 1, Rate: 0, Window: time.Second},
		{Capacity: 1, Rate: 1, Window: 0},
		{Capacity: -1, Rate: 1, Window: time.Second},
	} {
		require.ErrorIs(t, c.Validate(), ratelimit.ErrInvalidConfig)
	}
}

// exerciseBucket drains a fresh key, checks the next call is denied, then
// advances one full window and expects admission again.
func exerciseBucket(t *testing.T, l ratelimit.Limiter, clk *clock.Fake, cfg ratelimit.Config, key string) {
	t.Helper()
	ctx := context.Background()

	for i := range cfg.Capacity {
		ok, err := l.TryAcquire(ctx, key)
		require.NoError(t, err)
		require.True(t, ok, "call %d should be admitted", i+1)
	}

	ok, err := l.TryAcquire(ctx, key)
	require.NoError(t, err)
	require.False(t, ok, "call beyond capacity should be denied")

	clk.Advance(cfg.Window)

	ok, err = l.TryAcquire(ctx, key)
	require.NoError(t, err)
	require.True(t, ok, "refilled bucket should admit")
}

func TestMemoryLimiter_CapacityAndRefill(t *testing.T) {
	t.Parallel()

	cfg := ratelimit.Config{Capacity: 5, Rate: 5, Window: time.Minute}
	clk := clock.NewFake(epoch)
	exerciseBucket(t, ratelimit.NewMemoryLimiter(cfg, clk, 0), clk, cfg, "user-1")
}

func TestMemoryLimiter_PartialRefill(t *testing.T) {
	t.Parallel()

	cfg := ratelimit.Config{Capacity: 2, Rate: 60, Window: time.Minute}
	clk := clock.NewFake(epoch)
	l := ratelimit.NewMemoryLimiter(cfg, clk, 0)
	ctx := context.Background()

	for range 2 {
		ok, _ := l.TryAcquire(ctx, "k")
		require.True(t, ok)
	}
	ok, _ := l.TryAcquire(ctx, "k")
	require.False(t, ok)

	clk.Advance(500 * time.Millisecond)
	ok, _ = l.TryAcquire(ctx, "k")
	require.False(t, ok, "half a token is not enough")

	clk.Advance(600 * time.Millisecond)
	ok, _ = l.TryAcquire(ctx, "k")
	require.True(t, ok)

	// Never refills beyond capacity.
	clk.Advance(time.Hour)
	for range 2 {
		ok, _ = l.TryAcquire(ctx, "k")
		require.True(t, ok)
	}
	ok, _ = l.TryAcquire(ctx, "k")
	require.False(t, ok)
}

func TestMemoryLimiter_KeysAreIndependent(t *testing.T) {
	t.Parallel()

	cfg := ratelimit.Config{Capacity: 1, Rate: 1, Window: time.Minute}
	l := ratelimit.NewMemoryLimiter(cfg, clock.NewFake(epoch), 0)
	ctx := context.Background()

	ok, _ := l.TryAcquire(ctx, "10.0.0.1")
	require.True(t, ok)
	ok, _ = l.TryAcquire(ctx, "10.0.0.1")
	require.False(t, ok)

	ok, _ = l.TryAcquire(ctx, "10.0.0.2")
	require.True(t, ok)
	require.Equal(t, 2, l.Len())
}

func TestMemoryLimiter_ConcurrentSingleKey(t *testing.T) {
	t.Parallel()

	cfg := ratelimit.Config{Capacity: 50, Rate: 50, Window: time.Hour}
	l := ratelimit.NewMemoryLimiter(cfg, clock.NewFake(epoch), 0)

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.TryAcquire(context.Background(), "shared"); ok {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(cfg.Capacity), admitted.Load())
}

func TestMemoryLimiter_Maintain(t *testing.T) {
	t.Parallel()

	cfg := ratelimit.Config{Capacity: 1, Rate: 1, Window: time.Minute}
	l := ratelimit.NewMemoryLimiter(cfg, clock.NewFake(epoch), 3)
	ctx := context.Background()

	for i := range 3 {
		_, _ = l.TryAcquire(ctx, fmt.Sprintf("k%d", i))
	}
	require.False(t, l.Maintain(), "at ceiling is not over it")

	ok, _ := l.TryAcquire(ctx, "k0")
	require.False(t, ok)

	_, _ = l.TryAcquire(ctx, "k3")
	require.True(t, l.Maintain())
	require.Zero(t, l.Len())

	// History is lost, correctness is not: k0 starts with a full bucket.
	ok, _ = l.TryAcquire(ctx, "k0")
	require.True(t, ok)
}

type brokenLimiter struct{}

func (brokenLimiter) TryAcquire(context.Context, string) (bool, error) {
	return false, errors.New("connection refused")
}

type denyAll struct{}

func (denyAll) TryAcquire(context.Context, string) (bool, error) { return false, nil }

func TestFailOpen(t *testing.T) {
	t.Parallel()

	var failures []string
	l := ratelimit.FailOpen(brokenLimiter{}, slogx.Discard(), func(key string, err error) {
		require.Error(t, err)
		failures = append(failures, key)
	})

	ok, err := l.TryAcquire(context.Background(), "1.2.3.4")
	require.NoError(t, err)
	require.True(t, ok, "store outage must admit")
	require.Equal(t, []string{"1.2.3.4"}, failures)

	// A healthy store's denial passes through untouched.
	ok, err = ratelimit.FailOpen(denyAll{}, nil, nil).TryAcquire(context.Background(), "1.2.3.4")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisLimiter(t *testing.T) {
	client := testutil.StartRedis(t)

	cfg := ratelimit.Config{Capacity: 3, Rate: 3, Window: time.Minute}
	clk := clock.NewFake(epoch)
	l := ratelimit.NewRedisLimiter(client, "test:rl:", cfg, clk)

	exerciseBucket(t, l, clk, cfg, "user-9")

	ok, err := l.TryAcquire(t.Context(), "user-10")
	require.NoError(t, err)
	require.True(t, ok)

	ttl, err := client.PTTL(t.Context(), "test:rl:user-10").Result()
	require.NoError(t, err)
	require.Positive(t, ttl)
}

func TestRedisLimiter_ClosedClientFailsOpen(t *testing.T) {
	client := testutil.StartRedis(t)
	require.NoError(t, client.Close())

	cfg := ratelimit.Config{Capacity: 1, Rate: 1, Window: time.Minute}
	raw := ratelimit.NewRedisLimiter(client, "test:rl:", cfg, nil)

	_, err := raw.TryAcquire(t.Context(), "k")
	require.Error(t, err)

	ok, err := ratelimit.FailOpen(raw, slogx.Discard(), nil).TryAcquire(t.Context(), "k")
	require.NoError(t, err)
	require.True(t, ok)
}
