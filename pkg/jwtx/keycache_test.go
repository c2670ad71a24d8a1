package jwtx_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/gatekeeper/pkg/jwtx"
	"github.com/aussiebroadwan/gatekeeper/pkg/slogx"
)

var errRemoteDown = errors.New("remote down")

// flakySource fails the first `failures` calls and succeeds afterwards.
type flakySource struct {
	failures int
	scheme   jwtx.SigningScheme
	calls    atomic.Int32
	delay    time.Duration
}

func (s *flakySource) FetchKey(ctx context.Context) (jwtx.SigningScheme, error) {
	n := int(s.calls.Add(1))
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return jwtx.SigningScheme{}, ctx.Err()
		}
	}
	if n <= s.failures {
		return jwtx.SigningScheme{}, errRemoteDown
	}
	return s.scheme, nil
}

func newCache(src jwtx.KeySource, attempts int) *jwtx.KeyCache {
	return jwtx.NewKeyCache(jwtx.KeyCacheOptions{
		Source:       src,
		MaxAttempts:  attempts,
		Backoff:      time.Millisecond,
		FetchTimeout: time.Second,
		Logger:       slogx.Discard(),
	})
}

func TestKeyCache_RetryBudget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		attempts  int
		failures  int
		wantErr   error
		wantCalls int32
	}{
		{name: "succeeds on fourth attempt with budget 5", attempts: 5, failures: 3, wantCalls: 4},
		{name: "unavailable with budget 2", attempts: 2, failures: 3, wantErr: jwtx.ErrKeyUnavailable, wantCalls: 2},
		{name: "first attempt", attempts: 1, failures: 0, wantCalls: 1},
		{name: "single attempt fails", attempts: 1, failures: 1, wantErr: jwtx.ErrKeyUnavailable, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			src := &flakySource{failures: tt.failures, scheme: jwtx.Symmetric(testSecret)}
			cache := newCache(src, tt.attempts)

			key, err := cache.GetKey(context.Background())
			require.Equal(t, tt.wantCalls, src.calls.Load())

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				require.ErrorIs(t, err, errRemoteDown)
				require.Nil(t, key)

				_, err = cache.TryGetKey()
				require.ErrorIs(t, err, jwtx.ErrKeyUnavailable)
				return
			}
			require.NoError(t, err)
			require.Equal(t, jwtx.AlgorithmHS256, key.Algorithm)
		})
	}
}

func TestKeyCache_SingleFlight(t *testing.T) {
	t.Parallel()

	src := &flakySource{scheme: jwtx.Symmetric(testSecret), delay: 50 * time.Millisecond}
	cache := newCache(src, 3)

	const callers = 32
	keys := make([]*jwtx.SigningKey, callers)

	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k, err := cache.GetKey(context.Background())
			require.NoError(t, err)
			keys[i] = k
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), src.calls.Load())
	for _, k := range keys {
		require.Same(t, keys[0], k)
	}
}

func TestKeyCache_CachesUntilInvalidated(t *testing.T) {
	t.Parallel()

	src := &flakySource{scheme: jwtx.Symmetric(testSecret)}
	cache := newCache(src, 1)

	first, err := cache.GetKey(context.Background())
	require.NoError(t, err)
	second, err := cache.GetKey(context.Background())
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Equal(t, int32(1), src.calls.Load())

	cached, err := cache.TryGetKey()
	require.NoError(t, err)
	require.Same(t, first, cached)

	cache.Invalidate()
	_, err = cache.TryGetKey()
	require.ErrorIs(t, err, jwtx.ErrKeyUnavailable)

	third, err := cache.GetKey(context.Background())
	require.NoError(t, err)
	require.NotSame(t, first, third)
	require.Equal(t, int32(2), src.calls.Load())
}

func TestKeyCache_CallerCancelDoesNotAbortFetch(t *testing.T) {
	t.Parallel()

	src := &flakySource{scheme: jwtx.Symmetric(testSecret), delay: 100 * time.Millisecond}
	cache := newCache(src, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := cache.GetKey(ctx)
	require.ErrorIs(t, err, jwtx.ErrKeyUnavailable)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = cache.TryGetKey()
	require.ErrorIs(t, err, jwtx.ErrKeyLoading)

	key, err := cache.GetKey(context.Background())
	require.NoError(t, err)
	require.NotNil(t, key)
	require.Equal(t, int32(1), src.calls.Load())
}

func TestKeyCache_FetchTimeout(t *testing.T) {
	t.Parallel()

	src := jwtx.KeySourceFunc(func(ctx context.Context) (jwtx.SigningScheme, error) {
		<-ctx.Done()
		return jwtx.SigningScheme{}, ctx.Err()
	})
	cache := jwtx.NewKeyCache(jwtx.KeyCacheOptions{
		Source:       src,
		MaxAttempts:  2,
		Backoff:      time.Millisecond,
		FetchTimeout: 20 * time.Millisecond,
		Logger:       slogx.Discard(),
	})

	start := time.Now()
	_, err := cache.GetKey(context.Background())
	require.ErrorIs(t, err, jwtx.ErrKeyUnavailable)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), time.Second)
}

func TestKeyCache_RejectsEmptyScheme(t *testing.T) {
	t.Parallel()

	var failures atomic.Int32
	cache := jwtx.NewKeyCache(jwtx.KeyCacheOptions{
		Source:       jwtx.StaticKeySource(jwtx.SigningScheme{}),
		MaxAttempts:  2,
		Backoff:      time.Millisecond,
		Logger:       slogx.Discard(),
		OnFetchError: func(int, error) { failures.Add(1) },
	})

	_, err := cache.GetKey(context.Background())
	require.ErrorIs(t, err, jwtx.ErrKeyUnavailable)
	require.ErrorIs(t, err, jwtx.ErrNoKey)
	require.Equal(t, int32(2), failures.Load())
}

func TestKeyCache_StoresVerifyOnlyKey(t *testing.T) {
	t.Parallel()

	cache := newCache(jwtx.StaticKeySource(jwtx.AsymmetricSigner(newRSAKey(t))), 1)

	key, err := cache.GetKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, jwtx.AlgorithmRS256, key.Algorithm)
	require.False(t, key.Scheme.CanSign())
}
