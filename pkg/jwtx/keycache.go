package jwtx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"github.com/aussiebroadwan/gatekeeper/pkg/clock"
)

const (
	DefaultKeyFetchAttempts = 3
	DefaultKeyFetchBackoff  = 200 * time.Millisecond
	DefaultKeyFetchTimeout  = 2 * time.Second

	keyFlight = "signing-key"
)

var (
	// ErrKeyUnavailable means no verification key could be obtained. Token
	// verification must fail closed.
	ErrKeyUnavailable = errors.New("jwtx: signing key unavailable")
	// ErrKeyLoading is returned by TryGetKey while a fetch is in flight.
	ErrKeyLoading = errors.New("jwtx: signing key loading")
)

// SigningKey is an immutable snapshot published by KeyCache.
type SigningKey struct {
	Scheme    SigningScheme
	Algorithm string
	LoadedAt  time.Time
}

// KeySource fetches the current verification key from wherever it lives.
type KeySource interface {
	FetchKey(ctx context.Context) (SigningScheme, error)
}

// KeySourceFunc adapts a function to KeySource.
type KeySourceFunc func(ctx context.Context) (SigningScheme, error)

func (f KeySourceFunc) FetchKey(ctx context.Context) (SigningScheme, error) { return f(ctx) }

// StaticKeySource always returns s.
func StaticKeySource(s SigningScheme) KeySource {
	return KeySourceFunc(func(context.Context) (SigningScheme, error) { return s, nil })
}

type KeyCacheOptions struct {
	Source KeySource

	// MaxAttempts is the total number of fetch attempts per load,
	// including the first one.
	MaxAttempts int
	// Backoff is the fixed pause between attempts.
	Backoff time.Duration
	// FetchTimeout bounds each attempt. Keep it below the request timeout.
	FetchTimeout time.Duration

	Clock  clock.Clock
	Logger *slog.Logger

	// OnFetchError is called after every failed attempt.
	OnFetchError func(attempt int, err error)
}

// KeyCache lazily loads the verification key once and shares it between
// all goroutines. Concurrent callers that find the slot empty wait on one
// shared fetch.
type KeyCache struct {
	opts KeyCacheOptions

	current atomic.Pointer[SigningKey]
	loading atomic.Bool
	flight  singleflight.Group
}

func NewKeyCache(opts KeyCacheOptions) *KeyCache {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultKeyFetchAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultKeyFetchBackoff
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultKeyFetchTimeout
	}
	opts.Clock = clock.Or(opts.Clock)
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &KeyCache{opts: opts}
}

// GetKey returns the cached key, loading it if needed. If ctx ends first
// the caller stops waiting but the fetch carries on for everyone else.
func (c *KeyCache) GetKey(ctx context.Context) (*SigningKey, error) {
	if k := c.current.Load(); k != nil {
		return k, nil
	}

	ch := c.flight.DoChan(keyFlight, c.load)
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrKeyUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*SigningKey), nil
	}
}

// TryGetKey never blocks and never starts a fetch.
func (c *KeyCache) TryGetKey() (*SigningKey, error) {
	if k := c.current.Load(); k != nil {
		return k, nil
	}
	if c.loading.Load() {
		return nil, ErrKeyLoading
	}
	return nil, ErrKeyUnavailable
}

// Invalidate drops the cached key; the next GetKey fetches again.
func (c *KeyCache) Invalidate() {
	if old := c.current.Swap(nil); old != nil {
		c.opts.Logger.Info("signing key invalidated", slog.String("alg", old.Algorithm))
	}
}

func (c *KeyCache) load() (any, error) {
	if k := c.current.Load(); k != nil {
		return k, nil
	}

	c.loading.Store(true)
	defer c.loading.Store(false)

	var (
		scheme  SigningScheme
		attempt int
	)
	fetch := func() error {
		attempt++

		// Detached from any caller so one abandoned request cannot cancel
		// a fetch others are waiting on.
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.FetchTimeout)
		defer cancel()

		s, err := c.opts.Source.FetchKey(ctx)
		if err == nil {
			err = s.Validate()
		}
		if err != nil {
			c.opts.Logger.Warn("signing key fetch failed",
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", c.opts.MaxAttempts),
				slog.Any("err", err),
			)
			if c.opts.OnFetchError != nil {
				c.opts.OnFetchError(attempt, err)
			}
			return err
		}
		scheme = s
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(c.opts.Backoff), uint64(c.opts.MaxAttempts-1)) // #nosec G115
	if err := backoff.Retry(fetch, policy); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyUnavailable, err)
	}

	key := &SigningKey{
		Scheme:    scheme.VerifyOnly(),
		Algorithm: scheme.Algorithm(),
		LoadedAt:  c.opts.Clock.Now(),
	}
	c.current.Store(key)
	c.opts.Logger.Info("signing key loaded",
		slog.String("alg", key.Algorithm),
		slog.Int("attempts", attempt),
	)
	return key, nil
}
