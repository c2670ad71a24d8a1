package ratelimit

import (
	"context"
	"log/slog"
)

// FailOpen wraps next so that a store error admits the request instead of
// failing it. Every such admission is logged and reported to onError
// (which may be nil).
func FailOpen(next Limiter, logger *slog.Logger, onError func(key string, err error)) Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &failOpen{next: next, logger: logger, onError: onError}
}

type failOpen struct {
	next    Limiter
	logger  *slog.Logger
	onError func(string, error)
}

func (f *failOpen) TryAcquire(ctx context.Context, key string) (bool, error) {
	ok, err := f.next.TryAcquire(ctx, key)
	if err != nil {
		f.logger.WarnContext(ctx, "rate limiter unavailable, admitting request",
			slog.String("key", key),
			slog.Any("err", err),
		)
		if f.onError != nil {
			f.onError(key, err)
		}
		return true, nil
	}
	return ok, nil
}
