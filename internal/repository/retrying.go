package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"signal-workshop/internal/domain"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

const defaultStoreRetries = 3

// RetryingStore retries transient store failures with exponential backoff.
// Once retries are exhausted the error wraps domain.ErrStoreUnavailable.
type RetryingStore struct {
	next       SignalStore
	maxRetries uint64
	newBackOff func() backoff.BackOff
}

func NewRetryingStore(next SignalStore, maxRetries int) *RetryingStore {
	if maxRetries < 0 {
		maxRetries = defaultStoreRetries
	}
	return &RetryingStore{
		next:       next,
		maxRetries: uint64(maxRetries),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
}

func retry[T any](ctx context.Context, s *RetryingStore, op string, fn func() (T, error)) (T, error) {
	b := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), s.maxRetries), ctx)
	attempt := 0
	out, err := backoff.RetryWithData(func() (T, error) {
		attempt++
		v, err := fn()
		if err != nil && (errors.Is(err, domain.ErrSignalNotFound) || errors.Is(err, context.Canceled)) {
			return v, backoff.Permanent(err)
		}
		if err != nil {
			log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("signal store call failed")
		}
		return v, err
	}, b)
	if err == nil || errors.Is(err, domain.ErrSignalNotFound) || ctx.Err() != nil {
		return out, err
	}
	return out, fmt.Errorf("%w: %s: %w", domain.ErrStoreUnavailable, op, err)
}

func (s *RetryingStore) RunMigrations(ctx context.Context) ([]string, error) {
	return retry(ctx, s, "run-migrations", func() ([]string, error) { return s.next.RunMigrations(ctx) })
}

func (s *RetryingStore) Insert(ctx context.Context, sig domain.Signal) (domain.Signal, error) {
	return retry(ctx, s, "insert", func() (domain.Signal, error) { return s.next.Insert(ctx, sig) })
}

func (s *RetryingStore) ListActive(ctx context.Context, symbol string) ([]domain.Signal, error) {
	return retry(ctx, s, "list-active", func() ([]domain.Signal, error) { return s.next.ListActive(ctx, symbol) })
}

func (s *RetryingStore) UpdateTracking(ctx context.Context, id int64, price, roi float64, flags domain.TPFlags) (bool, error) {
	return retry(ctx, s, "update-tracking", func() (bool, error) { return s.next.UpdateTracking(ctx, id, price, roi, flags) })
}

func (s *RetryingStore) Close(ctx context.Context, id int64, c domain.Closure) (bool, error) {
	return retry(ctx, s, "close", func() (bool, error) { return s.next.Close(ctx, id, c) })
}

func (s *RetryingStore) Get(ctx context.Context, id int64) (domain.Signal, error) {
	return retry(ctx, s, "get", func() (domain.Signal, error) { return s.next.Get(ctx, id) })
}

func (s *RetryingStore) ListClosed(ctx context.Context, since time.Time) ([]domain.Signal, error) {
	return retry(ctx, s, "list-closed", func() ([]domain.Signal, error) { return s.next.ListClosed(ctx, since) })
}

func (s *RetryingStore) ListRecent(ctx context.Context, filter domain.SignalFilter) ([]domain.Signal, error) {
	return retry(ctx, s, "list-recent", func() ([]domain.Signal, error) { return s.next.ListRecent(ctx, filter) })
}

var _ SignalStore = (*RetryingStore)(nil)
