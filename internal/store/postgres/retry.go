package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/elgarage/garage/internal/store"
	"github.com/elgarage/garage/internal/telemetry"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const maxStoreTries = 3

// withRetry runs an idempotent store operation, retrying a bounded number of
// times while the failure is transient. Errors are mapped before they are
// returned.
func withRetry[T any](ctx context.Context, op string, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond

	return backoff.Retry(ctx, func() (T, error) {
		result, err := fn()
		if err == nil {
			return result, nil
		}

		err = mapPostgresError(err)
		if !errors.Is(err, store.ErrStoreUnavailable) {
			return result, backoff.Permanent(err)
		}
		return result, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(maxStoreTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			telemetry.GetMetrics().StoreRetriesTotal.Add(ctx, 1,
				metric.WithAttributes(attribute.String("operation", op)))
			log.Warn().Err(err).Str("operation", op).Dur("next", next).Msg("Retrying store operation")
		}),
	)
}

// exec is withRetry for operations without a result.
func exec(ctx context.Context, op string, fn func() error) error {
	_, err := withRetry(ctx, op, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
