package common

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// ConnectTimeout bounds how long a binary waits for a backing service at boot.
const ConnectTimeout = 30 * time.Second

// RetryConnect keeps calling connect with exponential backoff until it
// succeeds, ctx ends or ConnectTimeout elapses. Only used for startup
// dependencies; outbound portal messages are never retried.
func RetryConnect(ctx context.Context, logger zerolog.Logger, name string, connect func(context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxElapsedTime = ConnectTimeout

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := connect(attemptCtx); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			logger.Warn().Err(err).Str("dependency", name).Int("attempt", attempt).Msg("dependency not ready")
			return err
		}
		return nil
	}, backoff.WithContext(policy, ctx))
}
