package source

import (
	"context"
	"time"

	retry "github.com/avast/retry-go/v4"
)

const maxRetryDelay = 10 * time.Second

func withRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, onRetry func(attempt uint, err error), fn func(context.Context) error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	return retry.Do(
		func() error { return fn(ctx) },
		retry.Attempts(uint(maxRetries)+1),
		retry.Delay(baseDelay),
		retry.MaxDelay(maxRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(onRetry),
	)
}
