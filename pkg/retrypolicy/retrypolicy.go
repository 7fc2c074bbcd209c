// Package retrypolicy dispatches retry behavior on the cloudsync error
// taxonomy (spec §7): transient_network and remote_5xx errors are retried
// with exponential backoff, everything else returns immediately. Grounded
// on the teacher's adapters/s3/client.go createBackoffStrategy (cenkalti/
// backoff/v4 ExponentialBackOff) and objectfs's pkg/retry/retry.go
// Config/Retryer shape, generalized to branch on cloudsync.ErrorKind
// instead of a caller-supplied predicate list.
package retrypolicy

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/gostratum/cloudsync/pkg/cloudsync"
)

// Config parameterizes the backoff curve. Mirrors the teacher's
// Config.BackoffInitial/BackoffMax/MaxRetries fields.
type Config struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	MaxAttempts     int
}

// DefaultConfig matches the teacher's DefaultConfig backoff defaults.
func DefaultConfig() Config {
	return Config{
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		MaxElapsedTime:  5 * time.Minute,
		MaxAttempts:     8,
	}
}

// OnRetry is invoked before each retry attempt, for logging/metrics hooks.
type OnRetry func(attempt int, err error, wait time.Duration)

// Policy runs an operation under the configured backoff curve, retrying
// only while the error it returns classifies as retryable under spec §7.
type Policy struct {
	cfg     Config
	onRetry OnRetry
}

// New builds a Policy from cfg. A nil onRetry is a no-op.
func New(cfg Config, onRetry OnRetry) *Policy {
	if onRetry == nil {
		onRetry = func(int, error, time.Duration) {}
	}
	return &Policy{cfg: cfg, onRetry: onRetry}
}

// Do runs op, retrying with exponential backoff while the returned error's
// cloudsync.ErrorKind is retryable and the attempt budget isn't exhausted.
// A non-retryable error, or context cancellation, returns immediately.
func (p *Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.cfg.InitialInterval
	eb.MaxInterval = p.cfg.MaxInterval
	eb.MaxElapsedTime = p.cfg.MaxElapsedTime

	var lastErr error
	attempt := 0
	bo := backoff.WithContext(eb, ctx)

	for {
		attempt++
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !cloudsync.Retryable(cloudsync.KindOf(lastErr)) {
			return lastErr
		}
		if p.cfg.MaxAttempts > 0 && attempt >= p.cfg.MaxAttempts {
			return lastErr
		}
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return lastErr
		}
		p.onRetry(attempt, lastErr, wait)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
