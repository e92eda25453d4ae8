// SPDX-License-Identifier: MIT

package unit

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/zonelift/zonelift/internal/config"
)

// RunWithRetry executes fn under the configured backoff discipline.
// Transient and RateLimited failures are retried with exponential backoff and
// jitter; every other failure kind aborts immediately.
func RunWithRetry(ctx context.Context, cfg config.Retry, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(cfg.BaseMS) * time.Millisecond
	b.MaxInterval = time.Duration(cfg.CapMS) * time.Millisecond
	if cfg.Jitter > 0 {
		b.RandomizationFactor = cfg.Jitter
	}

	maxTries := cfg.MaxTries
	if maxTries < 1 {
		maxTries = 1
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := fn(); err != nil {
			if Retryable(err) {
				return struct{}{}, err
			}
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(maxTries)))
	return err
}
