// SPDX-License-Identifier: MIT

// Package unit defines the typed contracts between the orchestrator and the
// extractor/cleaner units it discovers, plus the failure taxonomy shared by
// every pipeline component.
package unit

import "errors"

// Failure kinds. Transient and RateLimited are retryable with backoff; the
// rest are surfaced or recorded and never retried in the same run.
var (
	ErrAuthFailed           = errors.New("auth failed")
	ErrSecondFactorRequired = errors.New("interactive second factor required")
	ErrRateLimited          = errors.New("rate limited")
	ErrUpstreamUnavailable  = errors.New("upstream unavailable")
	ErrSchemaChanged        = errors.New("schema changed")
	ErrTransient            = errors.New("transient failure")
	ErrCleanerFailed        = errors.New("cleaner failed")
)

// Retryable reports whether err may be retried with backoff within a run.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited)
}
