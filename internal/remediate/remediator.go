// SPDX-License-Identifier: MIT

// Package remediate executes the auto actions a health snapshot proposes.
// It only triggers idempotent work (credential refreshes, extractor and
// cleaner runs) and never deletes or rewrites zone files itself.
package remediate

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/zonelift/zonelift/internal/config"
	"github.com/zonelift/zonelift/internal/healthmon"
	"github.com/zonelift/zonelift/internal/log"
	"github.com/zonelift/zonelift/internal/metrics"
)

// Callbacks are the levers the remediator may pull. Each must be safe to
// invoke repeatedly.
type Callbacks struct {
	// RefreshCredentials forces a fresh session for the pair.
	RefreshCredentials func(ctx context.Context, service, account string) error
	// RunExtractors triggers a harvest pass for one service.
	RunExtractors func(ctx context.Context, service string) error
	// RunCleaners triggers a promotion-only pass for one service.
	RunCleaners func(ctx context.Context, service string) error
}

// Remediator rate-limits sweeps to one per configured interval; triggers
// between sweeps are dropped, not queued.
type Remediator struct {
	cfg       config.Runtime
	callbacks Callbacks
	limiter   *rate.Limiter
}

// New creates a remediator with the configured sweep interval.
func New(cfg config.Runtime, callbacks Callbacks) *Remediator {
	interval := cfg.RemediationInterval
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &Remediator{
		cfg:       cfg,
		callbacks: callbacks,
		limiter:   rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Sweep executes the snapshot's actions in priority order. Returns the number
// of actions attempted; zero with nil error means the sweep was rate-limited
// or the snapshot proposed nothing.
func (r *Remediator) Sweep(ctx context.Context, snap *healthmon.Snapshot) (int, error) {
	logger := log.WithComponentFromContext(ctx, "remediate")
	if snap == nil || len(snap.Actions) == 0 {
		return 0, nil
	}
	if !r.limiter.Allow() {
		logger.Debug().
			Str("event", "remediate.sweep_limited").
			Msg("sweep suppressed by rate limit")
		return 0, nil
	}

	attempted := 0
	for _, action := range snap.Actions {
		if ctx.Err() != nil {
			return attempted, ctx.Err()
		}
		attempted++
		if err := r.execute(ctx, action); err != nil {
			logger.Warn().Err(err).
				Str("event", "remediate.action_failed").
				Str("action", string(action.Type)).
				Str("pipeline_service", action.Service).
				Msg("remediation action failed")
			continue
		}
		metrics.RecordRemediationAction(string(action.Type))
		logger.Info().
			Str("event", "remediate.action_done").
			Str("action", string(action.Type)).
			Str("pipeline_service", action.Service).
			Str("reason", action.Reason).
			Msg("remediation action executed")
	}
	return attempted, nil
}

func (r *Remediator) execute(ctx context.Context, action healthmon.AutoAction) error {
	switch action.Type {
	case healthmon.ActionCookieRefresh:
		if r.callbacks.RefreshCredentials == nil {
			return fmt.Errorf("no credential refresh callback wired")
		}
		return r.callbacks.RefreshCredentials(ctx, action.Service, action.Account)
	case healthmon.ActionRunExtractor:
		if r.callbacks.RunExtractors == nil {
			return fmt.Errorf("no extractor callback wired")
		}
		return r.callbacks.RunExtractors(ctx, action.Service)
	case healthmon.ActionRunCleaners:
		if r.callbacks.RunCleaners == nil {
			return fmt.Errorf("no cleaner callback wired")
		}
		return r.callbacks.RunCleaners(ctx, action.Service)
	default:
		return fmt.Errorf("unknown action type %q", action.Type)
	}
}
