// SPDX-License-Identifier: MIT

// Package scheduler turns triggers (interval, manual, remediator, landing
// watch) into orchestrator runs, guaranteeing at most one concurrent pass
// and at most one queued trigger.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/zonelift/zonelift/internal/config"
	"github.com/zonelift/zonelift/internal/log"
)

// RunFunc executes one orchestration pass for the given trigger.
type RunFunc func(ctx context.Context, trigger string) error

// Scheduler owns the trigger loop. Triggers land in a buffer-one channel:
// while a pass is executing, at most one further trigger stays queued and any
// extras are coalesced into it.
type Scheduler struct {
	cfg      config.Runtime
	run      RunFunc
	lock     *RunLock
	triggers chan string
}

// New creates a scheduler over the given run function.
func New(cfg config.Runtime, run RunFunc) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		run:      run,
		lock:     NewRunLock(cfg.ProjectRoot),
		triggers: make(chan string, 1),
	}
}

// Trigger enqueues a pass. Returns false when a trigger is already queued
// and this one was coalesced into it.
func (s *Scheduler) Trigger(trigger string) bool {
	select {
	case s.triggers <- trigger:
		return true
	default:
		return false
	}
}

// Run drives the trigger loop until the context ends. The interval tick and
// the optional landing watcher both feed the same trigger channel.
func (s *Scheduler) Run(ctx context.Context) error {
	logger := log.WithComponentFromContext(ctx, "scheduler")

	var tick <-chan time.Time
	if s.cfg.ScheduleEvery > 0 {
		ticker := time.NewTicker(s.cfg.ScheduleEvery)
		defer ticker.Stop()
		tick = ticker.C
	}

	if s.cfg.WatchLanding {
		watcher, err := newLandingWatcher(s.cfg.ProjectRoot, func() { s.Trigger("watch") })
		if err != nil {
			logger.Warn().Err(err).
				Str("event", "scheduler.watch_unavailable").
				Msg("landing watch disabled")
		} else {
			go watcher.run(ctx)
			defer watcher.close()
		}
	}

	logger.Info().
		Str("event", "scheduler.started").
		Dur("interval", s.cfg.ScheduleEvery).
		Bool("watch_landing", s.cfg.WatchLanding).
		Msg("scheduler loop started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			if !s.Trigger("interval") {
				logger.Debug().
					Str("event", "scheduler.tick_coalesced").
					Msg("interval tick coalesced into queued trigger")
			}
		case trigger := <-s.triggers:
			s.execute(ctx, trigger)
		}
	}
}

// execute runs one pass under the cross-process lock. A pass held by another
// process is skipped, not queued again: its run covers this trigger's work.
func (s *Scheduler) execute(ctx context.Context, trigger string) {
	logger := log.WithComponentFromContext(ctx, "scheduler")

	if err := s.lock.Acquire(); err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			logger.Info().
				Str("event", "scheduler.pass_skipped").
				Str("trigger", trigger).
				Msg("another process is already running a pass")
			return
		}
		logger.Error().Err(err).
			Str("event", "scheduler.lock_failed").
			Msg("orchestrator lock unavailable")
		return
	}
	defer s.lock.Release()

	started := time.Now()
	if err := s.run(ctx, trigger); err != nil {
		logger.Error().Err(err).
			Str("event", "scheduler.pass_failed").
			Str("trigger", trigger).
			Dur("elapsed", time.Since(started)).
			Msg("orchestration pass failed")
		return
	}
	logger.Info().
		Str("event", "scheduler.pass_finished").
		Str("trigger", trigger).
		Dur("elapsed", time.Since(started)).
		Msg("orchestration pass finished")
}
