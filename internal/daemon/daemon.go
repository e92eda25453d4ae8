// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zonelift/zonelift/internal/healthmon"
	"github.com/zonelift/zonelift/internal/log"
	"github.com/zonelift/zonelift/internal/orchestrator"
	"github.com/zonelift/zonelift/internal/remediate"
	"github.com/zonelift/zonelift/internal/scheduler"
	"github.com/zonelift/zonelift/internal/statusapi"
)

// shutdownTimeout bounds the whole hook chain, not each hook.
const shutdownTimeout = 10 * time.Second

// ShutdownHook performs cleanup during graceful shutdown. Hooks run in
// reverse registration order (LIFO).
type ShutdownHook func(ctx context.Context) error

type namedHook struct {
	name string
	hook ShutdownHook
}

// Daemon composes the scheduler loop, the status server, and the periodic
// health check into one supervised process.
type Daemon struct {
	app   *App
	sched *scheduler.Scheduler
	remed *remediate.Remediator

	mu      sync.Mutex
	hooks   []namedHook
	started bool
}

// New wires the daemon around an App. The remediator's extractor and cleaner
// actions enqueue a full scheduler pass instead of running services directly,
// so remediation respects the same at-most-one-pass discipline as every other
// trigger.
func New(app *App) *Daemon {
	d := &Daemon{app: app}

	d.sched = scheduler.New(app.Cfg, func(ctx context.Context, trigger string) error {
		_, err := app.Orch.Run(ctx, orchestrator.Request{Trigger: trigger})
		return err
	})
	d.remed = remediate.New(app.Cfg, remediate.Callbacks{
		RefreshCredentials: func(ctx context.Context, service, account string) error {
			_, err := app.Sessions.Refresh(ctx, service, account)
			return err
		},
		RunExtractors: func(context.Context, string) error {
			d.sched.Trigger("remediator")
			return nil
		},
		RunCleaners: func(context.Context, string) error {
			d.sched.Trigger("remediator")
			return nil
		},
	})

	d.RegisterShutdownHook("stores", func(context.Context) error { return app.Close() })
	return d
}

// Trigger enqueues a manual pass on the running daemon.
func (d *Daemon) Trigger(trigger string) bool { return d.sched.Trigger(trigger) }

// RegisterShutdownHook adds a cleanup step to the LIFO shutdown chain.
func (d *Daemon) RegisterShutdownHook(name string, hook ShutdownHook) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hooks = append(d.hooks, namedHook{name: name, hook: hook})
}

// Run starts every subsystem and blocks until the context ends, then walks
// the shutdown hooks. A cancelled context is a clean shutdown.
func (d *Daemon) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return errors.New("daemon already started")
	}
	d.started = true
	d.mu.Unlock()

	logger := log.WithComponentFromContext(ctx, "daemon")
	logger.Info().
		Str("event", "daemon.starting").
		Str("status_addr", d.app.Cfg.StatusAddr).
		Dur("schedule_every", d.app.Cfg.ScheduleEvery).
		Bool("watch_landing", d.app.Cfg.WatchLanding).
		Msg("daemon starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.sched.Run(gctx) })
	if d.app.Cfg.StatusAddr != "" {
		srv := statusapi.New(d.app.Cfg.StatusAddr, d.latestSnapshot, d.app.Runs)
		g.Go(func() error { return srv.Run(gctx) })
	}
	g.Go(func() error { return d.healthLoop(gctx) })

	err := g.Wait()
	d.shutdown()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (d *Daemon) latestSnapshot() (*healthmon.Snapshot, error) {
	return healthmon.Latest(d.app.Cfg.ProjectRoot)
}

// healthLoop snapshots health on the configured cadence. The first pass runs
// immediately so the status server turns ready without waiting a full tick.
func (d *Daemon) healthLoop(ctx context.Context) error {
	interval := d.app.Cfg.HealthCheckInterval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.healthPass(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.healthPass(ctx)
		}
	}
}

// healthPass runs one check, persists the snapshot, and hands the proposed
// actions to the remediator.
func (d *Daemon) healthPass(ctx context.Context) {
	logger := log.WithComponentFromContext(ctx, "daemon")

	snap, err := d.app.Monitor.Check(ctx)
	if err != nil {
		logger.Warn().Err(err).
			Str("event", "daemon.health_check_failed").
			Msg("health check failed")
		return
	}
	if _, err := snap.Persist(d.app.Cfg.ProjectRoot); err != nil {
		logger.Warn().Err(err).
			Str("event", "daemon.snapshot_persist_failed").
			Msg("could not persist health snapshot")
	}
	attempted, err := d.remed.Sweep(ctx, &snap)
	if err != nil {
		logger.Warn().Err(err).
			Str("event", "daemon.remediation_failed").
			Msg("remediation sweep aborted")
		return
	}
	if attempted > 0 {
		logger.Info().
			Str("event", "daemon.remediation_done").
			Int("actions", attempted).
			Str("overall", string(snap.Overall)).
			Msg("remediation sweep finished")
	}
}

// shutdown executes the hooks LIFO under one shared timeout.
func (d *Daemon) shutdown() {
	logger := log.WithComponent("daemon")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	d.mu.Lock()
	hooks := make([]namedHook, len(d.hooks))
	copy(hooks, d.hooks)
	d.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		if err := h.hook(ctx); err != nil {
			logger.Warn().Err(err).
				Str("event", "daemon.shutdown_hook_failed").
				Str("hook", h.name).
				Msg("shutdown hook failed")
			continue
		}
		logger.Debug().
			Str("event", "daemon.shutdown_hook_done").
			Str("hook", h.name).
			Msg("shutdown hook finished")
	}
	logger.Info().
		Str("event", "daemon.stopped").
		Msg("daemon stopped")
}
