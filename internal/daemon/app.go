// SPDX-License-Identifier: MIT

// Package daemon assembles the long-running zonelift process: the scheduler
// loop, the status server, and the periodic health check with remediation.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zonelift/zonelift/internal/config"
	"github.com/zonelift/zonelift/internal/credstore"
	"github.com/zonelift/zonelift/internal/engine"
	"github.com/zonelift/zonelift/internal/hash"
	"github.com/zonelift/zonelift/internal/healthmon"
	"github.com/zonelift/zonelift/internal/log"
	"github.com/zonelift/zonelift/internal/orchestrator"
	"github.com/zonelift/zonelift/internal/runlog"
	"github.com/zonelift/zonelift/internal/session"
	"github.com/zonelift/zonelift/internal/unit"
	"github.com/zonelift/zonelift/internal/zone"
)

// digestCacheTTL bounds how long a cached digest survives without being
// looked up again.
const digestCacheTTL = 30 * 24 * time.Hour

// App is the wired component graph shared by the daemon and the CLI.
type App struct {
	Cfg      config.Runtime
	Layout   *zone.Layout
	Creds    *credstore.Store
	Engine   *engine.Engine
	Sessions *session.Acquirer
	Runs     *runlog.Store
	Orch     *orchestrator.Orchestrator
	Monitor  *healthmon.Monitor

	cache *hash.Cache
}

// NewApp wires every component from the runtime config. The digest cache is
// best effort: when badger cannot be opened (typically another process holds
// its lock) promotion falls back to hashing files in full.
func NewApp(cfg config.Runtime) (*App, error) {
	layout := zone.NewLayout(cfg.ProjectRoot)
	creds := credstore.New(cfg.ProjectRoot)

	stateDir := filepath.Join(cfg.ProjectRoot, "state")
	if err := os.MkdirAll(stateDir, 0o750); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	engineOpts := []engine.Option{engine.WithPolicies(cfg.Policy)}
	cache, err := hash.OpenCache(filepath.Join(stateDir, "digest_cache"), digestCacheTTL)
	if err != nil {
		logger := log.WithComponent("daemon")
		logger.Warn().Err(err).
			Str("event", "daemon.digest_cache_unavailable").
			Msg("digest cache disabled, hashing files in full")
		cache = nil
	} else {
		engineOpts = append(engineOpts, engine.WithDigestCache(cache))
	}
	eng := engine.New(layout, cfg.Retry, engineOpts...)

	runner := unit.NewRunner(unit.RunnerConfig{
		ProjectRoot:    cfg.ProjectRoot,
		LogLevel:       cfg.LogLevel,
		CredentialsDir: creds.Dir(),
	})

	var sessionOpts []session.Option
	if cfg.InteractiveAllowed {
		sessionOpts = append(sessionOpts,
			session.WithAuthenticator(session.NewBrowserAuthenticator(cfg.ProjectRoot, cfg.HeadlessBrowser)))
	}
	sessions := session.NewAcquirer(cfg, creds, sessionOpts...)

	runs, err := runlog.Open(filepath.Join(stateDir, "runs.db"))
	if err != nil {
		if cache != nil {
			_ = cache.Close()
		}
		return nil, fmt.Errorf("open run log: %w", err)
	}

	orch := orchestrator.New(cfg, eng, runner,
		orchestrator.WithSessions(sessions),
		orchestrator.WithRunLog(runs),
	)

	return &App{
		Cfg:      cfg,
		Layout:   layout,
		Creds:    creds,
		Engine:   eng,
		Sessions: sessions,
		Runs:     runs,
		Orch:     orch,
		Monitor:  healthmon.New(cfg, layout, creds),
		cache:    cache,
	}, nil
}

// Close releases the stores in reverse acquisition order.
func (a *App) Close() error {
	var errs []error
	if a.Runs != nil {
		if err := a.Runs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close run log: %w", err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close digest cache: %w", err))
		}
	}
	return errors.Join(errs...)
}
