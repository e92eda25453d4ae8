// SPDX-License-Identifier: MIT

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zonelift/zonelift/internal/config"
	"github.com/zonelift/zonelift/internal/engine"
	"github.com/zonelift/zonelift/internal/log"
	"github.com/zonelift/zonelift/internal/metrics"
	"github.com/zonelift/zonelift/internal/runlog"
	"github.com/zonelift/zonelift/internal/unit"
)

// SessionProvider yields authenticated sessions for extractor units.
type SessionProvider interface {
	Acquire(ctx context.Context, service, account string) (unit.Session, error)
}

// UnitRunner executes one exec'd unit with extra environment.
type UnitRunner interface {
	Run(ctx context.Context, u unit.Unit, extraEnv []string) error
}

// Request selects what a run covers.
type Request struct {
	Trigger        string   // manual | interval | remediator | watch
	Services       []string // empty means every discovered service
	SkipExtractors bool
}

// Orchestrator sequences discovered services through their units and the
// promotion engine. Services run concurrently under the configured cap;
// within a service, cleaner stages are strictly sequential.
type Orchestrator struct {
	cfg      config.Runtime
	eng      *engine.Engine
	runner   UnitRunner
	sessions SessionProvider // nil when no strategy is served
	store    *runlog.Store   // nil disables persistence
	now      func() time.Time
	newID    func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSessions attaches the session acquirer.
func WithSessions(p SessionProvider) Option {
	return func(o *Orchestrator) { o.sessions = p }
}

// WithRunLog attaches the run record store.
func WithRunLog(s *runlog.Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithClock injects a deterministic clock for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator over the given engine and unit runner.
func New(cfg config.Runtime, eng *engine.Engine, runner UnitRunner, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:    cfg,
		eng:    eng,
		runner: runner,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one pipeline pass: discovery, per-service unit execution in
// priority order, run record persistence. The returned Run carries the
// per-service outcomes; err is reserved for infrastructure failures, not unit
// failures.
func (o *Orchestrator) Run(ctx context.Context, req Request) (runlog.Run, error) {
	run := runlog.Run{
		ID:        o.newID(),
		Trigger:   req.Trigger,
		StartedAt: o.now(),
	}
	ctx = log.ContextWithRunID(ctx, run.ID)
	logger := log.WithComponentFromContext(ctx, "orchestrator")

	services, err := Discover(o.cfg.ProjectRoot, nil)
	if err != nil {
		return run, err
	}
	services = o.filter(services, req.Services)
	if len(services) == 0 {
		run.FinishedAt = o.now()
		run.Outcome = runlog.OutcomeSuccess
		logger.Info().Str("event", "orchestrator.empty").Msg("no services matched, nothing to run")
		return run, nil
	}

	// Lower priority numbers are submitted first; the errgroup cap turns
	// submission order into execution order under contention.
	sort.SliceStable(services, func(i, j int) bool {
		pi, pj := o.cfg.Policy(services[i].Name).Priority, o.cfg.Policy(services[j].Name).Priority
		if pi != pj {
			return pi < pj
		}
		return services[i].Name < services[j].Name
	})

	limit := o.cfg.ConcurrencyMax
	if limit < 1 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	var mu sync.Mutex
	results := make([]runlog.ServiceRun, len(services))
	for i, svc := range services {
		g.Go(func() error {
			sr := o.runService(gctx, svc, req)
			mu.Lock()
			results[i] = sr
			mu.Unlock()
			return nil
		})
	}
	// Per-service failures never propagate through the group.
	_ = g.Wait()

	run.Services = results
	run.FinishedAt = o.now()
	run.Outcome = overallOutcome(results)
	metrics.RecordRun(string(run.Outcome))

	if o.store != nil {
		if err := o.store.Record(ctx, run); err != nil {
			logger.Error().Err(err).Str("event", "orchestrator.runlog_failed").Msg("run record not persisted")
		}
		if o.cfg.RunRetentionDays > 0 {
			cutoff := o.now().AddDate(0, 0, -o.cfg.RunRetentionDays)
			if _, err := o.store.Prune(ctx, cutoff); err != nil {
				logger.Warn().Err(err).Str("event", "orchestrator.prune_failed").Msg("run log prune failed")
			}
		}
	}

	logger.Info().
		Str("event", "orchestrator.run_finished").
		Str("outcome", string(run.Outcome)).
		Int("services", len(results)).
		Dur("elapsed", run.FinishedAt.Sub(run.StartedAt)).
		Msg("pipeline run finished")
	return run, nil
}

func (o *Orchestrator) filter(services []Service, names []string) []Service {
	if len(names) == 0 {
		return services
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	filtered := services[:0]
	for _, svc := range services {
		if want[svc.Name] {
			filtered = append(filtered, svc)
		}
	}
	return filtered
}

// runService drives one service end to end. Extractor failures set the
// per-service flag but never halt the cleaner stages; a cleaner failure
// aborts the service's remaining stages only.
func (o *Orchestrator) runService(ctx context.Context, svc Service, req Request) runlog.ServiceRun {
	ctx = log.ContextWithService(ctx, svc.Name)
	logger := log.WithComponentFromContext(ctx, "orchestrator")
	sr := runlog.ServiceRun{Service: svc.Name, Outcome: runlog.OutcomeSuccess}
	var failures []string

	if !req.SkipExtractors {
		failures = append(failures, o.runExtractors(ctx, svc)...)
	}

	var report unit.Report
	cleanerErr := o.runStages(ctx, svc, &report)
	if cleanerErr != nil {
		failures = append(failures, cleanerErr.Error())
	}

	sr.Promoted = report.Count(unit.OutcomePromoted)
	sr.Skipped = report.Count(unit.OutcomeSkipped)
	sr.Quarantined = report.Count(unit.OutcomeQuarantined)
	sr.Failed = report.Count(unit.OutcomeFailed)

	if len(failures) > 0 {
		sr.Error = strings.Join(failures, "; ")
		if sr.Promoted > 0 || sr.Skipped > 0 {
			sr.Outcome = runlog.OutcomePartial
		} else {
			sr.Outcome = runlog.OutcomeFailed
		}
		logger.Warn().
			Str("event", "orchestrator.service_degraded").
			Str("outcome", string(sr.Outcome)).
			Str("error", sr.Error).
			Msg("service finished with failures")
	}
	return sr
}

// runExtractors executes every extractor for every effective account. The
// policy's extractors_parallel flag permits intra-service parallelism.
func (o *Orchestrator) runExtractors(ctx context.Context, svc Service) []string {
	if len(svc.Extractors) == 0 {
		return nil
	}
	policy := o.cfg.Policy(svc.Name)
	logger := log.WithComponentFromContext(ctx, "orchestrator")

	var mu sync.Mutex
	var failures []string
	record := func(msg string) {
		mu.Lock()
		failures = append(failures, msg)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	if policy.ExtractorsParallel {
		g.SetLimit(len(svc.Extractors))
	} else {
		g.SetLimit(1)
	}

	for _, account := range policy.EffectiveAccounts() {
		session, err := o.acquireSession(ctx, svc.Name, account, policy)
		if err != nil {
			record(fmt.Sprintf("session %s/%s: %v", svc.Name, account, err))
			metrics.RecordUnitFailure(svc.Name, string(unit.KindExtractor))
			continue
		}
		for _, ex := range svc.Extractors {
			x := newExecExtractor(o, ex, account)
			g.Go(func() error {
				result, err := x.Run(gctx, session)
				if err != nil {
					record(err.Error())
					metrics.RecordUnitFailure(svc.Name, string(unit.KindExtractor))
					return nil
				}
				logger.Debug().
					Str("event", "orchestrator.extractor_finished").
					Str("extractor", ex.Name).
					Str("account", account).
					Int("files_written", len(result.FilesWritten)).
					Msg("extractor finished")
				return nil
			})
		}
	}
	_ = g.Wait()
	return failures
}

// acquireSession yields a session when the service declares a strategy. The
// deadline stretches to the second-factor window for services that need a
// human in the loop; the acquirer applies the same rule to its login context.
func (o *Orchestrator) acquireSession(ctx context.Context, service, account string, policy config.ServicePolicy) (unit.Session, error) {
	if policy.Strategy == "" || o.sessions == nil {
		return nil, nil
	}
	timeout := o.cfg.Timeouts.SessionAcquire
	if policy.RequiresSecondFactor && o.cfg.Timeouts.SecondFactor > timeout {
		timeout = o.cfg.Timeouts.SecondFactor
	}
	acqCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	return o.sessions.Acquire(acqCtx, service, account)
}

// runStages walks the fixed cleaner order. Stage outputs feed the next stage,
// so the first cleaner failure aborts the remaining stages of this service.
func (o *Orchestrator) runStages(ctx context.Context, svc Service, report *unit.Report) error {
	for _, stage := range unit.Stages() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := o.runStage(ctx, svc, stage, report); err != nil {
			metrics.RecordUnitFailure(svc.Name, string(unit.KindCleaner))
			return fmt.Errorf("stage %s: %w", stage, err)
		}
	}
	return nil
}

func (o *Orchestrator) runStage(ctx context.Context, svc Service, stage unit.Stage, report *unit.Report) error {
	units := cleanersFor(svc, stage)

	switch stage {
	case unit.StageLanding2Raw:
		// Exec'd landing2raw units validate landing in place before the
		// engine's content-addressed promotion.
		for _, u := range units {
			if err := o.runCleanerUnit(ctx, u, nil); err != nil {
				return err
			}
		}
		r, err := o.eng.PromoteLanding2Raw(ctx, svc.Name)
		report.Merge(r)
		return err

	case unit.StageRaw2Staging:
		for _, u := range units {
			cleaner := newExecCleaner(o, u)
			r, err := o.eng.RunRaw2Staging(ctx, svc.Name, cleaner)
			report.Merge(r)
			if err != nil {
				return err
			}
		}
		return nil

	case unit.StageStaging2Curated:
		if len(units) == 0 {
			return nil
		}
		dir, err := o.eng.CandidateDir(svc.Name)
		if err != nil {
			return err
		}
		for _, u := range units {
			if err := o.runCleanerUnit(ctx, u, []string{"ZONELIFT_OUTPUT_DIR=" + dir}); err != nil {
				return err
			}
		}
		r, err := o.eng.CommitCuratedDir(ctx, svc.Name, dir)
		report.Merge(r)
		return err
	}
	return nil
}

// runCleanerUnit execs one cleaner with the stage timeout and cleaner-grade
// error classification.
func (o *Orchestrator) runCleanerUnit(ctx context.Context, u unit.Unit, extraEnv []string) error {
	policy := o.cfg.Policy(u.Service)
	env := append([]string{
		"ZONELIFT_STAGE=" + u.Stage.String(),
		"ZONELIFT_STAGING_MODE=" + string(policy.StagingOutput),
	}, extraEnv...)

	runCtx, cancel := withTimeout(ctx, o.cfg.Timeouts.Cleaner)
	defer cancel()
	err := unit.RunWithRetry(runCtx, o.cfg.Retry, func() error {
		return o.runner.Run(runCtx, u, env)
	})
	if err != nil && !errors.Is(err, unit.ErrSchemaChanged) {
		return fmt.Errorf("%v: %w", err, unit.ErrCleanerFailed)
	}
	return err
}

func cleanersFor(svc Service, stage unit.Stage) []unit.Unit {
	var units []unit.Unit
	for _, u := range svc.Cleaners {
		if u.Stage == stage {
			units = append(units, u)
		}
	}
	return units
}

func overallOutcome(results []runlog.ServiceRun) runlog.Outcome {
	failed, succeeded := 0, 0
	for _, sr := range results {
		switch sr.Outcome {
		case runlog.OutcomeSuccess:
			succeeded++
		case runlog.OutcomePartial:
			succeeded++
			failed++
		default:
			failed++
		}
	}
	switch {
	case failed == 0:
		return runlog.OutcomeSuccess
	case succeeded == 0:
		return runlog.OutcomeFailed
	default:
		return runlog.OutcomePartial
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
