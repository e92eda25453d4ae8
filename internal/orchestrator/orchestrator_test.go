package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zonelift/zonelift/internal/config"
	"github.com/zonelift/zonelift/internal/engine"
	"github.com/zonelift/zonelift/internal/runlog"
	"github.com/zonelift/zonelift/internal/unit"
	"github.com/zonelift/zonelift/internal/zone"
)

// fakeRunner records unit invocations instead of exec'ing anything.
type fakeRunner struct {
	mu    sync.Mutex
	calls []unit.Unit
	envs  [][]string
	fail  func(u unit.Unit) error
}

func (r *fakeRunner) Run(_ context.Context, u unit.Unit, extraEnv []string) error {
	r.mu.Lock()
	r.calls = append(r.calls, u)
	r.envs = append(r.envs, extraEnv)
	r.mu.Unlock()
	if r.fail != nil {
		return r.fail(u)
	}
	return nil
}

func (r *fakeRunner) callNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.calls))
	for i, u := range r.calls {
		names[i] = u.Service + "/" + u.Name
	}
	return names
}

func testConfig(root string) config.Runtime {
	cfg := config.Defaults()
	cfg.ProjectRoot = root
	cfg.Retry = config.Retry{BaseMS: 1, CapMS: 2, MaxTries: 1}
	return cfg
}

func seedService(t *testing.T, root, name string, extractors, cleaners []string) {
	t.Helper()
	for _, e := range extractors {
		path := filepath.Join(root, "src", name, "extractors", e)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o644))
	}
	for _, c := range cleaners {
		path := filepath.Join(root, "src", name, "cleaners", c)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o644))
	}
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	seedService(t, root, "alpha", []string{"harvest.py", "notes.txt"},
		[]string{"20_raw2staging_alpha.py", "10_landing2raw_alpha.py", "30_staging2curated.py", "helper.py"})
	seedService(t, root, "beta", []string{"pull.sh"}, nil)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src", ".hidden", "extractors"), 0o750))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src", "not-a-service", "docs"), 0o750))

	services, err := Discover(root, nil)
	require.NoError(t, err)
	require.Len(t, services, 2)

	alpha := services[0]
	assert.Equal(t, "alpha", alpha.Name)
	require.Len(t, alpha.Extractors, 1) // .txt does not qualify
	assert.Equal(t, "harvest", alpha.Extractors[0].Name)

	// "helper.py" has no stage token and is dropped; order follows the stage
	// enum, not the filename.
	require.Len(t, alpha.Cleaners, 3)
	assert.Equal(t, unit.StageLanding2Raw, alpha.Cleaners[0].Stage)
	assert.Equal(t, unit.StageRaw2Staging, alpha.Cleaners[1].Stage)
	assert.Equal(t, unit.StageStaging2Curated, alpha.Cleaners[2].Stage)

	assert.Equal(t, "beta", services[1].Name)
	assert.Empty(t, services[1].Cleaners)
}

func TestDiscoverExecutableBit(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "src", "alpha", "extractors", "harvest")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))

	services, err := Discover(root, nil)
	require.NoError(t, err)
	require.Len(t, services, 1)
	require.Len(t, services[0].Extractors, 1)
	assert.Equal(t, "harvest", services[0].Extractors[0].Name)
}

func newTestOrchestrator(t *testing.T, cfg config.Runtime, runner UnitRunner, opts ...Option) *Orchestrator {
	t.Helper()
	eng := engine.New(zone.NewLayout(cfg.ProjectRoot), cfg.Retry)
	return New(cfg, eng, runner, opts...)
}

func TestRunPromotesLandingFiles(t *testing.T) {
	root := t.TempDir()
	seedService(t, root, "alpha", nil, []string{"raw2staging_alpha.py"})
	require.NoError(t, os.MkdirAll(filepath.Join(root, "landing", "alpha"), 0o750))
	require.NoError(t, os.WriteFile(
		filepath.Join(root, "landing", "alpha", "data_20250101_010000.json"), []byte("payload"), 0o600))

	runner := &fakeRunner{}
	o := newTestOrchestrator(t, testConfig(root), runner)

	run, err := o.Run(context.Background(), Request{Trigger: "manual"})
	require.NoError(t, err)
	assert.Equal(t, runlog.OutcomeSuccess, run.Outcome)
	require.Len(t, run.Services, 1)
	// One landing promotion plus one exec'd raw2staging input.
	assert.Equal(t, 2, run.Services[0].Promoted)

	_, statErr := os.Stat(filepath.Join(root, "raw", "alpha", "data_20250101_010000.json"))
	assert.NoError(t, statErr)
	// The cleaner unit ran with an input list.
	require.Len(t, runner.calls, 1)
	assert.Equal(t, unit.StageRaw2Staging, runner.calls[0].Stage)
}

func TestCrossServiceFailureIsolation(t *testing.T) {
	root := t.TempDir()
	seedService(t, root, "delta", []string{"harvest.py"}, nil)
	seedService(t, root, "epsilon", []string{"harvest.py"}, nil)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "landing", "epsilon"), 0o750))
	require.NoError(t, os.WriteFile(
		filepath.Join(root, "landing", "epsilon", "ok_20250101_010000.json"), []byte("fine"), 0o600))

	runner := &fakeRunner{fail: func(u unit.Unit) error {
		if u.Service == "delta" {
			return fmt.Errorf("unit %s exit 12: %w", u, unit.ErrUpstreamUnavailable)
		}
		return nil
	}}
	o := newTestOrchestrator(t, testConfig(root), runner)

	run, err := o.Run(context.Background(), Request{Trigger: "manual"})
	require.NoError(t, err)
	assert.Equal(t, runlog.OutcomePartial, run.Outcome)

	byName := map[string]runlog.ServiceRun{}
	for _, sr := range run.Services {
		byName[sr.Service] = sr
	}
	assert.Equal(t, runlog.OutcomeFailed, byName["delta"].Outcome)
	assert.Contains(t, byName["delta"].Error, "exit 12")
	assert.Equal(t, runlog.OutcomeSuccess, byName["epsilon"].Outcome)
	assert.Equal(t, 1, byName["epsilon"].Promoted)
}

func TestPriorityOrdering(t *testing.T) {
	root := t.TempDir()
	seedService(t, root, "last", []string{"harvest.py"}, nil)
	seedService(t, root, "first", []string{"harvest.py"}, nil)

	cfg := testConfig(root)
	cfg.ConcurrencyMax = 1
	cfg.Services = map[string]config.ServicePolicy{
		"first": {Priority: 1},
		"last":  {Priority: 9},
	}

	runner := &fakeRunner{}
	o := newTestOrchestrator(t, cfg, runner)

	_, err := o.Run(context.Background(), Request{Trigger: "manual"})
	require.NoError(t, err)
	assert.Equal(t, []string{"first/harvest", "last/harvest"}, runner.callNames())
}

func TestSkipExtractors(t *testing.T) {
	root := t.TempDir()
	seedService(t, root, "alpha", []string{"harvest.py"}, nil)

	runner := &fakeRunner{}
	o := newTestOrchestrator(t, testConfig(root), runner)

	run, err := o.Run(context.Background(), Request{Trigger: "manual", SkipExtractors: true})
	require.NoError(t, err)
	assert.Equal(t, runlog.OutcomeSuccess, run.Outcome)
	assert.Empty(t, runner.calls)
}

func TestServiceFilter(t *testing.T) {
	root := t.TempDir()
	seedService(t, root, "alpha", []string{"harvest.py"}, nil)
	seedService(t, root, "beta", []string{"harvest.py"}, nil)

	runner := &fakeRunner{}
	o := newTestOrchestrator(t, testConfig(root), runner)

	run, err := o.Run(context.Background(), Request{Trigger: "manual", Services: []string{"beta"}})
	require.NoError(t, err)
	require.Len(t, run.Services, 1)
	assert.Equal(t, "beta", run.Services[0].Service)
}

// fakeSessions records the acquire context deadline per service.
type fakeSessions struct {
	mu        sync.Mutex
	deadlines map[string]time.Time
}

func (s *fakeSessions) Acquire(ctx context.Context, service, account string) (unit.Session, error) {
	deadline, _ := ctx.Deadline()
	s.mu.Lock()
	s.deadlines[service] = deadline
	s.mu.Unlock()
	return stubSession{service: service, account: account}, nil
}

type stubSession struct{ service, account string }

func (s stubSession) Service() string { return s.service }
func (s stubSession) Account() string { return s.account }
func (s stubSession) Env() []string   { return []string{"ZONELIFT_COOKIE_HEADER=sid=x"} }

func TestSecondFactorServiceGetsExtendedAcquireDeadline(t *testing.T) {
	root := t.TempDir()
	seedService(t, root, "bank", []string{"harvest.py"}, nil)
	seedService(t, root, "plain", []string{"harvest.py"}, nil)

	cfg := testConfig(root)
	cfg.Timeouts.SessionAcquire = 30 * time.Second
	cfg.Timeouts.SecondFactor = 5 * time.Minute
	cfg.Services = map[string]config.ServicePolicy{
		"bank": {
			Strategy: config.StrategyInteractive, MaxCredentialAgeDays: 14,
			RequiresSecondFactor: true,
		},
		"plain": {Strategy: config.StrategyInteractive, MaxCredentialAgeDays: 14},
	}

	sessions := &fakeSessions{deadlines: map[string]time.Time{}}
	o := newTestOrchestrator(t, cfg, &fakeRunner{}, WithSessions(sessions))

	start := time.Now()
	_, err := o.Run(context.Background(), Request{Trigger: "manual"})
	require.NoError(t, err)

	require.Contains(t, sessions.deadlines, "bank")
	require.Contains(t, sessions.deadlines, "plain")
	// The second-factor window must survive the shorter acquire timeout.
	assert.Greater(t, sessions.deadlines["bank"].Sub(start), time.Minute)
	assert.Less(t, sessions.deadlines["plain"].Sub(start), time.Minute)
}

func TestExecExtractorReportsLandingWrites(t *testing.T) {
	root := t.TempDir()
	landing := filepath.Join(root, "landing", "alpha")
	require.NoError(t, os.MkdirAll(landing, 0o750))

	old := filepath.Join(landing, "old_20250101_010000.json")
	require.NoError(t, os.WriteFile(old, []byte("old"), 0o600))
	stale := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(old, stale, stale))

	runner := &fakeRunner{fail: func(unit.Unit) error {
		return os.WriteFile(filepath.Join(landing, "new_20250102_020000.json"), []byte("new"), 0o600)
	}}
	o := newTestOrchestrator(t, testConfig(root), runner)

	x := newExecExtractor(o, unit.Unit{Service: "alpha", Kind: unit.KindExtractor, Name: "harvest"}, "default")
	result, err := x.Run(context.Background(), nil)
	require.NoError(t, err)

	require.Len(t, result.FilesWritten, 1)
	assert.Equal(t, filepath.Join(landing, "new_20250102_020000.json"), result.FilesWritten[0])
}

func TestSchemaChangeQuarantinesInputs(t *testing.T) {
	root := t.TempDir()
	seedService(t, root, "alpha", nil, []string{"raw2staging_alpha.py"})
	require.NoError(t, os.MkdirAll(filepath.Join(root, "raw", "alpha"), 0o750))
	require.NoError(t, os.WriteFile(
		filepath.Join(root, "raw", "alpha", "rows_20250101_010000.csv"), []byte("x\n"), 0o600))

	runner := &fakeRunner{fail: func(u unit.Unit) error {
		return fmt.Errorf("unit %s exit 13: %w", u, unit.ErrSchemaChanged)
	}}
	o := newTestOrchestrator(t, testConfig(root), runner)

	run, err := o.Run(context.Background(), Request{Trigger: "manual"})
	require.NoError(t, err)
	require.Len(t, run.Services, 1)
	assert.Equal(t, 1, run.Services[0].Quarantined)

	_, statErr := os.Stat(filepath.Join(root, "quarantine", "alpha", "rows_20250101_010000.csv"))
	assert.NoError(t, statErr)
}

func TestRunRecordsPersisted(t *testing.T) {
	root := t.TempDir()
	seedService(t, root, "alpha", []string{"harvest.py"}, nil)

	store, err := runlog.Open(filepath.Join(root, "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	runner := &fakeRunner{}
	o := newTestOrchestrator(t, testConfig(root), runner, WithRunLog(store),
		WithClock(func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }))

	run, err := o.Run(context.Background(), Request{Trigger: "interval"})
	require.NoError(t, err)

	stored, err := store.LastRunFor(context.Background(), "alpha")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, run.ID, stored.ID)
	assert.Equal(t, "interval", stored.Trigger)
}
