// SPDX-License-Identifier: MIT

package unit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/zonelift/zonelift/internal/log"
	"github.com/zonelift/zonelift/internal/procgroup"
)

// Exit codes units use to signal a typed failure back to the orchestrator.
// Anything else is classified as a transient failure.
const (
	exitAuthFailed          = 10
	exitRateLimited         = 11
	exitUpstreamUnavailable = 12
	exitSchemaChanged       = 13
)

// RunnerConfig captures the isolation parameters of exec'd units.
type RunnerConfig struct {
	ProjectRoot    string
	LogLevel       string
	CredentialsDir string
	KillGrace      time.Duration
}

// Runner executes script units in their own process group with the injected
// environment, working directory pinned to the project root, and stdout or
// stderr captured into the per-run log tree.
type Runner struct {
	cfg RunnerConfig
}

// NewRunner returns a runner for the given isolation parameters.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 5 * time.Second
	}
	return &Runner{cfg: cfg}
}

// Run executes the unit and classifies its exit status into the failure
// taxonomy. The context deadline is the unit's stage timeout; on expiry the
// whole process group is killed and any temp files the unit held are
// abandoned per the engine's temp-file discipline.
func (r *Runner) Run(ctx context.Context, u Unit, extraEnv []string) error {
	logger := log.WithComponentFromContext(ctx, "runner")

	cmd := exec.CommandContext(ctx, u.Path) // #nosec G204 -- path comes from discovery, confined to src/
	cmd.Dir = r.cfg.ProjectRoot
	cmd.Env = append(os.Environ(),
		"PROJECT_ROOT="+r.cfg.ProjectRoot,
		"LOG_LEVEL="+r.cfg.LogLevel,
		"CREDENTIALS_DIR="+r.cfg.CredentialsDir,
		"ZONELIFT_SERVICE="+u.Service,
	)
	cmd.Env = append(cmd.Env, extraEnv...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if logFile := r.unitLog(u); logFile != nil {
		defer logFile.Close() //nolint:errcheck // best-effort unit log
		cmd.Stdout = logFile
	}

	procgroup.Set(cmd)
	cmd.Cancel = func() error {
		return procgroup.KillGroup(cmd.Process.Pid, r.cfg.KillGrace)
	}

	started := time.Now()
	err := cmd.Run()
	elapsed := time.Since(started)

	if err == nil {
		logger.Debug().
			Str("event", "runner.unit_ok").
			Str("unit", u.String()).
			Dur("elapsed", elapsed).
			Msg("unit completed")
		return nil
	}

	if ctx.Err() != nil {
		return fmt.Errorf("unit %s timed out after %s: %w", u, elapsed, ErrTransient)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		kind := classifyExit(exitErr.ExitCode())
		logger.Warn().
			Str("event", "runner.unit_failed").
			Str("unit", u.String()).
			Int("exit_code", exitErr.ExitCode()).
			Str("stderr", truncate(stderr.String(), 2048)).
			Msg("unit exited non-zero")
		return fmt.Errorf("unit %s exit %d: %w", u, exitErr.ExitCode(), kind)
	}
	return fmt.Errorf("unit %s: %v: %w", u, err, ErrTransient)
}

func classifyExit(code int) error {
	switch code {
	case exitAuthFailed:
		return ErrAuthFailed
	case exitRateLimited:
		return ErrRateLimited
	case exitUpstreamUnavailable:
		return ErrUpstreamUnavailable
	case exitSchemaChanged:
		return ErrSchemaChanged
	default:
		return ErrTransient
	}
}

// unitLog opens logs/<yyyymmdd>/<service>/<unit>.log for appending; stdout
// falls back to discard when the log tree is unwritable so a logging failure
// never fails the unit.
func (r *Runner) unitLog(u Unit) *os.File {
	dir := filepath.Join(r.cfg.ProjectRoot, "logs", time.Now().UTC().Format("20060102"), u.Service)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(dir, u.Name+".log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640) // #nosec G304
	if err != nil {
		return nil
	}
	return f
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
