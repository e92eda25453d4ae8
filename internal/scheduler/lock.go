// SPDX-License-Identifier: MIT

package scheduler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zonelift/zonelift/internal/log"
)

// ErrAlreadyRunning means another process holds the orchestrator lock.
var ErrAlreadyRunning = errors.New("an orchestration pass is already running")

// RunLock is the system-wide orchestrator mutex: a lock file carrying the
// holder's PID under state/. A lock left behind by a dead process is taken
// over.
type RunLock struct {
	path string
}

// NewRunLock returns the lock for the given project root.
func NewRunLock(projectRoot string) *RunLock {
	return &RunLock{path: filepath.Join(projectRoot, "state", "orchestrator.lock")}
}

// Acquire takes the lock or fails with ErrAlreadyRunning.
func (l *RunLock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o750); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	for range 2 {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640) // #nosec G304
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
			if cerr := f.Close(); werr == nil {
				werr = cerr
			}
			if werr != nil {
				_ = os.Remove(l.path)
				return fmt.Errorf("write lock %s: %w", l.path, werr)
			}
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("acquire lock %s: %w", l.path, err)
		}
		if !l.holderDead() {
			return ErrAlreadyRunning
		}
		logger := log.WithComponent("scheduler")
		logger.Warn().
			Str("event", "scheduler.stale_lock_takeover").
			Str("path", l.path).
			Msg("removing lock of a dead process")
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove stale lock %s: %w", l.path, err)
		}
	}
	return ErrAlreadyRunning
}

// Release drops the lock. Safe to call when not held.
func (l *RunLock) Release() {
	_ = os.Remove(l.path)
}

// holderDead reports whether the PID recorded in the lock no longer exists.
// An unreadable or malformed lock is treated as live to stay on the safe side.
func (l *RunLock) holderDead() bool {
	data, err := os.ReadFile(l.path) // #nosec G304
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return false
	}
	if pid == os.Getpid() {
		return false
	}
	return !pidAlive(pid)
}
