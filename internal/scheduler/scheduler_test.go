package scheduler

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/zonelift/zonelift/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testRuntime(root string) config.Runtime {
	cfg := config.Defaults()
	cfg.ProjectRoot = root
	cfg.ScheduleEvery = 0 // tests drive triggers manually
	return cfg
}

func TestRunLockExclusive(t *testing.T) {
	root := t.TempDir()
	first := NewRunLock(root)
	require.NoError(t, first.Acquire())

	second := NewRunLock(root)
	assert.ErrorIs(t, second.Acquire(), ErrAlreadyRunning)

	first.Release()
	require.NoError(t, second.Acquire())
	second.Release()
}

func TestRunLockStaleTakeover(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("pid liveness probe is unix-only")
	}
	root := t.TempDir()

	// Record the pid of a process that has already exited.
	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())
	deadPid := cmd.Process.Pid

	lockPath := filepath.Join(root, "state", "orchestrator.lock")
	require.NoError(t, os.MkdirAll(filepath.Dir(lockPath), 0o750))
	require.NoError(t, os.WriteFile(lockPath, fmt.Appendf(nil, "%d\n", deadPid), 0o640))

	lock := NewRunLock(root)
	require.NoError(t, lock.Acquire())
	lock.Release()
}

func TestRunLockKeepsMalformedLock(t *testing.T) {
	root := t.TempDir()
	lockPath := filepath.Join(root, "state", "orchestrator.lock")
	require.NoError(t, os.MkdirAll(filepath.Dir(lockPath), 0o750))
	require.NoError(t, os.WriteFile(lockPath, []byte("garbage\n"), 0o640))

	lock := NewRunLock(root)
	assert.ErrorIs(t, lock.Acquire(), ErrAlreadyRunning)
}

func TestTriggerCoalescing(t *testing.T) {
	s := New(testRuntime(t.TempDir()), func(context.Context, string) error { return nil })
	assert.True(t, s.Trigger("manual"))
	assert.False(t, s.Trigger("manual"), "second trigger must coalesce into the queued one")
}

func TestSchedulerExecutesTriggers(t *testing.T) {
	var runs atomic.Int32
	done := make(chan struct{}, 4)
	s := New(testRuntime(t.TempDir()), func(_ context.Context, trigger string) error {
		runs.Add(1)
		done <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.Run(ctx)
	}()

	require.True(t, s.Trigger("manual"))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("trigger was not executed")
	}

	cancel()
	wg.Wait()
	assert.EqualValues(t, 1, runs.Load())
}

func TestAtMostOneConcurrentPass(t *testing.T) {
	var active atomic.Int32
	var maxActive atomic.Int32
	var runs atomic.Int32
	release := make(chan struct{})
	done := make(chan struct{}, 8)

	s := New(testRuntime(t.TempDir()), func(context.Context, string) error {
		n := active.Add(1)
		if n > maxActive.Load() {
			maxActive.Store(n)
		}
		<-release
		active.Add(-1)
		runs.Add(1)
		done <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.Run(ctx)
	}()

	require.True(t, s.Trigger("manual"))
	require.Eventually(t, func() bool { return active.Load() == 1 }, 5*time.Second, 10*time.Millisecond)

	// One trigger queues; the next coalesces into it.
	queued := s.Trigger("interval")
	coalesced := s.Trigger("remediator")
	assert.True(t, queued)
	assert.False(t, coalesced)

	close(release)
	for range 2 {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("queued pass did not run")
		}
	}

	cancel()
	wg.Wait()
	assert.EqualValues(t, 2, runs.Load(), "three triggers collapse into two passes")
	assert.EqualValues(t, 1, maxActive.Load())
}

func TestLandingWatchFiresOnce(t *testing.T) {
	root := t.TempDir()
	fired := make(chan struct{}, 4)
	w, err := newLandingWatcher(root, func() { fired <- struct{}{} })
	require.NoError(t, err)
	w.debounce = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.run(ctx)
	}()

	// A burst of writes lands as a single trigger.
	for i := range 3 {
		path := filepath.Join(root, "landing", fmt.Sprintf("file%d_20250101_010000.json", i))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	}

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not fire")
	}
	select {
	case <-fired:
		t.Fatal("burst fired more than once")
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	w.close()
	wg.Wait()
}
