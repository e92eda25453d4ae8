// SPDX-License-Identifier: MIT

package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/zonelift/zonelift/internal/zone"
)

// staleLockAge is how old a lock file may grow before a new writer assumes
// its owner crashed and takes over.
const staleLockAge = 10 * time.Minute

// lockSet serializes writers per (zone, service) with lock files under
// state/locks. Readers never block.
type lockSet struct {
	dir string

	mu    sync.Mutex
	local map[string]*sync.Mutex
}

func newLockSet(projectRoot string) *lockSet {
	return &lockSet{
		dir:   filepath.Join(projectRoot, "state", "locks"),
		local: map[string]*sync.Mutex{},
	}
}

// acquire blocks until the (zone, service) write lock is held or ctx ends.
// The in-process mutex covers goroutines; the lock file covers processes.
func (ls *lockSet) acquire(ctx context.Context, z zone.Zone, service string) (release func(), err error) {
	key := string(z) + "-" + service

	ls.mu.Lock()
	local, ok := ls.local[key]
	if !ok {
		local = &sync.Mutex{}
		ls.local[key] = local
	}
	ls.mu.Unlock()

	local.Lock()

	path := filepath.Join(ls.dir, key+".lock")
	if err := os.MkdirAll(ls.dir, 0o750); err != nil {
		local.Unlock()
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640) // #nosec G304
		if err == nil {
			_, _ = f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
			_ = f.Close()
			return func() {
				_ = os.Remove(path)
				local.Unlock()
			}, nil
		}
		if !os.IsExist(err) {
			local.Unlock()
			return nil, fmt.Errorf("acquire lock %s: %w", path, err)
		}
		if info, statErr := os.Stat(path); statErr == nil && time.Since(info.ModTime()) > staleLockAge {
			_ = os.Remove(path)
			continue
		}
		select {
		case <-ctx.Done():
			local.Unlock()
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}
