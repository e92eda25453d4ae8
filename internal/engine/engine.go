// SPDX-License-Identifier: MIT

// Package engine is the zone pipeline core: it applies cleaners, enforces the
// promotion invariants, and archives replaced curated artifacts. Every
// committed write is temp-file + rename; a crash at any point leaves either
// the old state intact or the new state complete.
package engine

import (
	"time"

	"github.com/zonelift/zonelift/internal/config"
	"github.com/zonelift/zonelift/internal/hash"
	platformfs "github.com/zonelift/zonelift/internal/platform/fs"
	"github.com/zonelift/zonelift/internal/zone"
)

// Engine owns all zone files. No other component mutates them.
type Engine struct {
	layout   *zone.Layout
	cache    *hash.Cache // optional digest cache; nil is valid
	retry    config.Retry
	locks    *lockSet
	policies func(service string) config.ServicePolicy // nil means zero policies
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithDigestCache attaches the badger-backed digest cache.
func WithDigestCache(c *hash.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithClock injects a deterministic clock for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithPolicies lets the engine consult per-service policy knobs such as
// raw_transcode.
func WithPolicies(p func(service string) config.ServicePolicy) Option {
	return func(e *Engine) { e.policies = p }
}

// New creates an engine over the given layout.
func New(layout *zone.Layout, retry config.Retry, opts ...Option) *Engine {
	e := &Engine{
		layout: layout,
		retry:  retry,
		locks:  newLockSet(layout.Root()),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Layout exposes the layout for collaborators that enumerate zones.
func (e *Engine) Layout() *zone.Layout { return e.layout }

// digest hashes a file record, retrying once on HashError per the error
// policy, consulting the cache when one is attached.
func (e *Engine) digest(rec zone.FileRecord) (hash.Digest, error) {
	d, err := e.cache.FileCached(rec.Path, rec.Size, rec.ModTime)
	if err == nil {
		return d, nil
	}
	// One retry, then the caller records the skip.
	return e.cache.FileCached(rec.Path, rec.Size, rec.ModTime)
}

func (e *Engine) copyAtomic(src, dst string) error {
	return platformfs.CopyFileAtomic(src, dst, 0o644)
}
