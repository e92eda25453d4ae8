// SPDX-License-Identifier: MIT

package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/zonelift/zonelift/internal/hash"
	"github.com/zonelift/zonelift/internal/log"
	"github.com/zonelift/zonelift/internal/metrics"
	"github.com/zonelift/zonelift/internal/unit"
	"github.com/zonelift/zonelift/internal/zone"
)

// PromoteLanding2Raw validates and promotes every landing file of a service
// into raw, deduplicating on content digest. One file's failure never aborts
// the batch; the landing copy is left untouched for audit.
func (e *Engine) PromoteLanding2Raw(ctx context.Context, service string) (unit.Report, error) {
	logger := log.WithComponentFromContext(ctx, "engine")
	var report unit.Report

	release, err := e.locks.acquire(ctx, zone.Raw, service)
	if err != nil {
		return report, err
	}
	defer release()

	rawDir, err := e.layout.EnsureZone(zone.Raw, service)
	if err != nil {
		return report, err
	}
	idx, err := hash.LoadIndex(rawDir)
	if err != nil {
		return report, err
	}

	candidates, err := e.layout.ListFilesRecursive(zone.Landing, service, "")
	if err != nil {
		return report, err
	}

	for _, rec := range candidates {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		outcome := e.promoteOne(ctx, service, rec, rawDir, idx)
		report.Add(outcome)
		metrics.RecordFileOutcome("landing2raw", string(outcome.Kind))
	}

	if err := idx.Save(); err != nil {
		return report, err
	}

	logger.Info().
		Str("event", "engine.landing2raw").
		Str("pipeline_service", service).
		Int("promoted", report.Count(unit.OutcomePromoted)).
		Int("skipped", report.Count(unit.OutcomeSkipped)).
		Int("failed", report.Count(unit.OutcomeFailed)).
		Msg("landing to raw promotion finished")
	return report, nil
}

// promoteOne walks a single landing file through the per-file state machine:
// NEW -> SEEN (digest computed) -> PROMOTED | SKIPPED, or ERRORED on I/O
// failure.
func (e *Engine) promoteOne(ctx context.Context, service string, rec zone.FileRecord, rawDir string, idx *hash.Index) unit.FileOutcome {
	logger := log.WithComponentFromContext(ctx, "engine")

	digest, err := e.digest(rec)
	if err != nil {
		logger.Warn().
			Err(err).
			Str("event", "engine.hash_failed").
			Str("path", rec.Path).
			Msg("digest failed after retry, skipping file")
		return unit.FileOutcome{Basename: rec.Basename, Kind: unit.OutcomeFailed, Reason: err.Error()}
	}

	key := indexKey(rec)
	if idx.HasDigest(digest) {
		return unit.FileOutcome{Basename: rec.Basename, Kind: unit.OutcomeSkipped, Reason: "already promoted"}
	}

	target := filepath.Join(rawDir, rec.Subpath, rec.Basename)
	if existing, ok := idx.Get(key); ok && existing != digest {
		// Same name, different bytes: keep both under a conflict suffix.
		target = conflictPath(target, zone.TimestampSuffix(e.now()))
		key = indexKeyFor(rec.Subpath, filepath.Base(target))
	}

	if err := e.copyAtomic(rec.Path, target); err != nil {
		logger.Error().
			Err(err).
			Str("event", "engine.promote_failed").
			Str("path", rec.Path).
			Msg("raw copy failed")
		return unit.FileOutcome{Basename: rec.Basename, Kind: unit.OutcomeFailed, Reason: err.Error()}
	}

	if e.policies != nil {
		if ext := e.policies(service).RawTranscode; ext != "" && ext != "none" {
			e.transcodeSibling(ctx, target, ext)
		}
	}

	idx.Put(key, digest)
	return unit.FileOutcome{Basename: rec.Basename, Kind: unit.OutcomePromoted, Target: target}
}

func indexKey(rec zone.FileRecord) string {
	return indexKeyFor(rec.Subpath, rec.Basename)
}

func indexKeyFor(subpath, basename string) string {
	if subpath == "" {
		return basename
	}
	return filepath.ToSlash(filepath.Join(subpath, basename))
}

// conflictPath appends `__<ts>` before the extension.
func conflictPath(path, ts string) string {
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	return fmt.Sprintf("%s__%s%s", stem, ts, ext)
}
