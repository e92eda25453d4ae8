// SPDX-License-Identifier: MIT

package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zonelift/zonelift/internal/hash"
	"github.com/zonelift/zonelift/internal/log"
	"github.com/zonelift/zonelift/internal/metrics"
	platformfs "github.com/zonelift/zonelift/internal/platform/fs"
	"github.com/zonelift/zonelift/internal/unit"
	"github.com/zonelift/zonelift/internal/zone"
)

// CuratedCandidate is an artifact a staging2curated cleaner produced in a
// temporary path, ready for the engine to commit.
type CuratedCandidate struct {
	Name     string // stable curated basename, e.g. "summary.csv"
	TempPath string
}

// CandidateDir returns the scratch directory staging2curated units write
// candidates into; the engine commits whatever appears there after the unit
// exits. The directory is per service and wiped before each run.
func (e *Engine) CandidateDir(service string) (string, error) {
	dir := filepath.Join(e.layout.Root(), "state", "tmp", service)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("reset candidate dir %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create candidate dir %s: %w", dir, err)
	}
	return dir, nil
}

// CommitCuratedDir commits every candidate found in dir. A failure on one
// candidate aborts only that artifact; the remaining candidates still commit
// and prior curated content stays intact.
func (e *Engine) CommitCuratedDir(ctx context.Context, service, dir string) (unit.Report, error) {
	logger := log.WithComponentFromContext(ctx, "engine")
	var report unit.Report
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return report, nil
		}
		return report, fmt.Errorf("read candidate dir %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		outcome, err := e.CommitCurated(ctx, service, CuratedCandidate{
			Name:     entry.Name(),
			TempPath: filepath.Join(dir, entry.Name()),
		})
		report.Add(outcome)
		if err != nil {
			logger.Warn().Err(err).
				Str("event", "engine.curated_candidate_failed").
				Str("pipeline_service", service).
				Str("artifact", entry.Name()).
				Msg("candidate not committed, continuing with the rest")
		}
	}
	return report, nil
}

// CommitCurated atomically refreshes one curated artifact from a candidate:
// unchanged content is a recorded no-op; otherwise the prior artifact is
// archived first and the candidate renamed into place. Readers observe either
// the old artifact in full or the new artifact in full.
func (e *Engine) CommitCurated(ctx context.Context, service string, cand CuratedCandidate) (unit.FileOutcome, error) {
	logger := log.WithComponentFromContext(ctx, "engine")

	release, err := e.locks.acquire(ctx, zone.Curated, service)
	if err != nil {
		return unit.FileOutcome{Basename: cand.Name, Kind: unit.OutcomeFailed, Reason: err.Error()}, err
	}
	defer release()

	curatedDir, err := e.layout.EnsureZone(zone.Curated, service)
	if err != nil {
		return unit.FileOutcome{Basename: cand.Name, Kind: unit.OutcomeFailed, Reason: err.Error()}, err
	}
	idx, err := hash.LoadIndex(curatedDir)
	if err != nil {
		return unit.FileOutcome{Basename: cand.Name, Kind: unit.OutcomeFailed, Reason: err.Error()}, err
	}

	candDigest, err := hash.File(cand.TempPath)
	if err != nil {
		return unit.FileOutcome{Basename: cand.Name, Kind: unit.OutcomeFailed, Reason: err.Error()}, err
	}

	current := filepath.Join(curatedDir, cand.Name)
	if existing, ok := idx.Get(cand.Name); ok && existing == candDigest {
		_ = os.Remove(cand.TempPath)
		metrics.RecordFileOutcome("staging2curated", string(unit.OutcomeSkipped))
		return unit.FileOutcome{Basename: cand.Name, Kind: unit.OutcomeSkipped, Reason: "unchanged"}, nil
	}

	// Archive the prior artifact before replacement.
	if _, statErr := os.Stat(current); statErr == nil {
		if err := e.archiveCurated(service, current, cand.Name); err != nil {
			// Abort: prior curated remains intact.
			metrics.RecordFileOutcome("staging2curated", string(unit.OutcomeFailed))
			return unit.FileOutcome{Basename: cand.Name, Kind: unit.OutcomeFailed, Reason: err.Error()}, err
		}
	}

	if err := platformfs.MoveFileAtomic(cand.TempPath, current, 0o644); err != nil {
		metrics.RecordFileOutcome("staging2curated", string(unit.OutcomeFailed))
		return unit.FileOutcome{Basename: cand.Name, Kind: unit.OutcomeFailed, Reason: err.Error()}, err
	}

	idx.Put(cand.Name, candDigest)
	if err := idx.Save(); err != nil {
		return unit.FileOutcome{Basename: cand.Name, Kind: unit.OutcomeFailed, Reason: err.Error()}, err
	}

	metrics.RecordFileOutcome("staging2curated", string(unit.OutcomePromoted))
	logger.Info().
		Str("event", "engine.curated_replaced").
		Str("pipeline_service", service).
		Str("artifact", cand.Name).
		Msg("curated artifact refreshed")
	return unit.FileOutcome{Basename: cand.Name, Kind: unit.OutcomePromoted, Target: current}, nil
}

// archiveCurated moves the current artifact into the archive zone under a
// timestamped name and appends the manifest entry. Archive entries are never
// deleted by the engine.
func (e *Engine) archiveCurated(service, current, name string) error {
	prior, err := hash.File(current)
	if err != nil {
		return err
	}

	archiveDir, err := e.layout.EnsureZone(zone.Archive, service)
	if err != nil {
		return err
	}
	ts := zone.TimestampSuffix(e.now())
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	target := filepath.Join(archiveDir, fmt.Sprintf("%s_%s%s", stem, ts, ext))

	if err := platformfs.MoveFileAtomic(current, target, 0o644); err != nil {
		return fmt.Errorf("archive %s: %w", current, err)
	}
	return appendManifest(archiveDir, manifestEntry{
		Basename:   filepath.Base(target),
		Original:   name,
		Digest:     prior.Hex(),
		ArchivedAt: e.now().UTC(),
	})
}
