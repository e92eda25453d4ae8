// SPDX-License-Identifier: MIT

package engine

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/zonelift/zonelift/internal/log"
	"github.com/zonelift/zonelift/internal/metrics"
	platformfs "github.com/zonelift/zonelift/internal/platform/fs"
	"github.com/zonelift/zonelift/internal/unit"
	"github.com/zonelift/zonelift/internal/zone"
)

// RunRaw2Staging enumerates the cleaner's declared input glob over raw and
// hands the records in; the cleaner never wanders the filesystem itself.
// A schema change quarantines the inputs instead of propagating; partial row
// failures surface as quarantined outcomes inside the cleaner's report.
func (e *Engine) RunRaw2Staging(ctx context.Context, service string, cleaner unit.Cleaner) (unit.Report, error) {
	logger := log.WithComponentFromContext(ctx, "engine")
	var report unit.Report

	release, err := e.locks.acquire(ctx, zone.Staging, service)
	if err != nil {
		return report, err
	}
	defer release()

	if _, err := e.layout.EnsureZone(zone.Staging, service); err != nil {
		return report, err
	}

	inputs, err := e.layout.ListFilesRecursive(zone.Raw, service, cleaner.InputGlob())
	if err != nil {
		return report, err
	}
	if len(inputs) == 0 {
		return report, nil
	}

	report, err = cleaner.Clean(ctx, inputs)
	for _, f := range report.Files {
		metrics.RecordFileOutcome("raw2staging", string(f.Kind))
	}
	if err != nil {
		if errors.Is(err, unit.ErrSchemaChanged) {
			qreport, qerr := e.quarantine(ctx, service, inputs, err.Error())
			report.Merge(qreport)
			if qerr != nil {
				return report, qerr
			}
			logger.Warn().
				Str("event", "engine.schema_changed").
				Str("pipeline_service", service).
				Int("quarantined", qreport.Count(unit.OutcomeQuarantined)).
				Msg("incompatible input schema, inputs quarantined")
			return report, nil
		}
		return report, err
	}

	logger.Info().
		Str("event", "engine.raw2staging").
		Str("pipeline_service", service).
		Str("outcome", report.String()).
		Msg("raw to staging transformation finished")
	return report, nil
}

// quarantine moves the given raw inputs into quarantine/<service>/, emitting
// one outcome per file. Quarantined bytes stay available for operators; raw
// itself is never mutated beyond the move.
func (e *Engine) quarantine(ctx context.Context, service string, inputs []zone.FileRecord, reason string) (unit.Report, error) {
	var report unit.Report
	qdir := filepath.Join(e.layout.Root(), "quarantine", service)

	for _, rec := range inputs {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		target := filepath.Join(qdir, rec.Subpath, rec.Basename)
		if err := platformfs.MoveFileAtomic(rec.Path, target, 0o644); err != nil {
			report.Add(unit.FileOutcome{Basename: rec.Basename, Kind: unit.OutcomeFailed, Reason: err.Error()})
			continue
		}
		report.Add(unit.FileOutcome{Basename: rec.Basename, Kind: unit.OutcomeQuarantined, Reason: reason, Target: target})
		metrics.RecordFileOutcome("raw2staging", string(unit.OutcomeQuarantined))
	}
	return report, nil
}
