// SPDX-License-Identifier: MIT

package orchestrator

import (
	"context"
	"time"

	"github.com/zonelift/zonelift/internal/unit"
	"github.com/zonelift/zonelift/internal/zone"
)

// execExtractor adapts an exec'd extractor unit to the Extractor contract.
// Scripts report nothing back but their exit code, so the files written are
// inferred from landing modification times after the run.
type execExtractor struct {
	o       *Orchestrator
	u       unit.Unit
	account string
}

func newExecExtractor(o *Orchestrator, u unit.Unit, account string) *execExtractor {
	return &execExtractor{o: o, u: u, account: account}
}

func (x *execExtractor) Run(ctx context.Context, session unit.Session) (unit.ExtractorResult, error) {
	env := []string{"ZONELIFT_ACCOUNT=" + x.account}
	if session != nil {
		env = append(env, session.Env()...)
	}

	start := x.o.now()
	runCtx, cancel := withTimeout(ctx, x.o.cfg.Timeouts.Extractor)
	defer cancel()
	err := unit.RunWithRetry(runCtx, x.o.cfg.Retry, func() error {
		return x.o.runner.Run(runCtx, x.u, env)
	})
	if err != nil {
		return unit.ExtractorResult{}, err
	}
	return unit.ExtractorResult{FilesWritten: x.landingWrites(start)}, nil
}

// landingWrites lists the service's landing files touched since start.
// Pre-existing landing files are immutable per the extractor contract, so a
// newer mtime means a new artifact.
func (x *execExtractor) landingWrites(start time.Time) []string {
	files, err := x.o.eng.Layout().ListFilesRecursive(zone.Landing, x.u.Service, "")
	if err != nil {
		return nil
	}
	// Filesystem timestamps may be coarser than the clock.
	cutoff := start.Truncate(time.Second)
	var written []string
	for _, f := range files {
		if !f.ModTime.Before(cutoff) {
			written = append(written, f.Path)
		}
	}
	return written
}
