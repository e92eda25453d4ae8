// SPDX-License-Identifier: MIT

package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zonelift/zonelift/internal/unit"
	"github.com/zonelift/zonelift/internal/zone"
)

// execCleaner adapts an exec'd raw2staging unit to the engine's Cleaner
// interface. The engine enumerates the inputs; the unit receives them as a
// newline-delimited list file and writes staging output itself.
type execCleaner struct {
	o *Orchestrator
	u unit.Unit
}

func newExecCleaner(o *Orchestrator, u unit.Unit) *execCleaner {
	return &execCleaner{o: o, u: u}
}

func (c *execCleaner) Stage() unit.Stage { return c.u.Stage }

// InputGlob matches every regular file; the unit filters formats itself.
func (c *execCleaner) InputGlob() string { return "*" }

func (c *execCleaner) Clean(ctx context.Context, inputs []zone.FileRecord) (unit.Report, error) {
	var report unit.Report

	listPath, cleanup, err := c.writeInputList(inputs)
	if err != nil {
		return report, fmt.Errorf("%v: %w", err, unit.ErrCleanerFailed)
	}
	defer cleanup()

	env := []string{"ZONELIFT_INPUT_LIST=" + listPath}
	if err := c.o.runCleanerUnit(ctx, c.u, env); err != nil {
		// ErrSchemaChanged passes through so the engine quarantines.
		return report, err
	}

	for _, rec := range inputs {
		report.Add(unit.FileOutcome{Basename: rec.Basename, Kind: unit.OutcomePromoted})
	}
	return report, nil
}

// writeInputList materializes the input paths for the unit, one per line.
func (c *execCleaner) writeInputList(inputs []zone.FileRecord) (string, func(), error) {
	dir := filepath.Join(c.o.cfg.ProjectRoot, "state", "tmp")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", nil, err
	}
	f, err := os.CreateTemp(dir, "inputs-*.list")
	if err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	for _, rec := range inputs {
		sb.WriteString(rec.Path)
		sb.WriteByte('\n')
	}
	if _, err := f.WriteString(sb.String()); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", nil, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", nil, err
	}
	return f.Name(), func() { _ = os.Remove(f.Name()) }, nil
}
