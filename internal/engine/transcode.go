// SPDX-License-Identifier: MIT

package engine

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zonelift/zonelift/internal/log"
	platformfs "github.com/zonelift/zonelift/internal/platform/fs"
)

// transcodeSibling emits a converted copy next to the byte-identical raw
// file. The sibling is derived data: it is never indexed, and a conversion
// failure leaves the promotion intact.
func (e *Engine) transcodeSibling(ctx context.Context, rawPath, targetExt string) {
	logger := log.WithComponentFromContext(ctx, "engine")
	targetExt = strings.TrimPrefix(strings.ToLower(targetExt), ".")
	srcExt := strings.TrimPrefix(strings.ToLower(filepath.Ext(rawPath)), ".")
	if srcExt == targetExt {
		return
	}

	data, err := transcode(rawPath, srcExt, targetExt)
	if err != nil {
		logger.Warn().Err(err).
			Str("event", "engine.transcode_failed").
			Str("path", rawPath).
			Str("target", targetExt).
			Msg("raw transcode skipped, byte-identical copy stands")
		return
	}

	sibling := strings.TrimSuffix(rawPath, filepath.Ext(rawPath)) + "." + targetExt
	if err := platformfs.WriteFileAtomic(sibling, data, 0o644); err != nil {
		logger.Warn().Err(err).
			Str("event", "engine.transcode_failed").
			Str("path", sibling).
			Msg("sibling write failed")
	}
}

// transcode converts the supported source/target pairs. Today that is
// tab-separated text to CSV.
func transcode(path, srcExt, targetExt string) ([]byte, error) {
	if targetExt != "csv" || (srcExt != "tsv" && srcExt != "tab") {
		return nil, fmt.Errorf("no %s to %s conversion", srcExt, targetExt)
	}

	f, err := os.Open(path) // #nosec G304 -- path confined below the raw zone
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck // read-only

	r := csv.NewReader(f)
	r.Comma = '\t'
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
