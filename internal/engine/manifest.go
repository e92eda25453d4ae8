// SPDX-License-Identifier: MIT

package engine

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ManifestFileName is the append-only archive log per service.
const ManifestFileName = "_manifest"

// manifestEntry records one archived artifact for pruning and verification.
type manifestEntry struct {
	Basename   string    `json:"basename"`
	Original   string    `json:"original"`
	Digest     string    `json:"digest"`
	ArchivedAt time.Time `json:"archived_at"`
}

// appendManifest appends one NDJSON record. Append-only by contract: the
// engine never rewrites or truncates the manifest.
func appendManifest(archiveDir string, entry manifestEntry) error {
	path := filepath.Join(archiveDir, ManifestFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640) // #nosec G304
	if err != nil {
		return fmt.Errorf("open manifest %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // close error surfaced via Sync below

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode manifest entry: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append manifest %s: %w", path, err)
	}
	return f.Sync()
}

// ReadManifest parses the archive manifest of a directory, tolerating a
// missing file.
func ReadManifest(archiveDir string) ([]map[string]any, error) {
	path := filepath.Join(archiveDir, ManifestFileName)
	f, err := os.Open(path) // #nosec G304
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open manifest %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	var entries []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, fmt.Errorf("parse manifest %s: %w", path, err)
		}
		entries = append(entries, entry)
	}
	return entries, scanner.Err()
}
