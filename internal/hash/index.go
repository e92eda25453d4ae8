// SPDX-License-Identifier: MIT

package hash

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	platformfs "github.com/zonelift/zonelift/internal/platform/fs"
)

// IndexFileName is the per-zone digest index sidecar.
const IndexFileName = "_hashes.json"

// Index maps basenames to content digests for one (zone, service) directory.
// Saves are atomic; the index on disk is consistent with the filesystem at
// the end of any successful promotion.
type Index struct {
	path    string
	entries map[string]Digest
	dirty   bool
}

// LoadIndex reads the index sidecar of dir, returning an empty index when the
// sidecar does not exist yet.
func LoadIndex(dir string) (*Index, error) {
	idx := &Index{
		path:    filepath.Join(dir, IndexFileName),
		entries: map[string]Digest{},
	}
	data, err := os.ReadFile(idx.path) // #nosec G304 -- layout-confined
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return nil, &HashError{Op: "load index", Path: idx.path, Err: err}
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &HashError{Op: "parse index", Path: idx.path, Err: err}
	}
	for basename, hexDigest := range raw {
		d, err := ParseHex(hexDigest)
		if err != nil {
			return nil, &HashError{Op: "parse index", Path: idx.path, Err: fmt.Errorf("entry %q: %w", basename, err)}
		}
		idx.entries[basename] = d
	}
	return idx, nil
}

// Get returns the digest recorded for basename.
func (i *Index) Get(basename string) (Digest, bool) {
	d, ok := i.entries[basename]
	return d, ok
}

// HasDigest reports whether any entry carries the given digest. This is the
// landing→raw dedup predicate: a digest already present means the content has
// been promoted before, regardless of its name.
func (i *Index) HasDigest(d Digest) bool {
	for _, existing := range i.entries {
		if existing == d {
			return true
		}
	}
	return false
}

// Put records basename → digest in memory; Save commits it.
func (i *Index) Put(basename string, d Digest) {
	if existing, ok := i.entries[basename]; ok && existing == d {
		return
	}
	i.entries[basename] = d
	i.dirty = true
}

// Len returns the number of recorded entries.
func (i *Index) Len() int { return len(i.entries) }

// Basenames returns the recorded basenames in lexical order.
func (i *Index) Basenames() []string {
	names := make([]string, 0, len(i.entries))
	for name := range i.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Save atomically replaces the sidecar when in-memory state changed.
func (i *Index) Save() error {
	if !i.dirty {
		return nil
	}
	raw := make(map[string]string, len(i.entries))
	for basename, d := range i.entries {
		raw[basename] = d.Hex()
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return &HashError{Op: "encode index", Path: i.path, Err: err}
	}
	data = append(data, '\n')
	if err := platformfs.WriteFileAtomic(i.path, data, 0o644); err != nil {
		return &HashError{Op: "save index", Path: i.path, Err: err}
	}
	i.dirty = false
	return nil
}
