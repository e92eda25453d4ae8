// SPDX-License-Identifier: MIT

// Package hash produces the content digests that drive deduplication across
// zones, and owns the per-zone `_hashes.json` indexes.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Size is the digest width in bytes.
const Size = sha256.Size

// Digest is a 32-byte SHA-256 content digest.
type Digest [Size]byte

// Hex renders the digest as a lowercase hex string, the on-disk form.
func (d Digest) Hex() string { return hex.EncodeToString(d[:]) }

// ParseHex decodes the on-disk hex form back into a Digest.
func ParseHex(s string) (Digest, error) {
	var d Digest
	raw, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("parse digest %q: %w", s, err)
	}
	if len(raw) != Size {
		return d, fmt.Errorf("parse digest %q: want %d bytes, got %d", s, Size, len(raw))
	}
	copy(d[:], raw)
	return d, nil
}

// HashError reports a digest I/O failure. Policy: retry once, then skip the
// file and record the outcome.
type HashError struct {
	Op   string
	Path string
	Err  error
}

func (e *HashError) Error() string {
	return fmt.Sprintf("hash %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *HashError) Unwrap() error { return e.Err }

// File computes the SHA-256 digest of the file's raw bytes.
func File(path string) (Digest, error) {
	var d Digest
	f, err := os.Open(path) // #nosec G304 -- paths are layout-confined
	if err != nil {
		return d, &HashError{Op: "open", Path: path, Err: err}
	}
	defer f.Close() //nolint:errcheck // read-only handle

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return d, &HashError{Op: "read", Path: path, Err: err}
	}
	copy(d[:], h.Sum(nil))
	return d, nil
}

// Bytes digests an in-memory buffer, used for candidate artifacts that have
// not been committed yet.
func Bytes(data []byte) Digest {
	return sha256.Sum256(data)
}
