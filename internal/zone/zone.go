// SPDX-License-Identifier: MIT

// Package zone owns the canonical on-disk layout of the pipeline and the
// resolution of every zone path. All subtrees hang off a single project root
// and are created lazily on first write.
package zone

import (
	"fmt"
)

// Zone names a stage of the pipeline with fixed immutability rules.
type Zone string

const (
	Landing Zone = "landing"
	Raw     Zone = "raw"
	Staging Zone = "staging"
	Curated Zone = "curated"
	Archive Zone = "archive"
)

// All lists the zones in promotion order.
func All() []Zone {
	return []Zone{Landing, Raw, Staging, Curated, Archive}
}

// Valid reports whether z names a known zone.
func (z Zone) Valid() bool {
	switch z {
	case Landing, Raw, Staging, Curated, Archive:
		return true
	}
	return false
}

// Next returns the zone a file promotes into, or "" for terminal zones.
func (z Zone) Next() Zone {
	switch z {
	case Landing:
		return Raw
	case Raw:
		return Staging
	case Staging:
		return Curated
	}
	return ""
}

// PathError reports an invalid or unwritable zone/file path. It is fatal for
// the affected unit, never for the batch.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("zone path %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }
