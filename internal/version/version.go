// SPDX-License-Identifier: MIT

// Package version carries the build identity, populated via ldflags.
package version

var (
	// Version is the release tag, or the fallback for untagged builds.
	Version = "v0.4.0"

	// Commit is the git short hash of the build.
	Commit = "unknown"

	// Date is the build timestamp.
	Date = "unknown"
)
