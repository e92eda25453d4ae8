// SPDX-License-Identifier: MIT

// Package fs provides filesystem primitives shared by every zone-touching
// component: root confinement and atomic, durable writes.
package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathEscapesRoot is returned when a resolved path would leave the
// confinement root, either via traversal segments or a symlink.
var ErrPathEscapesRoot = errors.New("path escapes confinement root")

// ConfineRelPath resolves relTarget against root and guarantees the result
// stays below root after symlink resolution. The target itself does not have
// to exist; its closest existing ancestor is resolved instead.
func ConfineRelPath(root, relTarget string) (string, error) {
	if filepath.IsAbs(relTarget) {
		return "", fmt.Errorf("target %q: %w", relTarget, ErrPathEscapesRoot)
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root %q: %w", root, err)
	}
	return ConfineAbsPath(rootAbs, filepath.Join(rootAbs, relTarget))
}

// ConfineAbsPath verifies that targetAbs resolves below rootAbs. Symlinks in
// the existing portion of the path are evaluated; a link pointing outside the
// root fails with ErrPathEscapesRoot.
func ConfineAbsPath(rootAbs, targetAbs string) (string, error) {
	realRoot, err := filepath.EvalSymlinks(rootAbs)
	if err != nil {
		return "", fmt.Errorf("resolve root %q: %w", rootAbs, err)
	}

	resolved, err := resolveExisting(targetAbs)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(realRoot, resolved)
	if err != nil {
		return "", fmt.Errorf("relativize %q: %w", resolved, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("target %q: %w", targetAbs, ErrPathEscapesRoot)
	}
	return resolved, nil
}

// resolveExisting evaluates symlinks over the longest existing prefix of path
// and re-joins the non-existing suffix verbatim.
func resolveExisting(path string) (string, error) {
	suffix := ""
	current := filepath.Clean(path)
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			return filepath.Join(resolved, suffix), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("resolve %q: %w", current, err)
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("resolve %q: %w", path, err)
		}
		suffix = filepath.Join(filepath.Base(current), suffix)
		current = parent
	}
}

// IsRegularFile reports an error unless path names an existing regular file.
func IsRegularFile(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s: not a regular file", path)
	}
	return nil
}
