// SPDX-License-Identifier: MIT

package zone

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	platformfs "github.com/zonelift/zonelift/internal/platform/fs"
)

// logicalTimeRe matches the trailing `_yyyymmdd_hhmmss` (and the archive
// variant `_yyyymmddThhmmss`) of a zone file basename, before the extension.
var logicalTimeRe = regexp.MustCompile(`_(\d{8})[_T](\d{6})$`)

// FileRecord describes one on-disk artifact inside a zone.
type FileRecord struct {
	Path        string    // absolute path
	Service     string    // owning service identifier
	Zone        Zone      // containing zone
	Subpath     string    // optional subtree below the service dir, "" when flat
	Basename    string    // file name without directories
	LogicalTime time.Time // parsed from the basename, zero when absent
	ModTime     time.Time
	Size        int64
}

// Layout resolves and enumerates zone paths below a single project root.
type Layout struct {
	root string
}

// NewLayout returns a layout rooted at the given project root.
func NewLayout(projectRoot string) *Layout {
	return &Layout{root: projectRoot}
}

// Root returns the project root the layout is anchored at.
func (l *Layout) Root() string { return l.root }

// PathFor resolves the directory (or file, when subpath names one) for a
// zone/service pair, confined below the project root.
func (l *Layout) PathFor(z Zone, service string, subpath ...string) (string, error) {
	if !z.Valid() {
		return "", &PathError{Op: "resolve", Path: string(z), Err: fmt.Errorf("unknown zone %q", z)}
	}
	rel := filepath.Join(append([]string{string(z), service}, subpath...)...)
	abs, err := platformfs.ConfineRelPath(l.root, rel)
	if err != nil {
		return "", &PathError{Op: "resolve", Path: rel, Err: err}
	}
	return abs, nil
}

// EnsureZone creates the zone/service subtree if it does not exist yet.
// Creation is idempotent; callers treat existence as success.
func (l *Layout) EnsureZone(z Zone, service string) (string, error) {
	dir, err := l.PathFor(z, service)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", &PathError{Op: "ensure", Path: dir, Err: err}
	}
	return dir, nil
}

// ListFiles enumerates the regular files directly under a zone/service dir
// matching glob ("" means all). Index and schema sidecars are excluded.
func (l *Layout) ListFiles(z Zone, service, glob string) ([]FileRecord, error) {
	return l.list(z, service, glob, false)
}

// ListFilesRecursive enumerates matching files anywhere below the
// zone/service dir, recording the subpath of nested entries. The health
// monitor uses this for path-mismatch detection.
func (l *Layout) ListFilesRecursive(z Zone, service, glob string) ([]FileRecord, error) {
	return l.list(z, service, glob, true)
}

func (l *Layout) list(z Zone, service, glob string, recursive bool) ([]FileRecord, error) {
	dir, err := l.PathFor(z, service)
	if err != nil {
		return nil, err
	}

	var records []FileRecord
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == dir {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			if path != dir && (!recursive || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") ||
			strings.HasSuffix(name, ".schema.json") || strings.HasSuffix(name, ".tmp") {
			return nil
		}
		if glob != "" {
			ok, matchErr := filepath.Match(glob, name)
			if matchErr != nil {
				return &PathError{Op: "glob", Path: glob, Err: matchErr}
			}
			if !ok {
				return nil
			}
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		sub, _ := filepath.Rel(dir, filepath.Dir(path))
		if sub == "." {
			sub = ""
		}
		records = append(records, FileRecord{
			Path:        path,
			Service:     service,
			Zone:        z,
			Subpath:     sub,
			Basename:    name,
			LogicalTime: ParseLogicalTime(name),
			ModTime:     info.ModTime(),
			Size:        info.Size(),
		})
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Path < records[j].Path })
	return records, nil
}

// Services enumerates the service directories present in a zone.
func (l *Layout) Services(z Zone) ([]string, error) {
	dir := filepath.Join(l.root, string(z))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &PathError{Op: "list", Path: dir, Err: err}
	}
	var services []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			services = append(services, e.Name())
		}
	}
	return services, nil
}

// ParseLogicalTime extracts the logical timestamp encoded in a basename, or
// the zero time when the name carries none.
func ParseLogicalTime(basename string) time.Time {
	stem := strings.TrimSuffix(basename, filepath.Ext(basename))
	m := logicalTimeRe.FindStringSubmatch(stem)
	if m == nil {
		return time.Time{}
	}
	t, err := time.ParseInLocation("20060102150405", m[1]+m[2], time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}

// TimestampSuffix renders t in the compact archive form yyyymmddThhmmss.
func TimestampSuffix(t time.Time) string {
	return t.UTC().Format("20060102T150405")
}
