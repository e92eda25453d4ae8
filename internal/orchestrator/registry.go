// SPDX-License-Identifier: MIT

// Package orchestrator discovers services under the source tree and drives
// their extractor and cleaner units through the zone engine.
package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zonelift/zonelift/internal/log"
	"github.com/zonelift/zonelift/internal/unit"
)

// DefaultUnitExtensions qualify non-executable files as units.
var DefaultUnitExtensions = []string{".py", ".sh"}

// Service is one discovered service with its typed unit descriptors.
type Service struct {
	Name       string
	Dir        string
	Extractors []unit.Unit
	Cleaners   []unit.Unit // ordered landing2raw, raw2staging, staging2curated
}

// Discover enumerates <root>/src/<service>/ directories. A directory
// qualifies if it contains extractors/ or cleaners/; hidden directories are
// excluded. Cleaner order is derived from the stage token in the filename,
// never from lexical position.
func Discover(root string, extensions []string) ([]Service, error) {
	if len(extensions) == 0 {
		extensions = DefaultUnitExtensions
	}
	srcDir := filepath.Join(root, "src")
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read source tree %s: %w", srcDir, err)
	}

	var services []Service
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		svc, ok, err := discoverService(filepath.Join(srcDir, entry.Name()), entry.Name(), extensions)
		if err != nil {
			return nil, err
		}
		if ok {
			services = append(services, svc)
		}
	}
	sort.Slice(services, func(i, j int) bool { return services[i].Name < services[j].Name })
	return services, nil
}

func discoverService(dir, name string, extensions []string) (Service, bool, error) {
	svc := Service{Name: name, Dir: dir}

	extractors, err := listUnits(filepath.Join(dir, "extractors"), extensions)
	if err != nil {
		return svc, false, err
	}
	cleaners, err := listUnits(filepath.Join(dir, "cleaners"), extensions)
	if err != nil {
		return svc, false, err
	}
	if extractors == nil && cleaners == nil {
		return svc, false, nil
	}

	for _, path := range extractors {
		svc.Extractors = append(svc.Extractors, unit.Unit{
			Service: name,
			Kind:    unit.KindExtractor,
			Name:    strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
			Path:    path,
		})
	}
	for _, path := range cleaners {
		stage := unit.StageFromName(filepath.Base(path))
		if stage == unit.StageNone {
			logger := log.Base()
			logger.Warn().
				Str("event", "discovery.unstaged_cleaner").
				Str("path", path).
				Msg("cleaner filename carries no stage token, unit ignored")
			continue
		}
		svc.Cleaners = append(svc.Cleaners, unit.Unit{
			Service: name,
			Kind:    unit.KindCleaner,
			Stage:   stage,
			Name:    strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
			Path:    path,
		})
	}
	sort.SliceStable(svc.Cleaners, func(i, j int) bool {
		if svc.Cleaners[i].Stage != svc.Cleaners[j].Stage {
			return svc.Cleaners[i].Stage < svc.Cleaners[j].Stage
		}
		return svc.Cleaners[i].Name < svc.Cleaners[j].Name
	})
	return svc, true, nil
}

// listUnits returns nil (not an empty slice) when the unit directory itself
// does not exist, so callers can distinguish "no directory" from "empty".
func listUnits(dir string, extensions []string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read unit dir %s: %w", dir, err)
	}

	paths := []string{}
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, err
		}
		if !isUnitFile(info.Mode(), entry.Name(), extensions) {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

func isUnitFile(mode os.FileMode, name string, extensions []string) bool {
	if !mode.IsRegular() {
		return false
	}
	if mode.Perm()&0o111 != 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range extensions {
		if ext == allowed {
			return true
		}
	}
	return false
}
