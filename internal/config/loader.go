// SPDX-License-Identifier: MIT

package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the config file expected under the project root.
const FileName = "zonelift.yaml"

// Load assembles the Runtime: defaults, then the YAML file under the project
// root (optional), then environment overrides. PROJECT_ROOT is mandatory.
func Load() (Runtime, error) {
	root := os.Getenv("PROJECT_ROOT")
	if root == "" {
		return Runtime{}, errors.New("PROJECT_ROOT is required")
	}
	return LoadFrom(root)
}

// LoadFrom is Load with an explicit project root, used by tests and the CLI
// --root override.
func LoadFrom(root string) (Runtime, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return Runtime{}, fmt.Errorf("resolve project root %q: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Runtime{}, fmt.Errorf("project root %q: %w", abs, err)
	}
	if !info.IsDir() {
		return Runtime{}, fmt.Errorf("project root %q is not a directory", abs)
	}

	rt := Defaults()
	rt.ProjectRoot = abs

	if err := mergeFile(&rt, filepath.Join(abs, FileName)); err != nil {
		return Runtime{}, err
	}
	mergeEnv(&rt)
	rt.normalize()

	if err := rt.Validate(); err != nil {
		return Runtime{}, err
	}
	return rt, nil
}

func mergeFile(rt *Runtime, path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- path is root-derived
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(rt); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func mergeEnv(rt *Runtime) {
	rt.LogLevel = ParseString("LOG_LEVEL", rt.LogLevel)
	rt.ConcurrencyMax = ParseInt("CONCURRENCY_MAX", rt.ConcurrencyMax)
	rt.HeadlessBrowser = ParseBool("HEADLESS_BROWSER", rt.HeadlessBrowser)
	rt.InteractiveAllowed = ParseBool("INTERACTIVE_ALLOWED", rt.InteractiveAllowed)
	rt.StatusAddr = ParseString("STATUS_ADDR", rt.StatusAddr)
}

// normalize derives the duration fields from their *_sec / *_ms yaml forms.
func (r *Runtime) normalize() {
	r.Timeouts.Extractor = time.Duration(r.Timeouts.ExtractorSec) * time.Second
	r.Timeouts.Cleaner = time.Duration(r.Timeouts.CleanerSec) * time.Second
	r.Timeouts.SessionAcquire = time.Duration(r.Timeouts.SessionAcquireSec) * time.Second
	r.Timeouts.SecondFactor = time.Duration(r.Timeouts.SecondFactorSec) * time.Second

	for name, p := range r.Services {
		if p.StagingOutput == "" {
			p.StagingOutput = OutputReplace
		}
		if p.RawTranscode == "" {
			p.RawTranscode = "none"
		}
		r.Services[name] = p
	}
}
