// SPDX-License-Identifier: MIT

package unit

import (
	"context"
	"fmt"
	"strings"

	"github.com/zonelift/zonelift/internal/zone"
)

// Kind distinguishes the two unit roles.
type Kind string

const (
	KindExtractor Kind = "extractor"
	KindCleaner   Kind = "cleaner"
)

// Stage enumerates the cleaner promotion transitions in their fixed order.
// The ordering is encoded here, not in lexical filename comparison.
type Stage int

const (
	StageNone Stage = iota
	StageLanding2Raw
	StageRaw2Staging
	StageStaging2Curated
)

var stageNames = map[Stage]string{
	StageLanding2Raw:     "landing2raw",
	StageRaw2Staging:     "raw2staging",
	StageStaging2Curated: "staging2curated",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "none"
}

// InputZone returns the zone a stage reads from.
func (s Stage) InputZone() zone.Zone {
	switch s {
	case StageLanding2Raw:
		return zone.Landing
	case StageRaw2Staging:
		return zone.Raw
	case StageStaging2Curated:
		return zone.Staging
	}
	return ""
}

// OutputZone returns the zone a stage writes into.
func (s Stage) OutputZone() zone.Zone {
	return s.InputZone().Next()
}

// Stages lists the cleaner stages in execution order.
func Stages() []Stage {
	return []Stage{StageLanding2Raw, StageRaw2Staging, StageStaging2Curated}
}

// StageFromName recognizes a stage token anywhere in a unit filename,
// regardless of surrounding tokens ("10_landing2raw_spotify.py" qualifies).
func StageFromName(name string) Stage {
	lower := strings.ToLower(name)
	for _, s := range Stages() {
		if strings.Contains(lower, s.String()) {
			return s
		}
	}
	return StageNone
}

// Unit is a typed descriptor of one discovered executable unit.
type Unit struct {
	Service string
	Kind    Kind
	Stage   Stage // StageNone for extractors
	Name    string
	Path    string // absolute path of the executable
}

func (u Unit) String() string {
	if u.Kind == KindCleaner {
		return fmt.Sprintf("%s/%s[%s]", u.Service, u.Name, u.Stage)
	}
	return fmt.Sprintf("%s/%s", u.Service, u.Name)
}

// Session is the opaque authenticated capability an extractor consumes.
// Concrete values come from the session acquirer; extractors must not
// inspect the profile directory it references.
type Session interface {
	Service() string
	Account() string
	// Env renders the capability as environment variables for exec'd units.
	Env() []string
}

// ExtractorResult reports the landing files an extractor produced.
type ExtractorResult struct {
	FilesWritten []string
}

// Extractor is a unit that writes landing files while consuming the session
// it was handed. Exec'd script units are adapted onto this contract by the
// orchestrator; in-process extractors implement it directly.
type Extractor interface {
	Run(ctx context.Context, session Session) (ExtractorResult, error)
}

// Cleaner performs one promotion transition for one service. The engine
// enumerates the declared input files and passes them in; cleaners do not
// wander the filesystem.
type Cleaner interface {
	Stage() Stage
	// InputGlob declares the files the cleaner consumes from its input zone.
	InputGlob() string
	Clean(ctx context.Context, inputs []zone.FileRecord) (Report, error)
}
