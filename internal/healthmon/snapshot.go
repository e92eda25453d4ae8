// SPDX-License-Identifier: MIT

// Package healthmon computes per-service pipeline health: zone freshness,
// credential validity, and the bottlenecks keeping data out of curated.
package healthmon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/zonelift/zonelift/internal/credstore"
	platformfs "github.com/zonelift/zonelift/internal/platform/fs"
	"github.com/zonelift/zonelift/internal/zone"
)

// Status levels, ordered from best to worst.
type Status string

const (
	StatusHealthy  Status = "HEALTHY"
	StatusWarning  Status = "WARNING"
	StatusCritical Status = "CRITICAL"
	StatusFailed   Status = "FAILED"
)

var statusRank = map[Status]int{
	StatusHealthy:  0,
	StatusWarning:  1,
	StatusCritical: 2,
	StatusFailed:   3,
}

func worseOf(a, b Status) Status {
	if statusRank[b] > statusRank[a] {
		return b
	}
	return a
}

// ActionType enumerates the remediations the monitor may propose.
type ActionType string

const (
	ActionCookieRefresh ActionType = "cookie_refresh"
	ActionRunExtractor  ActionType = "run_extractor"
	ActionRunCleaners   ActionType = "run_cleaners"
)

// Priority orders auto actions for the remediator.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// AutoAction is one machine-executable remediation proposal.
type AutoAction struct {
	Type     ActionType `json:"type"`
	Service  string     `json:"service"`
	Account  string     `json:"account,omitempty"`
	Priority Priority   `json:"priority"`
	Reason   string     `json:"reason"`
}

// Freshness describes the newest artifact in one zone.
type Freshness struct {
	LatestLogicalTime time.Time `json:"latest_logical_time,omitempty"`
	AgeDays           float64   `json:"age_days"`
	Files             int       `json:"files"`
}

// ServiceHealth is one service's slice of a snapshot.
type ServiceHealth struct {
	Service         string                      `json:"service"`
	Status          Status                      `json:"status"`
	HealthScore     float64                     `json:"health_score"`
	Freshness       map[zone.Zone]Freshness     `json:"freshness"`
	Credentials     map[string]credstore.Status `json:"credentials"`
	Bottlenecks     []string                    `json:"bottlenecks,omitempty"`
	Recommendations []string                    `json:"recommendations,omitempty"`
}

// Snapshot is one full health evaluation.
type Snapshot struct {
	TakenAt  time.Time       `json:"taken_at"`
	Overall  Status          `json:"overall"`
	Services []ServiceHealth `json:"services"`
	Actions  []AutoAction    `json:"auto_actions,omitempty"`
}

// snapshotDir is where snapshots persist below the project root.
func snapshotDir(projectRoot string) string {
	return filepath.Join(projectRoot, "state", "health_snapshots")
}

// Persist writes the snapshot atomically as state/health_snapshots/<ts>.json.
func (s Snapshot) Persist(projectRoot string) (string, error) {
	dir := snapshotDir(projectRoot)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	data = append(data, '\n')
	path := filepath.Join(dir, zone.TimestampSuffix(s.TakenAt)+".json")
	if err := platformfs.WriteFileAtomic(path, data, 0o644); err != nil {
		return "", fmt.Errorf("persist snapshot: %w", err)
	}
	return path, nil
}

// Latest loads the most recent persisted snapshot, or nil when none exists.
func Latest(projectRoot string) (*Snapshot, error) {
	dir := snapshotDir(projectRoot)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".json" {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return nil, nil
	}
	// Timestamped names sort chronologically.
	sort.Strings(names)

	data, err := os.ReadFile(filepath.Join(dir, names[len(names)-1])) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return &snap, nil
}
