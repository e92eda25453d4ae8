// SPDX-License-Identifier: MIT

package unit

import "fmt"

// OutcomeKind is the sum type of per-file promotion results. Retries and
// quarantines are data, not control flow.
type OutcomeKind string

const (
	OutcomePromoted    OutcomeKind = "promoted"
	OutcomeSkipped     OutcomeKind = "skipped"
	OutcomeQuarantined OutcomeKind = "quarantined"
	OutcomeFailed      OutcomeKind = "failed"
)

// FileOutcome records what happened to one input file during a transition.
type FileOutcome struct {
	Basename string      `json:"basename"`
	Kind     OutcomeKind `json:"kind"`
	Reason   string      `json:"reason,omitempty"`
	Target   string      `json:"target,omitempty"` // committed path for promotions
}

// Report aggregates the per-file outcomes of one cleaner invocation.
type Report struct {
	Files []FileOutcome `json:"files"`
}

// Add appends an outcome.
func (r *Report) Add(o FileOutcome) { r.Files = append(r.Files, o) }

// Count returns how many files ended in the given state.
func (r Report) Count(kind OutcomeKind) int {
	n := 0
	for _, f := range r.Files {
		if f.Kind == kind {
			n++
		}
	}
	return n
}

// Merge folds another report into this one.
func (r *Report) Merge(other Report) {
	r.Files = append(r.Files, other.Files...)
}

func (r Report) String() string {
	return fmt.Sprintf("%d promoted / %d skipped / %d quarantined / %d failed",
		r.Count(OutcomePromoted), r.Count(OutcomeSkipped),
		r.Count(OutcomeQuarantined), r.Count(OutcomeFailed))
}
