package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zonelift/zonelift/internal/config"
	"github.com/zonelift/zonelift/internal/hash"
	"github.com/zonelift/zonelift/internal/unit"
	"github.com/zonelift/zonelift/internal/zone"
)

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	root := t.TempDir()
	e := New(zone.NewLayout(root), config.Defaults().Retry,
		WithClock(func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }))
	return e, root
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func readHashIndex(t *testing.T, dir string) map[string]string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, hash.IndexFileName))
	require.NoError(t, err)
	var idx map[string]string
	require.NoError(t, json.Unmarshal(data, &idx))
	return idx
}

func TestFirstRunPromotion(t *testing.T) {
	e, root := newTestEngine(t)
	content := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef" +
		"0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	writeFile(t, filepath.Join(root, "landing", "alpha", "data_20250101_010000.json"), content)

	report, err := e.PromoteLanding2Raw(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(unit.OutcomePromoted))
	assert.Equal(t, 0, report.Count(unit.OutcomeSkipped))

	rawPath := filepath.Join(root, "raw", "alpha", "data_20250101_010000.json")
	got, err := os.ReadFile(rawPath)
	require.NoError(t, err)
	assert.Equal(t, content, string(got))

	idx := readHashIndex(t, filepath.Join(root, "raw", "alpha"))
	require.Len(t, idx, 1)
	assert.Equal(t, hash.Bytes([]byte(content)).Hex(), idx["data_20250101_010000.json"])
}

func TestDedupOnReRun(t *testing.T) {
	e, root := newTestEngine(t)
	writeFile(t, filepath.Join(root, "landing", "alpha", "data_20250101_010000.json"), "payload")

	_, err := e.PromoteLanding2Raw(context.Background(), "alpha")
	require.NoError(t, err)

	before := readHashIndex(t, filepath.Join(root, "raw", "alpha"))
	rawBytes, err := os.ReadFile(filepath.Join(root, "raw", "alpha", "data_20250101_010000.json"))
	require.NoError(t, err)

	report, err := e.PromoteLanding2Raw(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Equal(t, 0, report.Count(unit.OutcomePromoted))
	assert.Equal(t, 1, report.Count(unit.OutcomeSkipped))

	after := readHashIndex(t, filepath.Join(root, "raw", "alpha"))
	assert.Equal(t, before, after)
	rawBytesAfter, err := os.ReadFile(filepath.Join(root, "raw", "alpha", "data_20250101_010000.json"))
	require.NoError(t, err)
	assert.Equal(t, rawBytes, rawBytesAfter)
}

func TestRenamedDuplicateIsSkipped(t *testing.T) {
	e, root := newTestEngine(t)
	writeFile(t, filepath.Join(root, "landing", "alpha", "a_20250101_010000.json"), "same bytes")

	_, err := e.PromoteLanding2Raw(context.Background(), "alpha")
	require.NoError(t, err)

	// Same content under a new name: dedup key is the digest, not the name.
	writeFile(t, filepath.Join(root, "landing", "alpha", "b_20250202_020000.json"), "same bytes")
	report, err := e.PromoteLanding2Raw(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Count(unit.OutcomeSkipped))
	assert.Equal(t, 0, report.Count(unit.OutcomePromoted))
}

func TestBasenameConflictGetsSuffix(t *testing.T) {
	e, root := newTestEngine(t)
	writeFile(t, filepath.Join(root, "landing", "alpha", "data_20250101_010000.json"), "v1")
	_, err := e.PromoteLanding2Raw(context.Background(), "alpha")
	require.NoError(t, err)

	// Same basename, different bytes.
	writeFile(t, filepath.Join(root, "landing", "alpha", "data_20250101_010000.json"), "v2")
	report, err := e.PromoteLanding2Raw(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(unit.OutcomePromoted))

	conflict := filepath.Join(root, "raw", "alpha", "data_20250101_010000__20250601T120000.json")
	got, err := os.ReadFile(conflict)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))

	// Original raw copy untouched.
	orig, err := os.ReadFile(filepath.Join(root, "raw", "alpha", "data_20250101_010000.json"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(orig))
}

func TestOneBadFileDoesNotAbortBatch(t *testing.T) {
	e, root := newTestEngine(t)
	writeFile(t, filepath.Join(root, "landing", "alpha", "good_20250101_010000.json"), "fine")
	writeFile(t, filepath.Join(root, "landing", "alpha", "bad_20250101_010000.json"), "blocked")
	// A directory squatting on the raw target makes the copy fail for that
	// file only.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "raw", "alpha", "bad_20250101_010000.json"), 0o750))

	report, err := e.PromoteLanding2Raw(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(unit.OutcomePromoted))
	assert.Equal(t, 1, report.Count(unit.OutcomeFailed))
}

// stubCleaner records the inputs it was handed and optionally fails.
type stubCleaner struct {
	glob   string
	err    error
	inputs []zone.FileRecord
	write  func(ctx context.Context, inputs []zone.FileRecord) unit.Report
}

func (c *stubCleaner) Stage() unit.Stage  { return unit.StageRaw2Staging }
func (c *stubCleaner) InputGlob() string  { return c.glob }
func (c *stubCleaner) Clean(ctx context.Context, inputs []zone.FileRecord) (unit.Report, error) {
	c.inputs = inputs
	if c.err != nil {
		return unit.Report{}, c.err
	}
	if c.write != nil {
		return c.write(ctx, inputs), nil
	}
	return unit.Report{}, nil
}

func TestRaw2StagingPassesDeclaredInputs(t *testing.T) {
	e, root := newTestEngine(t)
	writeFile(t, filepath.Join(root, "raw", "beta", "rows_20250101_010000.csv"), "a,b\n1,2\n")
	writeFile(t, filepath.Join(root, "raw", "beta", "ignored.json"), "{}")

	cleaner := &stubCleaner{glob: "*.csv"}
	_, err := e.RunRaw2Staging(context.Background(), "beta", cleaner)
	require.NoError(t, err)

	require.Len(t, cleaner.inputs, 1)
	assert.Equal(t, "rows_20250101_010000.csv", cleaner.inputs[0].Basename)
}

func TestRaw2StagingQuarantinesOnSchemaChange(t *testing.T) {
	e, root := newTestEngine(t)
	writeFile(t, filepath.Join(root, "raw", "beta", "rows_20250101_010000.csv"), "x\n")

	cleaner := &stubCleaner{glob: "*.csv", err: fmt.Errorf("unknown column: %w", unit.ErrSchemaChanged)}
	report, err := e.RunRaw2Staging(context.Background(), "beta", cleaner)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(unit.OutcomeQuarantined))

	_, statErr := os.Stat(filepath.Join(root, "quarantine", "beta", "rows_20250101_010000.csv"))
	assert.NoError(t, statErr)
	_, statErr = os.Stat(filepath.Join(root, "raw", "beta", "rows_20250101_010000.csv"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRaw2StagingPropagatesCleanerError(t *testing.T) {
	e, root := newTestEngine(t)
	writeFile(t, filepath.Join(root, "raw", "beta", "rows_20250101_010000.csv"), "x\n")

	cleaner := &stubCleaner{glob: "*.csv", err: unit.ErrCleanerFailed}
	_, err := e.RunRaw2Staging(context.Background(), "beta", cleaner)
	assert.ErrorIs(t, err, unit.ErrCleanerFailed)
}

func TestCuratedReplacementAndArchive(t *testing.T) {
	e, root := newTestEngine(t)
	ctx := context.Background()

	// Existing curated artifact.
	writeFile(t, filepath.Join(root, "curated", "beta", "summary.csv"), "old rows\n")
	idx, err := hash.LoadIndex(filepath.Join(root, "curated", "beta"))
	require.NoError(t, err)
	idx.Put("summary.csv", hash.Bytes([]byte("old rows\n")))
	require.NoError(t, idx.Save())

	// New candidate.
	cand := filepath.Join(root, "state", "tmp", "beta", "summary.csv")
	writeFile(t, cand, "new rows\n")

	outcome, err := e.CommitCurated(ctx, "beta", CuratedCandidate{Name: "summary.csv", TempPath: cand})
	require.NoError(t, err)
	assert.Equal(t, unit.OutcomePromoted, outcome.Kind)

	// New curated equals candidate bytes.
	got, err := os.ReadFile(filepath.Join(root, "curated", "beta", "summary.csv"))
	require.NoError(t, err)
	assert.Equal(t, "new rows\n", string(got))

	// Exactly one archive entry carrying the prior bytes.
	archived, err := os.ReadFile(filepath.Join(root, "archive", "beta", "summary_20250601T120000.csv"))
	require.NoError(t, err)
	assert.Equal(t, "old rows\n", string(archived))

	entries, err := ReadManifest(filepath.Join(root, "archive", "beta"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, hash.Bytes([]byte("old rows\n")).Hex(), entries[0]["digest"])

	// Index updated to the new digest.
	cidx := readHashIndex(t, filepath.Join(root, "curated", "beta"))
	assert.Equal(t, hash.Bytes([]byte("new rows\n")).Hex(), cidx["summary.csv"])
}

func TestCuratedUnchangedIsNoOp(t *testing.T) {
	e, root := newTestEngine(t)
	ctx := context.Background()

	cand1 := filepath.Join(root, "state", "tmp", "beta", "summary.csv")
	writeFile(t, cand1, "rows\n")
	_, err := e.CommitCurated(ctx, "beta", CuratedCandidate{Name: "summary.csv", TempPath: cand1})
	require.NoError(t, err)

	cand2 := filepath.Join(root, "state", "tmp", "beta", "summary2.csv")
	writeFile(t, cand2, "rows\n")
	outcome, err := e.CommitCurated(ctx, "beta", CuratedCandidate{Name: "summary.csv", TempPath: cand2})
	require.NoError(t, err)
	assert.Equal(t, unit.OutcomeSkipped, outcome.Kind)

	// No archive entry was created, candidate was discarded.
	_, statErr := os.Stat(filepath.Join(root, "archive", "beta"))
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(cand2)
	assert.True(t, os.IsNotExist(statErr))
}

func TestCommitCuratedDir(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	dir, err := e.CandidateDir("beta")
	require.NoError(t, err)
	writeFile(t, filepath.Join(dir, "summary.csv"), "a\n")
	writeFile(t, filepath.Join(dir, "totals.csv"), "b\n")

	report, err := e.CommitCuratedDir(ctx, "beta", dir)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Count(unit.OutcomePromoted))

	// CandidateDir wipes prior scratch content.
	dir2, err := e.CandidateDir("beta")
	require.NoError(t, err)
	entries, err := os.ReadDir(dir2)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCommitCuratedDirOneBadCandidateDoesNotAbortBatch(t *testing.T) {
	e, root := newTestEngine(t)
	ctx := context.Background()

	dir, err := e.CandidateDir("beta")
	require.NoError(t, err)
	writeFile(t, filepath.Join(dir, "blocked.csv"), "a\n")
	writeFile(t, filepath.Join(dir, "totals.csv"), "b\n")
	// A directory squatting on the curated target fails that candidate only.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "curated", "beta", "blocked.csv"), 0o750))

	report, err := e.CommitCuratedDir(ctx, "beta", dir)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(unit.OutcomeFailed))
	assert.Equal(t, 1, report.Count(unit.OutcomePromoted))

	got, err := os.ReadFile(filepath.Join(root, "curated", "beta", "totals.csv"))
	require.NoError(t, err)
	assert.Equal(t, "b\n", string(got))
}

func TestRawTranscodeEmitsCSVSibling(t *testing.T) {
	root := t.TempDir()
	policy := config.ServicePolicy{RawTranscode: "csv"}
	e := New(zone.NewLayout(root), config.Defaults().Retry,
		WithPolicies(func(string) config.ServicePolicy { return policy }))
	writeFile(t, filepath.Join(root, "landing", "alpha", "rows_20250101_010000.tsv"), "a\tb\n1\ttwo words\n")

	report, err := e.PromoteLanding2Raw(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(unit.OutcomePromoted))

	// The byte-identical copy always lands.
	raw, err := os.ReadFile(filepath.Join(root, "raw", "alpha", "rows_20250101_010000.tsv"))
	require.NoError(t, err)
	assert.Equal(t, "a\tb\n1\ttwo words\n", string(raw))

	sibling, err := os.ReadFile(filepath.Join(root, "raw", "alpha", "rows_20250101_010000.csv"))
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,two words\n", string(sibling))

	// The sibling is derived data; dedup still keys on the original alone.
	idx := readHashIndex(t, filepath.Join(root, "raw", "alpha"))
	assert.NotContains(t, idx, "rows_20250101_010000.csv")
	assert.Contains(t, idx, "rows_20250101_010000.tsv")
}

func TestRawTranscodeNoneLeavesRawAlone(t *testing.T) {
	root := t.TempDir()
	e := New(zone.NewLayout(root), config.Defaults().Retry,
		WithPolicies(func(string) config.ServicePolicy { return config.ServicePolicy{RawTranscode: "none"} }))
	writeFile(t, filepath.Join(root, "landing", "alpha", "rows_20250101_010000.tsv"), "a\tb\n")

	_, err := e.PromoteLanding2Raw(context.Background(), "alpha")
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(root, "raw", "alpha", "rows_20250101_010000.csv"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestSubpathPromotion(t *testing.T) {
	e, root := newTestEngine(t)
	writeFile(t, filepath.Join(root, "landing", "alpha", "daily", "d_20250101_010000.json"), "nested")

	report, err := e.PromoteLanding2Raw(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(unit.OutcomePromoted))

	_, err = os.Stat(filepath.Join(root, "raw", "alpha", "daily", "d_20250101_010000.json"))
	require.NoError(t, err)
	idx := readHashIndex(t, filepath.Join(root, "raw", "alpha"))
	assert.Contains(t, idx, "daily/d_20250101_010000.json")
}
