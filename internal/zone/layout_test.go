package zone

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeZoneFile(t *testing.T, root string, parts ...string) string {
	t.Helper()
	path := filepath.Join(append([]string{root}, parts...)...)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o600))
	return path
}

func TestPathForConfinesToRoot(t *testing.T) {
	l := NewLayout(t.TempDir())

	p, err := l.PathFor(Landing, "spotify")
	require.NoError(t, err)
	assert.Contains(t, p, filepath.Join("landing", "spotify"))

	_, err = l.PathFor(Landing, "../escape")
	require.Error(t, err)
	var perr *PathError
	assert.ErrorAs(t, err, &perr)

	_, err = l.PathFor("basement", "spotify")
	require.Error(t, err)
}

func TestEnsureZoneIdempotent(t *testing.T) {
	l := NewLayout(t.TempDir())

	first, err := l.EnsureZone(Raw, "tiktok")
	require.NoError(t, err)
	second, err := l.EnsureZone(Raw, "tiktok")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	info, err := os.Stat(first)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestListFiles(t *testing.T) {
	root := t.TempDir()
	l := NewLayout(root)

	writeZoneFile(t, root, "landing", "spotify", "streams_20250101_010000.json")
	writeZoneFile(t, root, "landing", "spotify", "listeners_20250102_020000.csv")
	writeZoneFile(t, root, "landing", "spotify", "_hashes.json")
	writeZoneFile(t, root, "landing", "spotify", "notes.schema.json")
	writeZoneFile(t, root, "landing", "spotify", "nested", "deep_20250103_030000.json")

	flat, err := l.ListFiles(Landing, "spotify", "")
	require.NoError(t, err)
	require.Len(t, flat, 2)
	assert.Equal(t, "listeners_20250102_020000.csv", flat[0].Basename)
	assert.Equal(t, "streams_20250101_010000.json", flat[1].Basename)
	assert.Equal(t, time.Date(2025, 1, 1, 1, 0, 0, 0, time.UTC), flat[1].LogicalTime)

	jsonOnly, err := l.ListFiles(Landing, "spotify", "*.json")
	require.NoError(t, err)
	require.Len(t, jsonOnly, 1)

	recursive, err := l.ListFilesRecursive(Landing, "spotify", "*.json")
	require.NoError(t, err)
	require.Len(t, recursive, 2)
	var nested FileRecord
	for _, r := range recursive {
		if r.Subpath != "" {
			nested = r
		}
	}
	assert.Equal(t, "nested", nested.Subpath)
}

func TestListFilesMissingZoneIsEmpty(t *testing.T) {
	l := NewLayout(t.TempDir())
	records, err := l.ListFiles(Curated, "ghost", "")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestServices(t *testing.T) {
	root := t.TempDir()
	l := NewLayout(root)
	writeZoneFile(t, root, "raw", "alpha", "a_20250101_000000.json")
	writeZoneFile(t, root, "raw", "beta", "b_20250101_000000.json")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "raw", ".hidden"), 0o750))

	services, err := l.Services(Raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, services)
}

func TestParseLogicalTime(t *testing.T) {
	tests := []struct {
		name string
		want time.Time
	}{
		{"data_20250101_010000.json", time.Date(2025, 1, 1, 1, 0, 0, 0, time.UTC)},
		{"summary_20241231T235959.csv", time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC)},
		{"summary.csv", time.Time{}},
		{"oddly_named_file.json", time.Time{}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLogicalTime(tt.name), tt.name)
	}
}

func TestZoneOrdering(t *testing.T) {
	assert.Equal(t, Raw, Landing.Next())
	assert.Equal(t, Staging, Raw.Next())
	assert.Equal(t, Curated, Staging.Next())
	assert.Empty(t, Curated.Next())
	assert.Empty(t, Archive.Next())
}
