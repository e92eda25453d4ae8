package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfineRelPath(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "landing"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(root, "landing", "a.json"), []byte("x"), 0o600))
	require.NoError(t, os.Symlink("..", filepath.Join(root, "escape")))

	tests := []struct {
		name    string
		target  string
		wantErr bool
	}{
		{"existing file", "landing/a.json", false},
		{"not yet existing file", "landing/b.json", false},
		{"not yet existing subtree", "raw/spotify/data.json", false},
		{"parent traversal", "../outside", true},
		{"absolute path", "/etc/passwd", true},
		{"symlink escape", "escape/outside", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ConfineRelPath(root, tt.target)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrPathEscapesRoot)
				return
			}
			require.NoError(t, err)
			assert.True(t, filepath.IsAbs(got))
		})
	}
}

func TestWriteFileAtomic(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "curated", "spotify", "summary.csv")

	require.NoError(t, WriteFileAtomic(path, []byte("v1\n"), 0o644))
	require.NoError(t, WriteFileAtomic(path, []byte("v2\n"), 0o644))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "v2\n", string(got))

	// No temp droppings left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCopyFileAtomic(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src.bin")
	dst := filepath.Join(root, "deep", "dst.bin")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o600))

	require.NoError(t, CopyFileAtomic(src, dst, 0o644))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))

	// Source stays untouched.
	orig, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(orig))
}

func TestMoveFileAtomic(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "staged.csv")
	dst := filepath.Join(root, "archive", "staged.csv")
	require.NoError(t, os.WriteFile(src, []byte("rows"), 0o600))

	require.NoError(t, MoveFileAtomic(src, dst, 0o644))

	_, err := os.Stat(src)
	assert.True(t, os.IsNotExist(err))
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "rows", string(got))
}
