package ioutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/phayes/permbits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomicWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nucache.yaml")

	require.NoError(t, AtomicWriteFile(path, []byte("cache_dir: a\n"), 0o600))
	require.NoError(t, AtomicWriteFile(path, []byte("cache_dir: b\n"), 0o640))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "cache_dir: b\n", string(data))

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), fi.Mode().Perm())
	perms, err := permbits.Stat(path)
	require.NoError(t, err)
	assert.False(t, perms.GroupWrite())
	assert.False(t, perms.OtherWrite())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAtomicWriteFileMissingDir(t *testing.T) {
	err := AtomicWriteFile(filepath.Join(t.TempDir(), "missing", "f"), nil, 0o600)
	assert.Error(t, err)
}
