package fsutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruePath(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "hotreload-fsutils-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	// Create a real file
	realFile := filepath.Join(tempDir, "realfile")
	err = os.WriteFile(realFile, []byte("hello"), 0644)
	require.NoError(t, err)

	// Get absolute path of real file
	absRealFile, err := filepath.Abs(realFile)
	require.NoError(t, err)

	// Test with real file
	path, err := TruePath(realFile)
	require.NoError(t, err)
	// On macOS, /var is a symlink to /private/var. EvalSymlinks resolves this.
	// We should compare against the resolved version of absRealFile.
	resolvedAbsRealFile, err := filepath.EvalSymlinks(absRealFile)
	require.NoError(t, err)
	assert.Equal(t, resolvedAbsRealFile, path)

	// Create a symlink
	symlink := filepath.Join(tempDir, "symlink")
	err = os.Symlink(realFile, symlink)
	require.NoError(t, err)

	// Test with symlink
	path, err = TruePath(symlink)
	require.NoError(t, err)
	assert.Equal(t, resolvedAbsRealFile, path)

	// Create a nested symlink
	nestedSymlink := filepath.Join(tempDir, "nested-symlink")
	err = os.Symlink(symlink, nestedSymlink)
	require.NoError(t, err)

	// Test with nested symlink
	path, err = TruePath(nestedSymlink)
	require.NoError(t, err)
	assert.Equal(t, resolvedAbsRealFile, path)
}

func TestTruePath_NonExistent(t *testing.T) {
	path, err := TruePath("/non/existent/path/that/really/should/not/exist")
	require.Error(t, err)
	assert.Empty(t, path)
}

func TestExistsAndIsDir(t *testing.T) {
	tempDir := t.TempDir()
	file := filepath.Join(tempDir, "file")
	require.NoError(t, os.WriteFile(file, []byte("test content"), 0o600))

	assert.True(t, Exists(file))
	assert.False(t, IsDir(file))
	assert.True(t, IsDir(tempDir))

	missing := filepath.Join(tempDir, "non-existent")
	assert.False(t, Exists(missing))
	_, err := os.Stat(missing)
	assert.True(t, IsGone(err))
}

func TestIsWithin(t *testing.T) {
	assert.True(t, IsWithin("/src", "/src"))
	assert.True(t, IsWithin("/src/a/b.js", "/src"))
	assert.True(t, IsWithin("/src/a/", "/src/"))
	assert.False(t, IsWithin("/srcgen/a.js", "/src"))
	assert.False(t, IsWithin("/", "/src"))
}

func TestAncestors(t *testing.T) {
	assert.Equal(t, []string{"/a/b", "/a", "/"}, Ancestors("/a/b/c"))
	assert.Empty(t, Ancestors("/"))
}

func TestRelOrAbs(t *testing.T) {
	assert.Equal(t, filepath.Join("a", "b.js"), RelOrAbs("/src", "/src/a/b.js"))
	assert.Equal(t, "/other/x", RelOrAbs("/src", "/other/x"))
	assert.Equal(t, "/other/x", RelOrAbs("", "/other/x"))
}

func TestExistsAndIsGone(t *testing.T) {
	dir := t.TempDir()
	assert.True(t, Exists(dir))
	assert.True(t, IsDir(dir))

	_, err := os.Stat(filepath.Join(dir, "missing"))
	require.Error(t, err)
	assert.True(t, IsGone(err))
	assert.False(t, Exists(filepath.Join(dir, "missing")))
}
