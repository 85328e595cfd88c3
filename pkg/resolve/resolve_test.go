package resolve

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yaklabco/hotreload/pkg/fsutils"
)

func writeFile(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	canonical, err := fsutils.TruePath(path)
	require.NoError(t, err)
	return canonical
}

func TestResolveRelative(t *testing.T) {
	root := t.TempDir()
	want := writeFile(t, filepath.Join(root, "src", "app.js"))

	r := New(nil, []string{".js"})
	got, err := r.Resolve("./src/app", root)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = r.Resolve("./src/app.js", root)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestResolveSearchesAncestors(t *testing.T) {
	root := t.TempDir()
	want := writeFile(t, filepath.Join(root, "node_modules", "express", "index.js"))
	nested := filepath.Join(root, "app", "lib")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	r := New(nil, nil)
	got, err := r.Resolve("express/index.js", nested)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestResolveNearestWins(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "vendor", "dep", "dep.go"))
	nearer := writeFile(t, filepath.Join(root, "app", "vendor", "dep", "dep.go"))

	r := New([]string{"vendor"}, nil)
	got, err := r.Resolve("dep/dep.go", filepath.Join(root, "app"))
	require.NoError(t, err)
	assert.Equal(t, nearer, got)
}

func TestResolveDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "node_modules", "lodash", "index.js"))
	want, err := fsutils.TruePath(filepath.Join(root, "node_modules", "lodash"))
	require.NoError(t, err)

	got, err := New(nil, nil).Resolve("lodash", root)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestResolveNotFound(t *testing.T) {
	root := t.TempDir()
	_, err := New(nil, []string{".js"}).Resolve("nope", root)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrNotFound)

	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "nope", notFound.Name)

	_, err = New(nil, nil).Resolve("", root)
	require.ErrorIs(t, err, ErrNotFound)
}
