package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yaklabco/hotreload/pkg/fsutils"
)

type fakeBackend struct {
	mu      sync.Mutex
	adds    []string
	removes []string
	events  chan fsnotify.Event
	errors  chan error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		events: make(chan fsnotify.Event, 16),
		errors: make(chan error, 1),
	}
}

func (b *fakeBackend) Add(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.adds = append(b.adds, path)
	return nil
}

func (b *fakeBackend) Remove(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removes = append(b.removes, path)
	return nil
}

func (b *fakeBackend) Events() <-chan fsnotify.Event { return b.events }
func (b *fakeBackend) Errors() <-chan error          { return b.errors }
func (b *fakeBackend) Close() error                  { return nil }

func (b *fakeBackend) snapshot() ([]string, []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.adds...), append([]string(nil), b.removes...)
}

type recorder struct {
	mu      sync.Mutex
	changes []Change
}

func (r *recorder) record(change Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, change)
}

func (r *recorder) all() []Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Change(nil), r.changes...)
}

func (r *recorder) saw(path string, op fsnotify.Op) bool {
	return lo.ContainsBy(r.all(), func(c Change) bool {
		return c.Path == path && c.Op.Has(op)
	})
}

func canonicalTempDir(t *testing.T) string {
	t.Helper()
	dir, err := fsutils.TruePath(t.TempDir())
	require.NoError(t, err)
	return dir
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
}

func startTree(t *testing.T, tree *Tree) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tree.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = tree.Close()
	})

	select {
	case <-tree.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("tree never became ready")
	}
}

func entryPaths(tree *Tree) []string {
	return lo.Map(tree.Entries(), func(e Entry, _ int) string { return e.CanonicalPath })
}

func TestInitialWalk(t *testing.T) {
	dir := canonicalTempDir(t)
	writeFile(t, filepath.Join(dir, "a.js"))
	writeFile(t, filepath.Join(dir, "sub", "b.js"))

	backend := newFakeBackend()
	tree := New(backend, Options{})
	require.NoError(t, tree.AddRoot(dir, true))
	startTree(t, tree)

	assert.ElementsMatch(t, []string{
		dir,
		filepath.Join(dir, "a.js"),
		filepath.Join(dir, "sub"),
		filepath.Join(dir, "sub", "b.js"),
	}, entryPaths(tree))

	roots := tree.Roots()
	require.Len(t, roots, 1)
	assert.Equal(t, Active, roots[0].State)
}

func TestNonRecursiveSkipsNestedDirectories(t *testing.T) {
	dir := canonicalTempDir(t)
	writeFile(t, filepath.Join(dir, "a.js"))
	writeFile(t, filepath.Join(dir, "sub", "b.js"))

	tree := New(newFakeBackend(), Options{})
	require.NoError(t, tree.AddRoot(dir, false))
	startTree(t, tree)

	paths := entryPaths(tree)
	assert.Contains(t, paths, filepath.Join(dir, "a.js"))
	assert.NotContains(t, paths, filepath.Join(dir, "sub", "b.js"))
}

func TestSymlinksAreDeduplicated(t *testing.T) {
	dir := canonicalTempDir(t)
	writeFile(t, filepath.Join(dir, "real", "a.js"))
	require.NoError(t, os.Symlink(filepath.Join(dir, "real"), filepath.Join(dir, "link")))

	backend := newFakeBackend()
	tree := New(backend, Options{})
	require.NoError(t, tree.AddRoot(dir, true))
	startTree(t, tree)

	adds, _ := backend.snapshot()
	assert.Len(t, lo.Uniq(adds), len(adds), "no canonical path is subscribed twice")
	assert.Contains(t, adds, filepath.Join(dir, "real", "a.js"))
	assert.NotContains(t, adds, filepath.Join(dir, "link"))
}

func TestExcludedDirectoriesAreNotWalked(t *testing.T) {
	dir := canonicalTempDir(t)
	writeFile(t, filepath.Join(dir, "node_modules", "dep", "index.js"))
	writeFile(t, filepath.Join(dir, "src", "app.js"))

	tree := New(newFakeBackend(), Options{
		Exclude: func(path string) bool { return filepath.Base(path) == "node_modules" },
	})
	require.NoError(t, tree.AddRoot(dir, true))
	startTree(t, tree)

	for _, path := range entryPaths(tree) {
		assert.NotContains(t, path, "node_modules")
	}
	assert.Contains(t, entryPaths(tree), filepath.Join(dir, "src", "app.js"))
}

func TestWriteRearmsFileSubscription(t *testing.T) {
	dir := canonicalTempDir(t)
	file := filepath.Join(dir, "a.js")
	writeFile(t, file)

	backend := newFakeBackend()
	rec := &recorder{}
	tree := New(backend, Options{OnChange: rec.record})
	require.NoError(t, tree.AddRoot(dir, true))
	startTree(t, tree)

	backend.events <- fsnotify.Event{Name: file, Op: fsnotify.Write}

	assert.Eventually(t, func() bool { return rec.saw(file, fsnotify.Write) }, 2*time.Second, 10*time.Millisecond)
	adds, removes := backend.snapshot()
	assert.Equal(t, 2, lo.Count(adds, file))
	assert.Equal(t, []string{file}, removes)
	assert.True(t, tree.Watching(file))
}

func TestRemoveDropsEntryAndReportsIt(t *testing.T) {
	dir := canonicalTempDir(t)
	writeFile(t, filepath.Join(dir, "sub", "a.js"))
	sub := filepath.Join(dir, "sub")

	backend := newFakeBackend()
	rec := &recorder{}
	tree := New(backend, Options{OnChange: rec.record})
	require.NoError(t, tree.AddRoot(dir, true))
	startTree(t, tree)

	require.NoError(t, os.RemoveAll(sub))
	backend.events <- fsnotify.Event{Name: sub, Op: fsnotify.Remove}

	assert.Eventually(t, func() bool { return rec.saw(sub, fsnotify.Remove) }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, tree.Watching(sub))
	assert.False(t, tree.Watching(filepath.Join(sub, "a.js")))
}

func TestCreateForVanishedPathIsDropped(t *testing.T) {
	dir := canonicalTempDir(t)

	backend := newFakeBackend()
	rec := &recorder{}
	tree := New(backend, Options{OnChange: rec.record})
	require.NoError(t, tree.AddRoot(dir, true))
	startTree(t, tree)

	backend.events <- fsnotify.Event{Name: filepath.Join(dir, "gone.js"), Op: fsnotify.Create}
	backend.events <- fsnotify.Event{Name: dir, Op: fsnotify.Chmod}

	assert.Never(t, func() bool { return len(rec.all()) > 0 }, 200*time.Millisecond, 10*time.Millisecond)
}

func TestCreatedDirectoryIsWalkedBeforeReporting(t *testing.T) {
	dir := canonicalTempDir(t)

	backend := newFakeBackend()
	rec := &recorder{}
	tree := New(backend, Options{OnChange: rec.record})
	require.NoError(t, tree.AddRoot(dir, true))
	startTree(t, tree)

	sub := filepath.Join(dir, "new")
	file := filepath.Join(sub, "inner.js")
	writeFile(t, file)
	backend.events <- fsnotify.Event{Name: sub, Op: fsnotify.Create}

	require.Eventually(t, func() bool { return len(rec.all()) == 2 }, 2*time.Second, 10*time.Millisecond)
	changes := rec.all()
	assert.Equal(t, sub, changes[0].Path)
	assert.Equal(t, Directory, changes[0].Kind)
	assert.Equal(t, file, changes[1].Path)
	assert.True(t, changes[1].Synthetic)
	assert.True(t, tree.Watching(file))
}

func TestDynamicSubdirectoryWithFSNotify(t *testing.T) {
	dir := canonicalTempDir(t)

	rec := &recorder{}
	tree, err := NewFSNotify(Options{OnChange: rec.record})
	require.NoError(t, err)
	require.NoError(t, tree.AddRoot(dir, true))
	startTree(t, tree)

	file := filepath.Join(dir, "fresh", "file.js")
	writeFile(t, file)

	assert.Eventually(t, func() bool {
		return lo.ContainsBy(rec.all(), func(c Change) bool { return c.Path == file })
	}, 5*time.Second, 20*time.Millisecond)
}

func TestAddRootAfterClose(t *testing.T) {
	tree := New(newFakeBackend(), Options{})
	require.NoError(t, tree.Close())
	assert.ErrorIs(t, tree.AddRoot(t.TempDir(), true), ErrClosed)
}

func TestFileRootIgnoresSiblings(t *testing.T) {
	dir := canonicalTempDir(t)
	file := filepath.Join(dir, "config.json")
	sibling := filepath.Join(dir, "other.json")
	writeFile(t, file)
	writeFile(t, sibling)

	backend := newFakeBackend()
	rec := &recorder{}
	tree := New(backend, Options{OnChange: rec.record})
	require.NoError(t, tree.AddRoot(file, false))
	startTree(t, tree)

	adds, _ := backend.snapshot()
	assert.ElementsMatch(t, []string{file, dir}, adds)
	assert.Equal(t, []string{file}, entryPaths(tree))

	backend.events <- fsnotify.Event{Name: sibling, Op: fsnotify.Write}
	backend.events <- fsnotify.Event{Name: file, Op: fsnotify.Write}

	require.Eventually(t, func() bool { return rec.saw(file, fsnotify.Write) }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, lo.ContainsBy(rec.all(), func(c Change) bool { return c.Path == sibling }))
}

func TestFileRootSurvivesReplaceByRename(t *testing.T) {
	dir := canonicalTempDir(t)
	file := filepath.Join(dir, "config.json")
	writeFile(t, file)

	rec := &recorder{}
	tree, err := NewFSNotify(Options{OnChange: rec.record})
	require.NoError(t, err)
	require.NoError(t, tree.AddRoot(file, false))
	startTree(t, tree)

	tmp := filepath.Join(dir, "config.json.tmp")
	writeFile(t, tmp)
	require.NoError(t, os.Rename(tmp, file))

	require.Eventually(t, func() bool { return rec.saw(file, fsnotify.Create) }, 5*time.Second, 20*time.Millisecond)
	assert.True(t, tree.Watching(file))

	seen := len(rec.all())
	require.NoError(t, os.WriteFile(file, []byte("edited"), 0o600))
	assert.Eventually(t, func() bool {
		return lo.ContainsBy(rec.all()[seen:], func(c Change) bool {
			return c.Path == file && c.Op.Has(fsnotify.Write)
		})
	}, 5*time.Second, 20*time.Millisecond)
	assert.False(t, lo.ContainsBy(rec.all(), func(c Change) bool { return c.Path == tmp }))
}

func TestFileRootIsWatchedAgainAfterRecreate(t *testing.T) {
	dir := canonicalTempDir(t)
	file := filepath.Join(dir, "config.json")
	writeFile(t, file)

	rec := &recorder{}
	tree, err := NewFSNotify(Options{OnChange: rec.record})
	require.NoError(t, err)
	require.NoError(t, tree.AddRoot(file, false))
	startTree(t, tree)

	require.NoError(t, os.Remove(file))
	require.Eventually(t, func() bool { return rec.saw(file, fsnotify.Remove) }, 5*time.Second, 20*time.Millisecond)
	assert.False(t, tree.Watching(file))

	writeFile(t, file)
	assert.Eventually(t, func() bool {
		return tree.Watching(file) && rec.saw(file, fsnotify.Create)
	}, 5*time.Second, 20*time.Millisecond)
}
