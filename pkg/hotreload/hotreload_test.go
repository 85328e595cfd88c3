package hotreload

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yaklabco/hotreload/pkg/pattern"
	"github.com/yaklabco/hotreload/pkg/reload"
)

const (
	testDelay    = 50 * time.Millisecond
	testCooldown = 10 * time.Millisecond
	waitFor      = 5 * time.Second
	tick         = 10 * time.Millisecond
)

func canonicalTempDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

type pathLog struct {
	mu    sync.Mutex
	paths []string
}

func (l *pathLog) add(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paths = append(l.paths, path)
}

func (l *pathLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.paths...)
}

func (l *pathLog) hook() reload.Hook {
	return func(_ context.Context, event reload.Event) error {
		l.add(event.Path)
		return nil
	}
}

func newTestHotReload(t *testing.T, dir string, opts ...Option) *HotReload {
	t.Helper()
	base := []Option{WithBaseDir(dir), WithReloadDelay(testDelay), WithCooldown(testCooldown)}
	h, err := New(append(base, opts...)...)
	require.NoError(t, err)
	return h
}

func start(t *testing.T, h *HotReload) {
	t.Helper()
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { _ = h.Close() })

	select {
	case <-h.Ready():
	case <-time.After(waitFor):
		t.Fatal("hot reload never became ready")
	}
}

func TestWatchRejectsPatterns(t *testing.T) {
	h := newTestHotReload(t, t.TempDir())

	err := h.Watch(pattern.Glob("src/*"))
	require.ErrorIs(t, err, pattern.ErrInvalidPattern)

	err = h.Watch(pattern.Literal(""))
	require.ErrorIs(t, err, pattern.ErrInvalidPattern)
	assert.Empty(t, h.WatchRoots())
}

func TestInvalidPatternLeavesAxisUntouched(t *testing.T) {
	h := newTestHotReload(t, t.TempDir())
	require.NoError(t, h.Reload(pattern.Glob("*.js")))

	err := h.Reload(pattern.Regex("(unclosed"), pattern.Glob("*.css"))
	require.ErrorIs(t, err, pattern.ErrInvalidPattern)

	reloadAxis := h.Axes()[2]
	assert.Equal(t, "reload", reloadAxis.Name)
	assert.Len(t, reloadAxis.Includes, 1)
}

func TestStartTwice(t *testing.T) {
	h := newTestHotReload(t, t.TempDir())
	start(t, h)
	require.ErrorIs(t, h.Start(context.Background()), ErrStarted)
}

func TestChangeTriggersFullReload(t *testing.T) {
	dir := canonicalTempDir(t)
	file := filepath.Join(dir, "app.txt")
	writeFile(t, file, "one")

	h := newTestHotReload(t, dir)
	require.NoError(t, h.Watch(pattern.Literal(".").WithRecursive(true)))
	before := &pathLog{}
	after := &pathLog{}
	h.OnBeforeReload(before.hook())
	h.OnAfterReload(after.hook())
	start(t, h)

	writeFile(t, file, "two")

	require.Eventually(t, func() bool { return len(after.get()) >= 1 }, waitFor, tick)
	assert.Equal(t, file, before.get()[0])
	assert.Equal(t, reload.Idle, h.State())
	assert.GreaterOrEqual(t, h.Stats().Cycles, 1)
}

func TestSpecialReloadSkipsFullReload(t *testing.T) {
	dir := canonicalTempDir(t)
	css := filepath.Join(dir, "style.css")
	writeFile(t, css, "a {}")

	h := newTestHotReload(t, dir)
	require.NoError(t, h.Watch(pattern.Literal(".").WithRecursive(true)))

	handled := &pathLog{}
	require.NoError(t, h.SpecialReload(reload.SpecialHandlerFunc(
		func(_ context.Context, hc *reload.HandlerContext) (reload.Action, error) {
			handled.add(hc.Path)
			return reload.Continue, nil
		}), pattern.Glob("*.css")))

	full := &pathLog{}
	h.OnBeforeReload(full.hook())
	start(t, h)

	writeFile(t, css, "b {}")

	require.Eventually(t, func() bool { return len(handled.get()) >= 1 }, waitFor, tick)
	assert.Never(t, func() bool { return len(full.get()) > 0 }, 300*time.Millisecond, tick)
}

func TestWatchExcludeIsRelativeToBaseDir(t *testing.T) {
	dir := canonicalTempDir(t)
	writeFile(t, filepath.Join(dir, "src", "main.txt"), "x")
	writeFile(t, filepath.Join(dir, "build", "out.txt"), "x")

	h := newTestHotReload(t, dir)
	require.NoError(t, h.Watch(pattern.Literal(".").WithRecursive(true)))
	require.NoError(t, h.WatchExclude(pattern.Literal("build")))
	start(t, h)

	var watched []string
	for _, entry := range h.Entries() {
		watched = append(watched, entry.CanonicalPath)
	}
	assert.Contains(t, watched, filepath.Join(dir, "src", "main.txt"))
	assert.NotContains(t, watched, filepath.Join(dir, "build"))
	assert.NotContains(t, watched, filepath.Join(dir, "build", "out.txt"))
}

func TestRelativeWatchExcludeIsNotResolved(t *testing.T) {
	dir := canonicalTempDir(t)
	writeFile(t, filepath.Join(dir, "node_modules", "cache", "index.js"), "x")
	writeFile(t, filepath.Join(dir, "cache", "entry.txt"), "x")
	writeFile(t, filepath.Join(dir, "main.txt"), "x")

	h := newTestHotReload(t, dir)
	require.NoError(t, h.Watch(pattern.Literal(".").WithRecursive(true)))
	require.NoError(t, h.WatchExclude(pattern.Literal("cache").WithRecursive(true)))
	start(t, h)

	var watched []string
	for _, entry := range h.Entries() {
		watched = append(watched, entry.CanonicalPath)
	}
	assert.Contains(t, watched, filepath.Join(dir, "main.txt"))
	assert.NotContains(t, watched, filepath.Join(dir, "cache", "entry.txt"))
}

func TestWatchExcludeAbsolute(t *testing.T) {
	dir := canonicalTempDir(t)
	writeFile(t, filepath.Join(dir, "keep.txt"), "x")
	writeFile(t, filepath.Join(dir, "skip.log"), "x")

	h := newTestHotReload(t, dir, WithExcludeMatch(ExcludeAbsolute))
	require.NoError(t, h.Watch(pattern.Literal(".").WithRecursive(true)))
	require.NoError(t, h.WatchExclude(pattern.Literal(filepath.Join(dir, "skip.log"))))
	start(t, h)

	var watched []string
	for _, entry := range h.Entries() {
		watched = append(watched, entry.CanonicalPath)
	}
	assert.Contains(t, watched, filepath.Join(dir, "keep.txt"))
	assert.NotContains(t, watched, filepath.Join(dir, "skip.log"))
}

func TestExcludedWritesDoNotMaskChanges(t *testing.T) {
	dir := canonicalTempDir(t)
	app := filepath.Join(dir, "app.js")
	logFile := filepath.Join(dir, "server.log")
	writeFile(t, app, "one")
	writeFile(t, logFile, "")

	h := newTestHotReload(t, dir)
	require.NoError(t, h.Watch(pattern.Literal(".").WithRecursive(true)))
	require.NoError(t, h.WatchExclude(pattern.Glob("*.log")))
	before := &pathLog{}
	h.OnBeforeReload(before.hook())
	start(t, h)

	writeFile(t, app, "two")
	// Keep writing the excluded file faster than the reload delay.
	for i := range 20 {
		time.Sleep(testDelay / 3)
		writeFile(t, logFile, strconv.Itoa(i))
	}

	require.Eventually(t, func() bool { return len(before.get()) >= 1 }, waitFor, tick)
	assert.Equal(t, app, before.get()[0])
	assert.NotContains(t, before.get(), logFile)
	assert.Zero(t, h.Stats().Excluded)
}

func TestRootAddedAfterStartIsWalked(t *testing.T) {
	dir := canonicalTempDir(t)
	writeFile(t, filepath.Join(dir, "late", "file.txt"), "x")

	h := newTestHotReload(t, dir)
	start(t, h)

	require.NoError(t, h.Watch(pattern.Literal("late").WithRecursive(true)))
	require.Eventually(t, func() bool {
		for _, entry := range h.Entries() {
			if entry.CanonicalPath == filepath.Join(dir, "late", "file.txt") {
				return true
			}
		}
		return false
	}, waitFor, tick)
}

func TestHookAddedAfterStartRuns(t *testing.T) {
	dir := canonicalTempDir(t)
	file := filepath.Join(dir, "a.txt")
	writeFile(t, file, "x")

	h := newTestHotReload(t, dir)
	require.NoError(t, h.Watch(pattern.Literal(".")))
	start(t, h)

	before := &pathLog{}
	h.OnBeforeReload(before.hook())
	writeFile(t, file, "y")

	require.Eventually(t, func() bool { return len(before.get()) >= 1 }, waitFor, tick)
}

type fakeRegistry struct {
	mu           sync.Mutex
	loaded       []string
	evicted      []string
	instantiated []string
}

func (r *fakeRegistry) Loaded() []string { return r.loaded }

func (r *fakeRegistry) Evict(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evicted = append(r.evicted, id)
	return nil
}

func (r *fakeRegistry) Instantiate(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instantiated = append(r.instantiated, id)
	return nil
}

func (r *fakeRegistry) snapshot() ([]string, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.evicted...), append([]string(nil), r.instantiated...)
}

func TestRegistryHonoursUncacheAndReloadAxes(t *testing.T) {
	dir := canonicalTempDir(t)
	file := filepath.Join(dir, "a.txt")
	writeFile(t, file, "x")

	registry := &fakeRegistry{loaded: []string{"/app/lib/a.js", "/app/lib/b.js", "/app/vendor/c.js"}}
	h := newTestHotReload(t, dir, WithRegistry(registry))
	require.NoError(t, h.Watch(pattern.Literal(".")))
	require.NoError(t, h.UncacheExclude(pattern.Glob("/app/vendor/*")))
	require.NoError(t, h.Reload(pattern.Glob("*/a.js")))
	after := &pathLog{}
	h.OnAfterReload(after.hook())
	start(t, h)

	writeFile(t, file, "y")
	require.Eventually(t, func() bool { return len(after.get()) >= 1 }, waitFor, tick)

	evicted, instantiated := registry.snapshot()
	assert.Contains(t, evicted, "/app/lib/a.js")
	assert.Contains(t, evicted, "/app/lib/b.js")
	assert.NotContains(t, evicted, "/app/vendor/c.js")
	assert.Contains(t, instantiated, "/app/lib/a.js")
	assert.NotContains(t, instantiated, "/app/lib/b.js")
}

func TestChildEnv(t *testing.T) {
	h := newTestHotReload(t, t.TempDir())
	h.SetChildEnv("PORT", "8080")

	env := h.ChildEnv()
	assert.Equal(t, map[string]string{"PORT": "8080"}, env)

	env["PORT"] = "mutated"
	assert.Equal(t, "8080", h.ChildEnv()["PORT"])
}
