// Package watch keeps a live set of filesystem subscriptions for a set of
// roots, extending it as directories appear, and reports changes.
//
// Changes are delivered on the goroutine running Tree.Run, one at a time and
// in the order they were observed.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	hlog "github.com/yaklabco/hotreload/internal/log"
	"github.com/yaklabco/hotreload/pkg/fsutils"
	"golang.org/x/sync/semaphore"
)

const defaultWalkConcurrency = 4

// ErrClosed is returned by operations on a closed Tree.
var ErrClosed = errors.New("watch tree closed")

// Options configures a Tree.
type Options struct {
	Logger  *slog.Logger
	Console *hlog.ConsoleLogger

	// Exclude reports paths that must not be subscribed. Excluded
	// directories are not descended into.
	Exclude func(path string) bool

	// OnChange receives every change. It runs on the Run goroutine.
	OnChange func(Change)

	// WalkConcurrency bounds the number of root walks running at once.
	WalkConcurrency int

	// BaseDir is used to shorten paths in console output.
	BaseDir string
}

// Tree owns the watch entries and their subscriptions.
type Tree struct {
	backend  Backend
	logger   *slog.Logger
	console  *hlog.ConsoleLogger
	exclude  func(string) bool
	onChange func(Change)
	baseDir  string
	walkSem  *semaphore.Weighted

	ctx    context.Context //nolint:containedctx // bounds background walks, cancelled by Close
	cancel context.CancelFunc
	walks  sync.WaitGroup

	mu          sync.Mutex
	roots       []*Root
	entries     map[string]*Entry
	standby     map[string]Entry // file roots, by canonical path
	standbyDirs map[string]int   // parents of file roots, by canonical path
	pending     int
	started     bool
	ready       chan struct{}
	readyClosed bool
	closed      bool
}

// New returns a Tree over backend.
func New(backend Backend, options Options) *Tree {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := options.WalkConcurrency
	if concurrency <= 0 {
		concurrency = defaultWalkConcurrency
	}
	onChange := options.OnChange
	if onChange == nil {
		onChange = func(Change) {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Tree{
		backend:  backend,
		logger:   logger,
		console:  options.Console,
		exclude:  options.Exclude,
		onChange: onChange,
		baseDir:  options.BaseDir,
		walkSem:  semaphore.NewWeighted(int64(concurrency)),
		ctx:      ctx,
		cancel:   cancel,
		entries:  make(map[string]*Entry),
		ready:    make(chan struct{}),

		standby:     make(map[string]Entry),
		standbyDirs: make(map[string]int),
	}
}

// NewFSNotify returns a Tree backed by fsnotify.
func NewFSNotify(options Options) (*Tree, error) {
	backend, err := NewFSNotifyBackend()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	return New(backend, options), nil
}

// AddRoot starts watching path. The walk runs in the background; Ready
// closes once every walk requested so far has finished.
func (t *Tree) AddRoot(path string, recursive bool) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving watch root %q: %w", path, err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	root := &Root{Path: absPath, Recursive: recursive, State: Requested}
	t.roots = append(t.roots, root)
	t.pending++
	t.walks.Add(1)
	t.mu.Unlock()

	go t.walkRoot(root)
	return nil
}

func (t *Tree) walkRoot(root *Root) {
	defer t.walks.Done()
	defer t.finishWalk(root)

	if err := t.walkSem.Acquire(t.ctx, 1); err != nil {
		return
	}
	defer t.walkSem.Release(1)

	t.setRootState(root, Walking)
	t.console.Labeled("Watching:", t.display(root.Path))
	t.walk(root.Path, root.Recursive, true, nil)
}

func (t *Tree) finishWalk(root *Root) {
	t.mu.Lock()
	defer t.mu.Unlock()
	root.State = Active
	t.pending--
	t.maybeReadyLocked()
}

func (t *Tree) setRootState(root *Root, state RootState) {
	t.mu.Lock()
	root.State = state
	t.mu.Unlock()
}

func (t *Tree) maybeReadyLocked() {
	if t.started && t.pending == 0 && !t.readyClosed {
		t.readyClosed = true
		close(t.ready)
	}
}

// Ready is closed once Run has started and every walk requested so far has
// finished.
func (t *Tree) Ready() <-chan struct{} {
	return t.ready
}

// walk subscribes path and, for directories, its children. Nested
// directories are only descended into when recursive is set. Files found
// are passed to discovered when it is non-nil.
func (t *Tree) walk(path string, recursive, isRoot bool, discovered func(Entry)) {
	if t.ctx.Err() != nil {
		return
	}
	if !isRoot && t.excluded(path) {
		t.console.Labeled("Ignoring:", t.display(path))
		return
	}

	canonical, err := fsutils.TruePath(path)
	if err != nil {
		t.logger.Debug("skipping path that vanished during walk", hlog.Path, path, hlog.Error, err)
		return
	}
	info, err := os.Stat(canonical)
	if err != nil {
		t.logger.Debug("skipping path that vanished during walk", hlog.Path, path, hlog.Error, err)
		return
	}

	if !info.IsDir() {
		entry, added := t.subscribe(path, canonical, File, recursive)
		if added && isRoot {
			t.watchParent(entry)
		}
		if added && discovered != nil {
			discovered(entry)
		}
		return
	}

	if _, added := t.subscribe(path, canonical, Directory, recursive); !added {
		// Already watched, possibly through a symlink.
		return
	}

	children, err := os.ReadDir(canonical)
	if err != nil {
		t.logger.Debug("reading directory failed", hlog.Path, path, hlog.Error, err)
		return
	}
	for _, child := range children {
		childPath := filepath.Join(path, child.Name())
		if isDirEntry(childPath, child) && !recursive {
			continue
		}
		t.walk(childPath, recursive, false, discovered)
	}
}

func isDirEntry(path string, entry os.DirEntry) bool {
	if entry.Type()&os.ModeSymlink == 0 {
		return entry.IsDir()
	}
	return fsutils.IsDir(path)
}

// subscribe records an entry for canonical and opens its subscription. It
// returns false when the path is already watched or cannot be subscribed.
func (t *Tree) subscribe(logical, canonical string, kind EntryKind, recursive bool) (Entry, bool) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return Entry{}, false
	}
	if _, exists := t.entries[canonical]; exists {
		t.mu.Unlock()
		return Entry{}, false
	}
	entry := &Entry{LogicalPath: logical, CanonicalPath: canonical, Kind: kind, Recursive: recursive}
	t.entries[canonical] = entry
	t.mu.Unlock()

	if err := t.backend.Add(canonical); err != nil {
		t.mu.Lock()
		delete(t.entries, canonical)
		t.mu.Unlock()
		if fsutils.IsGone(err) {
			t.logger.Debug("path vanished before it could be watched", hlog.Path, canonical, hlog.Error, err)
		} else {
			t.logger.Warn("watch add failed", hlog.Path, canonical, hlog.Error, err)
		}
		return Entry{}, false
	}

	t.logger.Debug("watching", hlog.Path, logical, hlog.Canonical, canonical, hlog.Kind, kind.String())
	return *entry, true
}

// watchParent subscribes the directory holding a file root, so the file is
// picked up again after it is deleted and recreated or replaced by a
// rename. Only events for the file itself are passed on from there.
func (t *Tree) watchParent(entry Entry) {
	parent := filepath.Dir(entry.CanonicalPath)

	t.mu.Lock()
	if _, ok := t.standby[entry.CanonicalPath]; ok {
		t.mu.Unlock()
		return
	}
	t.standby[entry.CanonicalPath] = entry
	t.standbyDirs[parent]++
	first := t.standbyDirs[parent] == 1
	t.mu.Unlock()

	if !first {
		return
	}
	if err := t.backend.Add(parent); err != nil {
		t.logger.Debug("watching parent of file root failed", hlog.Path, parent, hlog.Error, err)
	}
}

// relevant reports whether an event concerns something the tree watches,
// rather than a sibling seen through the parent of a file root.
func (t *Tree) relevant(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[path]; ok {
		return true
	}
	if _, ok := t.standby[path]; ok {
		return true
	}
	if t.standbyDirs[path] > 0 {
		return false
	}
	parent := filepath.Dir(path)
	if _, ok := t.entries[parent]; ok {
		return true
	}
	return t.standbyDirs[parent] == 0
}

// Run delivers changes until ctx is done or the tree is closed.
func (t *Tree) Run(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.started {
		t.mu.Unlock()
		return errors.New("watch tree already running")
	}
	t.started = true
	t.maybeReadyLocked()
	t.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.ctx.Done():
			return nil
		case event, ok := <-t.backend.Events():
			if !ok {
				return nil
			}
			t.handleEvent(event)
		case err, ok := <-t.backend.Errors():
			if !ok {
				return nil
			}
			t.logger.Warn("watcher error", hlog.Error, err)
		}
	}
}

func (t *Tree) handleEvent(event fsnotify.Event) {
	if !t.relevant(filepath.Clean(event.Name)) {
		return
	}
	switch {
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		t.handleRemove(event)
	case event.Has(fsnotify.Create):
		t.handleCreate(event)
	case event.Has(fsnotify.Write):
		t.handleWrite(event)
	default:
		// Chmod only.
	}
}

func (t *Tree) handleRemove(event fsnotify.Event) {
	path := filepath.Clean(event.Name)

	t.mu.Lock()
	entry, ok := t.entries[path]
	var dropped []string
	if ok {
		for canonical := range t.entries {
			if fsutils.IsWithin(canonical, path) {
				delete(t.entries, canonical)
				dropped = append(dropped, canonical)
			}
		}
	}
	t.mu.Unlock()

	if !ok {
		t.logger.Debug("dropping event for unknown path", hlog.Path, path, hlog.Op, event.Op.String())
		return
	}
	for _, canonical := range dropped {
		// The kernel usually drops the watch itself; errors are expected.
		_ = t.backend.Remove(canonical)
	}

	t.emit(Change{Path: entry.CanonicalPath, Op: event.Op, Kind: entry.Kind})
}

func (t *Tree) handleCreate(event fsnotify.Event) {
	canonical, info, ok := t.canonicalize(event)
	if !ok {
		return
	}

	recursive := t.parentRecursive(canonical)
	if !info.IsDir() {
		if !t.excluded(event.Name) {
			if _, added := t.subscribe(event.Name, canonical, File, recursive); !added {
				// Moved over an existing entry; its subscription went with the
				// replaced file.
				t.rearm(canonical)
			}
		}
		t.emit(Change{Path: canonical, Op: event.Op, Kind: File})
		return
	}

	if !recursive {
		t.emit(Change{Path: canonical, Op: event.Op, Kind: Directory})
		return
	}

	// Subscribe the whole new subtree before reporting, so files created in
	// it right away are not missed.
	var discovered []Entry
	t.walk(event.Name, true, false, func(entry Entry) {
		discovered = append(discovered, entry)
	})
	t.emit(Change{Path: canonical, Op: event.Op, Kind: Directory})
	for _, entry := range discovered {
		t.emit(Change{Path: entry.CanonicalPath, Op: fsnotify.Create, Kind: File, Synthetic: true})
	}
}

func (t *Tree) handleWrite(event fsnotify.Event) {
	canonical, info, ok := t.canonicalize(event)
	if !ok {
		return
	}
	kind := File
	if info.IsDir() {
		kind = Directory
	}
	if kind == File {
		t.rearm(canonical)
	}
	t.emit(Change{Path: canonical, Op: event.Op, Kind: kind})
}

// rearm reopens the subscription for a file after a modification, since
// some native primitives stop reporting a file once it has been written.
func (t *Tree) rearm(canonical string) {
	t.mu.Lock()
	entry, ok := t.entries[canonical]
	t.mu.Unlock()
	if !ok || entry.Kind != File {
		return
	}

	_ = t.backend.Remove(canonical)
	if err := t.backend.Add(canonical); err != nil {
		t.mu.Lock()
		delete(t.entries, canonical)
		t.mu.Unlock()
		t.logger.Debug("re-arming watch failed", hlog.Path, canonical, hlog.Error, err)
		return
	}
	t.logger.Debug("re-armed watch", hlog.Path, canonical)
}

func (t *Tree) canonicalize(event fsnotify.Event) (string, os.FileInfo, bool) {
	canonical, err := fsutils.TruePath(event.Name)
	if err != nil {
		t.logger.Debug("dropping event for vanished path", hlog.Path, event.Name, hlog.Op, event.Op.String(), hlog.Error, err)
		return "", nil, false
	}
	info, err := os.Stat(canonical)
	if err != nil {
		t.logger.Debug("dropping event for vanished path", hlog.Path, event.Name, hlog.Op, event.Op.String(), hlog.Error, err)
		return "", nil, false
	}
	return canonical, info, true
}

func (t *Tree) parentRecursive(canonical string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if parent, ok := t.entries[filepath.Dir(canonical)]; ok {
		return parent.Recursive
	}
	return false
}

func (t *Tree) emit(change Change) {
	if change.Time.IsZero() {
		change.Time = time.Now()
	}
	label := "Changed:"
	if change.Kind == Directory {
		label = "Changed directory:"
	} else if change.Op.Has(fsnotify.Remove) || change.Op.Has(fsnotify.Rename) {
		label = "Removed:"
	}
	t.console.Labeled(label, t.display(change.Path))
	t.onChange(change)
}

func (t *Tree) excluded(path string) bool {
	return t.exclude != nil && t.exclude(path)
}

func (t *Tree) display(path string) string {
	return fsutils.RelOrAbs(t.baseDir, path)
}

// Roots returns a snapshot of the roots.
func (t *Tree) Roots() []Root {
	t.mu.Lock()
	defer t.mu.Unlock()
	roots := make([]Root, 0, len(t.roots))
	for _, root := range t.roots {
		roots = append(roots, *root)
	}
	return roots
}

// Entries returns a snapshot of the watched entries sorted by canonical path.
func (t *Tree) Entries() []Entry {
	t.mu.Lock()
	entries := make([]Entry, 0, len(t.entries))
	for _, entry := range t.entries {
		entries = append(entries, *entry)
	}
	t.mu.Unlock()

	slices.SortFunc(entries, func(a, b Entry) int {
		switch {
		case a.CanonicalPath < b.CanonicalPath:
			return -1
		case a.CanonicalPath > b.CanonicalPath:
			return 1
		default:
			return 0
		}
	})
	return entries
}

// Watching reports whether canonical has an entry.
func (t *Tree) Watching(canonical string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[canonical]
	return ok
}

// Close stops background walks and releases every subscription.
func (t *Tree) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	t.walks.Wait()

	t.mu.Lock()
	t.entries = make(map[string]*Entry)
	t.standby = make(map[string]Entry)
	t.standbyDirs = make(map[string]int)
	t.mu.Unlock()
	return t.backend.Close()
}
