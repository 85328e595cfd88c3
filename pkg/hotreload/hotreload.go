// Package hotreload composes the watch tree, debounce scheduler and reload
// orchestrator behind a builder API, and runs them next to a supervised
// child process.
package hotreload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	hlog "github.com/yaklabco/hotreload/internal/log"
	"github.com/yaklabco/hotreload/pkg/debounce"
	"github.com/yaklabco/hotreload/pkg/filter"
	"github.com/yaklabco/hotreload/pkg/fsutils"
	"github.com/yaklabco/hotreload/pkg/pattern"
	"github.com/yaklabco/hotreload/pkg/reload"
	"github.com/yaklabco/hotreload/pkg/resolve"
	"github.com/yaklabco/hotreload/pkg/watch"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultReloadDelay = 1500 * time.Millisecond
	DefaultCooldown    = 500 * time.Millisecond
)

// ErrStarted is returned when configuration that only applies before Start
// is changed afterwards, or when Start is called twice.
var ErrStarted = errors.New("hot reload already started")

// ExcludeMatch selects the form of a path the watch-exclude axis is tested
// against.
type ExcludeMatch int

const (
	// ExcludeRelative tests paths relative to the base directory.
	ExcludeRelative ExcludeMatch = iota
	// ExcludeAbsolute tests canonical absolute paths.
	ExcludeAbsolute
)

// Option configures a HotReload.
type Option func(*HotReload)

// WithBaseDir sets the directory relative paths are resolved from. Defaults
// to the working directory.
func WithBaseDir(dir string) Option {
	return func(h *HotReload) { h.baseDir = dir }
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *HotReload) { h.logger = logger }
}

func WithConsole(console *hlog.ConsoleLogger) Option {
	return func(h *HotReload) { h.console = console }
}

// WithResolver sets the resolver literal patterns are looked up through.
func WithResolver(resolver pattern.Resolver) Option {
	return func(h *HotReload) { h.resolver = resolver }
}

// WithBackend replaces the fsnotify backend.
func WithBackend(backend watch.Backend) Option {
	return func(h *HotReload) { h.backend = backend }
}

func WithReloadDelay(delay time.Duration) Option {
	return func(h *HotReload) { h.reloadDelay = delay }
}

func WithCooldown(cooldown time.Duration) Option {
	return func(h *HotReload) { h.cooldown = cooldown }
}

func WithExcludeMatch(match ExcludeMatch) Option {
	return func(h *HotReload) { h.excludeMatch = match }
}

func WithFullReloadPolicy(policy reload.FullReloadPolicy) Option {
	return func(h *HotReload) { h.policy = policy }
}

// WithRegistry enables in-process unit reloading through registry. Without
// one a full reload only runs its hooks.
func WithRegistry(registry reload.UnitRegistry) Option {
	return func(h *HotReload) { h.registry = registry }
}

// WithWalkConcurrency bounds the number of watch roots walked at once.
func WithWalkConcurrency(n int) Option {
	return func(h *HotReload) { h.walkConcurrency = n }
}

type rootSpec struct {
	path      string
	recursive bool
}

// HotReload collects watch roots, filter axes and hooks, then runs the
// watch → debounce → reload pipeline once started.
type HotReload struct {
	baseDir         string
	logger          *slog.Logger
	console         *hlog.ConsoleLogger
	resolver        pattern.Resolver
	backend         watch.Backend
	registry        reload.UnitRegistry
	reloadDelay     time.Duration
	cooldown        time.Duration
	excludeMatch    ExcludeMatch
	policy          reload.FullReloadPolicy
	walkConcurrency int

	watchExclude *filter.Set[struct{}]
	uncache      *filter.Set[struct{}]
	reload       *filter.Set[struct{}]
	special      *filter.Set[reload.SpecialHandler]

	mu       sync.Mutex
	roots    []rootSpec
	childEnv map[string]string
	hooks    []func(*reload.Orchestrator)

	tree         *watch.Tree
	orchestrator *reload.Orchestrator
	scheduler    *debounce.Scheduler[watch.Change]
	group        *errgroup.Group
	cancel       context.CancelFunc
}

// New returns an unstarted HotReload.
func New(opts ...Option) (*HotReload, error) {
	h := &HotReload{
		reloadDelay: DefaultReloadDelay,
		cooldown:    DefaultCooldown,
		childEnv:    map[string]string{},

		watchExclude: filter.New[struct{}]("watchExclude", filter.MatchNone),
		uncache:      filter.New[struct{}]("uncache", filter.MatchAll),
		reload:       filter.New[struct{}]("reload", filter.MatchNone),
		special:      filter.New[reload.SpecialHandler]("specialReload", filter.MatchNone),
	}
	for _, opt := range opts {
		opt(h)
	}

	if h.baseDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		h.baseDir = wd
	}
	baseDir, err := filepath.Abs(h.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}
	// Events carry canonical paths, so relative excludes need a canonical base.
	if canonical, err := fsutils.TruePath(baseDir); err == nil {
		baseDir = canonical
	}
	h.baseDir = baseDir

	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.resolver == nil {
		h.resolver = resolve.New(nil, nil)
	}

	return h, nil
}

// BaseDir returns the directory relative paths are resolved from.
func (h *HotReload) BaseDir() string {
	return h.baseDir
}

// Logger returns the structured logger.
func (h *HotReload) Logger() *slog.Logger {
	return h.logger
}

// LoggingEnabled toggles the console progress lines.
func (h *HotReload) LoggingEnabled(enabled bool) {
	h.console.SetEnabled(enabled)
}

// Watch adds watch roots. Only literal paths are accepted; a spec's
// Recursive flag controls whether subdirectories are watched. Roots added
// after Start are walked right away.
func (h *HotReload) Watch(specs ...pattern.Spec) error {
	for _, spec := range specs {
		if spec.Kind != pattern.KindLiteral {
			return &pattern.InvalidPatternError{Spec: spec, Err: errors.New("watch roots must be literal paths")}
		}
		if spec.Value == "" {
			return &pattern.InvalidPatternError{Spec: spec, Err: errors.New("empty path")}
		}
	}

	for _, spec := range specs {
		path := spec.Value
		if !filepath.IsAbs(path) {
			path = filepath.Join(h.baseDir, path)
		}

		h.mu.Lock()
		h.roots = append(h.roots, rootSpec{path: path, recursive: spec.Recursive})
		tree := h.tree
		h.mu.Unlock()

		if tree != nil {
			if err := tree.AddRoot(path, spec.Recursive); err != nil {
				return fmt.Errorf("watching %s: %w", path, err)
			}
		}
	}
	return nil
}

func (h *HotReload) compile(specs []pattern.Spec) ([]pattern.Matcher, error) {
	return pattern.CompileAll(specs, pattern.WithResolver(h.resolver), pattern.WithBaseDir(h.baseDir))
}

// WatchExclude adds paths that are never watched and whose changes are
// dropped. With relative matching, literals are compared as written
// against project-relative paths and are not resolved.
func (h *HotReload) WatchExclude(specs ...pattern.Spec) error {
	compile := h.compile
	if h.excludeMatch != ExcludeAbsolute {
		compile = func(specs []pattern.Spec) ([]pattern.Matcher, error) {
			return pattern.CompileAll(specs, pattern.WithBaseDir(h.baseDir))
		}
	}
	matchers, err := compile(specs)
	if err != nil {
		return err
	}
	h.watchExclude.Include(struct{}{}, matchers...)
	return nil
}

// Uncache restricts the units discarded on a full reload. Without any rule
// every loaded unit is discarded.
func (h *HotReload) Uncache(specs ...pattern.Spec) error {
	matchers, err := h.compile(specs)
	if err != nil {
		return err
	}
	h.uncache.Include(struct{}{}, matchers...)
	return nil
}

func (h *HotReload) UncacheExclude(specs ...pattern.Spec) error {
	matchers, err := h.compile(specs)
	if err != nil {
		return err
	}
	h.uncache.Exclude(matchers...)
	return nil
}

// Reload selects the discarded units that are instantiated again. Without
// any rule none are.
func (h *HotReload) Reload(specs ...pattern.Spec) error {
	matchers, err := h.compile(specs)
	if err != nil {
		return err
	}
	h.reload.Include(struct{}{}, matchers...)
	return nil
}

func (h *HotReload) ReloadExclude(specs ...pattern.Spec) error {
	matchers, err := h.compile(specs)
	if err != nil {
		return err
	}
	h.reload.Exclude(matchers...)
	return nil
}

// SpecialReload runs handler instead of a full reload for changes matching
// specs. Handlers run in registration order.
func (h *HotReload) SpecialReload(handler reload.SpecialHandler, specs ...pattern.Spec) error {
	if handler == nil {
		return errors.New("nil special reload handler")
	}
	matchers, err := h.compile(specs)
	if err != nil {
		return err
	}
	h.special.Include(handler, matchers...)
	return nil
}

func (h *HotReload) SpecialReloadExclude(specs ...pattern.Spec) error {
	matchers, err := h.compile(specs)
	if err != nil {
		return err
	}
	h.special.Exclude(matchers...)
	return nil
}

// OnBeforeSpecialReload registers a hook run before a special handler chain.
func (h *HotReload) OnBeforeSpecialReload(hook reload.Hook) {
	h.addHook(func(o *reload.Orchestrator) { o.OnBeforeSpecialReload(hook) })
}

func (h *HotReload) OnAfterSpecialReload(hook reload.Hook) {
	h.addHook(func(o *reload.Orchestrator) { o.OnAfterSpecialReload(hook) })
}

// OnBeforeReload registers a hook run before every full reload. Restarting
// the child process hangs off this hook.
func (h *HotReload) OnBeforeReload(hook reload.Hook) {
	h.addHook(func(o *reload.Orchestrator) { o.OnBeforeReload(hook) })
}

func (h *HotReload) OnAfterReload(hook reload.Hook) {
	h.addHook(func(o *reload.Orchestrator) { o.OnAfterReload(hook) })
}

func (h *HotReload) OnBeforeUnitReload(hook reload.UnitHook) {
	h.addHook(func(o *reload.Orchestrator) { o.OnBeforeUnitReload(hook) })
}

func (h *HotReload) OnAfterUnitReload(hook reload.UnitHook) {
	h.addHook(func(o *reload.Orchestrator) { o.OnAfterUnitReload(hook) })
}

// addHook records the registration and applies it at once when running.
func (h *HotReload) addHook(register func(*reload.Orchestrator)) {
	h.mu.Lock()
	h.hooks = append(h.hooks, register)
	orchestrator := h.orchestrator
	h.mu.Unlock()

	if orchestrator != nil {
		register(orchestrator)
	}
}

// SetChildEnv adds a variable to the supervised child's environment.
func (h *HotReload) SetChildEnv(key, value string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.childEnv[key] = value
}

// ChildEnv returns a copy of the variables added with SetChildEnv.
func (h *HotReload) ChildEnv() map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return maps.Clone(h.childEnv)
}

// excludePath maps a path to the form the watch-exclude axis sees.
func (h *HotReload) excludePath(path string) string {
	if h.excludeMatch == ExcludeAbsolute {
		return path
	}
	rel, err := filepath.Rel(h.baseDir, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

func (h *HotReload) excluded(path string) bool {
	return h.watchExclude.Test(h.excludePath(path))
}

// Start builds the pipeline, begins walking every root and returns. The
// pipeline runs until ctx is done or Close is called.
func (h *HotReload) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.tree != nil {
		return ErrStarted
	}

	ctx, cancel := context.WithCancel(ctx)

	var orchestrator *reload.Orchestrator
	scheduler := debounce.New(h.reloadDelay, h.cooldown, func(change watch.Change) {
		orchestrator.Submit(change)
	}, debounce.WithLogger(h.logger))

	// Excluded changes must not reach the scheduler: the last value wins
	// there, and each push restarts the window.
	onChange := func(change watch.Change) {
		if h.excluded(change.Path) {
			h.logger.Debug("dropping excluded change", hlog.Path, change.Path)
			return
		}
		scheduler.Push(change)
	}

	treeOptions := watch.Options{
		Logger:          h.logger,
		Console:         h.console,
		Exclude:         h.excluded,
		OnChange:        onChange,
		WalkConcurrency: h.walkConcurrency,
		BaseDir:         h.baseDir,
	}
	var tree *watch.Tree
	if h.backend != nil {
		tree = watch.New(h.backend, treeOptions)
	} else {
		var err error
		tree, err = watch.NewFSNotify(treeOptions)
		if err != nil {
			cancel()
			return fmt.Errorf("creating watcher: %w", err)
		}
	}

	var reloader reload.UnitReloader
	if h.registry != nil {
		reloader = reload.NewRegistryReloader(h.registry)
	}
	orchestrator = reload.New(reload.Config{
		WatchExclude: h.watchExclude,
		ExcludePath:  h.excludePath,
		Uncache:      h.uncache,
		Reload:       h.reload,
		Special:      h.special,
		Reloader:     reloader,
		Policy:       h.policy,
		Ready:        tree.Ready(),
		OnCycleDone:  scheduler.Cooldown,
		Logger:       h.logger,
		Console:      h.console,
	})
	for _, register := range h.hooks {
		register(orchestrator)
	}

	for _, root := range h.roots {
		if err := tree.AddRoot(root.path, root.recursive); err != nil {
			cancel()
			_ = tree.Close()
			return fmt.Errorf("watching %s: %w", root.path, err)
		}
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := tree.Run(gctx); err != nil && !errors.Is(err, watch.ErrClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error { return orchestrator.Run(gctx) })
	group.Go(func() error {
		<-gctx.Done()
		scheduler.Stop()
		return tree.Close()
	})

	h.tree = tree
	h.orchestrator = orchestrator
	h.scheduler = scheduler
	h.group = group
	h.cancel = cancel

	h.logger.Debug("hot reload started", hlog.Dir, h.baseDir)
	return nil
}

// Ready closes once every root added before Start has been walked. It is
// nil before Start.
func (h *HotReload) Ready() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.tree == nil {
		return nil
	}
	return h.tree.Ready()
}

// Wait blocks until the pipeline has shut down.
func (h *HotReload) Wait() error {
	h.mu.Lock()
	group := h.group
	h.mu.Unlock()
	if group == nil {
		return nil
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Close stops the pipeline and waits for it.
func (h *HotReload) Close() error {
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return h.Wait()
}

// State returns the orchestrator state, or Idle before Start.
func (h *HotReload) State() reload.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.orchestrator == nil {
		return reload.Idle
	}
	return h.orchestrator.State()
}

// Stats returns the orchestrator bookkeeping.
func (h *HotReload) Stats() reload.Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.orchestrator == nil {
		return reload.Stats{}
	}
	return h.orchestrator.Stats()
}

// Entries returns the watched entries, or nil before Start.
func (h *HotReload) Entries() []watch.Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.tree == nil {
		return nil
	}
	return h.tree.Entries()
}

// Flush delivers a pending debounced change at once.
func (h *HotReload) Flush() bool {
	h.mu.Lock()
	scheduler := h.scheduler
	h.mu.Unlock()
	return scheduler != nil && scheduler.Flush()
}

// Axes returns a snapshot of every filter axis.
func (h *HotReload) Axes() []filter.Description {
	return []filter.Description{
		h.watchExclude.Describe(),
		h.uncache.Describe(),
		h.reload.Describe(),
		h.special.Describe(),
	}
}

// WatchRoots returns the configured roots.
func (h *HotReload) WatchRoots() []watch.Root {
	h.mu.Lock()
	defer h.mu.Unlock()
	roots := make([]watch.Root, 0, len(h.roots))
	for _, root := range h.roots {
		roots = append(roots, watch.Root{Path: root.path, Recursive: root.recursive})
	}
	return roots
}
