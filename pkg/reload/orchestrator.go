// Package reload decides, for each settled change, between the special
// handler chain and a full reload, and runs the lifecycle hooks around it.
package reload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	hlog "github.com/yaklabco/hotreload/internal/log"
	"github.com/yaklabco/hotreload/pkg/filter"
	"github.com/yaklabco/hotreload/pkg/watch"
)

// Config wires an Orchestrator to its filter axes and collaborators.
type Config struct {
	// WatchExclude drops matching changes before any decision.
	WatchExclude *filter.Set[struct{}]
	// ExcludePath maps a changed path to the form WatchExclude is tested
	// against. Defaults to the path itself.
	ExcludePath func(path string) string

	Uncache *filter.Set[struct{}]
	Reload  *filter.Set[struct{}]
	Special *filter.Set[SpecialHandler]

	// Reloader does the work of a full reload. Nil means a full reload only
	// runs the hooks, leaving recovery to a process restart.
	Reloader UnitReloader
	Policy   FullReloadPolicy

	// Ready gates the start of processing. Changes submitted before it
	// closes are held, not dropped.
	Ready <-chan struct{}

	// OnCycleDone is called after every completed cycle.
	OnCycleDone func()

	Logger  *slog.Logger
	Console *hlog.ConsoleLogger
}

// Orchestrator runs one reload cycle at a time. A change submitted while a
// cycle is in flight is held, replacing any change already held.
type Orchestrator struct {
	cfg     Config
	logger  *slog.Logger
	console *hlog.ConsoleLogger

	wake chan struct{}

	hookMu           sync.RWMutex
	beforeSpecial    []Hook
	afterSpecial     []Hook
	beforeReload     []Hook
	afterReload      []Hook
	beforeUnitReload []UnitHook
	afterUnitReload  []UnitHook

	mu      sync.Mutex
	state   State
	queued  *watch.Change
	stats   Stats
	running bool
}

// New returns an Orchestrator. Nil filter sets get the axis defaults.
func New(cfg Config) *Orchestrator {
	if cfg.WatchExclude == nil {
		cfg.WatchExclude = filter.New[struct{}]("watchExclude", filter.MatchNone)
	}
	if cfg.Uncache == nil {
		cfg.Uncache = filter.New[struct{}]("uncache", filter.MatchAll)
	}
	if cfg.Reload == nil {
		cfg.Reload = filter.New[struct{}]("reload", filter.MatchNone)
	}
	if cfg.Special == nil {
		cfg.Special = filter.New[SpecialHandler]("specialReload", filter.MatchNone)
	}
	if cfg.ExcludePath == nil {
		cfg.ExcludePath = func(path string) string { return path }
	}
	if cfg.Ready == nil {
		ready := make(chan struct{})
		close(ready)
		cfg.Ready = ready
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		cfg:     cfg,
		logger:  logger,
		console: cfg.Console,
		wake:    make(chan struct{}, 1),
	}
}

// OnBeforeSpecialReload registers a hook run before a special handler chain.
func (o *Orchestrator) OnBeforeSpecialReload(hook Hook) {
	o.hookMu.Lock()
	defer o.hookMu.Unlock()
	o.beforeSpecial = append(o.beforeSpecial, hook)
}

// OnAfterSpecialReload registers a hook run after a special handler chain.
func (o *Orchestrator) OnAfterSpecialReload(hook Hook) {
	o.hookMu.Lock()
	defer o.hookMu.Unlock()
	o.afterSpecial = append(o.afterSpecial, hook)
}

// OnBeforeReload registers a hook run before a full reload.
func (o *Orchestrator) OnBeforeReload(hook Hook) {
	o.hookMu.Lock()
	defer o.hookMu.Unlock()
	o.beforeReload = append(o.beforeReload, hook)
}

// OnAfterReload registers a hook run after a full reload.
func (o *Orchestrator) OnAfterReload(hook Hook) {
	o.hookMu.Lock()
	defer o.hookMu.Unlock()
	o.afterReload = append(o.afterReload, hook)
}

// OnBeforeUnitReload registers a hook run before each unit is instantiated.
func (o *Orchestrator) OnBeforeUnitReload(hook UnitHook) {
	o.hookMu.Lock()
	defer o.hookMu.Unlock()
	o.beforeUnitReload = append(o.beforeUnitReload, hook)
}

// OnAfterUnitReload registers a hook run after each unit is instantiated.
func (o *Orchestrator) OnAfterUnitReload(hook UnitHook) {
	o.hookMu.Lock()
	defer o.hookMu.Unlock()
	o.afterUnitReload = append(o.afterUnitReload, hook)
}

// Submit hands a settled change to the orchestrator. It never blocks.
func (o *Orchestrator) Submit(change watch.Change) {
	o.mu.Lock()
	if o.queued != nil {
		o.logger.Debug("superseding queued change", hlog.Path, o.queued.Path)
	}
	o.queued = &change
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// State returns the current cycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Stats returns a snapshot of the cycle bookkeeping.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats
}

// Run processes submitted changes until ctx is done. A cycle in progress
// when ctx is cancelled runs to completion.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return errors.New("orchestrator already running")
	}
	o.running = true
	o.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil
	case <-o.cfg.Ready:
	}

	o.mu.Lock()
	o.stats.ReadyAt = time.Now()
	o.mu.Unlock()
	o.logger.Debug("watch tree ready, processing changes")

	for {
		o.mu.Lock()
		change := o.queued
		o.queued = nil
		o.mu.Unlock()

		if change != nil {
			o.cycle(ctx, *change)
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-o.wake:
		}
	}
}

func (o *Orchestrator) setState(state State) {
	o.mu.Lock()
	o.state = state
	o.mu.Unlock()
}

// cycle runs one decision and its consequences, always returning to Idle.
func (o *Orchestrator) cycle(ctx context.Context, change watch.Change) {
	// The cycle is not cancellable once started.
	ctx = context.WithoutCancel(ctx)
	event := newEvent(change)
	logger := o.logger.With(hlog.Cycle, event.Cycle.String(), hlog.Path, event.Path)

	o.setState(Deciding)
	defer o.setState(Idle)

	if o.cfg.WatchExclude.Test(o.cfg.ExcludePath(event.Path)) {
		logger.Debug("change excluded from watching")
		o.mu.Lock()
		o.stats.Excluded++
		o.mu.Unlock()
		return
	}

	fullReload := true
	if handlers := o.cfg.Special.Matches(event.Path); len(handlers) > 0 {
		o.setState(SpecialHandling)
		fullReload = o.runSpecial(ctx, logger, event, handlers)
	}

	if fullReload {
		o.setState(FullReloading)
		o.runFullReload(ctx, logger, event)
	}

	o.mu.Lock()
	o.stats.Cycles++
	o.stats.LastCycle = time.Now()
	o.mu.Unlock()

	if o.cfg.OnCycleDone != nil {
		o.cfg.OnCycleDone()
	}
}

// runSpecial runs the handler chain and reports whether a full reload
// should follow.
func (o *Orchestrator) runSpecial(ctx context.Context, logger *slog.Logger, event Event, handlers []SpecialHandler) bool {
	o.runHooks(ctx, logger, "beforeSpecialReload", o.hooks(&o.beforeSpecial), event)

	hc := &HandlerContext{Event: event}
	suppressed := false

chain:
	for i, handler := range handlers {
		action, err := callHandler(ctx, handler, hc)
		if err != nil {
			logger.Error("special reload handler failed, skipping full reload",
				hlog.Handler, i, hlog.Error, err)
			suppressed = true
			break
		}
		switch action {
		case Continue:
		case Stop:
			logger.Debug("special reload chain stopped", hlog.Handler, i)
			break chain
		case StopAndSuppress:
			logger.Debug("special reload chain stopped, full reload suppressed", hlog.Handler, i)
			suppressed = true
			break chain
		}
	}

	o.runHooks(ctx, logger, "afterSpecialReload", o.hooks(&o.afterSpecial), event)

	if suppressed {
		return false
	}
	if o.cfg.Policy == UnlessSuppressed {
		return true
	}
	return hc.FullReloadRequested()
}

func callHandler(ctx context.Context, handler SpecialHandler, hc *HandlerContext) (action Action, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler.HandleSpecialReload(ctx, hc)
}

func (o *Orchestrator) runFullReload(ctx context.Context, logger *slog.Logger, event Event) {
	o.runHooks(ctx, logger, "beforeReload", o.hooks(&o.beforeReload), event)

	if o.cfg.Reloader != nil {
		before := o.unitHooks(&o.beforeUnitReload)
		after := o.unitHooks(&o.afterUnitReload)

		results := o.cfg.Reloader.Reload(ctx, Request{
			Event:         event,
			ShouldUncache: o.cfg.Uncache.Test,
			ShouldReload:  o.cfg.Reload.Test,
			BeforeUnit: func(unit string) {
				o.console.Labeled("Reloading:", unit)
				o.runUnitHooks(ctx, logger, before, event, UnitResult{Unit: unit})
			},
			AfterUnit: func(result UnitResult) {
				o.runUnitHooks(ctx, logger, after, event, result)
			},
		})

		failed := 0
		for _, result := range results {
			if result.Err != nil {
				failed++
				logger.Error("unit reload failed", hlog.Unit, result.Unit, hlog.Error, result.Err)
			}
		}
		logger.Debug("full reload finished", "units", len(results), "failed", failed)
	}

	o.runHooks(ctx, logger, "afterReload", o.hooks(&o.afterReload), event)
}

func (o *Orchestrator) hooks(list *[]Hook) []Hook {
	o.hookMu.RLock()
	defer o.hookMu.RUnlock()
	return append([]Hook(nil), *list...)
}

func (o *Orchestrator) unitHooks(list *[]UnitHook) []UnitHook {
	o.hookMu.RLock()
	defer o.hookMu.RUnlock()
	return append([]UnitHook(nil), *list...)
}

func (o *Orchestrator) runHooks(ctx context.Context, logger *slog.Logger, point string, hooks []Hook, event Event) {
	for i, hook := range hooks {
		err := guard(func() error { return hook(ctx, event) })
		if err != nil {
			logger.Error("hook failed", hlog.Op, point, hlog.Handler, i, hlog.Error, err)
		}
	}
}

func (o *Orchestrator) runUnitHooks(ctx context.Context, logger *slog.Logger, hooks []UnitHook, event Event, result UnitResult) {
	for i, hook := range hooks {
		err := guard(func() error {
			hook(ctx, event, result)
			return nil
		})
		if err != nil {
			logger.Error("unit hook failed", hlog.Unit, result.Unit, hlog.Handler, i, hlog.Error, err)
		}
	}
}
