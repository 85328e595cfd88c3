package reload

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/yaklabco/hotreload/pkg/watch"
)

// State is the orchestrator's position in a reload cycle.
type State int

const (
	Idle State = iota
	Deciding
	SpecialHandling
	FullReloading
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Deciding:
		return "deciding"
	case SpecialHandling:
		return "special-handling"
	case FullReloading:
		return "full-reloading"
	default:
		return "unknown"
	}
}

// Event identifies one reload cycle and the settled change that started it.
type Event struct {
	Cycle uuid.UUID
	Path  string
	Op    fsnotify.Op
	Kind  watch.EntryKind
	Time  time.Time
}

func newEvent(change watch.Change) Event {
	return Event{
		Cycle: uuid.New(),
		Path:  change.Path,
		Op:    change.Op,
		Kind:  change.Kind,
		Time:  change.Time,
	}
}

// Hook observes a lifecycle point. Hooks run synchronously in registration
// order; an error or panic is logged and does not stop later hooks.
type Hook func(ctx context.Context, event Event) error

// UnitResult is the outcome of reloading one unit. Err is always nil when
// passed to a before-unit hook.
type UnitResult struct {
	Unit string
	Err  error
}

// UnitHook observes a single unit being reloaded.
type UnitHook func(ctx context.Context, event Event, result UnitResult)

// Action tells the orchestrator how to continue after a special handler.
type Action int

const (
	// Continue runs the next matching handler.
	Continue Action = iota
	// Stop ends the chain. A full reload still follows if one was requested.
	Stop
	// StopAndSuppress ends the chain and skips the full reload.
	StopAndSuppress
)

func (a Action) String() string {
	switch a {
	case Continue:
		return "continue"
	case Stop:
		return "stop"
	case StopAndSuppress:
		return "stop-and-suppress"
	default:
		return "unknown"
	}
}

// HandlerContext is handed to each special handler of a cycle. The cycle's
// Event fields are promoted, so hc.Path is the changed path.
type HandlerContext struct {
	Event

	fullReload bool
}

// RequestFullReload asks for a full reload once the handler chain finishes.
func (c *HandlerContext) RequestFullReload() { c.fullReload = true }

// FullReloadRequested reports whether any handler so far asked for a full
// reload.
func (c *HandlerContext) FullReloadRequested() bool { return c.fullReload }

// SpecialHandler performs targeted recovery for matching paths instead of a
// full reload.
type SpecialHandler interface {
	HandleSpecialReload(ctx context.Context, hc *HandlerContext) (Action, error)
}

// SpecialHandlerFunc adapts a function to SpecialHandler.
type SpecialHandlerFunc func(ctx context.Context, hc *HandlerContext) (Action, error)

func (f SpecialHandlerFunc) HandleSpecialReload(ctx context.Context, hc *HandlerContext) (Action, error) {
	return f(ctx, hc)
}

// FullReloadPolicy decides whether a cycle with special handlers continues
// into a full reload.
type FullReloadPolicy int

const (
	// RequireRequest reloads only when a handler called RequestFullReload.
	RequireRequest FullReloadPolicy = iota
	// UnlessSuppressed reloads unless a handler returned StopAndSuppress or
	// failed.
	UnlessSuppressed
)

func (p FullReloadPolicy) String() string {
	if p == UnlessSuppressed {
		return "unlessSuppressed"
	}
	return "request"
}

// Stats is the orchestrator's cycle bookkeeping.
type Stats struct {
	ReadyAt   time.Time
	Cycles    int
	Excluded  int
	LastCycle time.Time
}
