package reload

import (
	"context"
	"fmt"
)

// UnitRegistry is the host's table of dynamically loaded units.
type UnitRegistry interface {
	// Loaded returns the identities of the currently loaded units.
	Loaded() []string
	// Evict discards the cached instance of a unit.
	Evict(id string) error
	// Instantiate loads a fresh instance of a unit.
	Instantiate(id string) error
}

// Request is what a UnitReloader gets for one full reload.
type Request struct {
	Event         Event
	ShouldUncache func(unit string) bool
	ShouldReload  func(unit string) bool
	BeforeUnit    func(unit string)
	AfterUnit     func(result UnitResult)
}

// UnitReloader performs the reload work of a full reload and reports the
// outcome of every unit it touched.
type UnitReloader interface {
	Reload(ctx context.Context, req Request) []UnitResult
}

// RegistryReloader reloads units held by a UnitRegistry in two passes:
// every loaded unit accepted by ShouldUncache is evicted first, then the
// evicted units accepted by ShouldReload are instantiated again. Evicting
// everything before re-instantiating anything keeps a fresh unit from
// picking up a stale dependency.
type RegistryReloader struct {
	Registry UnitRegistry
}

// NewRegistryReloader returns a reloader over registry.
func NewRegistryReloader(registry UnitRegistry) *RegistryReloader {
	return &RegistryReloader{Registry: registry}
}

func (r *RegistryReloader) Reload(ctx context.Context, req Request) []UnitResult {
	var (
		results []UnitResult
		evicted []string
	)

	for _, unit := range r.Registry.Loaded() {
		if req.ShouldUncache != nil && !req.ShouldUncache(unit) {
			continue
		}
		if err := guard(func() error { return r.Registry.Evict(unit) }); err != nil {
			results = append(results, UnitResult{Unit: unit, Err: fmt.Errorf("evicting: %w", err)})
			continue
		}
		evicted = append(evicted, unit)
	}

	for _, unit := range evicted {
		if ctx.Err() != nil {
			results = append(results, UnitResult{Unit: unit, Err: ctx.Err()})
			continue
		}
		if req.ShouldReload != nil && !req.ShouldReload(unit) {
			continue
		}
		if req.BeforeUnit != nil {
			req.BeforeUnit(unit)
		}
		result := UnitResult{Unit: unit}
		if err := guard(func() error { return r.Registry.Instantiate(unit) }); err != nil {
			result.Err = fmt.Errorf("instantiating: %w", err)
		}
		if req.AfterUnit != nil {
			req.AfterUnit(result)
		}
		results = append(results, result)
	}

	return results
}

// guard runs fn, turning a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
