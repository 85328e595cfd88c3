package hotreload

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/yaklabco/hotreload/config"
	"github.com/yaklabco/hotreload/internal/parallelism"
	"github.com/yaklabco/hotreload/pkg/pattern"
	"github.com/yaklabco/hotreload/pkg/reload"
	"github.com/yaklabco/hotreload/pkg/resolve"
)

// FromConfig builds a HotReload from loaded configuration. opts are applied
// after the options derived from cfg. stdout and stderr receive the output
// of special reload commands.
func FromConfig(cfg *config.Config, stdout, stderr io.Writer, opts ...Option) (*HotReload, error) {
	excludeMatch := ExcludeRelative
	if cfg.ExcludeMatch == config.ExcludeMatchAbsolute {
		excludeMatch = ExcludeAbsolute
	}
	policy := reload.RequireRequest
	if cfg.FullReloadPolicy == config.FullReloadUnlessSuppressed {
		policy = reload.UnlessSuppressed
	}

	walkers, err := parallelism.WalkConcurrency()
	if err != nil {
		return nil, err
	}

	base := []Option{
		WithWalkConcurrency(walkers),
		WithBaseDir(cfg.ProjectDir()),
		WithReloadDelay(time.Duration(cfg.ReloadDelayMs) * time.Millisecond),
		WithCooldown(time.Duration(cfg.CooldownMs) * time.Millisecond),
		WithExcludeMatch(excludeMatch),
		WithFullReloadPolicy(policy),
		WithResolver(resolve.New(cfg.Resolve.SearchDirs, cfg.Resolve.Extensions)),
	}
	h, err := New(append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	h.LoggingEnabled(cfg.LoggingEnabled)

	roots := cfg.Watch
	if len(roots) == 0 {
		roots = []config.PathSpec{{Path: "."}}
	}
	for _, root := range roots {
		spec := pattern.Literal(root.Path).WithRecursive(root.IsRecursive(cfg.Recursive))
		if err := h.Watch(spec); err != nil {
			return nil, fmt.Errorf("watch: %w", err)
		}
	}

	for _, exclude := range cfg.WatchExclude {
		spec := pattern.Parse(exclude.Path).WithRecursive(exclude.IsRecursive(false))
		if err := h.WatchExclude(spec); err != nil {
			return nil, fmt.Errorf("watchExclude: %w", err)
		}
	}

	axes := []struct {
		name   string
		values []string
		add    func(...pattern.Spec) error
	}{
		{"uncache", cfg.Uncache, h.Uncache},
		{"uncacheExclude", cfg.UncacheExclude, h.UncacheExclude},
		{"reload", cfg.Reload, h.Reload},
		{"reloadExclude", cfg.ReloadExclude, h.ReloadExclude},
	}
	for _, axis := range axes {
		if len(axis.values) == 0 {
			continue
		}
		if err := axis.add(pattern.ParseAll(axis.values...)...); err != nil {
			return nil, fmt.Errorf("%s: %w", axis.name, err)
		}
	}

	dir := cfg.Dir
	if dir == "" {
		dir = h.BaseDir()
	} else if !filepath.IsAbs(dir) {
		dir = filepath.Join(h.BaseDir(), dir)
	}
	for i, entry := range cfg.SpecialReload {
		handler := &CommandHandler{
			Name:       fmt.Sprintf("specialReload[%d]", i),
			Command:    entry.Command,
			Args:       entry.Args,
			Dir:        dir,
			Env:        cfg.EnvMap(),
			FullReload: entry.FullReload,
			Stop:       entry.Stop,
			Stdout:     stdout,
			Stderr:     stderr,
			Logger:     h.Logger(),
		}
		specs, err := h.specialSpecs(entry)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", handler.Name, err)
		}
		if err := h.SpecialReload(handler, specs...); err != nil {
			return nil, fmt.Errorf("%s: %w", handler.Name, err)
		}
	}

	for key, value := range cfg.EnvMap() {
		h.SetChildEnv(key, value)
	}

	if err := h.LoadPlugins(cfg.Plugins); err != nil {
		return nil, err
	}

	return h, nil
}

// specialSpecs turns an entry's patterns into specs. Per-entry excludes only
// narrow that entry, so they are folded into a single predicate.
func (h *HotReload) specialSpecs(entry config.SpecialReload) ([]pattern.Spec, error) {
	includes := pattern.ParseAll(entry.Patterns...)
	if len(entry.Exclude) == 0 {
		return includes, nil
	}

	includeMatchers, err := h.compile(includes)
	if err != nil {
		return nil, err
	}
	excludeMatchers, err := h.compile(pattern.ParseAll(entry.Exclude...))
	if err != nil {
		return nil, err
	}

	spec := pattern.Predicate(func(path string) bool {
		for _, m := range excludeMatchers {
			if m.Match(path) {
				return false
			}
		}
		for _, m := range includeMatchers {
			if m.Match(path) {
				return true
			}
		}
		return false
	})
	spec.Value = entry.Describe()
	return []pattern.Spec{spec}, nil
}
