package hotreload

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/spf13/cast"
	hlog "github.com/yaklabco/hotreload/internal/log"
	"github.com/yaklabco/hotreload/pkg/pattern"
	"github.com/yaklabco/hotreload/pkg/reload"
)

// UncacheModulesPlugin is the name of the built-in plugin that adds uncache
// rules from its "uncache" option.
const UncacheModulesPlugin = "hot-reload-uncache-modules"

// ErrPluginNotFound is returned for plugin names nobody registered.
var ErrPluginNotFound = errors.New("plugin not found")

// Plugin extends a HotReload from its configuration options.
type Plugin interface {
	Init(h *HotReload, options map[string]any) error
}

// PluginFunc adapts a function to Plugin.
type PluginFunc func(h *HotReload, options map[string]any) error

func (f PluginFunc) Init(h *HotReload, options map[string]any) error { return f(h, options) }

// BeforeReloader is implemented by plugins that want a beforeReload hook.
type BeforeReloader interface {
	BeforeReload() reload.Hook
}

// AfterReloader is implemented by plugins that want an afterReload hook.
type AfterReloader interface {
	AfterReload() reload.Hook
}

var (
	pluginsMu sync.RWMutex
	plugins   = map[string]Plugin{ //nolint:gochecknoglobals // plugin registry
		UncacheModulesPlugin: PluginFunc(uncacheModules),
	}
)

// RegisterPlugin makes a plugin available by name, replacing any plugin
// registered under the same name.
func RegisterPlugin(name string, plugin Plugin) {
	pluginsMu.Lock()
	defer pluginsMu.Unlock()
	plugins[name] = plugin
}

// Plugins returns the registered plugin names, sorted.
func Plugins() []string {
	pluginsMu.RLock()
	defer pluginsMu.RUnlock()
	return slices.Sorted(maps.Keys(plugins))
}

func lookupPlugin(name string) (Plugin, bool) {
	pluginsMu.RLock()
	defer pluginsMu.RUnlock()
	plugin, ok := plugins[name]
	return plugin, ok
}

// LoadPlugins initializes every configured plugin in name order. A plugin
// whose options hold "enabled: false" is skipped.
func (h *HotReload) LoadPlugins(config map[string]map[string]any) error {
	for _, name := range slices.Sorted(maps.Keys(config)) {
		options := maps.Clone(config[name])
		if options == nil {
			options = map[string]any{}
		}
		if enabled, ok := options["enabled"]; ok {
			delete(options, "enabled")
			if on, err := cast.ToBoolE(enabled); err == nil && !on {
				h.logger.Debug("plugin disabled", hlog.Plugin, name)
				continue
			}
		}

		if err := h.LoadPlugin(name, options); err != nil {
			return err
		}
	}
	return nil
}

// LoadPlugin initializes the named plugin and registers its hooks.
func (h *HotReload) LoadPlugin(name string, options map[string]any) error {
	plugin, ok := lookupPlugin(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, name)
	}

	if err := plugin.Init(h, options); err != nil {
		return fmt.Errorf("plugin %s: %w", name, err)
	}
	if before, ok := plugin.(BeforeReloader); ok {
		h.OnBeforeReload(before.BeforeReload())
	}
	if after, ok := plugin.(AfterReloader); ok {
		h.OnAfterReload(after.AfterReload())
	}

	h.logger.Debug("plugin loaded", hlog.Plugin, name)
	return nil
}

// uncacheModules adds one uncache rule per entry of the "uncache" option,
// which is a string or a list of strings.
func uncacheModules(h *HotReload, options map[string]any) error {
	raw, ok := options["uncache"]
	if !ok {
		return nil
	}
	values, err := cast.ToStringSliceE(raw)
	if err != nil {
		return fmt.Errorf("uncache: %w", err)
	}
	return h.Uncache(pattern.ParseAll(values...)...)
}
