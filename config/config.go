package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
	"github.com/yaklabco/hotreload/pkg/env"
	"go.yaml.in/yaml/v3"
)

// PathSpec is a watch root or watch exclude. In configuration files it is
// either a plain string or an object with a path and a recursive flag.
type PathSpec struct {
	Path string `mapstructure:"path" yaml:"path"`

	// Recursive overrides the top-level recursive setting when set.
	Recursive *bool `mapstructure:"recursive" yaml:"recursive,omitempty"`
}

// IsRecursive returns the entry's recursive flag, or def when unset.
func (p PathSpec) IsRecursive(def bool) bool {
	if p.Recursive == nil {
		return def
	}
	return *p.Recursive
}

// SpecialReload declares a targeted handler: when a changed path matches
// Patterns (and none of Exclude), Command runs instead of a full reload.
type SpecialReload struct {
	Patterns []string `mapstructure:"patterns" yaml:"patterns"`
	Exclude  []string `mapstructure:"exclude" yaml:"exclude,omitempty"`
	Command  string   `mapstructure:"command" yaml:"command,omitempty"`
	Args     []string `mapstructure:"args" yaml:"args,omitempty"`

	// FullReload asks for a full reload after the command succeeds.
	FullReload bool `mapstructure:"fullReload" yaml:"fullReload,omitempty"`

	// Stop ends the handler chain after this entry.
	Stop bool `mapstructure:"stop" yaml:"stop,omitempty"`
}

// ResolveConfig tunes how package-style literal patterns are resolved.
type ResolveConfig struct {
	SearchDirs []string `mapstructure:"searchDirs" yaml:"searchDirs,omitempty"`
	Extensions []string `mapstructure:"extensions" yaml:"extensions,omitempty"`
}

// Config holds all hotreload configuration values.
type Config struct {
	// Main is the program to supervise. Args are passed to it.
	Main string   `mapstructure:"main" yaml:"main,omitempty"`
	Args []string `mapstructure:"args" yaml:"args,omitempty"`

	// Dir is the child's working directory. Defaults to the project dir.
	Dir string `mapstructure:"dir" yaml:"dir,omitempty"`

	Watch          []PathSpec      `mapstructure:"watch" yaml:"watch,omitempty"`
	WatchExclude   []PathSpec      `mapstructure:"watchExclude" yaml:"watchExclude,omitempty"`
	Uncache        []string        `mapstructure:"uncache" yaml:"uncache,omitempty"`
	UncacheExclude []string        `mapstructure:"uncacheExclude" yaml:"uncacheExclude,omitempty"`
	Reload         []string        `mapstructure:"reload" yaml:"reload,omitempty"`
	ReloadExclude  []string        `mapstructure:"reloadExclude" yaml:"reloadExclude,omitempty"`
	SpecialReload  []SpecialReload `mapstructure:"specialReload" yaml:"specialReload,omitempty"`

	ReloadDelayMs int `mapstructure:"reloadDelayMs" yaml:"reloadDelayMs"`
	CooldownMs    int `mapstructure:"cooldownMs" yaml:"cooldownMs"`
	KillTimeoutMs int `mapstructure:"killTimeoutMs" yaml:"killTimeoutMs"`

	LoggingEnabled bool `mapstructure:"loggingEnabled" yaml:"loggingEnabled"`
	Restart        bool `mapstructure:"restart" yaml:"restart"`
	Recursive      bool `mapstructure:"recursive" yaml:"recursive"`

	ExcludeMatch     string `mapstructure:"excludeMatch" yaml:"excludeMatch"`
	FullReloadPolicy string `mapstructure:"fullReloadPolicy" yaml:"fullReloadPolicy"`

	// Env holds KEY=value assignments added to the child's environment.
	Env []string `mapstructure:"env" yaml:"env,omitempty"`

	// Plugins maps plugin names to their options. An "enabled: false"
	// option disables the plugin.
	Plugins map[string]map[string]any `mapstructure:"plugins" yaml:"plugins,omitempty"`

	Resolve ResolveConfig `mapstructure:"resolve" yaml:"resolve,omitempty"`

	Debug   bool `mapstructure:"debug" yaml:"debug"`
	Verbose bool `mapstructure:"verbose" yaml:"verbose"`

	// configFile is the path to the last config file that was loaded (if any).
	configFile string

	// projectDir is the directory the project config was looked up in.
	projectDir string
}

// ConfigFile returns the path to the configuration file that was loaded,
// or an empty string if no file was loaded.
func (c *Config) ConfigFile() string {
	return c.configFile
}

// ProjectDir returns the directory the configuration belongs to.
func (c *Config) ProjectDir() string {
	return c.projectDir
}

// EnvMap returns Env as a map.
func (c *Config) EnvMap() map[string]string {
	return env.ToMap(c.Env)
}

// YAML renders the effective configuration.
func (c *Config) YAML() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("rendering config: %w", err)
	}
	return string(out), nil
}

// LoadOptions configures how configuration is loaded.
type LoadOptions struct {
	// ProjectDir is the directory to search for project-level config.
	// If empty, the current working directory is used.
	ProjectDir string

	// Stderr is where warnings are written.
	// If nil, os.Stderr is used.
	Stderr io.Writer

	// SkipProjectConfig skips loading project-level configuration.
	SkipProjectConfig bool

	// SkipUserConfig skips loading user-level configuration.
	SkipUserConfig bool

	// SkipEnv skips reading environment variables.
	SkipEnv bool
}

// Load reads configuration from all sources and returns a Config struct.
// Configuration is loaded in the following order (later sources override earlier):
//  1. Defaults
//  2. User config file (~/.config/hotreload/config.yaml)
//  3. Project config file (./hot-reload.json, .yaml or .yml)
//  4. Environment variables (HOTRELOAD_*)
//
// If opts is nil, default options are used.
func Load(opts *LoadOptions) (*Config, error) {
	if opts == nil {
		opts = &LoadOptions{}
	}

	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	projectDir := opts.ProjectDir
	if projectDir == "" {
		var err error
		projectDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
	}
	projectDir, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project directory: %w", err)
	}

	viperInstance := viper.New()
	setDefaults(viperInstance)
	viperInstance.SetConfigType("yaml")

	var configFileUsed string

	if !opts.SkipUserConfig {
		paths := ResolveXDGPaths()
		viperInstance.SetConfigName(ConfigFileName)
		viperInstance.AddConfigPath(paths.ConfigDir())

		if err := viperInstance.ReadInConfig(); err != nil {
			var configFileNotFoundError viper.ConfigFileNotFoundError
			if !errors.As(err, &configFileNotFoundError) {
				return nil, fmt.Errorf("failed to read user config file: %w", err)
			}
		} else {
			configFileUsed = viperInstance.ConfigFileUsed()
		}
	}

	// The project file merges with and overrides the user file.
	if !opts.SkipProjectConfig {
		if projectConfigPath := FindProjectConfig(projectDir); projectConfigPath != "" {
			viperInstance.SetConfigFile(projectConfigPath)
			viperInstance.SetConfigType(strings.TrimPrefix(filepath.Ext(projectConfigPath), "."))
			if err := viperInstance.MergeInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read project config file: %w", err)
			}
			configFileUsed = projectConfigPath
		}
	}

	var cfg Config
	decodeHooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		stringToPathSpecHook,
		stringToSliceHook,
	))
	if err := viperInstance.Unmarshal(&cfg, decodeHooks); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.Plugins = keepBarePlugins(viperInstance.Get("plugins"), cfg.Plugins)

	if !opts.SkipEnv {
		if err := applyEnvironmentOverrides(&cfg); err != nil {
			return nil, err
		}
	}

	cfg.configFile = configFileUsed
	cfg.projectDir = projectDir

	result := cfg.Validate()
	if result.HasWarnings() {
		result.WriteWarnings(opts.Stderr)
	}
	if result.HasErrors() {
		return nil, errors.New(result.ErrorMessage())
	}

	return &cfg, nil
}

// keepBarePlugins restores plugins listed without options. Unmarshal only
// sees leaf keys, so a plugin with empty or null options is lost there.
func keepBarePlugins(raw any, plugins map[string]map[string]any) map[string]map[string]any {
	names, err := cast.ToStringMapE(raw)
	if err != nil {
		return plugins
	}
	for name := range names {
		if _, ok := plugins[name]; ok {
			continue
		}
		if plugins == nil {
			plugins = make(map[string]map[string]any)
		}
		plugins[name] = map[string]any{}
	}
	return plugins
}

// stringToPathSpecHook accepts "src" where a PathSpec is expected.
func stringToPathSpecHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(PathSpec{}) {
		return data, nil
	}
	s, _ := data.(string)
	return PathSpec{Path: s}, nil
}

// stringToSliceHook accepts a single string where a list is expected.
func stringToSliceHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Slice || to.Elem().Kind() != reflect.String {
		return data, nil
	}
	s, _ := data.(string)
	if s == "" {
		return []string{}, nil
	}
	return []string{s}, nil
}

// applyEnvironmentOverrides applies environment variable overrides to the config.
// Environment variables take precedence over config file values.
func applyEnvironmentOverrides(cfg *Config) error {
	if v := os.Getenv("HOTRELOAD_MAIN"); v != "" {
		cfg.Main = v
	}
	if v := os.Getenv("HOTRELOAD_DIR"); v != "" {
		cfg.Dir = v
	}
	if v := os.Getenv("HOTRELOAD_WATCH"); v != "" {
		cfg.Watch = nil
		for _, path := range filepath.SplitList(v) {
			cfg.Watch = append(cfg.Watch, PathSpec{Path: path})
		}
	}

	ints := []struct {
		name   string
		target *int
	}{
		{"HOTRELOAD_RELOAD_DELAY_MS", &cfg.ReloadDelayMs},
		{"HOTRELOAD_COOLDOWN_MS", &cfg.CooldownMs},
		{"HOTRELOAD_KILL_TIMEOUT_MS", &cfg.KillTimeoutMs},
	}
	for _, entry := range ints {
		v := os.Getenv(entry.name)
		if v == "" {
			continue
		}
		n, err := cast.ToIntE(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", entry.name, err)
		}
		*entry.target = n
	}

	bools := []struct {
		name   string
		target *bool
	}{
		{"HOTRELOAD_LOGGING", &cfg.LoggingEnabled},
		{"HOTRELOAD_RESTART", &cfg.Restart},
		{"HOTRELOAD_RECURSIVE", &cfg.Recursive},
		{"HOTRELOAD_DEBUG", &cfg.Debug},
		{"HOTRELOAD_VERBOSE", &cfg.Verbose},
	}
	for _, entry := range bools {
		v := os.Getenv(entry.name)
		if v == "" {
			continue
		}
		b, err := env.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", entry.name, err)
		}
		*entry.target = b
	}

	return nil
}

// DefaultConfig returns a Config with all default values.
func DefaultConfig() *Config {
	return &Config{
		ReloadDelayMs:    DefaultReloadDelayMs,
		CooldownMs:       DefaultCooldownMs,
		KillTimeoutMs:    DefaultKillTimeoutMs,
		LoggingEnabled:   DefaultLoggingEnabled,
		Restart:          DefaultRestart,
		Recursive:        DefaultRecursive,
		ExcludeMatch:     DefaultExcludeMatch,
		FullReloadPolicy: DefaultFullReloadPolicy,
		Debug:            DefaultDebug,
		Verbose:          DefaultVerbose,
	}
}

// WriteDefaultConfig writes a default project configuration file to dir.
func WriteDefaultConfig(dir string) (string, error) {
	if existing := FindProjectConfig(dir); existing != "" {
		return "", fmt.Errorf("config file already exists: %s", existing)
	}

	configPath := filepath.Join(dir, ProjectConfigFileName+".yaml")
	if err := os.WriteFile(configPath, []byte(defaultConfigYAML()), 0o600); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}

	return configPath, nil
}

// defaultConfigYAML returns the default configuration as YAML.
func defaultConfigYAML() string {
	return `# hotreload configuration

# Program to supervise and its arguments. Can also be given on the command line.
# main: server.js
# args: []

# Paths to watch. Either a path or {path, recursive}.
watch:
  - .

# Paths never watched. Globs use * and ?, "re:" starts a regular expression,
# "glob:" a shell-style glob with ** support.
watchExclude:
  - node_modules
  - .git
  - "*.log"

# Which loaded units are discarded and which are reloaded on a full reload.
# uncache: []
# reload: []

# Targeted handlers run instead of a full reload.
# specialReload:
#   - patterns: ["*.css"]
#     command: npm
#     args: [run, build:css]
#     fullReload: false

# Quiet period before a burst of changes triggers a reload.
reloadDelayMs: 1500

# Minimum spacing between two reloads.
cooldownMs: 500

# Time the child gets to exit after SIGTERM before it is killed.
killTimeoutMs: 5000

# Print watch and change notices.
loggingEnabled: true

# Restart the child on every full reload.
restart: true

# Watch subdirectories unless an entry says otherwise.
recursive: true

# Test watch excludes against paths relative to the project (relative) or
# against absolute paths (absolute).
excludeMatch: relative

# When special handlers matched: "request" runs a full reload only if one
# asked for it, "unlessSuppressed" runs it unless one suppressed it.
fullReloadPolicy: request

# Extra KEY=value variables for the child.
# env: []

# plugins:
#   hot-reload-uncache-modules:
#     uncache: [./lib]
`
}
