package config

import (
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	// DefaultReloadDelayMs is the quiet period before a burst of changes
	// settles into one reload.
	DefaultReloadDelayMs = 1500

	// DefaultCooldownMs is the minimum spacing between two reloads.
	DefaultCooldownMs = 500

	// DefaultKillTimeoutMs is how long the child gets to exit before it is
	// killed.
	DefaultKillTimeoutMs = 5000

	DefaultLoggingEnabled = true
	DefaultRestart        = true
	DefaultRecursive      = true
	DefaultDebug          = false
	DefaultVerbose        = false

	// DefaultExcludeMatch tests watch excludes against paths relative to
	// the project directory.
	DefaultExcludeMatch = ExcludeMatchRelative

	// DefaultFullReloadPolicy only runs a full reload after a special
	// handler has asked for one.
	DefaultFullReloadPolicy = FullReloadRequest
)

// Accepted values for excludeMatch.
const (
	ExcludeMatchRelative = "relative"
	ExcludeMatchAbsolute = "absolute"
)

// Accepted values for fullReloadPolicy.
const (
	FullReloadRequest          = "request"
	FullReloadUnlessSuppressed = "unlessSuppressed"
)

// setDefaults configures default values in the viper instance.
func setDefaults(viperInstance *viper.Viper) {
	viperInstance.SetDefault("main", "")
	viperInstance.SetDefault("reloadDelayMs", DefaultReloadDelayMs)
	viperInstance.SetDefault("cooldownMs", DefaultCooldownMs)
	viperInstance.SetDefault("killTimeoutMs", DefaultKillTimeoutMs)
	viperInstance.SetDefault("loggingEnabled", DefaultLoggingEnabled)
	viperInstance.SetDefault("restart", DefaultRestart)
	viperInstance.SetDefault("recursive", DefaultRecursive)
	viperInstance.SetDefault("excludeMatch", DefaultExcludeMatch)
	viperInstance.SetDefault("fullReloadPolicy", DefaultFullReloadPolicy)
	viperInstance.SetDefault("debug", DefaultDebug)
	viperInstance.SetDefault("verbose", DefaultVerbose)
}
