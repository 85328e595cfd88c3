// Package config provides layered, XDG-compliant configuration for hotreload.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// AppName is the application name used in configuration paths.
const AppName = "hotreload"

// ConfigFileName is the name of the user configuration file (without extension).
const ConfigFileName = "config"

// ProjectConfigFileName is the name of the project configuration file (without extension).
const ProjectConfigFileName = "hot-reload"

// ProjectConfigExtensions are tried in order when looking for the project
// configuration file.
var ProjectConfigExtensions = []string{".json", ".yaml", ".yml"} //nolint:gochecknoglobals // lookup order

// Platform constants for OS detection.
const (
	osDarwin  = "darwin"
	osWindows = "windows"
)

// XDGPaths holds the resolved XDG base directory paths for the current platform.
type XDGPaths struct {
	ConfigHome string // User configuration directory
}

// ResolveXDGPaths returns the XDG base directory paths for the current platform.
// It respects XDG environment variables on Linux and uses platform-appropriate
// defaults on macOS and Windows.
func ResolveXDGPaths() XDGPaths {
	return XDGPaths{
		ConfigHome: resolveConfigHome(),
	}
}

// ConfigDir returns the application-specific configuration directory.
func (p XDGPaths) ConfigDir() string {
	return filepath.Join(p.ConfigHome, AppName)
}

// ConfigFilePath returns the full path to the configuration file.
func (p XDGPaths) ConfigFilePath() string {
	return filepath.Join(p.ConfigDir(), ConfigFileName+".yaml")
}

// FindProjectConfig returns the first project configuration file present in
// dir, or "" when there is none.
func FindProjectConfig(dir string) string {
	for _, ext := range ProjectConfigExtensions {
		candidate := filepath.Join(dir, ProjectConfigFileName+ext)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

// resolveConfigHome returns the XDG_CONFIG_HOME equivalent for the current platform.
func resolveConfigHome() string {
	// Check XDG_CONFIG_HOME first (works on all platforms if user sets it)
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return dir
	}

	home := userHomeDir()

	switch runtime.GOOS {
	case osDarwin:
		// We use ~/.config for consistency with other CLI tools
		return filepath.Join(home, ".config")
	case osWindows:
		if appData := os.Getenv("APPDATA"); appData != "" {
			return appData
		}
		return filepath.Join(home, "AppData", "Roaming")
	default:
		return filepath.Join(home, ".config")
	}
}

// userHomeDir returns the user's home directory.
func userHomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	// Windows fallback
	if home := os.Getenv("USERPROFILE"); home != "" {
		return home
	}
	if drive := os.Getenv("HOMEDRIVE"); drive != "" {
		if path := os.Getenv("HOMEPATH"); path != "" {
			return filepath.Join(drive, path)
		}
	}
	return ""
}
