package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestResolveConfigHome_WithXDGEnv(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/xdg/config")

	result := resolveConfigHome()
	if result != "/custom/xdg/config" {
		t.Errorf("resolveConfigHome() = %q, want %q", result, "/custom/xdg/config")
	}
}

func TestUserHomeDir(t *testing.T) {
	home := userHomeDir()
	if home == "" {
		t.Skip("Could not determine home directory")
	}

	// Should be an absolute path
	if home[0] != '/' && (runtime.GOOS != osWindows || (len(home) < 2 || home[1] != ':')) {
		t.Errorf("userHomeDir() = %q, should be absolute path", home)
	}
}

func TestXDGPaths_Methods(t *testing.T) {
	paths := XDGPaths{ConfigHome: "/config"}

	tests := []struct {
		name     string
		method   func() string
		expected string
	}{
		{"ConfigDir", paths.ConfigDir, filepath.Join("/config", "hotreload")},
		{"ConfigFilePath", paths.ConfigFilePath, filepath.Join("/config", "hotreload", "config.yaml")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.method(); got != tt.expected {
				t.Errorf("%s() = %q, want %q", tt.name, got, tt.expected)
			}
		})
	}
}

func TestFindProjectConfig(t *testing.T) {
	dir := t.TempDir()

	if got := FindProjectConfig(dir); got != "" {
		t.Errorf("FindProjectConfig() = %q, want empty", got)
	}

	yamlPath := filepath.Join(dir, "hot-reload.yaml")
	if err := os.WriteFile(yamlPath, []byte("watch: [.]\n"), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	if got := FindProjectConfig(dir); got != yamlPath {
		t.Errorf("FindProjectConfig() = %q, want %q", got, yamlPath)
	}

	// JSON wins when both exist.
	jsonPath := filepath.Join(dir, "hot-reload.json")
	if err := os.WriteFile(jsonPath, []byte(`{"watch": ["."]}`), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	if got := FindProjectConfig(dir); got != jsonPath {
		t.Errorf("FindProjectConfig() = %q, want %q", got, jsonPath)
	}
}

func TestFindProjectConfig_IgnoresDirectories(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "hot-reload.yml"), 0o755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	if got := FindProjectConfig(dir); got != "" {
		t.Errorf("FindProjectConfig() = %q, want empty", got)
	}
}
