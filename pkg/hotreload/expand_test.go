package hotreload

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yaklabco/hotreload/pkg/pattern"
)

func TestExpandWatchGlobs(t *testing.T) {
	dir := canonicalTempDir(t)
	writeFile(t, filepath.Join(dir, "pkg", "a", "a.go"), "")
	writeFile(t, filepath.Join(dir, "pkg", "b", "b.go"), "")
	writeFile(t, filepath.Join(dir, "cmd", "main.go"), "")

	tests := []struct {
		name    string
		args    []string
		want    []string
		wantErr string
	}{
		{
			name: "plain paths pass through",
			args: []string{"src", "missing/dir"},
			want: []string{"src", "missing/dir"},
		},
		{
			name: "glob expands sorted",
			args: []string{"pkg/*"},
			want: []string{filepath.Join(dir, "pkg", "a"), filepath.Join(dir, "pkg", "b")},
		},
		{
			name: "doublestar",
			args: []string{"**/*.go"},
			want: []string{
				filepath.Join(dir, "cmd", "main.go"),
				filepath.Join(dir, "pkg", "a", "a.go"),
				filepath.Join(dir, "pkg", "b", "b.go"),
			},
		},
		{
			name:    "no match",
			args:    []string{"nothing/*"},
			wantErr: "matched nothing",
		},
		{
			name:    "invalid",
			args:    []string{"pkg/[a"},
			wantErr: "invalid watch glob",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandWatchGlobs(dir, tt.args)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderList(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	t.Setenv("COLUMNS", "80")

	dir := canonicalTempDir(t)
	h := newTestHotReload(t, dir)
	require.NoError(t, h.Watch(pattern.Literal("src").WithRecursive(true), pattern.Literal("conf")))
	require.NoError(t, h.WatchExclude(pattern.Glob("*.log")))
	require.NoError(t, h.Reload(pattern.Glob("*.js")))
	require.NoError(t, h.ReloadExclude(pattern.Literal("vendor")))
	h.SetChildEnv("PORT", "8080")

	var out bytes.Buffer
	require.NoError(t, RenderList(&out, h))

	text := out.String()
	assert.Contains(t, text, "Watch roots:")
	assert.Contains(t, text, "src  recursive")
	assert.Contains(t, text, "conf  top level only")
	assert.Contains(t, text, "include  *.log")
	assert.Contains(t, text, "exclude  vendor")
	assert.Contains(t, text, "include  *.js")
	assert.Contains(t, text, "uncache  (no rules, matches everything)")
	assert.Contains(t, text, "PORT=8080")
}
