package sh

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutCmd(t *testing.T) {
	cmd := OutCmd(os.Args[0], "-printArgs", "foo", "bar")
	out, err := cmd(context.Background(), "baz", "bat")
	require.NoError(t, err)
	assert.Equal(t, "[foo bar baz bat]", out)
}

func TestExitCode(t *testing.T) {
	ran, err := Exec(context.Background(), Options{}, os.Args[0], "-helper", "-exit", "99")
	require.Error(t, err)
	assert.True(t, ran)
	assert.Equal(t, 99, ExitStatus(err))

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 99, exitErr.Code)
	assert.Contains(t, err.Error(), "exit code 99")
}

func TestEnv(t *testing.T) {
	const key = "SOME_REALLY_LONG_HOTRELOAD_SPECIFIC_THING"
	out := &bytes.Buffer{}
	ran, err := Exec(context.Background(), Options{Env: map[string]string{key: "foobar"}, Stdout: out}, os.Args[0], "-printVar", key)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, "foobar\n", out.String())
}

func TestNotRun(t *testing.T) {
	ran, err := Exec(context.Background(), Options{}, "thiswontwork")
	require.Error(t, err)
	assert.False(t, ran)
	assert.Equal(t, 1, ExitStatus(err))
}

func TestAutoExpand(t *testing.T) {
	t.Setenv("HOTRELOAD_FOOBAR", "baz")
	s, err := Output(context.Background(), nil, "echo", "$HOTRELOAD_FOOBAR")
	require.NoError(t, err)
	assert.Equal(t, "baz", s)

	s, err = Output(context.Background(), map[string]string{"HOTRELOAD_FOOBAR": "override"}, "echo", "$HOTRELOAD_FOOBAR")
	require.NoError(t, err)
	assert.Equal(t, "override", s)
}

func TestExecInDir(t *testing.T) {
	dir := t.TempDir()
	out := &bytes.Buffer{}
	_, err := Exec(context.Background(), Options{Dir: dir, Stdout: out}, os.Args[0], "-printDir")
	require.NoError(t, err)

	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestPiper(t *testing.T) {
	t.Run("pipes stdin to stdout", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("cat not available on windows")
		}
		in := bytes.NewBufferString("hello\nworld\n")
		var out, errBuf bytes.Buffer
		require.NoError(t, Piper(context.Background(), nil, in, &out, &errBuf, "cat"))
		assert.Equal(t, "hello\nworld\n", out.String())
		assert.Empty(t, errBuf.String())
	})

	t.Run("captures stderr output", func(t *testing.T) {
		var out, errBuf bytes.Buffer
		err := Piper(context.Background(), nil, nil, &out, &errBuf, os.Args[0], "-helper", "-stderr", "oops")
		require.NoError(t, err)
		assert.Equal(t, "oops\n", errBuf.String())
		assert.Equal(t, "\n", out.String())
	})
}

func TestRunRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Run(ctx, nil, "echo", "should fail")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context canceled")
}
