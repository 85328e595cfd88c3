// Package sh runs external commands, such as the commands declared for
// special reloads in the project configuration.
package sh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	hlog "github.com/yaklabco/hotreload/internal/log"
	"github.com/yaklabco/hotreload/pkg/env"
)

// ExitStatuser is implemented by errors that carry a process exit status.
type ExitStatuser interface {
	ExitStatus() int
}

// ExitError reports a command that ran and exited non-zero.
type ExitError struct {
	Cmd  string
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("running %q failed with exit code %d", e.Cmd, e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

func (e *ExitError) ExitStatus() int { return e.Code }

// Options controls where a command runs and where its streams go.
type Options struct {
	Dir    string
	Env    map[string]string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// RunCmd returns a function that calls Run with cmd and args, appending any
// args passed at call time.
//
//	var npm = sh.RunCmd("npm", "run")
//	if err := npm(ctx, "build:css"); err != nil {
//		return err
//	}
func RunCmd(cmd string, args ...string) func(ctx context.Context, args ...string) error {
	return func(ctx context.Context, args2 ...string) error {
		return Run(ctx, nil, cmd, append(args, args2...)...)
	}
}

// OutCmd is like RunCmd except the command returns its output.
func OutCmd(cmd string, args ...string) func(ctx context.Context, args ...string) (string, error) {
	return func(ctx context.Context, args2 ...string) (string, error) {
		return Output(ctx, nil, cmd, append(args, args2...)...)
	}
}

// Run runs cmd with env added to the environment, sending output to this
// process's stdout and stderr.
func Run(ctx context.Context, envMap map[string]string, cmd string, args ...string) error {
	_, err := Exec(ctx, Options{Env: envMap, Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr}, cmd, args...)
	return err
}

// Output runs cmd and returns what it wrote to stdout.
func Output(ctx context.Context, envMap map[string]string, cmd string, args ...string) (string, error) {
	buf := &bytes.Buffer{}
	_, err := Exec(ctx, Options{Env: envMap, Stdin: os.Stdin, Stdout: buf, Stderr: os.Stderr}, cmd, args...)
	return strings.TrimSuffix(buf.String(), "\n"), err
}

// Piper runs cmd with the given streams.
func Piper(ctx context.Context, envMap map[string]string, stdin io.Reader, stdout, stderr io.Writer, cmd string, args ...string) error {
	_, err := Exec(ctx, Options{Env: envMap, Stdin: stdin, Stdout: stdout, Stderr: stderr}, cmd, args...)
	return err
}

// Exec runs cmd. References to environment variables in $FOO form in cmd
// and args are expanded first, with opts.Env taking precedence over the
// process environment.
//
// Ran reports whether the command ran (rather than was not found or not
// executable). A command that ran and failed yields an *ExitError.
func Exec(ctx context.Context, opts Options, cmd string, args ...string) (bool, error) {
	expand := func(varName string) string {
		if value, ok := opts.Env[varName]; ok {
			return value
		}
		return os.Getenv(varName)
	}

	cmd = os.Expand(cmd, expand)
	expanded := make([]string, len(args))
	for i := range args {
		expanded[i] = os.Expand(args[i], expand)
	}

	ran, code, err := run(ctx, opts, cmd, expanded...)
	if err == nil {
		return true, nil
	}
	if ran {
		return ran, &ExitError{Cmd: strings.TrimSpace(cmd + " " + strings.Join(expanded, " ")), Code: code, Err: err}
	}
	return ran, fmt.Errorf("failed to run %q: %w", strings.TrimSpace(cmd+" "+strings.Join(expanded, " ")), err)
}

func run(ctx context.Context, opts Options, cmd string, args ...string) (bool, int, error) {
	theCmd := exec.CommandContext(ctx, cmd, args...)
	theCmd.Dir = opts.Dir
	theCmd.Env = env.ToAssignments(env.Merge(env.GetMap(), opts.Env))
	theCmd.Stdin = opts.Stdin
	theCmd.Stdout = opts.Stdout
	theCmd.Stderr = opts.Stderr

	quoted := make([]string, 0, len(args))
	for i := range args {
		quoted = append(quoted, fmt.Sprintf("%q", args[i]))
	}
	slog.Debug("exec", hlog.Cmd, cmd, hlog.Args, strings.Join(quoted, " "), hlog.Dir, opts.Dir)

	err := theCmd.Run()
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return CmdRan(err), ExitStatus(err), err
}

// CmdRan examines the error to determine if it was generated as a result of a
// command running via os/exec.Command. If the error is nil, or the command ran
// (even if it exited with a non-zero exit code), CmdRan reports true.
func CmdRan(err error) bool {
	if err == nil {
		return true
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.Exited()
	}
	return false
}

// ExitStatus returns the exit status of the error if it is an exec.ExitError
// or if it implements ExitStatus() int. 0 if it is nil or 1 if it is a
// different error.
func ExitStatus(err error) int {
	if err == nil {
		return 0
	}
	var exit ExitStatuser
	if errors.As(err, &exit) {
		return exit.ExitStatus()
	}
	var e *exec.ExitError
	if errors.As(err, &e) {
		if ex, ok := e.Sys().(ExitStatuser); ok {
			return ex.ExitStatus()
		}
	}
	return 1
}
