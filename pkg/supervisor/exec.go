package supervisor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/yaklabco/hotreload/pkg/env"
)

// Command describes the child to run.
type Command struct {
	Path string
	Args []string
	Dir  string

	// Env is layered over the parent environment.
	Env map[string]string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

func (c Command) String() string {
	return strings.TrimSpace(c.Path + " " + strings.Join(c.Args, " "))
}

// Process is a running child.
type Process interface {
	Pid() int
	// Kill sends sig to the child and everything it started.
	Kill(sig os.Signal) error
	// Done is closed once the child has exited.
	Done() <-chan struct{}
	// Connected reports whether the child is still running.
	Connected() bool
	// Err returns the exit error once Done is closed.
	Err() error
}

// Spawner starts children.
type Spawner interface {
	Spawn(ctx context.Context, cmd Command) (Process, error)
}

// ExecSpawner starts children with os/exec, each in its own process group.
type ExecSpawner struct{}

func (ExecSpawner) Spawn(_ context.Context, command Command) (Process, error) {
	// The child outlives the spawning call; its lifetime is managed through
	// Kill, so it is not bound to a context.
	cmd := exec.Command(command.Path, command.Args...) //nolint:gosec,noctx // runs the user's configured program
	cmd.Dir = command.Dir
	cmd.Env = env.ToAssignments(env.Merge(env.GetMap(), command.Env))
	cmd.Stdin = command.Stdin
	cmd.Stdout = orDefault(command.Stdout, os.Stdout)
	cmd.Stderr = orDefault(command.Stderr, os.Stderr)
	configureProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %q: %w", command.Path, err)
	}

	proc := &execProcess{cmd: cmd, done: make(chan struct{})}
	go proc.wait()
	return proc, nil
}

func orDefault(w io.Writer, def io.Writer) io.Writer {
	if w == nil {
		return def
	}
	return w
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu  sync.Mutex
	err error
}

func (p *execProcess) wait() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
	close(p.done)
}

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }

func (p *execProcess) Kill(sig os.Signal) error {
	if !p.Connected() {
		return nil
	}
	return signalGroup(p.cmd.Process, sig)
}

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) Connected() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *execProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}
