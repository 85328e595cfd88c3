// Package supervisor owns a single child process: it starts it, stops it
// gracefully and restarts it without ever running two instances at once.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	hlog "github.com/yaklabco/hotreload/internal/log"
)

// DefaultKillTimeout is how long a child gets to exit after the terminate
// signal before it is killed.
const DefaultKillTimeout = 5 * time.Second

// ErrNotRunning is returned by Stop when there is no child.
var ErrNotRunning = errors.New("no child process running")

// State is the lifecycle position of the supervised child.
type State int

const (
	NotStarted State = iota
	Running
	Stopping
	Exited
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Exited:
		return "exited"
	default:
		return "unknown"
	}
}

// continuation is the single pending "start once the old child exits"
// shared by every restart request made while stopping.
type continuation struct {
	done chan struct{}
	err  error
}

func (c *continuation) resolve(err error) {
	c.err = err
	close(c.done)
}

// Supervisor runs one child at a time.
type Supervisor struct {
	spawner     Spawner
	command     Command
	killTimeout time.Duration
	logger      *slog.Logger
	console     *hlog.ConsoleLogger
	onExit      func(pid int, err error)

	mu      sync.Mutex
	state   State
	proc    Process
	pending *continuation
	spawns  int
	// closing is set by Stop and cleared by Start. Restart refuses to
	// spawn while it is set.
	closing bool
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithKillTimeout sets the grace period between the terminate signal and
// the kill signal.
func WithKillTimeout(timeout time.Duration) Option {
	return func(s *Supervisor) { s.killTimeout = timeout }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = logger }
}

// WithConsole sets the console logger for restart notices.
func WithConsole(console *hlog.ConsoleLogger) Option {
	return func(s *Supervisor) { s.console = console }
}

// WithExitHandler registers a callback for children that exit on their own.
func WithExitHandler(fn func(pid int, err error)) Option {
	return func(s *Supervisor) { s.onExit = fn }
}

// New returns a Supervisor for command. Nothing runs until Start.
func New(spawner Spawner, command Command, opts ...Option) *Supervisor {
	s := &Supervisor{
		spawner:     spawner,
		command:     command,
		killTimeout: DefaultKillTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.spawner == nil {
		s.spawner = ExecSpawner{}
	}
	return s
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pid returns the pid of the live child, or 0.
func (s *Supervisor) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return 0
	}
	return s.proc.Pid()
}

// Spawns returns how many children have been started.
func (s *Supervisor) Spawns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spawns
}

// Start spawns the child. It is a no-op while a child is running or
// stopping. On failure the state is left unchanged so a later Start or
// Restart can retry.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closing = false
	return s.startLocked(ctx)
}

func (s *Supervisor) startLocked(ctx context.Context) error {
	if s.state == Running || s.state == Stopping {
		return nil
	}

	proc, err := s.spawner.Spawn(ctx, s.command)
	if err != nil {
		s.logger.Error("spawning child failed", hlog.Cmd, s.command.String(), hlog.Error, err)
		return fmt.Errorf("spawning child: %w", err)
	}

	s.proc = proc
	s.state = Running
	s.spawns++
	s.logger.Debug("child started", hlog.Pid, proc.Pid(), hlog.Cmd, s.command.String())

	go s.observe(proc)
	return nil
}

// observe waits for proc to exit and runs the pending continuation, if any.
func (s *Supervisor) observe(proc Process) {
	<-proc.Done()

	s.mu.Lock()
	if s.proc != proc {
		s.mu.Unlock()
		return
	}
	requested := s.state == Stopping
	s.proc = nil
	s.state = Exited
	pending := s.pending
	s.pending = nil

	if pending == nil {
		s.mu.Unlock()
		if requested {
			s.logger.Debug("child stopped", hlog.Pid, proc.Pid())
			return
		}
		s.logger.Info("child exited", hlog.Pid, proc.Pid(), hlog.Error, proc.Err())
		if s.onExit != nil {
			s.onExit(proc.Pid(), proc.Err())
		}
		return
	}

	s.logger.Debug("child exited, starting replacement", hlog.Pid, proc.Pid())
	s.console.Println("Restarting server app...")
	err := s.startLocked(context.Background())
	s.mu.Unlock()

	pending.resolve(err)
}

// Restart replaces the child. With no live child it is Start. With a live
// child it sends the terminate signal and starts a new child once the old
// one has exited. Restarts requested before that exit share the same
// pending start. Restart returns once the new child is running, or when
// ctx is done. After Stop it fails with ErrNotRunning until the next Start.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.mu.Lock()

	if s.closing {
		s.mu.Unlock()
		return ErrNotRunning
	}

	switch s.state {
	case NotStarted, Exited:
		err := s.startLocked(ctx)
		s.mu.Unlock()
		return err

	case Stopping:
		if s.pending == nil {
			// Start was called again while a Stop was still in progress.
			s.pending = &continuation{done: make(chan struct{})}
		}
		pending := s.pending
		s.mu.Unlock()
		return pending.wait(ctx)

	case Running:
	}

	pending := &continuation{done: make(chan struct{})}
	s.pending = pending
	proc := s.proc

	if !proc.Connected() {
		// Already gone; observe will pick up the continuation.
		s.state = Stopping
		s.mu.Unlock()
		return pending.wait(ctx)
	}

	s.state = Stopping
	s.mu.Unlock()

	s.terminate(proc)
	return pending.wait(ctx)
}

func (c *continuation) wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// terminate sends the terminate signal and escalates to a kill when the
// child has not exited within the kill timeout.
func (s *Supervisor) terminate(proc Process) {
	s.logger.Debug("terminating child", hlog.Pid, proc.Pid(), hlog.Signal, terminateSignal.String())
	if err := proc.Kill(terminateSignal); err != nil {
		s.logger.Warn("signalling child failed", hlog.Pid, proc.Pid(), hlog.Error, err)
	}

	go func() {
		timer := time.NewTimer(s.killTimeout)
		defer timer.Stop()
		select {
		case <-proc.Done():
		case <-timer.C:
			s.logger.Warn("child ignored terminate signal, killing", hlog.Pid, proc.Pid(), hlog.Duration, s.killTimeout.String())
			if err := proc.Kill(os.Kill); err != nil {
				s.logger.Warn("killing child failed", hlog.Pid, proc.Pid(), hlog.Error, err)
			}
		}
	}()
}

// Stop terminates the child and waits for it to exit. A pending restart is
// cancelled, and later restarts are refused until Start is called again.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	proc := s.proc
	if proc == nil {
		s.mu.Unlock()
		return ErrNotRunning
	}
	pending := s.pending
	s.pending = nil
	alreadyStopping := s.state == Stopping
	s.state = Stopping
	s.mu.Unlock()

	if pending != nil {
		pending.resolve(ErrNotRunning)
	}
	if !alreadyStopping {
		s.terminate(proc)
	}

	select {
	case <-proc.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
