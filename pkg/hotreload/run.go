package hotreload

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/yaklabco/hotreload/config"
	hlog "github.com/yaklabco/hotreload/internal/log"
	"github.com/yaklabco/hotreload/pkg/fsutils"
	"github.com/yaklabco/hotreload/pkg/hotreload/prettylog"
	"github.com/yaklabco/hotreload/pkg/pattern"
	"github.com/yaklabco/hotreload/pkg/reload"
	"github.com/yaklabco/hotreload/pkg/supervisor"
	"golang.org/x/sync/errgroup"
)

// Variables injected into the supervised child's environment.
const (
	ChildMarkerEnv    = "HOTRELOAD"
	ChildParentPIDEnv = "HOTRELOAD_PARENT_PID"
)

// stopGrace is added to the kill timeout when waiting for the child on exit.
const stopGrace = time.Second

// RunParams holds the command-line inputs for Run.
type RunParams struct {
	BaseCtx context.Context // BaseCtx is the base context for the run, often used for cancellation.

	Stdin  io.Reader // reader the child reads stdin from
	Stdout io.Writer // writer for console lines and the child's stdout
	Stderr io.Writer // writer for logs, warnings and the child's stderr

	Debug     bool          // turn on debug logging
	Verbose   bool          // turn on info logging
	Dir       string        // project directory, where configuration is read from
	WorkDir   string        // working directory of the child
	Main      string        // program to supervise; falls back to the main config key
	Args      []string      // arguments for Main
	Watch     []string      // watch roots, replacing the configured ones; globs are expanded
	Exclude   []string      // additional watch excludes
	Delay     time.Duration // reload delay, overriding reloadDelayMs when positive
	Quiet     bool          // disable console progress lines
	NoRestart bool          // do not restart the child on a full reload
	List      bool          // print the effective watch configuration and exit
	Config    bool          // manage configuration; Args holds the subcommand

	// Spawner replaces the exec-based spawner.
	Spawner supervisor.Spawner
	// Options are applied when building the HotReload.
	Options []Option
}

func preprocessRunParams(params *RunParams) {
	params.BaseCtx = cmp.Or(params.BaseCtx, context.Background())

	params.Stdin = cmp.Or(params.Stdin, io.Reader(os.Stdin))
	params.Stdout = cmp.Or(params.Stdout, io.Writer(os.Stdout))
	params.Stderr = cmp.Or(params.Stderr, io.Writer(os.Stderr))
}

// Run loads configuration, starts the child and keeps it current with
// source changes until the context is cancelled or SIGINT/SIGTERM arrives.
func Run(params RunParams) error {
	preprocessRunParams(&params)

	if params.Config {
		dir := cmp.Or(params.Dir, ".")
		if code := RunConfigCommand(params.Stdout, params.Stderr, dir, params.Args); code != exitOK {
			return fmt.Errorf("config command failed with exit code %d", code)
		}
		return nil
	}

	cfg, err := config.Load(&config.LoadOptions{ProjectDir: params.Dir, Stderr: params.Stderr})
	if err != nil {
		return err
	}
	if err := applyRunParams(cfg, params); err != nil {
		return err
	}

	prettylog.SetupPrettyLogger(params.Stderr, cfg.Debug, cfg.Verbose)
	logger := slog.Default()
	if path := cfg.ConfigFile(); path != "" {
		logger.Debug("loaded configuration", hlog.Path, path)
	}

	console := hlog.NewConsoleLogger(params.Stdout, cfg.LoggingEnabled)
	opts := append([]Option{WithLogger(logger), WithConsole(console)}, params.Options...)
	h, err := FromConfig(cfg, params.Stdout, params.Stderr, opts...)
	if err != nil {
		return err
	}

	if params.List {
		return RenderList(params.Stdout, h)
	}

	if cfg.Main == "" {
		return errors.New("no program to run: pass one on the command line or set main in the configuration")
	}

	ctx, stop := signal.NotifyContext(params.BaseCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup := supervisor.New(params.Spawner, childCommand(cfg, h, params),
		supervisor.WithKillTimeout(time.Duration(cfg.KillTimeoutMs)*time.Millisecond),
		supervisor.WithLogger(logger),
		supervisor.WithConsole(console),
	)
	if cfg.Restart {
		h.OnBeforeReload(func(ctx context.Context, _ reload.Event) error {
			err := sup.Restart(ctx)
			if errors.Is(err, supervisor.ErrNotRunning) {
				logger.Debug("skipping restart, shutting down")
				return nil
			}
			return err
		})
	}

	return run(ctx, h, sup, time.Duration(cfg.KillTimeoutMs)*time.Millisecond+stopGrace)
}

// run starts the child and the pipeline, and tears both down when ctx ends.
func run(ctx context.Context, h *HotReload, sup *supervisor.Supervisor, stopTimeout time.Duration) error {
	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("starting child: %w", err)
	}
	if err := h.Start(ctx); err != nil {
		stopChild(sup, stopTimeout)
		return err
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(h.Wait)
	group.Go(func() error {
		<-gctx.Done()
		stopChild(sup, stopTimeout)
		return nil
	})
	return group.Wait()
}

func stopChild(sup *supervisor.Supervisor, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := sup.Stop(ctx); err != nil && !errors.Is(err, supervisor.ErrNotRunning) {
		slog.Warn("stopping child failed", hlog.Error, err)
	}
}

// applyRunParams folds command-line inputs over the loaded configuration.
func applyRunParams(cfg *config.Config, params RunParams) error {
	if params.Main != "" {
		cfg.Main = params.Main
		cfg.Args = params.Args
	}
	if params.WorkDir != "" {
		cfg.Dir = params.WorkDir
	}
	if params.Debug {
		cfg.Debug = true
	}
	if params.Verbose {
		cfg.Verbose = true
	}
	if params.Quiet {
		cfg.LoggingEnabled = false
	}
	if params.NoRestart {
		cfg.Restart = false
	}
	if params.Delay > 0 {
		cfg.ReloadDelayMs = int(params.Delay / time.Millisecond)
	}

	if len(params.Watch) > 0 {
		paths, err := ExpandWatchGlobs(cfg.ProjectDir(), params.Watch)
		if err != nil {
			return err
		}
		cfg.Watch = cfg.Watch[:0]
		for _, path := range paths {
			cfg.Watch = append(cfg.Watch, config.PathSpec{Path: path})
		}
	}
	for _, exclude := range params.Exclude {
		if _, err := pattern.Compile(pattern.Parse(exclude)); err != nil {
			return fmt.Errorf("--exclude: %w", err)
		}
		cfg.WatchExclude = append(cfg.WatchExclude, config.PathSpec{Path: exclude})
	}
	return nil
}

// childCommand assembles the supervised command and its injected environment.
func childCommand(cfg *config.Config, h *HotReload, params RunParams) supervisor.Command {
	dir := cfg.Dir
	if dir == "" {
		dir = h.BaseDir()
	} else if !filepath.IsAbs(dir) {
		dir = filepath.Join(h.BaseDir(), dir)
	}

	// A bare name that exists in the child's directory is run from there
	// rather than looked up on PATH.
	main := cfg.Main
	if !filepath.IsAbs(main) && filepath.Base(main) == main && fsutils.Exists(filepath.Join(dir, main)) {
		main = filepath.Join(dir, main)
	}

	env := h.ChildEnv()
	env[ChildMarkerEnv] = "1"
	env[ChildParentPIDEnv] = strconv.Itoa(os.Getpid())

	return supervisor.Command{
		Path:   main,
		Args:   cfg.Args,
		Dir:    dir,
		Env:    env,
		Stdin:  params.Stdin,
		Stdout: params.Stdout,
		Stderr: params.Stderr,
	}
}
