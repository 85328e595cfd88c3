package hotreload

import (
	"context"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
	"github.com/yaklabco/hotreload/cmd/hotreload/version"
	"github.com/yaklabco/hotreload/pkg/env"
	"github.com/yaklabco/hotreload/pkg/hotreload"
)

const (
	shortDescription = "hotreload runs a program and restarts it whenever its source files change."

	debugEnv   = "HOTRELOAD_DEBUG"
	verboseEnv = "HOTRELOAD_VERBOSE"
)

type rootCmdOptions struct {
	runFunc func(params hotreload.RunParams) error
}

type Option func(*rootCmdOptions)

// This is intentionally designed to be unusable from outside this package,
// as it exists purely for testing purposes.
func withRunFunc(fn func(params hotreload.RunParams) error) Option {
	return func(opts *rootCmdOptions) {
		opts.runFunc = fn
	}
}

func NewRootCmd(ctx context.Context, opts ...Option) *cobra.Command {
	rootCmdOpts := &rootCmdOptions{
		runFunc: hotreload.Run,
	}
	for _, opt := range opts {
		opt(rootCmdOpts)
	}

	var runParams hotreload.RunParams
	rootCmd := &cobra.Command{
		Use:   "hotreload [flags] [program [args...]]",
		Short: shortDescription,
		Example: `	# Run the program named by "main" in hot-reload.yaml
	hotreload

	# Run a program, restarting it when anything under ./src changes
	hotreload --watch src ./server --port 8080

	# Watch several trees, ignoring logs
	hotreload --watch 'services/*' --exclude '*.log' ./bin/api

	# Show what is watched and how changes are filtered
	hotreload --list

	# Manage configuration
	hotreload --config init`,
		Version: version.OverallVersionStringColorized(ctx),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case runParams.Config:
				runParams.Args = args
			case len(args) > 0:
				runParams.Main = args[0]
				runParams.Args = args[1:]
			}
			runParams.BaseCtx = cmd.Context() //nolint:fatcontext // intentionally setting context from cmd

			return rootCmdOpts.runFunc(runParams)
		},
	}

	// Everything after the program name belongs to the program.
	rootCmd.Flags().SetInterspersed(false)

	// Flags.
	rootCmd.PersistentFlags().BoolVarP(&runParams.Debug, "debug", "d", env.FailsafeParseBoolEnv(debugEnv, false), "turn on debug messages")
	rootCmd.PersistentFlags().BoolVarP(&runParams.Verbose, "verbose", "v", env.FailsafeParseBoolEnv(verboseEnv, false), "log each change and reload")
	rootCmd.PersistentFlags().StringVarP(&runParams.Dir, "dir", "C", "", "project directory to read hot-reload config from and watch")
	rootCmd.PersistentFlags().StringVarP(&runParams.WorkDir, "workdir", "w", "", "working directory of the program")
	rootCmd.PersistentFlags().StringArrayVar(&runParams.Watch, "watch", nil, "path or glob to watch (repeatable, replaces configured roots)")
	rootCmd.PersistentFlags().StringArrayVar(&runParams.Exclude, "exclude", nil, "path, glob or re:regex to exclude from watching (repeatable)")
	rootCmd.PersistentFlags().DurationVar(&runParams.Delay, "delay", 0, "quiet period before reloading (e.g. 300ms)")
	rootCmd.PersistentFlags().BoolVar(&runParams.NoRestart, "no-restart", false, "keep the program running across full reloads")
	rootCmd.PersistentFlags().BoolVarP(&runParams.Quiet, "quiet", "q", false, "disable progress lines on stdout")

	// Flags that are actually commands ("pseudo-flags").
	rootCmd.PersistentFlags().BoolVar(&runParams.Config, "config", false, "manage hotreload configuration (init, show, path)")
	rootCmd.PersistentFlags().BoolVarP(&runParams.List, "list", "l", false, "list watch roots and filters, then exit")

	rootCmd.MarkFlagsMutuallyExclusive("config", "list")

	return rootCmd
}

// ExecuteWithFang runs the root Cobra command with Fang-specific options.
// It accepts a context and a root Cobra command as input parameters.
// Returns an error if the command execution fails.
func ExecuteWithFang(ctx context.Context, rootCmd *cobra.Command) error {
	//nolint:wrapcheck // top-level error from cobra, wrapping not needed
	return fang.Execute(
		ctx, rootCmd, fang.WithVersion(rootCmd.Version), fang.WithoutManpage())
}
