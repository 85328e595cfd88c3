package hotreload

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/yaklabco/hotreload/config"
)

// ConfigSubcommand represents a --config subcommand.
type ConfigSubcommand string

// Config subcommand constants.
const (
	ConfigInit ConfigSubcommand = "init"
	ConfigShow ConfigSubcommand = "show"
	ConfigPath ConfigSubcommand = "path"
)

// Exit codes for RunConfigCommand.
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

// RunConfigCommand handles `hotreload --config` for the project in dir.
// It returns the exit code.
func RunConfigCommand(stdout, stderr io.Writer, dir string, args []string) int {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(stdout)
	fs.Usage = func() {
		configUsage(stdout)
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	subArgs := fs.Args()
	if len(subArgs) == 0 {
		return runConfigShow(stdout, stderr, dir)
	}

	switch ConfigSubcommand(strings.ToLower(subArgs[0])) {
	case ConfigInit:
		return runConfigInit(stdout, stderr, dir)
	case ConfigShow:
		return runConfigShow(stdout, stderr, dir)
	case ConfigPath:
		return runConfigPath(stdout, stderr, dir)
	default:
		_, _ = fmt.Fprintf(stderr, "Error: unknown config subcommand %q\n", subArgs[0])
		configUsage(stderr)
		return exitUsage
	}
}

func runConfigInit(stdout, stderr io.Writer, dir string) int {
	path, err := config.WriteDefaultConfig(dir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	_, _ = fmt.Fprintf(stdout, "Created config file: %s\n", path)
	return exitOK
}

func runConfigShow(stdout, stderr io.Writer, dir string) int {
	cfg, err := config.Load(&config.LoadOptions{ProjectDir: dir, Stderr: stderr})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return exitError
	}
	out, err := cfg.YAML()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	_, _ = fmt.Fprintln(stdout, "# Effective hotreload configuration")
	if cfg.ConfigFile() != "" {
		_, _ = fmt.Fprintf(stdout, "# Loaded from: %s\n", cfg.ConfigFile())
	} else {
		_, _ = fmt.Fprintln(stdout, "# (using defaults, no project config file found)")
	}
	_, _ = fmt.Fprintln(stdout)
	_, _ = fmt.Fprint(stdout, out)
	return exitOK
}

func runConfigPath(stdout, _ io.Writer, dir string) int {
	paths := config.ResolveXDGPaths()

	_, _ = fmt.Fprintln(stdout, "Configuration Paths:")
	_, _ = fmt.Fprintf(stdout, "  User config:    %s\n", paths.ConfigFilePath())
	_, _ = fmt.Fprintf(stdout, "  Config dir:     %s\n", paths.ConfigDir())

	if project := config.FindProjectConfig(dir); project != "" {
		_, _ = fmt.Fprintf(stdout, "\nProject config file: %s\n", project)
	} else {
		_, _ = fmt.Fprintf(stdout, "\nNo project config file in %s (looked for %s.{json,yaml,yml})\n",
			dir, config.ProjectConfigFileName)
	}
	return exitOK
}

func configUsage(w io.Writer) {
	_, _ = fmt.Fprint(w, `
hotreload --config [subcommand]

Manage hotreload configuration.

Subcommands:
  init    Create hot-reload.yaml in the project directory
  show    Display effective configuration (default)
  path    Show configuration file paths

Examples:
  hotreload --config           # Show effective configuration
  hotreload --config init      # Create ./hot-reload.yaml
  hotreload -C app --config    # Show configuration for ./app
  hotreload --config path      # Show config file locations
`[1:])
}
