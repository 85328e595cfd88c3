package hotreload

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"

	hlog "github.com/yaklabco/hotreload/internal/log"
	"github.com/yaklabco/hotreload/pkg/reload"
	"github.com/yaklabco/hotreload/pkg/sh"
)

// ChangedPathEnv is set for special reload commands to the path that
// triggered them.
const ChangedPathEnv = "HOTRELOAD_CHANGED_PATH"

// CommandHandler is a special reload handler declared in configuration. It
// runs Command (when set) and then applies its FullReload and Stop flags.
type CommandHandler struct {
	Name       string
	Command    string
	Args       []string
	Dir        string
	Env        map[string]string
	FullReload bool
	Stop       bool

	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

// HandleSpecialReload implements reload.SpecialHandler. A failing command
// is returned as an error, which suppresses the full reload.
func (c *CommandHandler) HandleSpecialReload(ctx context.Context, hc *reload.HandlerContext) (reload.Action, error) {
	if c.Command != "" {
		env := maps.Clone(c.Env)
		if env == nil {
			env = map[string]string{}
		}
		env[ChangedPathEnv] = hc.Path

		logger := c.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Debug("running special reload command",
			hlog.Handler, c.Name, hlog.Cmd, c.Command, hlog.Args, c.Args, hlog.Path, hc.Path)

		_, err := sh.Exec(ctx, sh.Options{
			Dir:    c.Dir,
			Env:    env,
			Stdout: c.Stdout,
			Stderr: c.Stderr,
		}, c.Command, c.Args...)
		if err != nil {
			return reload.Continue, fmt.Errorf("special reload %s: %w", c.Name, err)
		}
	}

	if c.FullReload {
		hc.RequestFullReload()
	}
	if c.Stop {
		return reload.Stop, nil
	}
	return reload.Continue, nil
}

func (c *CommandHandler) String() string {
	return c.Name
}
