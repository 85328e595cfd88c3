package log

import (
	"fmt"
	"io"
	"log"
	"os"

	"charm.land/lipgloss/v2"
	"github.com/yaklabco/hotreload/pkg/ui"
)

// labelWidth is the column the console labels ("Watching:", "Changed:") are padded to.
const labelWidth = 10

// ConsoleLogger is an unstructured logger for the human-facing progress
// lines ("Watching file:", "Changed file:"). A nil *ConsoleLogger and a
// disabled one both discard everything.
type ConsoleLogger struct {
	logger  *log.Logger
	enabled bool
}

// NewConsoleLogger returns a ConsoleLogger writing to w with the
// "[hot-reload] " prefix.
func NewConsoleLogger(w io.Writer, enabled bool) *ConsoleLogger {
	if w == nil {
		w = os.Stdout
	}
	prefix := lipgloss.NewStyle().Foreground(ui.GetFangScheme().Flag).Render("[hot-reload] ")
	return &ConsoleLogger{
		logger:  log.New(w, prefix, 0),
		enabled: enabled,
	}
}

// Enabled reports whether lines are written.
func (c *ConsoleLogger) Enabled() bool {
	return c != nil && c.enabled
}

// SetEnabled toggles output.
func (c *ConsoleLogger) SetEnabled(enabled bool) {
	if c == nil {
		return
	}
	c.enabled = enabled
}

// Println writes a free-form line.
func (c *ConsoleLogger) Println(args ...any) {
	if !c.Enabled() {
		return
	}
	c.logger.Println(args...)
}

// Labeled writes label, left-padded to a fixed column, followed by value.
func (c *ConsoleLogger) Labeled(label, value string) {
	if !c.Enabled() {
		return
	}
	c.logger.Println(fmt.Sprintf("%-*s", labelWidth, label) + value)
}
