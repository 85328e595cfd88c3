package hotreload

import (
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"

	"charm.land/lipgloss/v2"
	"github.com/charmbracelet/x/term"
	"github.com/muesli/reflow/wordwrap"
	"github.com/yaklabco/hotreload/pkg/filter"
	"github.com/yaklabco/hotreload/pkg/fsutils"
	"github.com/yaklabco/hotreload/pkg/ui"
)

const (
	termWidthFloor    = 20
	fallbackTermWidth = 80
)

// RenderList renders the output of `hotreload --list`: the watch roots and
// every filter axis with its rules.
func RenderList(out io.Writer, h *HotReload) error {
	styles := ui.GetListStyles(ui.ColorEnabled())
	const indent = "  "

	_, _ = fmt.Fprintln(out, styles.Title.Render("Watch roots:"))
	roots := h.WatchRoots()
	if len(roots) == 0 {
		_, _ = fmt.Fprintln(out, indent+styles.Muted.Render("(none)"))
	}
	for _, root := range roots {
		mode := "recursive"
		if !root.Recursive {
			mode = "top level only"
		}
		_, _ = fmt.Fprintf(out, "%s%s  %s\n",
			indent, styles.Include.Render(fsutils.RelOrAbs(h.BaseDir(), root.Path)), styles.Muted.Render(mode))
	}

	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintln(out, styles.Title.Render("Filters:"))
	for _, axis := range h.Axes() {
		writeAxis(out, styles, axis, indent)
	}

	if env := h.ChildEnv(); len(env) > 0 {
		_, _ = fmt.Fprintln(out)
		_, _ = fmt.Fprintln(out, styles.Title.Render("Child environment:"))
		width := detectTermWidth()
		for _, key := range slices.Sorted(maps.Keys(env)) {
			line := wordwrap.String(key+"="+env[key], max(termWidthFloor, width-len(indent)))
			line = strings.ReplaceAll(line, "\n", "\n"+indent)
			_, _ = fmt.Fprintln(out, indent+line)
		}
	}

	return nil
}

func writeAxis(out io.Writer, styles ui.ListStyles, axis filter.Description, indent string) {
	_, _ = fmt.Fprintln(out)

	def := "matches nothing"
	if axis.Default == filter.MatchAll {
		def = "matches everything"
	}
	header := styles.Header.Render(axis.Name)
	if len(axis.Includes) == 0 && len(axis.Excludes) == 0 {
		_, _ = fmt.Fprintf(out, "%s%s  %s\n", indent, header, styles.Muted.Render("(no rules, "+def+")"))
		return
	}
	_, _ = fmt.Fprintln(out, indent+header)

	const (
		gap       = 2
		kindWidth = len("exclude")
	)
	leftOffset := lipgloss.Width(indent)*2 + kindWidth + gap
	ruleWidth := max(termWidthFloor, detectTermWidth()-leftOffset)
	spaceLeft := strings.Repeat(" ", leftOffset)

	writeRule := func(kind string, style lipgloss.Style, rule string) {
		wrapped := wordwrap.String(rule, ruleWidth)
		// Align continuation lines under the start of the rule column.
		wrapped = strings.ReplaceAll(wrapped, "\n", "\n"+spaceLeft)
		label := style.Render(kind) + strings.Repeat(" ", kindWidth-len(kind)+gap)
		_, _ = fmt.Fprintln(out, indent+indent+label+wrapped)
	}
	for _, rule := range axis.Excludes {
		writeRule("exclude", styles.Exclude, rule)
	}
	for _, rule := range axis.Includes {
		writeRule("include", styles.Include, rule)
	}
}

// detectTermWidth returns the terminal width to use for wrapping.
// It prefers the actual stdout size, falls back to $COLUMNS, then 80.
func detectTermWidth() int {
	if w, _, err := term.GetSize(os.Stdout.Fd()); err == nil && w > 0 {
		return w
	}
	if cols := os.Getenv("COLUMNS"); cols != "" {
		if v, err := strconv.Atoi(cols); err == nil && v > 0 {
			return v
		}
	}

	return fallbackTermWidth
}
