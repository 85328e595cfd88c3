package ui

import (
	"os"
	"strings"

	"charm.land/lipgloss/v2"
	"github.com/charmbracelet/fang"
	"github.com/samber/lo"
)

// noColorTERMs defines terminals that do not support ANSI color output.
var noColorTERMs = lo.Keyify([]string{ //nolint:gochecknoglobals // lookup table
	"dumb",
	"vt100",
	"cygwin",
	"xterm-mono",
})

// GetFangScheme returns the same light/dark-aware color scheme fang uses.
func GetFangScheme() fang.ColorScheme {
	// This mirrors fang.mustColorscheme(DefaultColorScheme)
	isDark := lipgloss.HasDarkBackground(os.Stdin, os.Stdout)
	return fang.DefaultColorScheme(lipgloss.LightDark(isDark))
}

// ColorEnabled reports whether styled output should be produced. It honors
// NO_COLOR and a small blacklist of TERM values.
func ColorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return TerminalSupportsColor(os.Getenv("TERM"))
}

// TerminalSupportsColor returns true if the given TERM value is not in the
// known-no-color blacklist. An empty term is treated as supporting colors.
func TerminalSupportsColor(term string) bool {
	if term == "" {
		return true
	}
	_, blacklisted := noColorTERMs[term]
	return !blacklisted
}

// ListStyles are the styles used by `hotreload --list`.
type ListStyles struct {
	Title    lipgloss.Style
	Header   lipgloss.Style
	Include  lipgloss.Style
	Exclude  lipgloss.Style
	Muted    lipgloss.Style
	Emphasis lipgloss.Style
}

// GetListStyles returns styles derived from the fang scheme, or plain styles
// when color is disabled.
func GetListStyles(color bool) ListStyles {
	if !color {
		plain := lipgloss.NewStyle()
		return ListStyles{Title: plain, Header: plain, Include: plain, Exclude: plain, Muted: plain, Emphasis: plain}
	}

	colorScheme := GetFangScheme()
	return ListStyles{
		Title:    lipgloss.NewStyle().Bold(true).Foreground(colorScheme.QuotedString).Transform(strings.ToUpper),
		Header:   lipgloss.NewStyle().Bold(true).Foreground(colorScheme.Flag),
		Include:  lipgloss.NewStyle().Foreground(colorScheme.Program),
		Exclude:  lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		Muted:    lipgloss.NewStyle().Foreground(colorScheme.Base).Faint(true),
		Emphasis: lipgloss.NewStyle().Foreground(colorScheme.QuotedString),
	}
}
