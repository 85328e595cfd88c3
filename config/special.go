package config

import (
	"fmt"
	"strings"
)

// ValidateSpecialReloads validates the specialReload entries.
func ValidateSpecialReloads(entries []SpecialReload) ValidationResults {
	var result ValidationResults

	for i, entry := range entries {
		field := fmt.Sprintf("specialReload[%d]", i)

		if len(entry.Patterns) == 0 {
			result.errorf(field+".patterns", "at least one pattern is required")
		}
		validatePatterns(&result, field+".patterns", entry.Patterns)
		validatePatterns(&result, field+".exclude", entry.Exclude)

		if strings.TrimSpace(entry.Command) == "" {
			if len(entry.Args) > 0 {
				result.errorf(field+".args", "args given without a command")
			}
			if !entry.FullReload && !entry.Stop {
				result.warnf(field, "entry has no command and neither requests a full reload nor stops the chain")
			}
		}
	}

	return result
}

// Describe returns a one-line summary of the entry for listings.
func (s SpecialReload) Describe() string {
	var b strings.Builder
	b.WriteString(strings.Join(s.Patterns, ", "))
	if len(s.Exclude) > 0 {
		b.WriteString(" (except ")
		b.WriteString(strings.Join(s.Exclude, ", "))
		b.WriteString(")")
	}
	if s.Command != "" {
		b.WriteString(" -> ")
		b.WriteString(strings.TrimSpace(s.Command + " " + strings.Join(s.Args, " ")))
	}
	if s.FullReload {
		b.WriteString(" [full reload]")
	}
	if s.Stop {
		b.WriteString(" [stop]")
	}
	return b.String()
}
