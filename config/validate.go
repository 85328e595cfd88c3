package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/yaklabco/hotreload/pkg/fsutils"
	"github.com/yaklabco/hotreload/pkg/pattern"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
}

func (w ValidationWarning) String() string {
	return fmt.Sprintf("config warning: %s: %s", w.Field, w.Message)
}

// ValidationResults holds the results of configuration validation.
type ValidationResults struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are validation errors.
func (r ValidationResults) HasErrors() bool {
	return len(r.Errors) > 0
}

// HasWarnings returns true if there are validation warnings.
func (r ValidationResults) HasWarnings() bool {
	return len(r.Warnings) > 0
}

// ErrorMessage returns a combined error message for all validation errors.
func (r ValidationResults) ErrorMessage() string {
	if !r.HasErrors() {
		return ""
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// WriteWarnings writes all warnings to the given writer.
func (r ValidationResults) WriteWarnings(w io.Writer) {
	for _, warn := range r.Warnings {
		_, _ = fmt.Fprintln(w, warn.String())
	}
}

func (r *ValidationResults) errorf(field, format string, args ...any) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (r *ValidationResults) warnf(field, format string, args ...any) {
	r.Warnings = append(r.Warnings, ValidationWarning{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Validate checks the configuration for errors and warnings.
// It returns errors for invalid values that would cause runtime issues,
// and warnings for issues that can be safely ignored.
func (c *Config) Validate() ValidationResults {
	var result ValidationResults

	durations := []struct {
		field string
		value int
	}{
		{"reloadDelayMs", c.ReloadDelayMs},
		{"cooldownMs", c.CooldownMs},
		{"killTimeoutMs", c.KillTimeoutMs},
	}
	for _, d := range durations {
		if d.value < 0 {
			result.errorf(d.field, "must not be negative, got %d", d.value)
		}
	}

	switch c.ExcludeMatch {
	case ExcludeMatchRelative, ExcludeMatchAbsolute:
	default:
		result.errorf("excludeMatch", "invalid value %q, must be %q or %q",
			c.ExcludeMatch, ExcludeMatchRelative, ExcludeMatchAbsolute)
	}

	switch c.FullReloadPolicy {
	case FullReloadRequest, FullReloadUnlessSuppressed:
	default:
		result.errorf("fullReloadPolicy", "invalid value %q, must be %q or %q",
			c.FullReloadPolicy, FullReloadRequest, FullReloadUnlessSuppressed)
	}

	for i, spec := range c.Watch {
		if strings.TrimSpace(spec.Path) == "" {
			result.errorf(fmt.Sprintf("watch[%d]", i), "path cannot be empty")
		}
	}

	watchExcludes := make([]string, 0, len(c.WatchExclude))
	for _, spec := range c.WatchExclude {
		watchExcludes = append(watchExcludes, spec.Path)
	}
	validatePatterns(&result, "watchExclude", watchExcludes)
	validatePatterns(&result, "uncache", c.Uncache)
	validatePatterns(&result, "uncacheExclude", c.UncacheExclude)
	validatePatterns(&result, "reload", c.Reload)
	validatePatterns(&result, "reloadExclude", c.ReloadExclude)

	result.merge(ValidateSpecialReloads(c.SpecialReload))

	for i, assignment := range c.Env {
		if !strings.Contains(assignment, "=") {
			result.errorf(fmt.Sprintf("env[%d]", i), "expected KEY=value, got %q", assignment)
		}
	}

	if len(c.Watch) == 0 {
		result.warnf("watch", "no watch paths configured, nothing will trigger a reload")
	}
	for i, spec := range c.Watch {
		if spec.Path == "" {
			continue
		}
		path := spec.Path
		if !filepath.IsAbs(path) && c.projectDir != "" {
			path = filepath.Join(c.projectDir, path)
		}
		if strings.ContainsAny(path, "*?[{") {
			continue
		}
		if _, err := os.Stat(path); fsutils.IsGone(err) {
			result.warnf(fmt.Sprintf("watch[%d]", i), "path %q does not exist", spec.Path)
		}
	}

	return result
}

func (r *ValidationResults) merge(other ValidationResults) {
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// validatePatterns reports every value that does not compile.
func validatePatterns(result *ValidationResults, field string, values []string) {
	for i, value := range values {
		if value == "" {
			result.errorf(fmt.Sprintf("%s[%d]", field, i), "pattern cannot be empty")
			continue
		}
		if _, err := pattern.Compile(pattern.Parse(value)); err != nil {
			result.errorf(fmt.Sprintf("%s[%d]", field, i), "%v", err)
		}
	}
}
