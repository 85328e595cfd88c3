// Package env builds the environment handed to the supervised child.
package env

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/samber/lo"
)

func GetMap() map[string]string {
	return ToMap(os.Environ())
}

const keyValueParts = 2 // Number of parts in a key=value pair.

func ToMap(assignments []string) map[string]string {
	return lo.FromPairs(lo.FilterMap(assignments, func(item string, _ int) (lo.Entry[string, string], bool) {
		parts := strings.SplitN(item, "=", keyValueParts)
		if len(parts) != keyValueParts {
			return lo.Entry[string, string]{}, false
		}

		return lo.Entry[string, string]{Key: parts[0], Value: parts[1]}, true
	}))
}

// ToAssignments converts envMap to KEY=value pairs, sorted by key so the
// child sees a stable environment.
func ToAssignments(envMap map[string]string) []string {
	assignments := lo.MapToSlice(envMap, func(k, v string) string {
		return k + "=" + v
	})
	slices.Sort(assignments)
	return assignments
}

// Merge returns a new map holding base overlaid with each overlay in order;
// later overlays win.
func Merge(base map[string]string, overlays ...map[string]string) map[string]string {
	return lo.Assign(append([]map[string]string{base}, overlays...)...)
}

// ErrInvalidBool is returned when a string cannot be parsed as a boolean.
var ErrInvalidBool = errors.New("invalid boolean value")

// ParseBool interprets a string as a boolean.
// It trims leading and trailing whitespace, then lowercases the value
// before matching.
//
// Accepted values (case-insensitive, after trimming):
//   - "true", "yes", "1"  -> true
//   - "false", "no", "0"  -> false
//   - "" (empty)          -> false, nil error
//   - any other non-empty -> false, ErrInvalidBool
func ParseBool(value string) (bool, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return false, nil
	}

	switch strings.ToLower(value) {
	case "true", "yes", "1":
		return true, nil
	case "false", "no", "0":
		return false, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrInvalidBool, value)
	}
}

// FailsafeParseBoolEnv reads an environment variable and parses it as a boolean.
// It returns defaultValue if the variable is unset, empty, or contains an invalid
// value.
func FailsafeParseBoolEnv(envVar string, defaultValue bool) bool {
	v, ok := os.LookupEnv(envVar)
	if !ok || v == "" {
		return defaultValue
	}

	b, err := ParseBool(v)
	if err != nil {
		return defaultValue
	}

	return b
}
