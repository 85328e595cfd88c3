// Package resolve maps logical names to canonical filesystem paths, the way
// a package manager locates an installed package.
package resolve

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/yaklabco/hotreload/pkg/fsutils"
)

// ErrNotFound is matched by every NotFoundError.
var ErrNotFound = errors.New("not found")

// NotFoundError reports a name that resolved to no existing path.
type NotFoundError struct {
	Name string
	From string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("module not found: %s (from %s)", e.Name, e.From)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// DefaultSearchDirs are the per-directory install locations searched for
// package-style names.
var DefaultSearchDirs = []string{"node_modules", "vendor"} //nolint:gochecknoglobals // default configuration value

// Resolver resolves names relative to a directory.
type Resolver struct {
	// SearchDirs are looked up in every ancestor of the starting directory.
	SearchDirs []string

	// Extensions are appended to each candidate before it is tried bare.
	Extensions []string
}

// New returns a Resolver using DefaultSearchDirs when searchDirs is empty.
func New(searchDirs, extensions []string) *Resolver {
	if len(searchDirs) == 0 {
		searchDirs = DefaultSearchDirs
	}
	return &Resolver{SearchDirs: searchDirs, Extensions: extensions}
}

// Resolve returns the canonical path of name as seen from fromDir.
//
// Names starting with "./" or "../" are joined onto fromDir, absolute names
// are taken as-is, and anything else is searched for as
// <ancestor>/<searchDir>/<name> for fromDir and each of its ancestors,
// nearest first.
func (r *Resolver) Resolve(name, fromDir string) (string, error) {
	if name == "" {
		return "", &NotFoundError{Name: name, From: fromDir}
	}
	name = filepath.FromSlash(name)

	for _, candidate := range r.candidates(name, fromDir) {
		if found, ok := r.try(candidate); ok {
			return found, nil
		}
	}
	return "", &NotFoundError{Name: name, From: fromDir}
}

func (r *Resolver) candidates(name, fromDir string) []string {
	if filepath.IsAbs(name) {
		return []string{name}
	}
	if isRelative(name) {
		return []string{filepath.Join(fromDir, name)}
	}

	dirs := append([]string{filepath.Clean(fromDir)}, fsutils.Ancestors(fromDir)...)
	candidates := make([]string, 0, len(dirs)*len(r.SearchDirs))
	for _, dir := range dirs {
		for _, searchDir := range r.SearchDirs {
			if filepath.Base(dir) == searchDir {
				continue
			}
			candidates = append(candidates, filepath.Join(dir, searchDir, name))
		}
	}
	return candidates
}

func (r *Resolver) try(candidate string) (string, bool) {
	for _, ext := range r.Extensions {
		if path, ok := canonical(candidate + ext); ok {
			return path, true
		}
	}
	return canonical(candidate)
}

func canonical(path string) (string, bool) {
	if !fsutils.Exists(path) {
		return "", false
	}
	truePath, err := fsutils.TruePath(path)
	if err != nil {
		return "", false
	}
	return truePath, true
}

func isRelative(name string) bool {
	sep := string(filepath.Separator)
	return name == "." || name == ".." ||
		strings.HasPrefix(name, "."+sep) || strings.HasPrefix(name, ".."+sep)
}
