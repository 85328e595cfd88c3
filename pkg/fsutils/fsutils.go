// Package fsutils holds the path canonicalization helpers shared by the
// watcher, the resolver and the filters.
package fsutils

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// TruePath returns the canonical form of path: absolute, with every symlink
// resolved. It iterates until the result stops changing.
func TruePath(path string) (string, error) {
	var prevAbsPath string
	var prevResolvedPath string

	changeFound := true
	for changeFound {
		changeFound = false

		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		if absPath != prevAbsPath {
			prevAbsPath = absPath
			changeFound = true
		}

		resolvedPath, err := filepath.EvalSymlinks(absPath)
		if err != nil {
			return "", fmt.Errorf("failed to resolve symlinks: %w", err)
		}
		if resolvedPath != prevResolvedPath {
			prevResolvedPath = resolvedPath
			changeFound = true
		}

		path = resolvedPath
	}

	return path, nil
}

// IsGone reports whether err means the path no longer exists. Such errors
// are expected when a file is deleted between an event and its handling.
func IsGone(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission)
}

// Exists reports whether path can be stat'ed.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsDir reports whether path exists and is a directory.
func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// IsWithin reports whether path equals root or lies underneath it. Both are
// compared lexically after cleaning.
func IsWithin(path, root string) bool {
	path = filepath.Clean(path)
	root = filepath.Clean(root)
	if path == root {
		return true
	}
	if !strings.HasSuffix(root, string(filepath.Separator)) {
		root += string(filepath.Separator)
	}
	return strings.HasPrefix(path, root)
}

// Ancestors returns the parent directories of path, nearest first, ending
// with the filesystem root.
func Ancestors(path string) []string {
	var dirs []string
	current := filepath.Clean(path)
	for {
		parent := filepath.Dir(current)
		if parent == current {
			return dirs
		}
		dirs = append(dirs, parent)
		current = parent
	}
}

// RelOrAbs returns path relative to base when it lies within base, and the
// path unchanged otherwise.
func RelOrAbs(base, path string) string {
	if base == "" || !IsWithin(path, base) {
		return path
	}
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return path
	}
	return rel
}
