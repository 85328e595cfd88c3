package hotreload

import (
	"fmt"
	"path/filepath"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
)

// ExpandWatchGlobs expands command-line watch arguments. Arguments without
// glob metacharacters are returned unchanged, even when they do not exist
// yet; globs are matched relative to baseDir and must match something.
func ExpandWatchGlobs(baseDir string, args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		if !hasMeta(arg) {
			paths = append(paths, arg)
			continue
		}
		if !doublestar.ValidatePattern(filepath.ToSlash(arg)) {
			return nil, fmt.Errorf("invalid watch glob %q", arg)
		}

		pat := arg
		if !filepath.IsAbs(pat) {
			pat = filepath.Join(baseDir, pat)
		}
		matches, err := doublestar.FilepathGlob(pat)
		if err != nil {
			return nil, fmt.Errorf("expanding %q: %w", arg, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("watch glob %q matched nothing", arg)
		}
		slices.Sort(matches)
		paths = append(paths, matches...)
	}
	return slices.Compact(paths), nil
}

func hasMeta(path string) bool {
	for _, r := range path {
		switch r {
		case '*', '?', '[', '{':
			return true
		}
	}
	return false
}
