// Package parallelism decides how many watch roots are walked at once.
package parallelism

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

const (
	WalkConcurrencyEnvVar = "HOTRELOAD_WALK_CONCURRENCY"

	// maxDefaultWalkers caps the NumCPU default.
	maxDefaultWalkers = 8
)

func getNumProcessors() int {
	return runtime.NumCPU()
}

// WalkConcurrency returns the walk concurrency from WalkConcurrencyEnvVar,
// or a NumCPU-based default when it is unset.
func WalkConcurrency() (int, error) {
	strFromEnv := strings.TrimSpace(os.Getenv(WalkConcurrencyEnvVar))
	if strFromEnv == "" {
		return max(1, min(getNumProcessors(), maxDefaultWalkers)), nil
	}

	n, err := strconv.Atoi(strFromEnv)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", WalkConcurrencyEnvVar, err)
	}
	if n < 1 {
		return 0, fmt.Errorf("%s: must be at least 1, got %d", WalkConcurrencyEnvVar, n)
	}
	return n, nil
}
