package main

import (
	"context"
	"fmt"
	"os"

	"github.com/yaklabco/hotreload/cmd/hotreload"
)

func main() {
	os.Exit(actualMain())
}

func actualMain() int {
	ctx := context.Background()

	rootCmd := hotreload.NewRootCmd(ctx)

	if err := hotreload.ExecuteWithFang(ctx, rootCmd); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		return 1
	}

	return 0
}
