package sh

import (
	"flag"
	"fmt"
	"os"
	"testing"
)

var (
	helperCmd bool
	printArgs bool
	printDir  bool
	stderr    string
	stdout    string
	exitCode  int
	printVar  string
)

func init() {
	flag.BoolVar(&helperCmd, "helper", false, "")
	flag.BoolVar(&printArgs, "printArgs", false, "")
	flag.BoolVar(&printDir, "printDir", false, "")
	flag.StringVar(&stderr, "stderr", "", "")
	flag.StringVar(&stdout, "stdout", "", "")
	flag.IntVar(&exitCode, "exit", 0, "")
	flag.StringVar(&printVar, "printVar", "", "")
}

func TestMain(m *testing.M) {
	flag.Parse()

	if printArgs {
		_, _ = fmt.Fprintln(os.Stdout, flag.Args())
		return
	}
	if printVar != "" {
		_, _ = fmt.Fprintln(os.Stdout, os.Getenv(printVar))
		return
	}
	if printDir {
		wd, _ := os.Getwd()
		_, _ = fmt.Fprintln(os.Stdout, wd)
		return
	}

	if helperCmd {
		_, _ = fmt.Fprintln(os.Stderr, stderr)
		_, _ = fmt.Fprintln(os.Stdout, stdout)
		os.Exit(exitCode)
	}
	os.Exit(m.Run())
}
