// Package main provides the EvoCode command line. EvoCode runs an
// ideate, plan, code, test and review pipeline of model agents against a
// repository and commits each improvement that passes review.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version information, set via ldflags at build time.
var (
	version   = "0.1.0"
	commit    = "unknown"
	buildDate = "unknown"
)

// Exit codes of the evocode binary.
const (
	exitOK        = 0
	exitFailure   = 1 // a cycle failed
	exitUsage     = 2 // invalid flags or configuration
	exitCancelled = 130
)

// exitError carries the process exit code of a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withExitCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitFailure
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "evocode",
		Short: "EvoCode - autonomous code improvement pipeline",
		Long: `EvoCode improves a repository one idea at a time. Each cycle runs a
pipeline of model agents:

  IDEATE -> FILTER -> PLAN -> CODE -> TEST -> QA -> COMMIT

QA failures send the run back to CODE up to pipeline.max_qa_retries times.
A cycle that passes QA is committed; a failed cycle is rolled back.

Configuration is read from defaults, evocode.yaml in the target directory,
EVOCODE_* environment variables and finally command line flags. A .env
file in the working directory is loaded first.

Quick Start:
  export GEMINI_API_KEY=...
  evocode run --path ./myproject --cycles 3`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newPromptsCmd(), newVersionCmd())
	return root
}

func main() {
	// A missing .env is fine.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}
