package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/entrhq/evocode/pkg/agent/prompts"
	"github.com/entrhq/evocode/pkg/config"
	"github.com/entrhq/evocode/pkg/executor/headless"
	"github.com/entrhq/evocode/pkg/llm"
	"github.com/entrhq/evocode/pkg/llm/tokenizer"
	"github.com/entrhq/evocode/pkg/logging"
)

var cliLog *logging.Logger

func init() {
	var err error
	cliLog, err = logging.NewLogger("cli")
	if err != nil {
		cliLog.Warnf("Failed to initialize cli logger, using stderr fallback: %v", err)
	}
}

// runFlags holds the flags of the run command. Only flags set on the
// command line override the loaded configuration.
type runFlags struct {
	path         string
	configFile   string
	prompts      string
	model        string
	baseURL      string
	verbosity    string
	cycles       int
	maxQARetries int
	maxTurns     int
	timeout      time.Duration
}

func newRunCmd() *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run improvement cycles against a repository",
		Long: `Run one or more pipeline cycles against the repository at --path.

Each cycle proposes ideas, picks one, plans it, implements it with tests,
and reviews the result. With git enabled (the default) a passing cycle is
committed and a failing one is rolled back to the commit it started from.
Execution stops at the first failed cycle.

Artifacts (execution.json, summary.md) are written per run under
artifacts.output_dir.

Examples:
  evocode run                                  # one cycle in the current directory
  evocode run --path ../svc --cycles 5         # five cycles
  evocode run --model gpt-4o --base-url https://api.openai.com/v1
  evocode run --verbosity verbose --max-qa-retries 2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, f)
		},
	}

	f.bind(cmd)
	return cmd
}

func (f *runFlags) bind(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.path, "path", "p", ".", "Target repository")
	flags.IntVarP(&f.cycles, "cycles", "n", 1, "Number of pipeline cycles to run")
	flags.StringVarP(&f.configFile, "config", "c", "", "Configuration file (default: evocode.yaml in --path)")
	flags.StringVar(&f.prompts, "prompts", "", "Prompts file replacing the built-in prompts")
	flags.StringVar(&f.model, "model", "", "Model name")
	flags.StringVar(&f.baseURL, "base-url", "", "OpenAI-compatible API base URL")
	flags.IntVar(&f.maxQARetries, "max-qa-retries", 3, "QA failures tolerated before a cycle fails")
	flags.IntVar(&f.maxTurns, "max-turns", 10, "Model turns allowed per tool-using stage")
	flags.StringVarP(&f.verbosity, "verbosity", "v", config.VerbosityNormal, "Console output: quiet, normal, verbose or debug")
	flags.DurationVar(&f.timeout, "timeout", 120*time.Second, "Timeout of a single model request")
}

// overrides returns the configuration keys of the flags set on cmd's
// command line.
func (f *runFlags) overrides(cmd *cobra.Command) map[string]interface{} {
	o := make(map[string]interface{})
	set := func(flag, key string, value interface{}) {
		if cmd.Flags().Changed(flag) {
			o[key] = value
		}
	}
	set("path", "path", f.path)
	set("cycles", "cycles", f.cycles)
	set("prompts", "prompts", f.prompts)
	set("model", "llm.model", f.model)
	set("base-url", "llm.base_url", f.baseURL)
	set("max-qa-retries", "pipeline.max_qa_retries", f.maxQARetries)
	set("max-turns", "pipeline.max_turns", f.maxTurns)
	set("verbosity", "verbosity", f.verbosity)
	set("timeout", "llm.timeout", f.timeout)
	return o
}

func runRun(cmd *cobra.Command, f *runFlags) error {
	cfg, err := config.Load(config.LoadOptions{
		ConfigFile: f.configFile,
		Dir:        f.path,
		Overrides:  f.overrides(cmd),
	})
	if err != nil {
		return withExitCode(exitUsage, err)
	}

	if err := logging.Configure(logging.Options{
		File:    cfg.Log.File,
		Level:   logging.ParseLevel(cfg.Log.Level),
		Secrets: []string{cfg.LLM.APIKey},
	}); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: logging to stderr: %v\n", err)
	}
	cliLog.Infof("EvoCode %s starting with configuration:\n%s", version, cfg)

	registry, err := prompts.LoadRegistry(cfg.Prompts)
	if err != nil {
		return withExitCode(exitUsage, err)
	}
	provider, err := config.BuildProvider(cfg.LLM)
	if err != nil {
		return withExitCode(exitUsage, err)
	}

	tok, err := tokenizer.New()
	if err != nil {
		cliLog.Warnf("Tokenizer unavailable, estimating token counts: %v", err)
		tok = nil
	}
	gateway := llm.NewGateway(provider, llm.WithTimeout(cfg.LLM.Timeout), llm.WithTokenizer(tok))

	console := headless.NewConsole(cmd.OutOrStdout(), headless.ParseVerbosity(cfg.Verbosity))
	executor, err := headless.NewExecutor(cfg, gateway, registry,
		headless.WithConsole(console),
		headless.WithTokenizer(tok),
	)
	if err != nil {
		return withExitCode(exitUsage, err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			console.Warningf("Interrupted, stopping after the current step...")
			cancel()
		case <-ctx.Done():
		}
	}()

	console.Infof("Model: %s (%s)", provider.GetModel(), provider.GetBaseURL())
	console.Infof("Prompts: %s", registry.Source())

	report, err := executor.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return withExitCode(exitCancelled, err)
		}
		return withExitCode(exitFailure, err)
	}

	console.Successf("%d cycle(s) completed", len(report.Cycles))
	cliLog.Infof("Completed %d cycle(s)", len(report.Cycles))
	return nil
}
