// Package headless runs EvoCode unattended against a repository.
//
// The executor wraps each pipeline run (a cycle) in git safety:
//
//   - before the first cycle a dirty tree is committed when
//     git.auto_commit_dirty is set, and refused otherwise
//   - before each cycle HEAD is recorded as the checkpoint
//   - a successful cycle with changes is committed with the generated
//     message and the configured author
//   - a failed or cancelled cycle is reset hard to the checkpoint and
//     untracked files are removed
//
// Execution stops at the first failed cycle. After every cycle the
// executor writes execution.json and summary.md under
// <artifacts.output_dir>/<run id>/ and prints a summary to the console.
//
// Example usage:
//
//	cfg, _ := config.Load(config.LoadOptions{})
//	provider, _ := config.BuildProvider(cfg.LLM)
//	gateway := llm.NewGateway(provider, llm.WithTimeout(cfg.LLM.Timeout))
//	registry, _ := prompts.DefaultRegistry()
//
//	executor, _ := headless.NewExecutor(cfg, gateway, registry)
//	report, err := executor.Run(ctx)
package headless
