// Package config loads EvoCode's layered configuration: built-in defaults,
// an optional YAML file, EVOCODE_* environment variables and command-line
// overrides, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/entrhq/evocode/pkg/logging"
	"github.com/entrhq/evocode/pkg/schema"
)

// Verbosity levels accepted by the console reporter.
const (
	VerbosityQuiet   = "quiet"
	VerbosityNormal  = "normal"
	VerbosityVerbose = "verbose"
	VerbosityDebug   = "debug"
)

var verbosities = []string{VerbosityQuiet, VerbosityNormal, VerbosityVerbose, VerbosityDebug}

// Config is the complete EvoCode configuration.
type Config struct {
	// Path is the target repository.
	Path   string `koanf:"path"`
	Cycles int    `koanf:"cycles"`
	// Verbosity is one of quiet, normal, verbose or debug.
	Verbosity string `koanf:"verbosity"`
	// Prompts is an optional prompts.yaml replacing the built-in prompts.
	Prompts string `koanf:"prompts"`

	LLM         LLMConfig         `koanf:"llm"`
	Pipeline    PipelineConfig    `koanf:"pipeline"`
	Patch       PatchConfig       `koanf:"patch"`
	Tests       TestsConfig       `koanf:"tests"`
	Snapshot    SnapshotConfig    `koanf:"snapshot"`
	Constraints ConstraintsConfig `koanf:"constraints"`
	Git         GitConfig         `koanf:"git"`
	Artifacts   ArtifactsConfig   `koanf:"artifacts"`
	Log         LogConfig         `koanf:"log"`
}

// LLMConfig selects the model endpoint.
type LLMConfig struct {
	Model   string        `koanf:"model"`
	BaseURL string        `koanf:"base_url"`
	APIKey  string        `koanf:"api_key"`
	Timeout time.Duration `koanf:"timeout"`
}

// PipelineConfig bounds the pipeline's loops.
type PipelineConfig struct {
	MaxQARetries       int      `koanf:"max_qa_retries"`
	MaxTurns           int      `koanf:"max_turns"`
	GenerationAttempts int      `koanf:"generation_attempts"`
	MinIdeas           int      `koanf:"min_ideas"`
	MaxIdeas           int      `koanf:"max_ideas"`
	SkipCodeTypes      []string `koanf:"skip_code_types"`
}

// PatchConfig tunes the patch engine.
type PatchConfig struct {
	MaxOffset int `koanf:"max_offset"`
}

// TestsConfig configures the run_tests tool.
type TestsConfig struct {
	Command         string        `koanf:"command"`
	Timeout         time.Duration `koanf:"timeout"`
	NoTestsExitCode int           `koanf:"no_tests_exit_code"`
	MaxOutputBytes  int           `koanf:"max_output_bytes"`
}

// SnapshotConfig controls the project snapshot given to the models.
type SnapshotConfig struct {
	Include   []string `koanf:"include"`
	MaxTokens int      `koanf:"max_tokens"`
}

// ConstraintsConfig limits the files the write tools may touch.
type ConstraintsConfig struct {
	AllowedPatterns []string `koanf:"allowed_patterns"`
	DeniedPatterns  []string `koanf:"denied_patterns"`
}

// GitConfig controls checkpoints, commits and rollbacks.
type GitConfig struct {
	Enabled         bool   `koanf:"enabled"`
	AutoCommitDirty bool   `koanf:"auto_commit_dirty"`
	AuthorName      string `koanf:"author_name"`
	AuthorEmail     string `koanf:"author_email"`
}

// ArtifactsConfig sets where run artifacts are written, relative to Path
// unless absolute.
type ArtifactsConfig struct {
	OutputDir string `koanf:"output_dir"`
}

// LogConfig configures the shared log sink.
type LogConfig struct {
	File  string `koanf:"file"`
	Level string `koanf:"level"`
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Path) == "" {
		errs = append(errs, errors.New("path is required"))
	}
	if c.Cycles < 1 {
		errs = append(errs, fmt.Errorf("cycles must be at least 1, got %d", c.Cycles))
	}
	if !contains(verbosities, c.Verbosity) {
		errs = append(errs, fmt.Errorf("verbosity must be one of %s, got %q", strings.Join(verbosities, "|"), c.Verbosity))
	}
	if c.LLM.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("llm.timeout must be positive, got %s", c.LLM.Timeout))
	}

	p := c.Pipeline
	if p.MaxQARetries < 1 {
		errs = append(errs, fmt.Errorf("pipeline.max_qa_retries must be at least 1, got %d", p.MaxQARetries))
	}
	if p.MaxTurns < 1 {
		errs = append(errs, fmt.Errorf("pipeline.max_turns must be at least 1, got %d", p.MaxTurns))
	}
	if p.GenerationAttempts < 1 {
		errs = append(errs, fmt.Errorf("pipeline.generation_attempts must be at least 1, got %d", p.GenerationAttempts))
	}
	if p.MinIdeas < 1 {
		errs = append(errs, fmt.Errorf("pipeline.min_ideas must be at least 1, got %d", p.MinIdeas))
	}
	if p.MinIdeas > p.MaxIdeas {
		errs = append(errs, fmt.Errorf("pipeline.min_ideas (%d) exceeds pipeline.max_ideas (%d)", p.MinIdeas, p.MaxIdeas))
	}
	for _, name := range p.SkipCodeTypes {
		if !schema.IdeaType(strings.ToUpper(strings.TrimSpace(name))).Valid() {
			errs = append(errs, fmt.Errorf("pipeline.skip_code_types: unknown idea type %q", name))
		}
	}

	if c.Patch.MaxOffset < 0 {
		errs = append(errs, fmt.Errorf("patch.max_offset must not be negative, got %d", c.Patch.MaxOffset))
	}
	if strings.TrimSpace(c.Tests.Command) == "" {
		errs = append(errs, errors.New("tests.command is required"))
	}
	if c.Tests.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("tests.timeout must be positive, got %s", c.Tests.Timeout))
	}
	if c.Snapshot.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("snapshot.max_tokens must be positive, got %d", c.Snapshot.MaxTokens))
	}
	if c.Git.Enabled && (c.Git.AuthorName == "" || c.Git.AuthorEmail == "") {
		errs = append(errs, errors.New("git.author_name and git.author_email are required when git is enabled"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}

	return errors.Join(errs...)
}

// SkipTypes returns the configured skip_code_types as idea types.
func (c *Config) SkipTypes() []schema.IdeaType {
	return schema.ParseIdeaTypes(c.Pipeline.SkipCodeTypes)
}

// String renders the effective configuration for logs with the API key
// redacted.
func (c *Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "path=%s cycles=%d verbosity=%s prompts=%q\n", c.Path, c.Cycles, c.Verbosity, c.Prompts)
	fmt.Fprintf(&b, "llm: model=%s base_url=%q api_key=%q timeout=%s\n",
		c.LLM.Model, c.LLM.BaseURL, logging.Redact(c.LLM.APIKey), c.LLM.Timeout)
	fmt.Fprintf(&b, "pipeline: max_qa_retries=%d max_turns=%d generation_attempts=%d ideas=%d..%d skip_code_types=%v\n",
		c.Pipeline.MaxQARetries, c.Pipeline.MaxTurns, c.Pipeline.GenerationAttempts,
		c.Pipeline.MinIdeas, c.Pipeline.MaxIdeas, c.Pipeline.SkipCodeTypes)
	fmt.Fprintf(&b, "tests: command=%q timeout=%s no_tests_exit_code=%d\n",
		c.Tests.Command, c.Tests.Timeout, c.Tests.NoTestsExitCode)
	fmt.Fprintf(&b, "snapshot: include=%v max_tokens=%d\n", c.Snapshot.Include, c.Snapshot.MaxTokens)
	fmt.Fprintf(&b, "constraints: allowed=%v denied=%v\n", c.Constraints.AllowedPatterns, c.Constraints.DeniedPatterns)
	fmt.Fprintf(&b, "git: enabled=%t auto_commit_dirty=%t author=%s <%s>\n",
		c.Git.Enabled, c.Git.AutoCommitDirty, c.Git.AuthorName, c.Git.AuthorEmail)
	fmt.Fprintf(&b, "artifacts: output_dir=%s log: file=%q level=%s", c.Artifacts.OutputDir, c.Log.File, c.Log.Level)
	return b.String()
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
