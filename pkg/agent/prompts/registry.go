package prompts

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/entrhq/evocode/pkg/types"
)

//go:embed prompts.yaml
var defaultPromptsYAML []byte

// RolePrompt is the prompt contract of one agent role.
type RolePrompt struct {
	SystemPrompt       string `yaml:"system_prompt"`
	UserPromptTemplate string `yaml:"user_prompt_template,omitempty"`

	tmpl *template.Template
}

// TemplateData is the data passed to a user_prompt_template.
type TemplateData struct {
	Context string
}

// Registry holds the role prompts loaded from a prompts file. It is
// immutable once loaded and safe for concurrent use.
type Registry struct {
	source string
	roles  map[types.AgentRole]*RolePrompt
}

// DefaultRegistry returns the registry built from the embedded prompts.yaml.
func DefaultRegistry() (*Registry, error) {
	return Parse("embedded prompts.yaml", defaultPromptsYAML)
}

// DefaultPromptsYAML returns a copy of the embedded prompts file.
func DefaultPromptsYAML() []byte {
	return bytes.Clone(defaultPromptsYAML)
}

// LoadRegistry reads and validates the prompts file at path. An empty path
// selects the embedded defaults.
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return DefaultRegistry()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}
	return Parse(path, data)
}

// Parse decodes a prompts file. Every role must have a non-empty
// system_prompt and any user_prompt_template must parse.
func Parse(source string, data []byte) (*Registry, error) {
	var raw map[string]*RolePrompt
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", source, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%s: no roles defined", source)
	}

	r := &Registry{source: source, roles: make(map[types.AgentRole]*RolePrompt, len(raw))}
	for name, rp := range raw {
		if rp == nil || strings.TrimSpace(rp.SystemPrompt) == "" {
			return nil, fmt.Errorf("%s: role %q is missing system_prompt", source, name)
		}
		if rp.UserPromptTemplate != "" {
			tmpl, err := template.New(name).Option("missingkey=error").Parse(rp.UserPromptTemplate)
			if err != nil {
				return nil, fmt.Errorf("%s: role %q has an invalid user_prompt_template: %w", source, name, err)
			}
			rp.tmpl = tmpl
		}
		r.roles[types.AgentRole(name)] = rp
	}

	var missing []string
	for _, role := range types.AgentRoles {
		if _, ok := r.roles[role]; !ok {
			missing = append(missing, string(role))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%s: missing roles: %s", source, strings.Join(missing, ", "))
	}

	return r, nil
}

// Source describes where the prompts were loaded from.
func (r *Registry) Source() string {
	return r.source
}

// SystemPrompt returns the system prompt of role.
func (r *Registry) SystemPrompt(role types.AgentRole) (string, error) {
	rp, ok := r.roles[role]
	if !ok {
		return "", fmt.Errorf("no prompt configured for role %q", role)
	}
	return rp.SystemPrompt, nil
}

// UserMessage renders role's user_prompt_template over context. Roles
// without a template get context unchanged.
func (r *Registry) UserMessage(role types.AgentRole, context string) (string, error) {
	rp, ok := r.roles[role]
	if !ok {
		return "", fmt.Errorf("no prompt configured for role %q", role)
	}
	if rp.tmpl == nil {
		return context, nil
	}

	var buf bytes.Buffer
	if err := rp.tmpl.Execute(&buf, TemplateData{Context: context}); err != nil {
		return "", fmt.Errorf("failed to render prompt for %s: %w", role, err)
	}
	return buf.String(), nil
}
