package coding

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Constraints limit which workspace files the write tools may modify.
// Patterns are gobwas globs over slash-separated workspace-relative paths,
// with ** matching across directories. A nil *Constraints allows everything.
type Constraints struct {
	allowed    []glob.Glob
	denied     []glob.Glob
	allowedRaw []string
	deniedRaw  []string
}

// NewConstraints compiles the allowed and denied patterns. With no allowed
// patterns every path not denied is writable. Returns nil, nil when both
// lists are empty.
func NewConstraints(allowed, denied []string) (*Constraints, error) {
	if len(allowed) == 0 && len(denied) == 0 {
		return nil, nil
	}

	c := &Constraints{}
	for _, p := range allowed {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid allowed pattern %q: %w", p, err)
		}
		c.allowed = append(c.allowed, g)
		c.allowedRaw = append(c.allowedRaw, p)
	}
	for _, p := range denied {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid denied pattern %q: %w", p, err)
		}
		c.denied = append(c.denied, g)
		c.deniedRaw = append(c.deniedRaw, p)
	}
	return c, nil
}

// CheckWrite returns an error if relPath may not be written.
func (c *Constraints) CheckWrite(relPath string) error {
	if c == nil {
		return nil
	}
	for i, g := range c.denied {
		if g.Match(relPath) {
			return fmt.Errorf("writing '%s' is not allowed (matches denied pattern %q)", relPath, c.deniedRaw[i])
		}
	}
	if len(c.allowed) == 0 {
		return nil
	}
	for _, g := range c.allowed {
		if g.Match(relPath) {
			return nil
		}
	}
	return fmt.Errorf("writing '%s' is not allowed (allowed patterns: %s)", relPath, strings.Join(c.allowedRaw, ", "))
}

// Describe renders the constraints for the agent's prompt. Empty for nil.
func (c *Constraints) Describe() string {
	if c == nil {
		return ""
	}
	var b strings.Builder
	if len(c.allowedRaw) > 0 {
		b.WriteString("You may only write files matching: ")
		b.WriteString(strings.Join(c.allowedRaw, ", "))
		b.WriteString("\n")
	}
	if len(c.deniedRaw) > 0 {
		b.WriteString("You must not write files matching: ")
		b.WriteString(strings.Join(c.deniedRaw, ", "))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
