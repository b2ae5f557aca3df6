// Package bootstrap prepares an agent's workspace before a fresh provider
// session opens (spec §4.5 step 4): ensuring the per-agent internal_space
// directory and MEMORY.md exist, and rendering an optional instruction
// template into the agent's workspace. Implements executor.Bootstrapper.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hiboss/hiboss/internal/model"
)

const (
	memoryFile      = "MEMORY.md"
	instructionFile = "AGENTS.md"
)

var defaultMemory = []byte("# Memory\n\nNothing recorded yet.\n")

// TemplateFrontMatter is the optional YAML header a per-agent instruction
// template may carry, ahead of a "---" delimiter, before its body text.
type TemplateFrontMatter struct {
	Model           string `yaml:"model"`
	ReasoningEffort string `yaml:"reasoningEffort"`
}

// Bootstrapper prepares agent workspaces rooted under <root>/agents/<name>.
type Bootstrapper struct {
	root string
}

// New constructs a Bootstrapper. root is the hiboss data directory
// ($HIBOSS_DIR), matching the layout in spec §6.
func New(root string) *Bootstrapper {
	return &Bootstrapper{root: root}
}

// Prepare implements executor.Bootstrapper. It never errors on a missing
// optional template — only on filesystem failures preparing directories
// that must exist.
func (b *Bootstrapper) Prepare(ctx context.Context, agent model.Agent) error {
	internalSpace := b.internalSpaceDir(agent.Name)
	if err := os.MkdirAll(internalSpace, 0o755); err != nil {
		return fmt.Errorf("bootstrap: create internal_space for %s: %w", agent.Name, err)
	}
	if err := ensureMemoryFile(internalSpace); err != nil {
		return fmt.Errorf("bootstrap: ensure MEMORY.md for %s: %w", agent.Name, err)
	}

	if agent.Workspace == "" {
		return nil
	}
	if err := os.MkdirAll(agent.Workspace, 0o755); err != nil {
		return fmt.Errorf("bootstrap: create workspace for %s: %w", agent.Name, err)
	}
	return b.renderInstructions(agent)
}

func (b *Bootstrapper) internalSpaceDir(agentName string) string {
	return filepath.Join(b.root, "agents", agentName, "internal_space")
}

func ensureMemoryFile(internalSpace string) error {
	path := filepath.Join(internalSpace, memoryFile)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	return os.WriteFile(path, defaultMemory, 0o644)
}

// renderInstructions looks for <root>/agents/<name>/AGENTS.md.tmpl; a
// missing template is a no-op. A present template may carry a YAML front
// matter block (--- ... ---) that is parsed but not copied into the
// rendered file; only the body is written to <workspace>/AGENTS.md.
func (b *Bootstrapper) renderInstructions(agent model.Agent) error {
	templatePath := filepath.Join(b.root, "agents", agent.Name, instructionFile+".tmpl")
	raw, err := os.ReadFile(templatePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read instruction template: %w", err)
	}

	_, body := splitFrontMatter(raw)
	dest := filepath.Join(agent.Workspace, instructionFile)
	if err := os.WriteFile(dest, []byte(body), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", dest, err)
	}
	return nil
}

// splitFrontMatter parses an optional leading "---\n<yaml>\n---\n" block.
// A parse failure is treated as "no front matter" — the whole file becomes
// the body, never a hard error for a malformed template.
func splitFrontMatter(raw []byte) (TemplateFrontMatter, string) {
	const delim = "---\n"
	text := string(raw)
	if !strings.HasPrefix(text, delim) {
		return TemplateFrontMatter{}, text
	}
	rest := text[len(delim):]
	end := strings.Index(rest, "\n"+delim)
	if end < 0 {
		return TemplateFrontMatter{}, text
	}
	var fm TemplateFrontMatter
	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return TemplateFrontMatter{}, text
	}
	return fm, strings.TrimPrefix(rest[end+1:], delim)
}
