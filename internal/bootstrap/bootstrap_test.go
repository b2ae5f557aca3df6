package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hiboss/hiboss/internal/model"
)

func TestPrepareCreatesInternalSpaceAndMemoryFile(t *testing.T) {
	root := t.TempDir()
	b := New(root)

	agent := model.Agent{Name: "nex", Workspace: filepath.Join(root, "ws")}
	require.NoError(t, b.Prepare(context.Background(), agent))

	memPath := filepath.Join(root, "agents", "nex", "internal_space", "MEMORY.md")
	data, err := os.ReadFile(memPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "Nothing recorded yet")
}

func TestPrepareDoesNotOverwriteExistingMemoryFile(t *testing.T) {
	root := t.TempDir()
	b := New(root)
	agent := model.Agent{Name: "nex", Workspace: filepath.Join(root, "ws")}

	internalSpace := filepath.Join(root, "agents", "nex", "internal_space")
	require.NoError(t, os.MkdirAll(internalSpace, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(internalSpace, "MEMORY.md"), []byte("custom memory"), 0o644))

	require.NoError(t, b.Prepare(context.Background(), agent))

	data, err := os.ReadFile(filepath.Join(internalSpace, "MEMORY.md"))
	require.NoError(t, err)
	require.Equal(t, "custom memory", string(data))
}

func TestPrepareWithNoTemplateIsNoop(t *testing.T) {
	root := t.TempDir()
	b := New(root)
	agent := model.Agent{Name: "nex", Workspace: filepath.Join(root, "ws")}

	require.NoError(t, b.Prepare(context.Background(), agent))

	_, err := os.Stat(filepath.Join(agent.Workspace, "AGENTS.md"))
	require.True(t, os.IsNotExist(err))
}

func TestPrepareRendersTemplateStrippingFrontMatter(t *testing.T) {
	root := t.TempDir()
	b := New(root)
	agent := model.Agent{Name: "nex", Workspace: filepath.Join(root, "ws")}

	tmplDir := filepath.Join(root, "agents", "nex")
	require.NoError(t, os.MkdirAll(tmplDir, 0o755))
	tmpl := "---\nmodel: opus\n---\nYou are nex, a helpful agent.\n"
	require.NoError(t, os.WriteFile(filepath.Join(tmplDir, "AGENTS.md.tmpl"), []byte(tmpl), 0o644))

	require.NoError(t, b.Prepare(context.Background(), agent))

	data, err := os.ReadFile(filepath.Join(agent.Workspace, "AGENTS.md"))
	require.NoError(t, err)
	require.Equal(t, "You are nex, a helpful agent.\n", string(data))
}

func TestPrepareSkipsWorkspaceStepsWhenWorkspaceEmpty(t *testing.T) {
	root := t.TempDir()
	b := New(root)
	require.NoError(t, b.Prepare(context.Background(), model.Agent{Name: "nex"}))
}
