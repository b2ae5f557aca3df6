package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/hiboss/hiboss/internal/kerrors"
	"github.com/hiboss/hiboss/internal/model"
)

// codexSession drives the Codex CLI. Unlike Claude Code's persistent
// stream-json stdin/stdout protocol, Codex's non-interactive `exec` mode
// runs one subprocess per turn and resumes context via `--session`, so
// there is no long-lived child to keep alive between Send calls.
type codexSession struct {
	mu        sync.Mutex
	cfg       Config
	sessionID string
	activeCmd *exec.Cmd
}

// NewCodex returns a Factory for Codex CLI sessions.
func NewCodex() Session { return &codexSession{} }

func (s *codexSession) OpenFresh(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.sessionID = ""
	return nil
}

func (s *codexSession) OpenResume(ctx context.Context, cfg Config, handle Handle, prompt string) (Result, error) {
	s.mu.Lock()
	s.cfg = cfg
	s.sessionID = string(handle)
	s.mu.Unlock()
	return s.Send(ctx, prompt)
}

type codexExecOutput struct {
	SessionID string `json:"session_id"`
	LastMessage string `json:"last_agent_message"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

func (s *codexSession) Send(ctx context.Context, prompt string) (Result, error) {
	s.mu.Lock()
	cfg := s.cfg
	resumeID := s.sessionID
	s.mu.Unlock()

	args := []string{"exec", "--json", "--skip-git-repo-check"}
	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}
	if resumeID != "" {
		args = append(args, "--session", resumeID)
	}
	if cfg.ExtraArgs != "" {
		extra, err := shellwords.Parse(cfg.ExtraArgs)
		if err != nil {
			return Result{}, kerrors.Newf(kerrors.Validation, "invalid extra CLI args for %s: %v", cfg.AgentName, err)
		}
		args = append(args, extra...)
	}
	args = append(args, prompt)

	cmd := exec.CommandContext(ctx, "codex", args...)
	cmd.Dir = cfg.Workspace
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	s.mu.Lock()
	s.activeCmd = cmd
	s.mu.Unlock()

	err := cmd.Run()

	s.mu.Lock()
	s.activeCmd = nil
	s.mu.Unlock()

	if err != nil {
		return Result{}, kerrors.Newf(kerrors.Internal, "codex exec for %s: %v: %s", cfg.AgentName, err, strings.TrimSpace(stderr.String()))
	}

	var out codexExecOutput
	if jerr := lastJSONLine(stdout.Bytes(), &out); jerr != nil {
		return Result{}, kerrors.New(kerrors.Internal, "parse codex output").Wrap(jerr)
	}

	s.mu.Lock()
	if out.SessionID != "" {
		s.sessionID = out.SessionID
	}
	s.mu.Unlock()

	return Result{
		FinalResponse: out.LastMessage,
		Usage: model.Usage{
			Input:  out.Usage.InputTokens,
			Output: out.Usage.OutputTokens,
			Total:  out.Usage.TotalTokens,
		},
	}, nil
}

// lastJSONLine unmarshals the final non-empty NDJSON line of buf into v —
// Codex exec --json emits one JSON object per event, with the turn summary
// as the last line.
func lastJSONLine(buf []byte, v any) error {
	lines := strings.Split(strings.TrimSpace(string(buf)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		return json.Unmarshal([]byte(line), v)
	}
	return kerrors.New(kerrors.Internal, "codex produced no output")
}

func (s *codexSession) HandleForResume() Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Handle(s.sessionID)
}

func (s *codexSession) Cancel() {
	s.mu.Lock()
	cmd := s.activeCmd
	s.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}
}

func (s *codexSession) Close() error {
	s.Cancel()
	return nil
}
