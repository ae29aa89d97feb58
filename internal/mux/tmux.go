package mux

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Tmux runs one headless tmux session per terminal session and attaches a
// tmux client to it.
type Tmux struct {
	binary string
	term   string
}

// NewTmux creates a tmux backend. Empty arguments select "tmux" and DefaultTerm.
func NewTmux(binary, term string) *Tmux {
	if binary == "" {
		binary = "tmux"
	}
	if term == "" {
		term = DefaultTerm
	}
	return &Tmux{binary: binary, term: term}
}

// Name returns "tmux".
func (t *Tmux) Name() string {
	return "tmux"
}

// NewSession runs `tmux new-session -d -s <id>`.
func (t *Tmux) NewSession(ctx context.Context, id string) error {
	return t.run(ctx, "new-session", "-d", "-s", id)
}

// AttachCommand returns `tmux attach-session -t <id>`.
func (t *Tmux) AttachCommand(id string) *exec.Cmd {
	cmd := exec.Command(t.binary, "attach-session", "-t", id)
	cmd.Env = environ(t.term)
	return cmd
}

// KillSession runs `tmux kill-session -t <id>`.
func (t *Tmux) KillSession(ctx context.Context, id string) error {
	return t.run(ctx, "kill-session", "-t", id)
}

func (t *Tmux) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, t.binary, args...)
	cmd.Env = environ(t.term)
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg != "" {
			return fmt.Errorf("%s %s: %w: %s", t.binary, args[0], err, msg)
		}
		return fmt.Errorf("%s %s: %w", t.binary, args[0], err)
	}
	return nil
}

// environ returns the current environment with TERM overridden.
func environ(term string) []string {
	env := os.Environ()
	out := make([]string, 0, len(env)+1)
	for _, kv := range env {
		if strings.HasPrefix(kv, "TERM=") {
			continue
		}
		out = append(out, kv)
	}
	return append(out, "TERM="+term)
}
