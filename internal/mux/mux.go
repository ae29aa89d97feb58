// Package mux launches the backing process of a terminal session.
//
// A Multiplexer names three external commands: one that creates a detached
// named session, one that attaches a client to it (this is the process run on
// the PTY), and one that tears the named session down. Create and kill are
// fire-and-forget: callers log their failures and carry on.
package mux

import (
	"context"
	"fmt"
	"os/exec"
)

// DefaultTerm is the TERM value exported to multiplexer commands.
const DefaultTerm = "xterm-256color"

// Multiplexer abstracts the terminal multiplexer backing each session.
type Multiplexer interface {
	// Name identifies the backend, e.g. "tmux".
	Name() string

	// NewSession creates a detached session named id.
	NewSession(ctx context.Context, id string) error

	// AttachCommand returns the client process to run on the session's PTY.
	AttachCommand(id string) *exec.Cmd

	// KillSession tears down the session named id.
	KillSession(ctx context.Context, id string) error
}

// New returns the multiplexer for the given backend name.
func New(name string, opts Options) (Multiplexer, error) {
	switch name {
	case "", "tmux":
		return NewTmux(opts.Binary, opts.Term), nil
	case "direct":
		return NewDirect(opts.Command, opts.Term)
	default:
		return nil, fmt.Errorf("unknown multiplexer %q", name)
	}
}

// Options configures the backend returned by New.
type Options struct {
	// Binary is the tmux executable.
	Binary string

	// Command is the program run by the direct backend.
	Command []string

	// Term is exported as TERM to every command.
	Term string
}
