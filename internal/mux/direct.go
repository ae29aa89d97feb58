package mux

import (
	"context"
	"errors"
	"os/exec"
)

// Direct runs a plain command on the PTY with no multiplexer behind it. The
// session does not survive its client process, and create/kill are no-ops.
type Direct struct {
	command []string
	term    string
}

// NewDirect creates a direct backend running command. An empty command runs /bin/sh.
func NewDirect(command []string, term string) (*Direct, error) {
	if len(command) == 0 {
		command = []string{"/bin/sh"}
	}
	if command[0] == "" {
		return nil, errors.New("direct multiplexer command is empty")
	}
	if term == "" {
		term = DefaultTerm
	}
	return &Direct{command: command, term: term}, nil
}

// Name returns "direct".
func (d *Direct) Name() string {
	return "direct"
}

// NewSession is a no-op.
func (d *Direct) NewSession(ctx context.Context, id string) error {
	return nil
}

// AttachCommand returns a fresh instance of the configured command.
func (d *Direct) AttachCommand(id string) *exec.Cmd {
	cmd := exec.Command(d.command[0], d.command[1:]...)
	cmd.Env = environ(d.term)
	return cmd
}

// KillSession is a no-op.
func (d *Direct) KillSession(ctx context.Context, id string) error {
	return nil
}
