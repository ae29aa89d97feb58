// Package pty owns the OS resources behind one terminal session: the
// primary side of a pseudo-terminal pair and the backing process attached to
// its secondary side.
//
// A Terminal is opened with Start and released with Close. Every read is a
// non-blocking poll of the primary descriptor; the only goroutine a Terminal
// runs is the one waiting for its backing process to exit.
package pty

import (
	"os/exec"
	"time"
)

// DefaultReadChunk is the maximum number of bytes taken from the primary per read.
const DefaultReadChunk = 4096

// Size is a terminal window size in character cells.
type Size struct {
	Rows uint16
	Cols uint16
}

// StartOptions contains options for starting a backing process on a new PTY.
type StartOptions struct {
	// Cmd is the backing process. Its Stdin, Stdout, Stderr and SysProcAttr
	// are overwritten by Start.
	Cmd *exec.Cmd

	// Size is the initial window size applied before the process starts.
	Size Size
}

// ExitStatus describes how a backing process terminated.
type ExitStatus struct {
	// Code is the exit code, or -1 when the process was killed by a signal.
	Code int

	// Err is set when waiting on the process failed for a reason other than
	// a non-zero exit.
	Err error

	// At is when the exit was observed.
	At time.Time
}
