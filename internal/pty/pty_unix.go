//go:build !windows

package pty

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// Terminal is an owned pseudo-terminal primary plus the process attached to
// its secondary side, running as the leader of its own session and process
// group. The caller is responsible for serializing Read and Write.
type Terminal struct {
	primary *os.File
	fd      int
	cmd     *exec.Cmd
	pid     int

	done   chan struct{}
	status ExitStatus

	mu     sync.Mutex
	closed bool
}

// Start allocates a PTY pair, applies the initial size, switches the line
// discipline to raw mode and launches opts.Cmd on the secondary side.
// On any failure every descriptor opened so far is closed.
func Start(opts StartOptions) (*Terminal, error) {
	if opts.Cmd == nil {
		return nil, errors.New("command is required")
	}

	primary, secondary, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open PTY: %w", err)
	}

	if err := pty.Setsize(primary, &pty.Winsize{Rows: opts.Size.Rows, Cols: opts.Size.Cols}); err != nil {
		primary.Close()
		secondary.Close()
		return nil, fmt.Errorf("failed to set window size: %w", err)
	}

	// Fd switches the file to blocking mode; all reads go through poll first.
	fd := int(primary.Fd())
	if _, err := term.MakeRaw(fd); err != nil {
		primary.Close()
		secondary.Close()
		return nil, fmt.Errorf("failed to set raw mode: %w", err)
	}

	cmd := opts.Cmd
	cmd.Stdin = secondary
	cmd.Stdout = secondary
	cmd.Stderr = secondary
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
	}

	if err := cmd.Start(); err != nil {
		primary.Close()
		secondary.Close()
		return nil, fmt.Errorf("failed to start process: %w", err)
	}

	// The child holds its own copy of the secondary side.
	secondary.Close()

	t := &Terminal{
		primary: primary,
		fd:      fd,
		cmd:     cmd,
		pid:     cmd.Process.Pid,
		done:    make(chan struct{}),
	}
	go t.wait()

	return t, nil
}

func (t *Terminal) wait() {
	err := t.cmd.Wait()
	status := ExitStatus{At: time.Now()}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		status.Code = exitErr.ExitCode()
	default:
		status.Code = -1
		status.Err = err
	}
	t.status = status
	close(t.done)
}

// PID returns the process id of the backing process.
func (t *Terminal) PID() int {
	return t.pid
}

// Exited reports, without blocking, whether the backing process has terminated.
func (t *Terminal) Exited() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed once the backing process has terminated.
func (t *Terminal) Done() <-chan struct{} {
	return t.done
}

// ExitStatus returns the exit status and true once the process has terminated.
func (t *Terminal) ExitStatus() (ExitStatus, bool) {
	if !t.Exited() {
		return ExitStatus{}, false
	}
	return t.status, true
}

// Readable polls the primary descriptor with a zero timeout. A hang-up or
// error condition counts as readable so the following Read can observe it.
func (t *Terminal) Readable() (bool, error) {
	if t.isClosed() {
		return false, os.ErrClosed
	}
	fds := []unix.PollFd{{Fd: int32(t.fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, 0)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("poll: %w", err)
		}
		return n > 0 && fds[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0, nil
	}
}

// Read reads whatever is buffered on the primary into p. It only blocks if
// called without a preceding successful Readable. Once every holder of the
// secondary side has gone away Linux reports EIO, which is returned as io.EOF.
func (t *Terminal) Read(p []byte) (int, error) {
	if t.isClosed() {
		return 0, os.ErrClosed
	}
	for {
		n, err := unix.Read(t.fd, p)
		switch err {
		case nil:
			if n == 0 {
				return 0, io.EOF
			}
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, nil
		case unix.EIO:
			return 0, io.EOF
		default:
			return 0, fmt.Errorf("read: %w", err)
		}
	}
}

// Write writes all of p to the primary, retrying short writes.
func (t *Terminal) Write(p []byte) (int, error) {
	if t.isClosed() {
		return 0, os.ErrClosed
	}
	written := 0
	for written < len(p) {
		n, err := unix.Write(t.fd, p[written:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return written, fmt.Errorf("write: %w", err)
		}
		if n == 0 {
			return written, io.ErrShortWrite
		}
		written += n
	}
	return written, nil
}

// Resize sets the window size reported by the PTY.
func (t *Terminal) Resize(size Size) error {
	if t.isClosed() {
		return os.ErrClosed
	}
	return pty.Setsize(t.primary, &pty.Winsize{Rows: size.Rows, Cols: size.Cols})
}

// Size reads the window size currently reported by the PTY.
func (t *Terminal) Size() (Size, error) {
	if t.isClosed() {
		return Size{}, os.ErrClosed
	}
	rows, cols, err := pty.Getsize(t.primary)
	if err != nil {
		return Size{}, err
	}
	return Size{Rows: uint16(rows), Cols: uint16(cols)}, nil
}

// NotifyResize delivers SIGWINCH to the backing process group.
func (t *Terminal) NotifyResize() error {
	pgid, err := unix.Getpgid(t.pid)
	if err != nil {
		return fmt.Errorf("getpgid %d: %w", t.pid, err)
	}
	if err := unix.Kill(-pgid, unix.SIGWINCH); err != nil {
		return fmt.Errorf("signal process group %d: %w", pgid, err)
	}
	return nil
}

// Terminate asks the backing process to exit with SIGTERM and waits up to
// grace for it. A process still alive after grace is killed and given a
// further grace period to be reaped. It returns true if the exit was observed.
func (t *Terminal) Terminate(grace time.Duration) bool {
	if t.Exited() {
		return true
	}
	if err := t.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		t.cmd.Process.Kill()
	}
	if t.waitFor(grace) {
		return true
	}
	t.cmd.Process.Kill()
	return t.waitFor(grace)
}

func (t *Terminal) waitFor(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-t.done:
		return true
	case <-timer.C:
		return false
	}
}

// Close releases the primary descriptor. It does not stop the backing
// process; call Terminate first. Close is idempotent.
func (t *Terminal) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.primary.Close()
}

func (t *Terminal) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
