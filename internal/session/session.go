package session

import (
	"sync"
	"time"

	"github.com/remote-agent-terminal/httpterm/internal/buffer"
	"github.com/remote-agent-terminal/httpterm/internal/model"
	"github.com/remote-agent-terminal/httpterm/internal/pty"
	"github.com/remote-agent-terminal/httpterm/internal/recorder"
)

type state int

const (
	stateActive state = iota
	stateClosing
	stateClosed
)

// Session is one registered terminal: a PTY primary, the multiplexer client
// running on its secondary side, and the per-session output history.
//
// Every operation on a session runs under its mutex, taken through
// Manager.Use. Accessors other than ID, InstanceID and CreatedAt are only
// valid inside Use.
type Session struct {
	ID         string
	InstanceID string
	CreatedAt  time.Time

	mu         sync.Mutex
	state      state
	retired    bool
	term       *pty.Terminal
	rows, cols int
	scrollback *buffer.RingBuffer
	rec        *recorder.Recorder

	teardown sync.Once
}

// Info is a point-in-time view of an active session.
type Info struct {
	ID         string    `json:"id"`
	InstanceID string    `json:"instanceId"`
	Rows       int       `json:"rows"`
	Cols       int       `json:"cols"`
	PID        int       `json:"pid"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Terminal returns the session's PTY.
func (s *Session) Terminal() *pty.Terminal {
	return s.term
}

// Recorder returns the session recording, nil when recording is disabled.
func (s *Session) Recorder() *recorder.Recorder {
	return s.rec
}

// Scrollback returns the buffer of recently drained output.
func (s *Session) Scrollback() *buffer.RingBuffer {
	return s.scrollback
}

// Retire marks the session as closing so no further operation is accepted.
// The caller must hand the session to Manager.Release once Use returns.
func (s *Session) Retire() {
	s.state = stateClosing
	s.retired = true
}

func (s *Session) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateActive
}

func (s *Session) info() (Info, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateActive {
		return Info{}, false
	}
	return Info{
		ID:         s.ID,
		InstanceID: s.InstanceID,
		Rows:       s.rows,
		Cols:       s.cols,
		PID:        s.term.PID(),
		CreatedAt:  s.CreatedAt,
	}, true
}

// closeStatus is the status persisted when the session is torn down.
func (s *Session) closeStatus(fallback model.SessionStatus) model.SessionStatus {
	if s.retired {
		return model.SessionStatusExited
	}
	return fallback
}
