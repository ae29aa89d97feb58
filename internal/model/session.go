package model

import (
	"regexp"
	"time"
)

// SessionStatus is the lifecycle status of a persisted session instance.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusExited    SessionStatus = "exited"
	SessionStatusDestroyed SessionStatus = "destroyed"
	SessionStatusShutdown  SessionStatus = "shutdown"
	SessionStatusAbandoned SessionStatus = "abandoned"
)

// DefaultRows and DefaultCols are the dimensions of a freshly created terminal.
const (
	DefaultRows = 24
	DefaultCols = 80
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidateSessionID reports ErrInvalidSessionID for ids the multiplexer
// cannot name a session with.
func ValidateSessionID(id string) error {
	if !sessionIDPattern.MatchString(id) {
		return ErrInvalidSessionID
	}
	return nil
}

// ValidateSize reports ErrInvalidSize unless both dimensions fit a winsize.
func ValidateSize(rows, cols int) error {
	if rows <= 0 || cols <= 0 || rows > 0xFFFF || cols > 0xFFFF {
		return ErrInvalidSize
	}
	return nil
}

// SessionRecord is the persisted history of one session instance. A session id
// that is closed and later re-created gets a new InstanceID.
type SessionRecord struct {
	InstanceID  string        `json:"instanceId"`
	SessionID   string        `json:"sessionId"`
	Multiplexer string        `json:"multiplexer"`
	PID         *int          `json:"pid,omitempty"`
	Rows        int           `json:"rows"`
	Cols        int           `json:"cols"`
	Status      SessionStatus `json:"status"`
	ExitCode    *int          `json:"exitCode,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
	ClosedAt    *time.Time    `json:"closedAt,omitempty"`
}

// Duration returns how long the instance lived, or has lived so far.
func (r *SessionRecord) Duration() time.Duration {
	if r.ClosedAt != nil {
		return r.ClosedAt.Sub(r.CreatedAt)
	}
	return time.Since(r.CreatedAt)
}
