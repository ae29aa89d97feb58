// Package session owns the table of live terminal sessions and the lifecycle
// of the OS resources behind each one.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/remote-agent-terminal/httpterm/internal/buffer"
	"github.com/remote-agent-terminal/httpterm/internal/metrics"
	"github.com/remote-agent-terminal/httpterm/internal/model"
	"github.com/remote-agent-terminal/httpterm/internal/mux"
	"github.com/remote-agent-terminal/httpterm/internal/pty"
	"github.com/remote-agent-terminal/httpterm/internal/recorder"
)

const (
	DefaultScrollbackBytes  = 64 * 1024
	DefaultTerminateTimeout = time.Second
	DefaultCommandTimeout   = 5 * time.Second
)

// Store persists the lifecycle of each session instance.
type Store interface {
	Create(ctx context.Context, rec *model.SessionRecord) error
	UpdateSize(ctx context.Context, instanceID string, rows, cols int) error
	Close(ctx context.Context, instanceID string, status model.SessionStatus, exitCode *int) error
}

// Options configures a Manager.
type Options struct {
	// Mux creates the backing process of each session. Required.
	Mux mux.Multiplexer

	// Store records session history. Optional.
	Store Store

	// Metrics is optional.
	Metrics *metrics.Metrics

	// Logger defaults to a no-op logger.
	Logger *zap.Logger

	// RecordDir enables asciicast recording into the directory when set.
	RecordDir string

	ScrollbackBytes  int
	TerminateTimeout time.Duration
	CommandTimeout   time.Duration
}

// Manager manages terminal sessions.
//
// The table lock is never held while a session lock is acquired.
type Manager struct {
	opts    Options
	log     *zap.Logger
	creates singleflight.Group

	mu       sync.RWMutex
	sessions map[string]*Session
	closing  bool
}

// NewManager creates a session manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Mux == nil {
		return nil, errors.New("multiplexer is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ScrollbackBytes <= 0 {
		opts.ScrollbackBytes = DefaultScrollbackBytes
	}
	if opts.TerminateTimeout <= 0 {
		opts.TerminateTimeout = DefaultTerminateTimeout
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}

	return &Manager{
		opts:     opts,
		log:      opts.Logger,
		sessions: make(map[string]*Session),
	}, nil
}

// Create registers a session under id, attached to a multiplexer session of
// the same name. If a live session already exists for id it is returned
// unchanged. Concurrent creates of one id share a single attempt.
func (m *Manager) Create(ctx context.Context, id string, rows, cols int) (*Session, error) {
	if err := model.ValidateSessionID(id); err != nil {
		return nil, err
	}
	if err := model.ValidateSize(rows, cols); err != nil {
		return nil, err
	}

	v, err, _ := m.creates.Do(id, func() (interface{}, error) {
		return m.create(ctx, id, rows, cols)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (m *Manager) create(ctx context.Context, id string, rows, cols int) (*Session, error) {
	if m.isClosing() {
		return nil, model.ErrShuttingDown
	}

	if s := m.lookup(id); s != nil {
		if s.active() {
			return s, nil
		}
		// Retired by a poll that has not released it yet. Finish the
		// teardown before the multiplexer session name is reused.
		m.Release(ctx, s)
	}

	log := m.log.With(zap.String("session_id", id))

	if err := m.runMux(ctx, m.opts.Mux.NewSession, id); err != nil {
		log.Warn("Multiplexer new-session failed", zap.Error(err))
	}

	term, err := pty.Start(pty.StartOptions{
		Cmd:  m.opts.Mux.AttachCommand(id),
		Size: pty.Size{Rows: uint16(rows), Cols: uint16(cols)},
	})
	if err != nil {
		if kerr := m.runMux(ctx, m.opts.Mux.KillSession, id); kerr != nil {
			log.Warn("Multiplexer kill-session failed", zap.Error(kerr))
		}
		m.opts.Metrics.SessionFailed()
		log.Error("Failed to start terminal", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", model.ErrResource, err)
	}

	s := &Session{
		ID:         id,
		InstanceID: uuid.NewString(),
		CreatedAt:  time.Now(),
		term:       term,
		rows:       rows,
		cols:       cols,
		scrollback: buffer.NewRingBuffer(m.opts.ScrollbackBytes),
	}

	if m.opts.RecordDir != "" {
		rec, err := recorder.Create(m.opts.RecordDir, id, s.InstanceID, cols, rows)
		if err != nil {
			log.Warn("Recording disabled for session", zap.Error(err))
		} else {
			s.rec = rec
		}
	}

	m.persist(ctx, s)
	m.opts.Metrics.SessionCreated()

	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		m.teardown(ctx, s, model.SessionStatusShutdown)
		return nil, model.ErrShuttingDown
	}
	m.sessions[id] = s
	m.mu.Unlock()

	log.Info("Session created",
		zap.String("instance_id", s.InstanceID),
		zap.String("multiplexer", m.opts.Mux.Name()),
		zap.Int("pid", term.PID()),
		zap.Int("rows", rows),
		zap.Int("cols", cols),
	)
	return s, nil
}

// Resolve returns the active session registered under id.
func (m *Manager) Resolve(id string) (*Session, error) {
	s := m.lookup(id)
	if s == nil || !s.active() {
		return nil, notFound(id)
	}
	return s, nil
}

// Use runs fn under the session lock of the active session registered
// under id.
func (m *Manager) Use(id string, fn func(s *Session) error) error {
	s := m.lookup(id)
	if s == nil {
		return notFound(id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateActive {
		return notFound(id)
	}
	return fn(s)
}

// Resize applies a new window size to the session's PTY and notifies the
// backing process group. A failed notification is logged, not returned.
func (m *Manager) Resize(ctx context.Context, id string, rows, cols int) error {
	if err := model.ValidateSize(rows, cols); err != nil {
		return err
	}

	var instanceID string
	err := m.Use(id, func(s *Session) error {
		if err := s.term.Resize(pty.Size{Rows: uint16(rows), Cols: uint16(cols)}); err != nil {
			return fmt.Errorf("%w: resize: %v", model.ErrIO, err)
		}
		s.rows, s.cols = rows, cols
		instanceID = s.InstanceID

		if err := s.term.NotifyResize(); err != nil {
			m.log.Warn("Failed to signal window size change",
				zap.String("session_id", id), zap.Error(err))
		}
		if err := s.rec.Resize(cols, rows); err != nil {
			m.log.Warn("Failed to record resize", zap.String("session_id", id), zap.Error(err))
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.opts.Metrics.Resized()
	if m.opts.Store != nil {
		if err := m.opts.Store.UpdateSize(ctx, instanceID, rows, cols); err != nil {
			m.log.Warn("Failed to persist session size", zap.String("session_id", id), zap.Error(err))
		}
	}
	return nil
}

// Size reads the window size currently reported by the session's PTY.
func (m *Manager) Size(id string) (rows, cols int, err error) {
	err = m.Use(id, func(s *Session) error {
		size, err := s.term.Size()
		if err != nil {
			return fmt.Errorf("%w: size: %v", model.ErrIO, err)
		}
		rows, cols = int(size.Rows), int(size.Cols)
		return nil
	})
	return rows, cols, err
}

// PollExited reports, without blocking, whether the backing process of the
// session has terminated.
func (m *Manager) PollExited(id string) (bool, error) {
	var exited bool
	err := m.Use(id, func(s *Session) error {
		exited = s.term.Exited()
		return nil
	})
	return exited, err
}

// Destroy unregisters id and releases everything behind it. Unknown ids are
// ignored.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	if s := m.lookup(id); s != nil {
		m.Release(ctx, s)
	}
	return nil
}

// Release tears down s. The table entry is removed only if it still refers
// to s. Release is safe to call more than once.
func (m *Manager) Release(ctx context.Context, s *Session) {
	m.mu.Lock()
	if cur, ok := m.sessions[s.ID]; ok && cur == s {
		delete(m.sessions, s.ID)
	}
	m.mu.Unlock()

	m.teardown(ctx, s, model.SessionStatusDestroyed)
}

// List returns the active sessions ordered by id.
func (m *Manager) List() []Info {
	m.mu.RLock()
	snapshot := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		snapshot = append(snapshot, s)
	}
	m.mu.RUnlock()

	infos := make([]Info, 0, len(snapshot))
	for _, s := range snapshot {
		if info, ok := s.info(); ok {
			infos = append(infos, info)
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Len returns the number of registered sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close stops accepting sessions and tears down every registered one. It
// returns ctx.Err() if ctx ends before teardown completes.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	snapshot := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		snapshot = append(snapshot, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if len(snapshot) > 0 {
		m.log.Info("Closing sessions", zap.Int("count", len(snapshot)))
	}

	var wg sync.WaitGroup
	for _, s := range snapshot {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			m.teardown(ctx, s, model.SessionStatusShutdown)
		}(s)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// teardown stops the backing process, kills the multiplexer session and
// closes the PTY. Only the first call for a session has any effect; later
// callers wait for it to finish.
func (m *Manager) teardown(ctx context.Context, s *Session, status model.SessionStatus) {
	s.teardown.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		status = s.closeStatus(status)
		s.state = stateClosed
		log := m.log.With(zap.String("session_id", s.ID), zap.String("instance_id", s.InstanceID))

		if !s.term.Terminate(m.opts.TerminateTimeout) {
			log.Warn("Backing process did not exit", zap.Int("pid", s.term.PID()))
		}
		if err := m.runMux(ctx, m.opts.Mux.KillSession, s.ID); err != nil {
			log.Warn("Multiplexer kill-session failed", zap.Error(err))
		}
		if err := s.term.Close(); err != nil {
			log.Warn("Failed to close terminal", zap.Error(err))
		}
		if err := s.rec.Close(); err != nil {
			log.Warn("Failed to close recording", zap.Error(err))
		}

		var exitCode *int
		if st, ok := s.term.ExitStatus(); ok {
			code := st.Code
			exitCode = &code
		}
		if m.opts.Store != nil {
			if err := m.opts.Store.Close(context.WithoutCancel(ctx), s.InstanceID, status, exitCode); err != nil {
				log.Warn("Failed to persist session close", zap.Error(err))
			}
		}

		m.opts.Metrics.SessionClosed(closeReason(status))
		log.Info("Session closed", zap.String("status", string(status)))
	})
}

func (m *Manager) persist(ctx context.Context, s *Session) {
	if m.opts.Store == nil {
		return
	}
	pid := s.term.PID()
	now := time.Now()
	rec := &model.SessionRecord{
		InstanceID:  s.InstanceID,
		SessionID:   s.ID,
		Multiplexer: m.opts.Mux.Name(),
		PID:         &pid,
		Rows:        s.rows,
		Cols:        s.cols,
		Status:      model.SessionStatusActive,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   now,
	}
	if err := m.opts.Store.Create(ctx, rec); err != nil {
		m.log.Warn("Failed to persist session", zap.String("session_id", s.ID), zap.Error(err))
	}
}

// runMux runs a multiplexer command bounded by CommandTimeout. The caller's
// cancellation does not abort it.
func (m *Manager) runMux(ctx context.Context, fn func(context.Context, string) error, id string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.CommandTimeout)
	defer cancel()
	return fn(ctx, id)
}

func (m *Manager) lookup(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

func (m *Manager) isClosing() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closing
}

// closeReason maps a persisted close status to its metrics label.
func closeReason(status model.SessionStatus) string {
	switch status {
	case model.SessionStatusExited:
		return metrics.ReasonExited
	case model.SessionStatusShutdown:
		return metrics.ReasonShutdown
	default:
		return metrics.ReasonDestroyed
	}
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", model.ErrSessionNotFound, id)
}
