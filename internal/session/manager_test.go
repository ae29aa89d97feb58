package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/remote-agent-terminal/httpterm/internal/db"
	"github.com/remote-agent-terminal/httpterm/internal/metrics"
	"github.com/remote-agent-terminal/httpterm/internal/model"
	"github.com/remote-agent-terminal/httpterm/internal/mux"
	"github.com/remote-agent-terminal/httpterm/internal/repository"
)

func setupTestManager(t *testing.T, opts Options, command ...string) *Manager {
	t.Helper()
	if len(command) == 0 {
		command = []string{"/bin/sh", "-c", "sleep 30"}
	}
	backend, err := mux.NewDirect(command, "")
	if err != nil {
		t.Fatalf("Failed to create backend: %v", err)
	}
	opts.Mux = backend
	opts.TerminateTimeout = 500 * time.Millisecond

	manager, err := NewManager(opts)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	t.Cleanup(func() {
		manager.Close(context.Background())
	})
	return manager
}

func setupTestRepo(t *testing.T) *repository.SessionRepository {
	t.Helper()
	database, err := db.NewTestDB()
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return repository.NewSessionRepository(database)
}

func TestNewManagerRequiresMux(t *testing.T) {
	if _, err := NewManager(Options{}); err == nil {
		t.Error("Expected error without multiplexer")
	}
}

func TestManager_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("create is idempotent", func(t *testing.T) {
		manager := setupTestManager(t, Options{})

		first, err := manager.Create(ctx, "x", 24, 80)
		if err != nil {
			t.Fatalf("Failed to create session: %v", err)
		}
		second, err := manager.Create(ctx, "x", 24, 80)
		if err != nil {
			t.Fatalf("Failed to create session again: %v", err)
		}

		if first != second {
			t.Error("Expected the same session for a repeated create")
		}
		if manager.Len() != 1 {
			t.Errorf("Expected 1 session, got %d", manager.Len())
		}
	})

	t.Run("concurrent creates share one process", func(t *testing.T) {
		manager := setupTestManager(t, Options{})

		const n = 8
		results := make([]*Session, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				s, err := manager.Create(ctx, "shared", 24, 80)
				if err != nil {
					t.Errorf("Create failed: %v", err)
					return
				}
				results[i] = s
			}(i)
		}
		wg.Wait()

		for i := 1; i < n; i++ {
			if results[i] != results[0] {
				t.Fatal("Expected every caller to get the same session")
			}
		}
		if manager.Len() != 1 {
			t.Errorf("Expected 1 session, got %d", manager.Len())
		}
	})

	t.Run("invalid input", func(t *testing.T) {
		manager := setupTestManager(t, Options{})

		tests := []struct {
			name       string
			id         string
			rows, cols int
			want       error
		}{
			{"empty id", "", 24, 80, model.ErrInvalidSessionID},
			{"id with colon", "a:b", 24, 80, model.ErrInvalidSessionID},
			{"zero rows", "ok", 0, 80, model.ErrInvalidSize},
			{"zero cols", "ok", 24, 0, model.ErrInvalidSize},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := manager.Create(ctx, tt.id, tt.rows, tt.cols)
				if !errors.Is(err, tt.want) {
					t.Errorf("Expected %v, got %v", tt.want, err)
				}
			})
		}
		if manager.Len() != 0 {
			t.Errorf("Expected no sessions, got %d", manager.Len())
		}
	})

	t.Run("spawn failure leaves nothing behind", func(t *testing.T) {
		m := metrics.New()
		manager := setupTestManager(t, Options{Metrics: m}, "/nonexistent/binary")

		_, err := manager.Create(ctx, "broken", 24, 80)
		if !errors.Is(err, model.ErrResource) {
			t.Fatalf("Expected ErrResource, got %v", err)
		}
		if manager.Len() != 0 {
			t.Errorf("Expected no sessions, got %d", manager.Len())
		}
		if _, err := manager.Resolve("broken"); !errors.Is(err, model.ErrSessionNotFound) {
			t.Errorf("Expected ErrSessionNotFound, got %v", err)
		}
	})
}

func TestManager_Destroy(t *testing.T) {
	ctx := context.Background()
	manager := setupTestManager(t, Options{})

	s, err := manager.Create(ctx, "gone", 24, 80)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	if err := manager.Destroy(ctx, "gone"); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if _, err := manager.Resolve("gone"); !errors.Is(err, model.ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound after destroy, got %v", err)
	}
	if !s.Terminal().Exited() {
		t.Error("Expected backing process to be gone")
	}

	t.Run("unknown id is a no-op", func(t *testing.T) {
		if err := manager.Destroy(ctx, "never-created"); err != nil {
			t.Errorf("Expected nil, got %v", err)
		}
	})

	t.Run("destroy twice", func(t *testing.T) {
		if err := manager.Destroy(ctx, "gone"); err != nil {
			t.Errorf("Expected nil, got %v", err)
		}
	})
}

func TestManager_Resize(t *testing.T) {
	ctx := context.Background()
	manager := setupTestManager(t, Options{})

	if _, err := manager.Create(ctx, "r", 24, 80); err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	if err := manager.Resize(ctx, "r", 40, 100); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}
	rows, cols, err := manager.Size("r")
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if rows != 40 || cols != 100 {
		t.Errorf("Expected 40x100, got %dx%d", rows, cols)
	}

	if err := manager.Resize(ctx, "r", 0, 100); !errors.Is(err, model.ErrInvalidSize) {
		t.Errorf("Expected ErrInvalidSize, got %v", err)
	}
	if err := manager.Resize(ctx, "missing", 24, 80); !errors.Is(err, model.ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestManager_ResizeAfterExit(t *testing.T) {
	ctx := context.Background()
	manager := setupTestManager(t, Options{}, "/bin/sh", "-c", "exit 0")

	s, err := manager.Create(ctx, "short", 24, 80)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	select {
	case <-s.Terminal().Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Process did not exit")
	}

	exited, err := manager.PollExited("short")
	if err != nil {
		t.Fatalf("PollExited failed: %v", err)
	}
	if !exited {
		t.Error("Expected PollExited to report exit")
	}

	if err := manager.Resize(ctx, "short", 30, 90); err != nil {
		t.Fatalf("Resize after exit failed: %v", err)
	}
	rows, cols, err := manager.Size("short")
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if rows != 30 || cols != 90 {
		t.Errorf("Expected 30x90, got %dx%d", rows, cols)
	}
}

func TestManager_PollExitedRunning(t *testing.T) {
	manager := setupTestManager(t, Options{})

	if _, err := manager.Create(context.Background(), "alive", 24, 80); err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	exited, err := manager.PollExited("alive")
	if err != nil {
		t.Fatalf("PollExited failed: %v", err)
	}
	if exited {
		t.Error("Expected process to be running")
	}
}

func TestManager_RetireAndRecreate(t *testing.T) {
	ctx := context.Background()
	repo := setupTestRepo(t)
	manager := setupTestManager(t, Options{Store: repo})

	first, err := manager.Create(ctx, "again", 24, 80)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	if err := manager.Use("again", func(s *Session) error {
		s.Retire()
		return nil
	}); err != nil {
		t.Fatalf("Use failed: %v", err)
	}

	if _, err := manager.Resolve("again"); !errors.Is(err, model.ErrSessionNotFound) {
		t.Errorf("Expected retired session to be unresolvable, got %v", err)
	}
	if err := manager.Use("again", func(*Session) error { return nil }); !errors.Is(err, model.ErrSessionNotFound) {
		t.Errorf("Expected Use on retired session to fail, got %v", err)
	}

	second, err := manager.Create(ctx, "again", 24, 80)
	if err != nil {
		t.Fatalf("Failed to re-create session: %v", err)
	}
	if second == first || second.InstanceID == first.InstanceID {
		t.Error("Expected a new session instance")
	}
	if manager.Len() != 1 {
		t.Errorf("Expected 1 session, got %d", manager.Len())
	}

	// Releasing the stale session must not unregister its replacement.
	manager.Release(ctx, first)
	if _, err := manager.Resolve("again"); err != nil {
		t.Errorf("Expected replacement to stay registered, got %v", err)
	}

	rec, err := repo.GetByInstanceID(ctx, first.InstanceID)
	if err != nil {
		t.Fatalf("Failed to load history: %v", err)
	}
	if rec.Status != model.SessionStatusExited {
		t.Errorf("Expected status exited, got %s", rec.Status)
	}
	if rec.ClosedAt == nil {
		t.Error("Expected closed timestamp")
	}
}

func TestManager_History(t *testing.T) {
	ctx := context.Background()
	repo := setupTestRepo(t)
	manager := setupTestManager(t, Options{Store: repo})

	s, err := manager.Create(ctx, "hist", 24, 80)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	if err := manager.Resize(ctx, "hist", 30, 100); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}
	if err := manager.Destroy(ctx, "hist"); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}

	rec, err := repo.GetByInstanceID(ctx, s.InstanceID)
	if err != nil {
		t.Fatalf("Failed to load history: %v", err)
	}
	if rec.SessionID != "hist" || rec.Multiplexer != "direct" {
		t.Errorf("Unexpected record: %+v", rec)
	}
	if rec.Rows != 30 || rec.Cols != 100 {
		t.Errorf("Expected persisted size 30x100, got %dx%d", rec.Rows, rec.Cols)
	}
	if rec.Status != model.SessionStatusDestroyed {
		t.Errorf("Expected status destroyed, got %s", rec.Status)
	}
	if rec.PID == nil || *rec.PID != s.Terminal().PID() {
		t.Errorf("Expected pid %d, got %v", s.Terminal().PID(), rec.PID)
	}
}

func TestManager_Recording(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	manager := setupTestManager(t, Options{RecordDir: dir})

	s, err := manager.Create(ctx, "rec", 24, 80)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	if s.Recorder() == nil {
		t.Fatal("Expected recorder")
	}
	if err := manager.Destroy(ctx, "rec"); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}

	path := filepath.Join(dir, "rec-"+s.InstanceID+".cast")
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Expected recording at %s: %v", path, err)
	}
}

func TestManager_List(t *testing.T) {
	ctx := context.Background()
	manager := setupTestManager(t, Options{})

	for _, id := range []string{"b", "a", "c"} {
		if _, err := manager.Create(ctx, id, 24, 80); err != nil {
			t.Fatalf("Failed to create session %s: %v", id, err)
		}
	}
	if err := manager.Resize(ctx, "b", 10, 20); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}

	infos := manager.List()
	if len(infos) != 3 {
		t.Fatalf("Expected 3 sessions, got %d", len(infos))
	}
	for i, want := range []string{"a", "b", "c"} {
		if infos[i].ID != want {
			t.Errorf("Expected session %d to be %s, got %s", i, want, infos[i].ID)
		}
		if infos[i].PID == 0 {
			t.Errorf("Expected pid for %s", want)
		}
	}
	if infos[1].Rows != 10 || infos[1].Cols != 20 {
		t.Errorf("Expected b at 10x20, got %dx%d", infos[1].Rows, infos[1].Cols)
	}
}

func TestManager_Close(t *testing.T) {
	ctx := context.Background()
	m := metrics.New()
	manager := setupTestManager(t, Options{Metrics: m})

	var sessions []*Session
	for _, id := range []string{"one", "two"} {
		s, err := manager.Create(ctx, id, 24, 80)
		if err != nil {
			t.Fatalf("Failed to create session: %v", err)
		}
		sessions = append(sessions, s)
	}

	if err := manager.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if manager.Len() != 0 {
		t.Errorf("Expected empty table, got %d", manager.Len())
	}
	for _, s := range sessions {
		if !s.Terminal().Exited() {
			t.Errorf("Expected %s to be terminated", s.ID)
		}
	}

	if _, err := manager.Create(ctx, "late", 24, 80); !errors.Is(err, model.ErrShuttingDown) {
		t.Errorf("Expected ErrShuttingDown, got %v", err)
	}

	if got := testutil.ToFloat64(m.SessionsClosed.WithLabelValues(metrics.ReasonShutdown)); got != 2 {
		t.Errorf("Expected 2 sessions closed by shutdown, got %v", got)
	}
	if got := testutil.ToFloat64(m.SessionsActive); got != 0 {
		t.Errorf("Expected no active sessions, got %v", got)
	}
}

func TestCloseReason(t *testing.T) {
	tests := []struct {
		status model.SessionStatus
		want   string
	}{
		{model.SessionStatusExited, metrics.ReasonExited},
		{model.SessionStatusDestroyed, metrics.ReasonDestroyed},
		{model.SessionStatusShutdown, metrics.ReasonShutdown},
	}
	for _, tt := range tests {
		if got := closeReason(tt.status); got != tt.want {
			t.Errorf("closeReason(%s) = %s, want %s", tt.status, got, tt.want)
		}
	}
}
