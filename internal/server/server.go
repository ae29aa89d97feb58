// Package server assembles the terminal server from configuration.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/remote-agent-terminal/httpterm/api/handlers"
	"github.com/remote-agent-terminal/httpterm/api/middleware"
	"github.com/remote-agent-terminal/httpterm/internal/bridge"
	"github.com/remote-agent-terminal/httpterm/internal/config"
	"github.com/remote-agent-terminal/httpterm/internal/db"
	"github.com/remote-agent-terminal/httpterm/internal/metrics"
	"github.com/remote-agent-terminal/httpterm/internal/mux"
	"github.com/remote-agent-terminal/httpterm/internal/repository"
	"github.com/remote-agent-terminal/httpterm/internal/session"
	"github.com/remote-agent-terminal/httpterm/web"
)

// Server wraps the HTTP server and its dependencies.
type Server struct {
	cfg     *config.Config
	log     *zap.Logger
	metrics *metrics.Metrics
	db      *sql.DB
	manager *session.Manager
	router  *gin.Engine
}

// New builds every component described by cfg. Records left active by a
// previous process are marked abandoned.
func New(cfg *config.Config, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	m := metrics.New()

	backend, err := mux.New(cfg.Terminal.Multiplexer, mux.Options{
		Binary:  cfg.Terminal.TmuxBinary,
		Command: cfg.Terminal.Command,
		Term:    cfg.Terminal.Term,
	})
	if err != nil {
		return nil, err
	}

	s := &Server{cfg: cfg, log: log, metrics: m}

	var (
		store   session.Store
		history handlers.History
	)
	if cfg.Storage.DBPath != "" {
		conn, err := db.Open(cfg.Storage.DBPath)
		if err != nil {
			return nil, err
		}
		repo := repository.NewSessionRepository(conn)
		n, err := repo.MarkAbandoned(context.Background())
		if err != nil {
			conn.Close()
			return nil, err
		}
		if n > 0 {
			log.Info("Marked sessions from a previous run abandoned", zap.Int("count", n))
		}
		s.db = conn
		store, history = repo, repo
	}

	if cfg.Storage.RecordDir != "" {
		if err := os.MkdirAll(cfg.Storage.RecordDir, 0755); err != nil {
			s.closeDB()
			return nil, fmt.Errorf("failed to create recording directory: %w", err)
		}
	}

	manager, err := session.NewManager(session.Options{
		Mux:              backend,
		Store:            store,
		Metrics:          m,
		Logger:           log.Named("session"),
		RecordDir:        cfg.Storage.RecordDir,
		ScrollbackBytes:  cfg.Terminal.ScrollbackBytes,
		TerminateTimeout: cfg.Terminal.TerminateTimeout,
		CommandTimeout:   cfg.Terminal.CommandTimeout,
	})
	if err != nil {
		s.closeDB()
		return nil, err
	}
	s.manager = manager

	terminals := bridge.New(manager, bridge.Options{
		ReadChunk:     cfg.Terminal.ReadChunk,
		MaxDrainBytes: cfg.Terminal.MaxDrainBytes,
		Metrics:       m,
		Logger:        log.Named("bridge"),
	})

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(log.Named("http"), m))

	cors := middleware.DefaultCORSConfig()
	cors.AllowOrigins = cfg.Server.CORSOrigins
	router.Use(middleware.CORS(cors))

	index := web.Index()
	router.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", index)
	})
	router.GET("/metrics", gin.WrapH(m.Handler()))
	handlers.NewTerminalHandler(manager, terminals, history).RegisterRoutes(&router.RouterGroup)

	s.router = router

	log.Info("Server initialized",
		zap.String("multiplexer", backend.Name()),
		zap.Bool("history", s.db != nil),
		zap.Bool("recording", cfg.Storage.RecordDir != ""),
	)
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Sessions returns the session manager.
func (s *Server) Sessions() *session.Manager {
	return s.manager
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then destroys every session before
// shutting the HTTP server down. The database is closed only if every
// session finished tearing down within the shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Starting HTTP server", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	s.log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	sessionsClosed := true
	if err := s.manager.Close(shutdownCtx); err != nil {
		sessionsClosed = false
		s.log.Warn("Sessions did not close in time", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("HTTP server shutdown failed", zap.Error(err))
	}
	// Teardowns still running persist their close records, so the database
	// stays open for them.
	if sessionsClosed {
		s.closeDB()
	}

	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	return nil
}

func (s *Server) closeDB() {
	if s.db == nil {
		return
	}
	if err := s.db.Close(); err != nil {
		s.log.Warn("Failed to close database", zap.Error(err))
	}
	s.db = nil
}
