package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"

	"github.com/desertthunder/bulkup/internal/broadcast"
	"github.com/desertthunder/bulkup/internal/models"
	"github.com/desertthunder/bulkup/internal/mount"
	"github.com/desertthunder/bulkup/internal/shared"
)

// Controller is the part of the backup manager the routes drive.
type Controller interface {
	Start(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	Select(ctx context.Context, names []string) error
	Retry(ctx context.Context, names []string) error
	SetOrder(ctx context.Context, order models.Order) error
	Rescan(ctx context.Context) error
	Snapshot() models.SessionView
	Subscribe() *broadcast.Subscription
	Unsubscribe(sub *broadcast.Subscription)
	Logs(limit int) []models.LogEntry
	SourceRoot() string
	Destination() string
}

// HistoryLister reads archived session summaries, newest first.
type HistoryLister interface {
	List(limit int) ([]*models.SessionSummary, error)
}

// LogLister reads persisted backup log entries of one session.
type LogLister interface {
	List(sessionID string, limit int) ([]models.LogEntry, error)
}

// DiskReporter builds the disk endpoint payload.
type DiskReporter interface {
	BuildReport(ctx context.Context, source, destination string) (mount.Report, error)
}

// Options wires a [Server]. Controller is required; the others disable their routes when nil.
type Options struct {
	Controller Controller
	History    HistoryLister
	Logs       LogLister
	Disk       DiskReporter
	Logger     *log.Logger
	// Heartbeat is the idle interval between SSE keep-alive comments.
	Heartbeat time.Duration
}

// Server serves the status and control API.
type Server struct {
	ctrl      Controller
	history   HistoryLister
	logs      LogLister
	disk      DiskReporter
	logger    *log.Logger
	heartbeat time.Duration
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	hb := opts.Heartbeat
	if hb <= 0 {
		hb = 15 * time.Second
	}
	return &Server{
		ctrl:      opts.Controller,
		history:   opts.History,
		logs:      opts.Logs,
		disk:      opts.Disk,
		logger:    shared.WithLogger(logger, "component", "http"),
		heartbeat: hb,
	}
}

// Routes returns the router with all middleware applied.
func (s *Server) Routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(s.logger))
	r.Use(Recovery(s.logger))

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Post("/control", s.control)
		r.Post("/select", s.selectDirs)
		r.Post("/retry", s.retry)
		r.Post("/order", s.order)
		r.Post("/scan", s.scan)
		r.Get("/logs", s.listLogs)
		r.Get("/events", s.events)
		if s.history != nil {
			r.Get("/history", s.listHistory)
		}
		if s.disk != nil {
			r.Get("/disk", s.diskReport)
		}
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}
