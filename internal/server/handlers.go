package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/desertthunder/bulkup/internal/models"
	"github.com/desertthunder/bulkup/internal/shared"
)

const maxBodyBytes = 1 << 20

// ControlRequest is the body of POST /api/control.
type ControlRequest struct {
	Action string `json:"action"`
}

// DirectoriesRequest is the body of POST /api/select and POST /api/retry.
type DirectoriesRequest struct {
	Directories []string `json:"directories"`
}

// OrderRequest is the body of POST /api/order.
type OrderRequest struct {
	Order string `json:"order"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) control(w http.ResponseWriter, r *http.Request) {
	var req ControlRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var act func(context.Context) error
	switch req.Action {
	case "start":
		act = s.ctrl.Start
	case "pause":
		act = s.ctrl.Pause
	case "stop":
		act = s.ctrl.Stop
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown action %q, want start, pause or stop", req.Action))
		return
	}
	s.respond(w, r, act(r.Context()))
}

func (s *Server) selectDirs(w http.ResponseWriter, r *http.Request) {
	var req DirectoriesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respond(w, r, s.ctrl.Select(r.Context(), req.Directories))
}

func (s *Server) retry(w http.ResponseWriter, r *http.Request) {
	var req DirectoriesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Directories) == 0 {
		writeError(w, http.StatusBadRequest, "directories is required")
		return
	}
	s.respond(w, r, s.ctrl.Retry(r.Context(), req.Directories))
}

func (s *Server) order(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	order, err := models.ParseOrder(req.Order)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respond(w, r, s.ctrl.SetOrder(r.Context(), order))
}

func (s *Server) scan(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, s.ctrl.Rescan(r.Context()))
}

func (s *Server) listLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	session := r.URL.Query().Get("session")
	if session == "" {
		writeJSON(w, http.StatusOK, s.ctrl.Logs(limit))
		return
	}
	if s.logs == nil {
		writeError(w, http.StatusNotFound, "persisted logs are not available")
		return
	}
	entries, err := s.logs.List(session, limit)
	if err != nil {
		s.logger.Error("failed to list logs", "session", session, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list logs")
		return
	}
	if entries == nil {
		entries = []models.LogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	items, err := s.history.List(limit)
	if err != nil {
		s.logger.Error("failed to list history", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}
	if items == nil {
		items = []*models.SessionSummary{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) diskReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.disk.BuildReport(r.Context(), s.ctrl.SourceRoot(), s.ctrl.Destination())
	if err != nil {
		s.logger.Error("failed to read disk usage", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// respond writes the fresh snapshot on success or the mapped error.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		code := statusFor(err)
		if code >= http.StatusInternalServerError {
			s.logger.Error("control request failed", "path", r.URL.Path, "err", err)
		}
		writeError(w, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

// statusFor maps control errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, shared.ErrStartPrecondition),
		errors.Is(err, shared.ErrNothingSelected):
		return http.StatusPreconditionFailed
	case errors.Is(err, shared.ErrInvalidTransition),
		errors.Is(err, shared.ErrSelectWhileRunning),
		errors.Is(err, shared.ErrScanInProgress),
		errors.Is(err, shared.ErrRetryLimit),
		errors.Is(err, shared.ErrNotRetryable):
		return http.StatusConflict
	case errors.Is(err, shared.ErrUnknownDirectory),
		errors.Is(err, shared.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrManagerClosed),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func queryLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: limit must be a non-negative integer", shared.ErrInvalidInput)
	}
	return n, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
