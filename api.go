package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/oszuidwest/zwfm-syscapture/internal/engine"
	"github.com/oszuidwest/zwfm-syscapture/internal/types"
)

// apiStopTimeout bounds how long POST /api/capture/stop waits for teardown.
const apiStopTimeout = 10 * time.Second

// API response helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// handleAPIStatus returns engine, recorder and settings status.
// GET /api/status
func (s *Server) handleAPIStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.buildStatus())
}

// handleAPIDevices returns the devices the capture backend can use.
// GET /api/devices
func (s *Server) handleAPIDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.engine.Devices(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"backend": s.engine.Backend().Name(),
		"devices": types.DevicesFrom(devices),
	})
}

// handleAPICaptureStart starts capture.
// POST /api/capture/start
func (s *Server) handleAPICaptureStart(w http.ResponseWriter, _ *http.Request) {
	if err := s.engine.Start(); err != nil {
		if errors.Is(err, engine.ErrAlreadyRunning) {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "capture_started"})
}

// handleAPICaptureStop stops capture and waits for the session to end.
// POST /api/capture/stop
func (s *Server) handleAPICaptureStop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), apiStopTimeout)
	defer cancel()

	if err := s.engine.Stop(ctx); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "capture_stopped"})
}
