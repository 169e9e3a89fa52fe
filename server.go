package main

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/oszuidwest/zwfm-syscapture/internal/backend"
	"github.com/oszuidwest/zwfm-syscapture/internal/config"
	"github.com/oszuidwest/zwfm-syscapture/internal/engine"
	"github.com/oszuidwest/zwfm-syscapture/internal/server"
	"github.com/oszuidwest/zwfm-syscapture/internal/types"
)

// Server is an HTTP server that provides the control API for system capture.
type Server struct {
	config   *config.Config
	engine   *engine.Engine
	commands *server.CommandHandler
	version  *VersionChecker
	metrics  http.Handler
}

// NewServer returns a new Server. metrics serves /metrics and may be nil.
func NewServer(cfg *config.Config, eng *engine.Engine, eventLogPath string, metrics http.Handler) *Server {
	return &Server{
		config:   cfg,
		engine:   eng,
		commands: server.NewCommandHandler(cfg, eng, eventLogPath),
		version:  NewVersionChecker(),
		metrics:  metrics,
	}
}

// handleWebSocket handles bidirectional WebSocket communication for real-time updates.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := server.UpgradeConnection(w, r)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	// Only the writer goroutine writes to the connection.
	send := make(chan any, 16)
	done := make(chan struct{})
	statusUpdate := make(chan struct{}, 1)

	go s.runWebSocketWriter(conn, send, done)
	go s.runWebSocketReader(conn, send, done, statusUpdate)

	s.runWebSocketEventLoop(send, done, statusUpdate)
}

// runWebSocketWriter writes messages from the send channel to the connection
// until the reader is done.
func (s *Server) runWebSocketWriter(conn server.WebSocketConn, send <-chan any, done <-chan struct{}) {
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("WebSocket close error", "error", err)
		}
	}()
	for {
		select {
		case <-done:
			return
		case msg := <-send:
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

// runWebSocketReader reads commands from the connection and dispatches them.
func (s *Server) runWebSocketReader(conn server.WebSocketConn, send chan<- any, done, statusUpdate chan<- struct{}) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in WebSocket reader", "panic", r)
		}
		close(done)
	}()

	for {
		var cmd server.WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		s.commands.Handle(cmd, send, func() {
			select {
			case statusUpdate <- struct{}{}:
			default:
			}
		})
	}
}

// runWebSocketEventLoop handles periodic status and level updates.
func (s *Server) runWebSocketEventLoop(send chan any, done, statusUpdate <-chan struct{}) {
	levelsTicker := time.NewTicker(100 * time.Millisecond)  // 10 fps for VU meters
	statusTicker := time.NewTicker(3000 * time.Millisecond) // Status updates every 3s
	defer levelsTicker.Stop()
	defer statusTicker.Stop()

	// send is never closed: async command results may still arrive after done.
	trySend := func(msg any) bool {
		select {
		case send <- msg:
			return true
		case <-done:
			return false
		}
	}

	if !trySend(s.buildStatus()) {
		return
	}

	for {
		select {
		case <-done:
			return
		case <-statusUpdate:
			if !trySend(s.buildStatus()) {
				return
			}
		case <-levelsTicker.C:
			if !trySend(types.WSLevelsResponse{Type: "levels", Levels: s.engine.AudioLevels()}) {
				return
			}
		case <-statusTicker.C:
			if !trySend(s.buildStatus()) {
				return
			}
		}
	}
}

// buildStatus returns the current status response.
func (s *Server) buildStatus() types.WSStatusResponse {
	cfg := s.config.Snapshot()

	return types.WSStatusResponse{
		Type:      "status",
		Station:   cfg.StationName,
		Engine:    s.engine.Status(),
		Recording: s.engine.RecordingStatus(),
		Capture:   cfg.Capture,
		Silence: config.SilenceDetectionConfig{
			ThresholdDB: cfg.SilenceThreshold,
			DurationMs:  cfg.SilenceDurationMs,
			RecoveryMs:  cfg.SilenceRecoveryMs,
		},
		WebhookURL: cfg.WebhookURL,
		Backends:   backend.Available(),
		Platform:   runtime.GOOS,
		Version:    s.version.Info(),
	}
}

// SetupRoutes returns an [http.Handler] configured with all application routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Read-only routes
	mux.HandleFunc("GET /api/status", s.handleAPIStatus)
	mux.HandleFunc("GET /api/devices", s.handleAPIDevices)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	// Control routes (API key auth)
	mux.HandleFunc("POST /api/capture/start", s.apiKeyAuth(s.handleAPICaptureStart))
	mux.HandleFunc("POST /api/capture/stop", s.apiKeyAuth(s.handleAPICaptureStop))
	mux.HandleFunc("/ws", s.apiKeyAuth(s.handleWebSocket))

	return securityHeaders(mux)
}

// securityHeaders returns middleware that wraps handlers with security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// apiKeyAuth returns middleware for API key authentication. Browsers cannot
// set headers on WebSocket requests, so the key is also accepted as the
// "key" query parameter.
func (s *Server) apiKeyAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := s.config.APIKey()
		if apiKey == "" {
			http.Error(w, "API key not configured", http.StatusServiceUnavailable)
			return
		}

		providedKey := r.Header.Get("X-API-Key")
		if providedKey == "" {
			providedKey = r.URL.Query().Get("key")
		}
		if subtle.ConstantTimeCompare([]byte(providedKey), []byte(apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// NewHTTPServer returns the *http.Server for the configured port.
func (s *Server) NewHTTPServer() *http.Server {
	addr := fmt.Sprintf(":%d", s.config.Snapshot().Port)
	return &http.Server{
		Addr:              addr,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
