package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gymmando/voice-client/internal/identity"
	"github.com/gymmando/voice-client/internal/logger"
	"github.com/gymmando/voice-client/internal/metrics"
	"github.com/gymmando/voice-client/internal/session"
)

// LevelsInterval is how often /levels pushes a snapshot (20 Hz)
const LevelsInterval = 50 * time.Millisecond

// Controller is the session the API drives
type Controller interface {
	Start(ctx context.Context) error
	End(ctx context.Context) error
	Toggle(ctx context.Context) error
	SetMuted(muted bool) error
	Snapshot() session.Snapshot
}

// Server handles the HTTP control API
type Server struct {
	bindAddr string
	ctrl     Controller
	metrics  *metrics.Metrics
	logger   *logger.ContextLogger
	server   *http.Server
	timeout  time.Duration

	// WebSocket connections streaming levels
	wsClients   map[*websocket.Conn]bool
	wsClientsMu sync.RWMutex
	wsUpgrader  websocket.Upgrader
}

// New creates a new API server. m may be nil, in which case /metrics is not served.
func New(bindAddr string, ctrl Controller, m *metrics.Metrics, log *logger.Logger) *Server {
	return &Server{
		bindAddr:  bindAddr,
		ctrl:      ctrl,
		metrics:   m,
		logger:    log.With("api"),
		timeout:   30 * time.Second,
		wsClients: make(map[*websocket.Conn]bool),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Local control surface only
			},
		},
	}
}

// Handler returns the routes, instrumented with request metrics
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/start", s.handleStart)
	mux.HandleFunc("/stop", s.handleStop)
	mux.HandleFunc("/toggle", s.handleToggle)
	mux.HandleFunc("/mute", s.handleMute(true))
	mux.HandleFunc("/unmute", s.handleMute(false))
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/levels", s.handleLevels)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	return s.instrument(mux)
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.bindAddr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("Starting control API on %s", s.bindAddr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the server and closes level streams
func (s *Server) Stop(ctx context.Context) error {
	s.wsClientsMu.Lock()
	for conn := range s.wsClients {
		conn.Close()
	}
	s.wsClientsMu.Unlock()

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// instrument records request metrics labelled by the matched route.
// Unrouted paths share one label to keep the series bounded.
func (s *Server) instrument(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		endpoint := "other"
		if _, pattern := mux.Handler(r); pattern != "" {
			endpoint = pattern
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		mux.ServeHTTP(rec, r)
		s.metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(rec.status), time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorStatus maps session errors to HTTP codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict
	case identity.IsAuthError(err):
		return http.StatusUnauthorized
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) writeError(w http.ResponseWriter, action string, err error) {
	status := errorStatus(err)
	if status != http.StatusConflict {
		s.logger.Error("Failed to %s: %v", action, err)
	}
	writeJSON(w, status, map[string]string{
		"status": "error",
		"error":  err.Error(),
	})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

// handleStart handles start requests
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.ctrl.Snapshot().State == session.StateConnected {
		writeJSON(w, http.StatusOK, map[string]string{"status": "already_running"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	if err := s.ctrl.Start(ctx); err != nil {
		s.writeError(w, "start", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

// handleStop handles stop requests
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.ctrl.Snapshot().State == session.StateIdle {
		writeJSON(w, http.StatusOK, map[string]string{"status": "not_running"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	if err := s.ctrl.End(ctx); err != nil {
		s.writeError(w, "stop", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// handleToggle handles tap-to-start requests
func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	if err := s.ctrl.Toggle(ctx); err != nil {
		s.writeError(w, "toggle", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "toggled",
		"connected": s.ctrl.Snapshot().Connected,
	})
}

func (s *Server) handleMute(muted bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if err := s.ctrl.SetMuted(muted); err != nil {
			s.writeError(w, "set mute", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": "ok",
			"muted":  muted,
		})
	}
}

// handleStatus returns the current snapshot
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

// handleLevels upgrades to WebSocket and streams snapshots
func (s *Server) handleLevels(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed: %v", err)
		return
	}

	s.wsClientsMu.Lock()
	s.wsClients[conn] = true
	s.wsClientsMu.Unlock()

	s.logger.Info("WebSocket client connected")

	closed := make(chan struct{})
	defer func() {
		s.wsClientsMu.Lock()
		delete(s.wsClients, conn)
		s.wsClientsMu.Unlock()
		conn.Close()
		s.logger.Info("WebSocket client disconnected")
	}()

	// Read messages from client (mainly to detect disconnect)
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(LevelsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(time.Second))
			if err := conn.WriteJSON(s.ctrl.Snapshot()); err != nil {
				s.logger.Debug("Failed to send levels: %v", err)
				return
			}
		}
	}
}

// Clients returns the number of connected level streams
func (s *Server) Clients() int {
	s.wsClientsMu.RLock()
	defer s.wsClientsMu.RUnlock()
	return len(s.wsClients)
}
