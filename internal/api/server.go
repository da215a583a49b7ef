package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/bryanchriswhite/LandmarkLens/internal/camera"
	"github.com/bryanchriswhite/LandmarkLens/internal/config"
	"github.com/bryanchriswhite/LandmarkLens/internal/geometry"
	"github.com/bryanchriswhite/LandmarkLens/internal/logger"
	"github.com/bryanchriswhite/LandmarkLens/internal/notify"
	"github.com/bryanchriswhite/LandmarkLens/internal/output"
	"github.com/bryanchriswhite/LandmarkLens/internal/pipeline"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Server represents the HTTP API server
type Server struct {
	router    *mux.Router
	pipe      *pipeline.Pipeline
	configMgr *config.Manager
	mjpeg     *output.MJPEGOutput
	upgrader  websocket.Upgrader
}

// Event is a message pushed on /api/events.
type Event struct {
	Type  string          `json:"type"`
	State *pipeline.State `json:"state,omitempty"`
	Toast *notify.Toast   `json:"toast,omitempty"`
}

// NewServer creates a new API server. configMgr and mjpeg may be nil.
func NewServer(pipe *pipeline.Pipeline, configMgr *config.Manager, mjpeg *output.MJPEGOutput) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		pipe:      pipe,
		configMgr: configMgr,
		mjpeg:     mjpeg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/state", s.handleState).Methods("GET")
	api.HandleFunc("/events", s.handleEvents)

	// Camera
	api.HandleFunc("/camera/start", s.handleCameraStart).Methods("POST")
	api.HandleFunc("/camera/stop", s.handleCameraStop).Methods("POST")
	api.HandleFunc("/camera/permission", s.handlePermission).Methods("POST")

	// Page and toggles
	api.HandleFunc("/page", s.handleSetPage).Methods("PUT")
	api.HandleFunc("/toggles/{name}", s.handleSetToggle).Methods("PUT")

	// Results
	api.HandleFunc("/result", s.handleResult).Methods("GET")
	api.HandleFunc("/history", s.handleHistory).Methods("GET")
	api.HandleFunc("/history", s.handleClearHistory).Methods("DELETE")
	api.HandleFunc("/notifications", s.handleNotifications).Methods("GET")

	// Display
	api.HandleFunc("/display", s.handleSetDisplay).Methods("PUT")

	// Configuration
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/config", s.handleSetConfigValue).Methods("PUT")

	if s.mjpeg != nil {
		api.HandleFunc("/frame.jpg", s.mjpeg.SnapshotHandler()).Methods("GET")
		s.router.HandleFunc("/stream", s.mjpeg.HTTPHandler()).Methods("GET")
		s.router.HandleFunc("/stats", s.mjpeg.StatsHandler()).Methods("GET")
	}
	s.router.HandleFunc("/", output.ViewerHandler()).Methods("GET")
}

// Handler returns the router wrapped in the CORS middleware.
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves on port until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithComponent("api").Info().
			Str("url", fmt.Sprintf("http://localhost:%d", port)).
			Msg("Starting server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	logger.WithComponent("api").Info().Msg("Server stopped")
	return nil
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithComponent("api").Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// HTTP Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pipe.Snapshot())
}

func (s *Server) handleCameraStart(w http.ResponseWriter, r *http.Request) {
	if err := s.pipe.StartCamera(r.Context()); err != nil {
		status := http.StatusInternalServerError
		if camera.IsAcquireError(err) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]interface{}{
			"error": camera.AcquireFailedMessage,
			"state": s.pipe.Snapshot(),
		})
		return
	}
	writeJSON(w, http.StatusOK, s.pipe.Snapshot())
}

func (s *Server) handleCameraStop(w http.ResponseWriter, r *http.Request) {
	if err := s.pipe.StopCamera(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, s.pipe.Snapshot())
}

func (s *Server) handlePermission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Open bool `json:"open"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.pipe.SetPermissionPrompt(req.Open)
	writeJSON(w, http.StatusOK, s.pipe.Snapshot())
}

func (s *Server) handleSetPage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Page string `json:"page"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.pipe.SelectPage(pipeline.Page(req.Page)); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.pipe.Snapshot())
}

func (s *Server) handleSetToggle(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var req struct {
		On bool `json:"on"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.pipe.SetToggle(name, req.On); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, s.pipe.Snapshot())
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	result, ok := s.pipe.Result()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pipe.History())
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	s.pipe.ClearHistory()
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pipe.Notices().Active())
}

func (s *Server) handleSetDisplay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Width  int    `json:"width"`
		Height int    `json:"height"`
		Fit    string `json:"fit"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.pipe.SetDisplay(req.Width, req.Height, geometry.Fit(req.Fit)); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.pipe.Snapshot().Display)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.configMgr == nil {
		writeError(w, http.StatusNotFound, errors.New("no config file in use"))
		return
	}
	writeJSON(w, http.StatusOK, s.configMgr.Get())
}

// handleSetConfigValue persists one dotted key. Running components pick the
// new value up on the next start.
func (s *Server) handleSetConfigValue(w http.ResponseWriter, r *http.Request) {
	if s.configMgr == nil {
		writeError(w, http.StatusNotFound, errors.New("no config file in use"))
		return
	}
	var req struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.configMgr.SetValue(req.Key, req.Value); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// handleEvents streams state snapshots and toasts over a websocket.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	states := s.pipe.Subscribe()
	defer s.pipe.Unsubscribe(states)
	toasts := s.pipe.Notices().Subscribe()
	defer s.pipe.Notices().Unsubscribe(toasts)

	// The reader only watches for the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	st := s.pipe.Snapshot()
	if err := conn.WriteJSON(Event{Type: "state", State: &st}); err != nil {
		log.Debug().Err(err).Msg("WebSocket write failed")
		return
	}

	for {
		var ev Event
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case st, ok := <-states:
			if !ok {
				return
			}
			ev = Event{Type: "state", State: &st}
		case t, ok := <-toasts:
			if !ok {
				return
			}
			ev = Event{Type: "toast", Toast: &t}
		}
		if err := conn.WriteJSON(ev); err != nil {
			log.Debug().Err(err).Msg("WebSocket write failed")
			return
		}
	}
}
