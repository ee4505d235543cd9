// Package server is the HTTP control surface and the streaming transports:
// the session REST API, the WebSocket duplex channel, the NDJSON fallback
// stream, the intervention endpoints and the embedded viewer.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/periscopehq/periscope/api/pkg/config"
	"github.com/periscopehq/periscope/api/pkg/intervention"
	"github.com/periscopehq/periscope/api/pkg/session"
	"github.com/periscopehq/periscope/api/pkg/system"
	"github.com/periscopehq/periscope/api/pkg/version"
)

type Server struct {
	cfg         config.ServerConfig
	registry    *session.Registry
	coordinator *intervention.Coordinator
	hub         *Hub
	upgrader    websocket.Upgrader

	startedAt time.Time
}

// NewServer wires the hub between the registry, the coordinator and the
// transports.
func NewServer(cfg config.ServerConfig, registry *session.Registry, coordinator *intervention.Coordinator) *Server {
	hub := NewHub()
	registry.SetPublisher(hub)
	registry.SetDestroyHook(coordinator.CancelBySession)
	coordinator.SetSender(hub)

	return &Server{
		cfg:         cfg,
		registry:    registry,
		coordinator: coordinator,
		hub:         hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The service fronts trusted automation callers; origin policy
			// is delegated to whatever sits in front of it.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		startedAt: time.Now(),
	}
}

func (s *Server) baseURL() string {
	return system.BaseURL(s.cfg.WebServer.UseHTTPS, s.cfg.WebServer.Host, s.cfg.WebServer.Port)
}

// Router builds the full route table. Exposed for tests.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(corsMiddleware)

	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/livez", s.handleLive).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)
	api.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods(http.MethodDelete)

	api.HandleFunc("/interventions", s.handleListInterventions).Methods(http.MethodGet)
	api.HandleFunc("/interventions/{id}/complete", s.handleCompleteIntervention).Methods(http.MethodPost)
	api.HandleFunc("/interventions/{id}/cancel", s.handleCancelIntervention).Methods(http.MethodPost)

	// Transport endpoints live outside /api so the paths embedded in session
	// descriptors and viewer URLs stay short and stable.
	r.HandleFunc("/sessions/{id}/ws", s.handleSessionWS).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/stream", s.handleSessionStream).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/input", s.handleSessionInput).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/sessions/{id}/viewer", s.handleViewer).Methods(http.MethodGet)
	return r
}

// ListenAndServe serves until ctx is cancelled, then drains with a grace
// period.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.WebServer.Host, s.cfg.WebServer.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("http shutdown did not drain cleanly")
		}
	}()

	log.Info().Str("addr", srv.Addr).Str("base_url", s.baseURL()).Msg("server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleRoot drops a browser straight into the first live session's viewer;
// with nothing running it answers with the service index instead.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if sessions := s.registry.ListSessions(); len(sessions) > 0 {
		http.Redirect(w, r, "/sessions/"+sessions[0].ID+"/viewer", http.StatusFound)
		return
	}
	system.WriteJSON(w, http.StatusOK, map[string]any{
		"service":  "periscope",
		"sessions": s.baseURL() + "/api/sessions",
		"health":   s.baseURL() + "/health",
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	system.WriteJSON(w, http.StatusOK, map[string]any{
		"version":    version.Version,
		"git_commit": version.GitCommit,
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
