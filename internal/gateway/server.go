package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/cod3vil/data-veil/internal/config"
	"github.com/cod3vil/data-veil/internal/logger"
	"github.com/cod3vil/data-veil/internal/websocket"
	"github.com/cod3vil/data-veil/internal/workflow"
)

// Server exposes the desensitization workflow over HTTP: upload, rule and
// item selection, preview, export, status, and a WebSocket feed of async
// completions.
type Server struct {
	config  *config.Config
	logger  *logger.Logger
	engine  *workflow.Engine
	router  *mux.Router
	server  *http.Server
	wsHub   *websocket.Hub
	limiter *clientLimiter
}

// New creates a new gateway server instance
func New(cfg *config.Config, log *logger.Logger, engine *workflow.Engine) *Server {
	hubConfig := &websocket.HubConfig{
		BroadcastUploads:     cfg.WebSocket.Events.BroadcastUploads,
		BroadcastPreviews:    cfg.WebSocket.Events.BroadcastPreviews,
		BroadcastExports:     cfg.WebSocket.Events.BroadcastExports,
		BroadcastConnections: cfg.WebSocket.Events.BroadcastConnections,
		Username:             cfg.WebSocket.Username,
		Password:             cfg.WebSocket.Password,
	}
	wsHub := websocket.NewHub(hubConfig, log.WithComponent("websocket").Logger)

	router := mux.NewRouter()

	server := &Server{
		config:  cfg,
		logger:  log.WithComponent("gateway"),
		engine:  engine,
		router:  router,
		wsHub:   wsHub,
		limiter: newClientLimiter(cfg.RateLimit),
	}

	server.setupRoutes()

	server.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return server
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Info endpoint
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	// WebSocket endpoint for completion events
	if s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.handleWebSocket).Methods("GET")
	}

	// Workflow API
	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)

	api.HandleFunc("/documents", s.handleUpload).Methods("POST")
	api.HandleFunc("/rules", s.handleListRules).Methods("GET")
	api.HandleFunc("/rules/toggle-all", s.handleToggleAllRules).Methods("POST")
	api.HandleFunc("/rules/{id}/toggle", s.handleToggleRule).Methods("POST")
	api.HandleFunc("/items", s.handleListItems).Methods("GET")
	api.HandleFunc("/items/{id}/toggle", s.handleToggleItem).Methods("POST")
	api.HandleFunc("/preview", s.handleRequestPreview).Methods("POST")
	api.HandleFunc("/preview", s.handleGetPreview).Methods("GET")
	api.HandleFunc("/export", s.handleExport).Methods("POST")
	api.HandleFunc("/exports", s.handleHistory).Methods("GET")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting data-veil gateway",
		zap.Int("port", s.config.Server.Port),
		zap.String("remote", s.config.Remote.BaseURL),
	)

	go s.wsHub.Run()
	s.limiter.startCleanup()

	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping data-veil gateway")
	s.limiter.stopCleanup()
	return s.server.Shutdown(ctx)
}

// Router exposes the handler tree, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// handleWebSocket handles WebSocket connections for completion events
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.wsHub.HandleWebSocket(w, r)
}

// Hub returns the WebSocket hub for broadcasting events
func (s *Server) Hub() *websocket.Hub {
	return s.wsHub
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":          "data-veil",
		"version":       "0.1.0",
		"remote":        s.config.Remote.BaseURL,
		"max_file_size": s.config.Upload.MaxFileSize,
		"stage":         s.engine.Stage(),
	})
}
