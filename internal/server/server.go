// Package server exposes the redaction engine over HTTP: the process
// endpoint, registry and policy administration, audit export, and the
// monitoring dashboard feed.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/madhavanrx18/soc-challenge/internal/config"
	"github.com/madhavanrx18/soc-challenge/internal/engine"
	"github.com/madhavanrx18/soc-challenge/internal/logger"
	"github.com/madhavanrx18/soc-challenge/internal/observability"
	"github.com/madhavanrx18/soc-challenge/internal/security"
	"github.com/madhavanrx18/soc-challenge/internal/web"
	"github.com/madhavanrx18/soc-challenge/internal/websocket"
)

// Server is the redaction HTTP server.
type Server struct {
	config  *config.Config
	logger  *logger.Logger
	engine  *engine.Engine
	metrics *observability.Metrics
	router  *mux.Router
	server  *http.Server
	wsHub   *websocket.Hub
	limiter *security.RateLimiter

	startedAt time.Time
	cancelHub context.CancelFunc
}

// New creates the server around an already-constructed engine.
func New(cfg *config.Config, eng *engine.Engine, metrics *observability.Metrics, log *logger.Logger) *Server {
	s := &Server{
		config:    cfg,
		logger:    log.WithComponent("server"),
		engine:    eng,
		metrics:   metrics,
		router:    mux.NewRouter(),
		wsHub:     websocket.NewHub(cfg.WebSocket, log.WithComponent("websocket").Logger),
		limiter:   security.NewRateLimiter(cfg.RateLimit),
		startedAt: time.Now(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")
	s.router.Handle("/metrics", observability.MetricsHandler()).Methods("GET")

	if s.config.Dashboard.Enabled {
		s.router.HandleFunc("/", web.Dashboard(s.config.Dashboard.Path)).Methods("GET")
		s.router.HandleFunc("/dashboard", web.Dashboard(s.config.Dashboard.Path)).Methods("GET")
	}
	if s.config.WebSocket.Enabled {
		s.router.HandleFunc("/ws", s.handleWebSocket).Methods("GET")
	}

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.requestIDMiddleware)
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)

	api.HandleFunc("/process", s.handleProcess).Methods("POST")
	api.HandleFunc("/registry", s.handleRegistryGet).Methods("GET")
	api.HandleFunc("/registry", s.handleRegistryLoad).Methods("POST")
	api.HandleFunc("/policies", s.handlePolicyList).Methods("GET")
	api.HandleFunc("/policies/{tenant}", s.handlePolicyGet).Methods("GET")
	api.HandleFunc("/policies/{tenant}", s.handlePolicyUpdate).Methods("PUT")
	api.HandleFunc("/audit/export", s.handleAuditExport).Methods("GET")
	api.HandleFunc("/audit/export.parquet", s.handleAuditParquet).Methods("GET")
	api.HandleFunc("/cache/stats", s.handleCacheStats).Methods("GET")
	api.HandleFunc("/cache", s.handleCacheClear).Methods("DELETE")
}

// Start runs the HTTP server. Blocks until the listener fails or the
// server is stopped.
func (s *Server) Start() error {
	s.logger.Info("Starting redaction server",
		zap.Int("port", s.config.Server.Port),
		zap.Bool("dashboard", s.config.Dashboard.Enabled),
		zap.Bool("websocket", s.config.WebSocket.Enabled),
		zap.Bool("rate_limit", s.config.RateLimit.Enabled),
	)

	hubCtx, cancel := context.WithCancel(context.Background())
	s.cancelHub = cancel
	go s.wsHub.Run(hubCtx)
	s.limiter.StartCleanupRoutine(hubCtx)

	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server and the WebSocket hub.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping redaction server")
	if s.cancelHub != nil {
		s.cancelHub()
	}
	return s.server.Shutdown(ctx)
}

// handleWebSocket hands dashboard connections to the hub.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.wsHub.HandleWebSocket(w, r)
}

// Hub returns the WebSocket hub for broadcasting events.
func (s *Server) Hub() *websocket.Hub {
	return s.wsHub
}
