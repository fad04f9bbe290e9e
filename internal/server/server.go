package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/UtrechtUniversity/anonymouus/internal/config"
	"github.com/UtrechtUniversity/anonymouus/internal/logger"
	"github.com/UtrechtUniversity/anonymouus/internal/substitute"
	"github.com/UtrechtUniversity/anonymouus/internal/websocket"
)

// Version is reported on /info. The CLI stamps it at startup.
var Version = "dev"

// TableFlusher exports the pseudonym translation table. Satisfied by
// pseudonym.Registry.
type TableFlusher interface {
	Flush(ctx context.Context, path string, delimiter rune) error
	Count(ctx context.Context) (int, error)
}

// Server exposes the anonymization engine over HTTP.
type Server struct {
	config   *config.Config
	logger   *logger.Logger
	rewrite  substitute.Rewriter
	stats    *substitute.Stats
	registry TableFlusher
	router   *mux.Router
	server   *http.Server
	hub      *websocket.Hub
	metrics  *Metrics
	limiters *clientLimiters
	started  time.Time

	hubCtx    context.Context
	hubCancel context.CancelFunc
}

// New creates an API server around a prepared rewriter chain.
func New(cfg *config.Config, rewrite substitute.Rewriter, stats *substitute.Stats, log *logger.Logger) (*Server, error) {
	if rewrite == nil {
		return nil, fmt.Errorf("%w: a rewriter is required", substitute.ErrInvalidConfiguration)
	}

	hub := websocket.NewHub(cfg.Server.WebSocket, log.WithComponent("websocket").Logger)
	hubCtx, hubCancel := context.WithCancel(context.Background())

	s := &Server{
		config:    cfg,
		logger:    log.WithComponent("server"),
		rewrite:   rewrite,
		stats:     stats,
		router:    mux.NewRouter(),
		hub:       hub,
		started:   time.Now(),
		hubCtx:    hubCtx,
		hubCancel: hubCancel,
	}
	s.metrics = NewMetrics("anonymouus", func() float64 {
		return float64(hub.ClientCount())
	})

	if cfg.Server.RateLimit.Enabled {
		s.limiters = newClientLimiters(cfg.Server.RateLimit.RequestsPerSecond, cfg.Server.RateLimit.Burst)
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(s.recoveryMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")
	s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")

	if s.config.Server.WebSocket.Enabled {
		s.router.HandleFunc(s.config.Server.WebSocket.Path, s.hub.HandleWebSocket).Methods("GET")
	}

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/anonymize", s.handleAnonymize).Methods("POST")
	api.HandleFunc("/table/flush", s.handleTableFlush).Methods("POST")
}

// SetRegistry attaches the pseudonym registry behind /v1/table/flush.
// Without one the endpoint reports that no registry is configured.
func (s *Server) SetRegistry(registry TableFlusher) {
	s.registry = registry
}

// Start runs the event hub and serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("Starting API server",
		zap.Int("port", s.config.Server.Port),
		zap.Bool("websocket", s.config.Server.WebSocket.Enabled),
		zap.Bool("rate_limit", s.config.Server.RateLimit.Enabled),
	)

	go s.hub.Run(s.hubCtx)
	if s.limiters != nil {
		go s.limiters.run(s.hubCtx)
	}

	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server and shuts the hub down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server")
	err := s.server.Shutdown(ctx)
	s.hubCancel()
	return err
}

// Hub returns the event hub so processing pipelines can broadcast into it.
func (s *Server) Hub() *websocket.Hub {
	return s.hub
}

// Handler returns the root handler. Tests drive it directly.
func (s *Server) Handler() http.Handler {
	return s.router
}
