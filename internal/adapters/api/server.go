package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikey/phish-filter/internal/config"
	"github.com/mikey/phish-filter/internal/ports"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Server exposes the ingestion pipeline over HTTP
type Server struct {
	ingestor        ports.Ingestor
	reader          ports.MessageReader
	logger          *zap.Logger
	listenAddress   string
	shutdownTimeout time.Duration
	defaultLimit    int
	maxLimit        int

	router     *gin.Engine
	httpServer *http.Server
	listener   net.Listener
}

// NewServer creates a new API server
func NewServer(
	ingestor ports.Ingestor,
	reader ports.MessageReader,
	serverCfg config.ServerConfig,
	ingestCfg config.IngestConfig,
	logger *zap.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		ingestor:        ingestor,
		reader:          reader,
		logger:          logger,
		listenAddress:   serverCfg.ListenAddress,
		shutdownTimeout: serverCfg.ShutdownTimeout,
		defaultLimit:    ingestCfg.DefaultLimit,
		maxLimit:        ingestCfg.MaxLimit,
		router:          gin.New(),
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = 10 * time.Second
	}
	if s.defaultLimit <= 0 {
		s.defaultLimit = 10
	}

	s.router.Use(gin.Recovery(), requestLogger(logger))
	s.registerRoutes()

	origins := serverCfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	handler := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Accept"},
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:              s.listenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/", Index)
	s.router.GET("/health", HealthCheck)

	emails := s.router.Group("/emails")
	{
		emails.GET("", s.ListEmails)
		emails.POST("/analyze", s.Analyze)
		emails.GET("/fetch", s.Fetch)
	}
}

// Handler returns the root HTTP handler, CORS included
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start binds the listen address and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.listenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.listenAddress, err)
	}
	s.listener = ln

	s.logger.Info("Starting HTTP API", zap.String("address", ln.Addr().String()))
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts the server down
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down HTTP API")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	return nil
}

// Addr returns the bound address once Start has succeeded
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.listenAddress
	}
	return s.listener.Addr().String()
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
