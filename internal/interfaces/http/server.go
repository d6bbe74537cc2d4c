// Package http provides HTTP server adapter for the application layer.
// This is a thin adapter layer that translates HTTP requests to application service calls.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/club-treasury/internal/application/service"
	"github.com/garyjia/club-treasury/internal/domain/entity"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// StatementParser turns an uploaded bank statement into transactions
type StatementParser interface {
	Parse(r io.Reader) ([]*entity.BankTransaction, error)
}

// HealthFunc reports component health for GET /health
type HealthFunc func(ctx context.Context) (healthy bool, components map[string]string)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	Mode            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MaxUploadBytes  int64
	MetricsPath     string
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		Mode:            gin.ReleaseMode,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		MaxUploadBytes:  20 << 20,
		MetricsPath:     "/metrics",
	}
}

// Services groups the application services exposed over HTTP
type Services struct {
	Approvals      service.ApprovalService
	Links          service.LinkService
	Reconciliation service.ReconciliationService
	Documents      service.DocumentService
	Transactions   service.TransactionService
	Settings       service.SettingsService
}

// Options carries the optional collaborators of the server
type Options struct {
	Statements        StatementParser
	Health            HealthFunc
	MetricsHandler    http.Handler
	MetricsMiddleware gin.HandlerFunc
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	services   Services
	opts       Options
	logger     Logger
}

// NewServer creates a new HTTP server with the given services
func NewServer(config ServerConfig, services Services, opts Options, logger Logger) *Server {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}

	server := &Server{
		config:   config,
		router:   gin.New(),
		services: services,
		opts:     opts,
		logger:   logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
	if s.opts.MetricsMiddleware != nil {
		s.router.Use(s.opts.MetricsMiddleware)
	}
}

// loggingMiddleware creates a logging middleware
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		s.logger.Info("HTTP request",
			"method", method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"actor", c.GetHeader(ActorHeader),
		)
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	h := NewHandlers(s.services, s.opts.Statements, s.opts.Health, s.config.MaxUploadBytes, s.logger)

	s.router.GET("/health", h.HealthCheck)
	if s.opts.MetricsHandler != nil {
		path := s.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		s.router.GET(path, gin.WrapH(s.opts.MetricsHandler))
	}

	api := s.router.Group("/api/v1")
	{
		claims := api.Group("/claims")
		claims.POST("", h.CreateClaim)
		claims.GET("", h.ListClaims)
		claims.GET("/:id", h.GetClaim)
		claims.PATCH("/:id", h.UpdateClaim)
		claims.DELETE("/:id", h.DeleteClaim)
		claims.POST("/:id/submit", h.SubmitClaim)
		claims.POST("/:id/approve", h.ApproveClaim)
		claims.POST("/:id/reject", h.RejectClaim)
		claims.POST("/:id/documents", h.AttachDocuments)

		documents := api.Group("/documents")
		documents.POST("/duplicates", h.FindDuplicates)
		documents.POST("/import", h.ImportDocuments)

		transactions := api.Group("/transactions")
		transactions.GET("", h.ListTransactions)
		transactions.GET("/:id", h.GetTransaction)
		transactions.POST("/import", h.ImportStatement)
		transactions.POST("/:id/links", h.LinkTransaction)
		transactions.DELETE("/:id/links/:entity_type/:entity_id", h.UnlinkTransaction)

		api.POST("/reconciliation/run", h.RunReconciliation)

		api.GET("/settings/approval-threshold", h.GetApprovalThreshold)
		api.PUT("/settings/approval-threshold", h.UpdateApprovalThreshold)
	}
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	addr := s.Address()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
