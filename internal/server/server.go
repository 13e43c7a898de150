// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/Ken-Miura/career-change-supporter-sub006/internal/adminauth"
	"github.com/Ken-Miura/career-change-supporter-sub006/internal/config"
	"github.com/Ken-Miura/career-change-supporter-sub006/internal/consultation"
	"github.com/Ken-Miura/career-change-supporter-sub006/internal/health"
	"github.com/Ken-Miura/career-change-supporter-sub006/internal/idgen"
	"github.com/Ken-Miura/career-change-supporter-sub006/internal/logging"
	"github.com/Ken-Miura/career-change-supporter-sub006/internal/metrics"
	"github.com/Ken-Miura/career-change-supporter-sub006/internal/platform"
	"github.com/Ken-Miura/career-change-supporter-sub006/internal/ratelimit"
	"github.com/Ken-Miura/career-change-supporter-sub006/internal/security"
	"github.com/Ken-Miura/career-change-supporter-sub006/internal/settlement"
	"github.com/Ken-Miura/career-change-supporter-sub006/internal/traces"
	"github.com/Ken-Miura/career-change-supporter-sub006/internal/validation"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg                 *config.Config
	settlementService   *settlement.Service
	consultationService *consultation.Service
	tokens              *adminauth.Manager
	platformClient      platform.Client
	rateLimiter         *ratelimit.Limiter
	healthChecks        *health.Registry
	memStore            *settlement.MemoryStore // set only in in-memory mode
	db                  *sql.DB                 // nil if using in-memory
	router              *gin.Engine
	httpSrv             *http.Server
	logger              *slog.Logger
	shutdownTraces      func(context.Context) error
	cancelRunCtx        context.CancelFunc

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithPlatformClient sets a custom payment platform client (for testing)
func WithPlatformClient(c platform.Client) Option {
	return func(s *Server) {
		s.platformClient = c
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:          cfg,
		logger:       logging.New(cfg.LogLevel, "json"),
		healthChecks: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.platformClient == nil {
		s.platformClient = platform.NewHTTPClient(
			cfg.PaymentPlatformAPIURL,
			cfg.PaymentPlatformAPIUsername,
			cfg.PaymentPlatformAPIPassword,
		)
	}

	s.tokens = adminauth.NewManager(cfg.AdminTokenSecret)

	// Storage: Postgres if DATABASE_URL is set, otherwise in-memory.
	var (
		settlementStore   settlement.Store
		consultationStore consultation.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		settlementStore = settlement.NewPostgresStore(db)
		consultationStore = consultation.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		s.healthChecks.Register("database", health.DatabaseChecker("database", db))
	} else {
		mem := settlement.NewMemoryStore()
		s.memStore = mem
		settlementStore = mem
		consultationStore = mem
		s.logger.Warn("DATABASE_URL not set, using in-memory storage (data will be lost on restart)")
	}

	s.settlementService = settlement.NewService(
		settlementStore, s.platformClient,
		cfg.PlatformFeeRateInPercentage, cfg.CaptureWindow, cfg.NeglectWindow,
	)
	s.consultationService = consultation.NewService(consultationStore)

	// Router
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"code":    settlement.CodeUnexpectedError,
			"message": "unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Honor an existing request ID from a load balancer.
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.Hex(16)
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	settlementHandler := settlement.NewHandler(s.settlementService)
	consultationHandler := consultation.NewHandler(s.consultationService)

	api := s.router.Group("/api")
	settlementHandler.RegisterRoutes(api)
	consultationHandler.RegisterRoutes(api)

	admin := s.router.Group("/admin/api")
	admin.Use(adminauth.Middleware(s.tokens), adminauth.RequireAdmin())
	settlementHandler.RegisterAdminRoutes(admin)
}

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status string          `json:"status"`
	Checks []health.Status `json:"checks,omitempty"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, checks := s.healthChecks.CheckAll(c.Request.Context())

	resp := HealthResponse{Status: "healthy", Checks: checks}
	code := http.StatusOK
	if !healthy {
		resp.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	shutdownTraces, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Error("failed to initialize tracing", "error", err)
	} else {
		s.shutdownTraces = shutdownTraces
	}

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.shutdownTraces != nil {
		if err := s.shutdownTraces(ctx); err != nil {
			s.logger.Error("trace shutdown error", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
