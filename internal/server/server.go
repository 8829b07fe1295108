// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
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

	"github.com/propguard/riskwatch/internal/config"
	"github.com/propguard/riskwatch/internal/health"
	"github.com/propguard/riskwatch/internal/logging"
	"github.com/propguard/riskwatch/internal/metrics"
	"github.com/propguard/riskwatch/internal/notify"
	"github.com/propguard/riskwatch/internal/ratelimit"
	"github.com/propguard/riskwatch/internal/realtime"
	"github.com/propguard/riskwatch/internal/retry"
	"github.com/propguard/riskwatch/internal/risk"
	"github.com/propguard/riskwatch/internal/scheduler"
	"github.com/propguard/riskwatch/internal/security"
	"github.com/propguard/riskwatch/internal/traces"
)

// Server wraps the HTTP server and the risk evaluation pipeline.
type Server struct {
	cfg     *config.Config
	runtime *config.Runtime

	trades    risk.TradeStore
	snapshots risk.SnapshotStore

	sched       *scheduler.Scheduler
	notifier    *notify.Notifier
	realtimeHub *realtime.Hub
	rateLimiter *ratelimit.Limiter
	healthReg   *health.Registry

	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run
	shutdownTrc  func(context.Context) error

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithStore injects a store (for testing with the in-memory implementation).
func WithStore(store *risk.MemoryStore) Option {
	return func(s *Server) {
		s.trades = store
		s.snapshots = store
	}
}

// New creates a new server instance.
func New(cfg *config.Config, runtime *config.Runtime, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:     cfg,
		runtime: runtime,
		logger:  logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set store/logger)
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Tracing (no-op when no endpoint configured)
	shutdownTraces, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.shutdownTrc = shutdownTraces

	// Storage: Postgres if DATABASE_URL set, otherwise in-memory
	if s.trades == nil {
		if cfg.DatabaseURL != "" {
			db, err := openDatabase(ctx, cfg.DatabaseURL)
			if err != nil {
				return nil, err
			}
			s.db = db

			store := risk.NewPostgresStore(db)
			if err := store.Migrate(ctx); err != nil {
				s.logger.Warn("failed to migrate risk store", "error", err)
			}
			s.trades = store
			s.snapshots = store
			s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
		} else {
			store := risk.NewMemoryStore()
			s.trades = store
			s.snapshots = store
			s.logger.Info("using in-memory storage (data will not persist)")
		}
	}

	// Webhook notifier for threshold breaches
	s.notifier = notify.New(cfg.WebhookURL, cfg.WebhookTimeout, s.logger)
	if cfg.WebhookURL != "" {
		s.logger.Info("webhook alerts enabled", "timeout", cfg.WebhookTimeout)
	} else {
		s.logger.Info("webhook alerts disabled (no WEBHOOK_URL set)")
	}

	// Realtime alert stream
	s.realtimeHub = realtime.NewHub(s.logger)

	// Evaluation scheduler
	s.sched = scheduler.New(s.trades, s.snapshots, runtime,
		cfg.EvalInterval, s.logger, s.notifier, s.realtimeHub)
	s.logger.Info("scheduler configured", "interval", cfg.EvalInterval)

	// Health checks
	s.healthReg = health.NewRegistry()
	s.healthReg.Register("scheduler", func(ctx context.Context) health.Status {
		if !s.sched.Running() {
			return health.Fail("scheduler", "evaluation loop not running")
		}
		return health.Pass("scheduler")
	})
	if s.db != nil {
		s.healthReg.Register("database", func(ctx context.Context) health.Status {
			if err := s.db.PingContext(ctx); err != nil {
				return health.Fail("database", err.Error())
			}
			return health.Pass("database")
		})
	}

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// openDatabase opens and pings the connection pool. The ping is retried
// because a service start often races the database start under compose.
func openDatabase(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := retry.Do(ctx, 5, time.Second, func() error {
		return db.PingContext(ctx)
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// maskDSN hides the password in a connection string for logging.
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
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPM,
		BurstSize:         s.cfg.RateLimitRPM / 6,
		CleanupInterval:   time.Minute,
	})
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
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

func generateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

func (s *Server) setupRoutes() {
	s.router.GET("/", s.infoHandler)
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	s.router.GET("/risk-report/:login", s.getRiskReport)
	s.router.GET("/risk/user/:user_id", s.getUserRiskReport)
	s.router.GET("/risk/challenge/:challenge_id", s.getChallengeRiskReport)

	admin := s.router.Group("/admin", s.adminAuthMiddleware())
	admin.GET("/config", s.getConfig)
	admin.POST("/config", s.updateConfig)

	s.router.GET("/ws/alerts", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})
}

// Run starts the HTTP server and the background pipeline, then blocks until
// a shutdown signal, a server error, or ctx cancellation.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

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
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)
	go s.sched.Start(runCtx)

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

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

// Shutdown gracefully stops the server and the background pipeline.
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

	s.sched.Stop()
	s.logger.Info("scheduler stopped")

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.shutdownTrc != nil {
		if err := s.shutdownTrc(ctx); err != nil {
			s.logger.Error("tracer shutdown error", "error", err)
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

// Router returns the gin router for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Scheduler returns the evaluation scheduler handle.
func (s *Server) Scheduler() *scheduler.Scheduler {
	return s.sched
}
