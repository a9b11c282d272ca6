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

	"github.com/mbd888/shelfswap/internal/auth"
	"github.com/mbd888/shelfswap/internal/config"
	"github.com/mbd888/shelfswap/internal/dispute"
	"github.com/mbd888/shelfswap/internal/events"
	"github.com/mbd888/shelfswap/internal/ledger"
	"github.com/mbd888/shelfswap/internal/logging"
	"github.com/mbd888/shelfswap/internal/metrics"
	"github.com/mbd888/shelfswap/internal/order"
	"github.com/mbd888/shelfswap/internal/payments"
	"github.com/mbd888/shelfswap/internal/ratelimit"
	"github.com/mbd888/shelfswap/internal/realtime"
	"github.com/mbd888/shelfswap/internal/security"
	"github.com/mbd888/shelfswap/internal/traces"
	"github.com/mbd888/shelfswap/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg            *config.Config
	authMgr        *auth.Manager
	ledger         *ledger.Ledger
	ledgerEvents   ledger.EventStore
	processor      payments.Processor
	orderService   *order.Service
	orderTimer     *order.Timer
	disputeService *dispute.Service
	disputeTimer   *dispute.Timer
	emitter        *events.Emitter
	eventStore     events.Store
	eventLog       events.LogStore
	realtimeHub    *realtime.Hub
	rateLimiter    *ratelimit.Limiter
	db             *sql.DB // nil if using in-memory
	router         *gin.Engine
	httpSrv        *http.Server
	logger         *slog.Logger
	cancelRunCtx   context.CancelFunc // cancels background goroutines started in Run
	shutdownTraces func(context.Context) error

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

// WithProcessor sets a custom payment processor (for testing)
func WithProcessor(p payments.Processor) Option {
	return func(s *Server) {
		s.processor = p
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set processor/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Storage layer (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		orderStore   order.Store
		disputeStore dispute.Store
		webhookStore events.Store
		eventLog     events.LogStore
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		s.authMgr = auth.NewManager(auth.NewPostgresStore(db))

		ledgerStore := ledger.NewPostgresStore(db)
		s.ledger = ledger.New(ledgerStore)
		s.ledgerEvents = ledgerStore

		orderStore = order.NewPostgresStore(db)
		disputeStore = dispute.NewPostgresStore(db)

		eventPG := events.NewPostgresStore(db)
		webhookStore = eventPG
		eventLog = eventPG
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")

		s.authMgr = auth.NewManager(auth.NewMemoryStore())

		ledgerStore := ledger.NewMemoryStore()
		s.ledger = ledger.New(ledgerStore)
		s.ledgerEvents = ledgerStore

		orderStore = order.NewMemoryStore()
		disputeStore = dispute.NewMemoryStore()

		eventMem := events.NewMemoryStore()
		webhookStore = eventMem
		eventLog = eventMem
	}
	s.eventStore = webhookStore
	s.eventLog = eventLog

	// Payment processor: real Stripe when configured, mock otherwise.
	// Releases to sellers need a connected-account resolver, which the
	// platform does not provide yet; until then releases through Stripe
	// fail permanently and the ledger keeps the funds held.
	if s.processor == nil {
		if cfg.StripeAPIKey != "" {
			stripeProc := payments.NewStripeProcessor(cfg.StripeAPIKey, nil)
			s.processor = payments.NewRetryingProcessor(stripeProc, 4, 500*time.Millisecond, s.logger)
			s.logger.Info("stripe payments enabled")
		} else {
			s.processor = payments.NewMockProcessor()
			s.logger.Info("using mock payment processor (demo mode)")
		}
	}

	// Domain events: append to log, fan out to webhooks and websockets
	dispatcher := events.NewDispatcher(webhookStore)
	s.emitter = events.NewEmitter(dispatcher, eventLog, s.logger)
	s.logger.Info("webhooks enabled")

	// Order workflow
	s.orderService = order.NewService(orderStore, s.ledger, s.processor, s.logger).
		WithEmitter(s.emitter).
		WithPaymentTimeout(cfg.PaymentTimeout).
		WithGracePeriod(cfg.GracePeriod)
	s.orderTimer = order.NewTimer(s.orderService, orderStore, s.logger)
	s.logger.Info("order workflow enabled",
		"paymentTimeout", cfg.PaymentTimeout,
		"gracePeriod", cfg.GracePeriod,
	)

	// Dispute workflow (shares order locks with the order service)
	s.disputeService = dispute.NewService(disputeStore, s.orderService, s.ledger, s.processor, s.logger).
		WithEmitter(s.emitter).
		WithEscalation(cfg.EscalationPeriod).
		WithMaxEvidenceBytes(cfg.MaxEvidenceBytes)
	s.disputeTimer = dispute.NewTimer(s.disputeService, disputeStore, s.logger)
	s.logger.Info("dispute workflow enabled", "escalation", cfg.EscalationPeriod)

	s.logger.Info("API authentication enabled")

	// Realtime hub for WebSocket streaming; sees every emitted event
	s.realtimeHub = realtime.NewHub(s.logger)
	s.emitter.AddListener(s.realtimeHub.Listener())
	s.logger.Info("realtime streaming enabled")

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

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

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

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rlCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		rlCfg.RequestsPerMinute = s.cfg.RateLimitRPS * 60
		rlCfg.BurstSize = s.cfg.RateLimitRPS * 2
	}
	s.rateLimiter = ratelimit.New(rlCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
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

		// Log level based on status code
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

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// API info
	s.router.GET("/", s.infoHandler)

	// WebSocket for real-time event streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// V1 API group
	v1 := s.router.Group("/v1")
	// Validate :id URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.UserParamMiddleware())

	authHandler := auth.NewHandler(s.authMgr)
	orderHandler := order.NewHandler(s.orderService)
	disputeHandler := dispute.NewHandler(s.disputeService)
	ledgerHandler := ledger.NewHandler(s.ledger, s.ledgerEvents)
	eventsHandler := events.NewHandler(s.eventStore, s.eventLog)

	// PUBLIC ROUTES (no auth required)
	v1.GET("/platform", s.platformHandler)
	v1.GET("/auth/info", authHandler.Info)

	// REGISTRATION (public but returns API key)
	v1.POST("/register", authHandler.Register)

	// PROTECTED ROUTES (require API key)
	protected := v1.Group("")
	protected.Use(auth.Middleware(s.authMgr), auth.RequireAuth(s.authMgr))
	{
		// Order lifecycle (buyer and seller actions)
		orderHandler.RegisterRoutes(protected)

		// Disputes: open, messages, evidence, withdraw
		disputeHandler.RegisterRoutes(protected)

		// Balances and ledger history
		ledgerHandler.RegisterRoutes(protected)

		// Webhook subscription management
		eventsHandler.RegisterRoutes(protected)

		// API key management
		protected.GET("/auth/keys", authHandler.ListKeys)
		protected.POST("/auth/keys", authHandler.CreateKey)
		protected.DELETE("/auth/keys/:keyId", authHandler.RevokeKey)
		protected.GET("/auth/me", authHandler.GetCurrentUser)
	}

	// SUPPORT ROUTES (require a support-role key)
	support := v1.Group("")
	support.Use(auth.Middleware(s.authMgr), auth.RequireSupport(s.authMgr))
	{
		// Dispute queue and resolution
		disputeHandler.RegisterSupportRoutes(support)

		// Ledger reconciliation (event replay vs stored balances)
		ledgerHandler.RegisterSupportRoutes(support)

		// Recent domain events
		eventsHandler.RegisterSupportRoutes(support)
	}

	// ADMIN ROUTES
	// RequireAdmin checks X-Admin-Secret header (or allows any auth in demo mode).
	admin := v1.Group("/admin")
	admin.Use(auth.Middleware(s.authMgr), auth.RequireAdmin())
	{
		admin.POST("/support-keys", authHandler.CreateSupportKey)
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	checks := make(map[string]string)

	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		if err := s.db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
		} else {
			checks["database"] = "healthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	for _, v := range checks {
		if v != "healthy" {
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
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

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "ShelfSwap",
		"description": "Marketplace transaction and dispute resolution engine",
		"version":     "0.1.0",
		"currency":    "EUR",
	})
}

// platformHandler returns platform info and a quickstart
func (s *Server) platformHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"platform": gin.H{
			"name":     "ShelfSwap",
			"version":  "0.1.0",
			"currency": "EUR",
		},
		"instructions": gin.H{
			"register": "POST /v1/register to get an API key",
			"order":    "POST /v1/orders, then pay, ship, and confirm delivery",
			"dispute":  "POST /v1/orders/{id}/dispute before the order completes",
			"events":   "POST /v1/webhooks to subscribe, or connect to /ws",
		},
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
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

	// Tracing (no-op without OTLP_ENDPOINT)
	shutdownTraces, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.shutdownTraces = shutdownTraces
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	if s.realtimeHub != nil {
		go s.realtimeHub.Run(runCtx)
	}

	// Start order deadline timer (payment timeouts, auto-completion)
	if s.orderTimer != nil {
		go s.orderTimer.Start(runCtx)
	}

	// Start dispute escalation timer
	if s.disputeTimer != nil {
		go s.disputeTimer.Start(runCtx)
	}

	// Export DB pool stats
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
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

	// Cancel the context for all background goroutines (hub, timers)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop order timer
	if s.orderTimer != nil {
		s.orderTimer.Stop()
		s.logger.Info("order timer stopped")
	}

	// Stop dispute timer
	if s.disputeTimer != nil {
		s.disputeTimer.Stop()
		s.logger.Info("dispute timer stopped")
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Flush pending trace spans
	if s.shutdownTraces != nil {
		if err := s.shutdownTraces(ctx); err != nil {
			s.logger.Error("trace shutdown error", "error", err)
		}
	}

	// Close database connection pool
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

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
