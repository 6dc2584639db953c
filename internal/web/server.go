package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/actuation"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/events"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/health"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/serial"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/service"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/state"
)

// Server is the local status and metrics API
type Server struct {
	*service.ServiceBase
	config     *config.WebConfig
	logger     *logger.Logger
	httpServer *http.Server
	router     *gin.Engine
	deps       Dependencies
	version    string
	startTime  time.Time
	addr       string
	routesOnce sync.Once
}

// HealthChecker produces a health report
type HealthChecker interface {
	Check(ctx context.Context) health.HealthReport
}

// Coordinator exposes the response sequence state
type Coordinator interface {
	State() actuation.State
	LastError() error
}

// QueueReader exposes the offline queue
type QueueReader interface {
	Len(ctx context.Context) (int, error)
	List(ctx context.Context) ([]*events.DetectionEvent, error)
	Path() string
}

// Ledger exposes the detection ledger
type Ledger interface {
	GetDetection(ctx context.Context, id string) (*state.DetectionRecord, error)
	ListDetections(ctx context.Context, status state.DetectionStatus, limit int) ([]state.DetectionRecord, error)
	CountByStatus(ctx context.Context) (map[state.DetectionStatus]int, error)
	LastDrain(ctx context.Context) (*state.DrainRecord, error)
	GetSystemState(ctx context.Context, key string) (string, error)
}

// SensorReader exposes the last sensor snapshot
type SensorReader interface {
	Last() (serial.Snapshot, bool)
}

// ConnectivityReader exposes the last connectivity state
type ConnectivityReader interface {
	Online() bool
}

// Drainer runs one queue drain on demand
type Drainer interface {
	DrainNow(ctx context.Context) (events.DrainResult, error)
}

// DrainerFunc adapts a function to Drainer
type DrainerFunc func(ctx context.Context) (events.DrainResult, error)

// DrainNow calls f
func (f DrainerFunc) DrainNow(ctx context.Context) (events.DrainResult, error) {
	return f(ctx)
}

// Dependencies are the components the API reports on. Any may be nil; the
// matching endpoints then answer 503.
type Dependencies struct {
	Health       HealthChecker
	Coordinator  Coordinator
	Queue        QueueReader
	Ledger       Ledger
	Sensor       SensorReader
	Connectivity ConnectivityReader
	Drainer      Drainer
	Gatherer     prometheus.Gatherer
}

// NewServer creates a new web server service
func NewServer(cfg *config.WebConfig, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	return &Server{
		ServiceBase: service.NewServiceBase("web-server", log),
		config:      cfg,
		logger:      log,
		router:      router,
		version:     "dev",
		startTime:   time.Now(),
	}
}

// SetVersion sets the application version
func (s *Server) SetVersion(version string) {
	s.version = version
}

// SetDependencies sets the components served by the API. Must be called
// before Start.
func (s *Server) SetDependencies(deps Dependencies) {
	s.deps = deps
}

// Handler returns the HTTP handler with all routes installed
func (s *Server) Handler() http.Handler {
	s.setupRoutes()
	return s.router
}

// Addr returns the listening address once started
func (s *Server) Addr() string {
	return s.addr
}

// Start starts the web server. The listener is opened before Start returns,
// so a busy port is reported as a start failure.
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.LogInfo("Web server is disabled")
		return nil
	}

	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.addr = ln.Addr().String()

	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.LogError("Web server error", err, "address", s.addr)
		}
	}()

	s.LogInfo("Web server started", "address", s.addr)
	return nil
}

// Stop stops the web server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.LogInfo("Stopping web server")
	return s.httpServer.Shutdown(ctx)
}

// setupRoutes sets up all routes, once
func (s *Server) setupRoutes() {
	s.routesOnce.Do(s.installRoutes)
}

func (s *Server) installRoutes() {
	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/health/live", s.handleLiveness)
		api.GET("/status", s.handleStatus)

		detections := api.Group("/detections")
		{
			detections.GET("", s.handleListDetections)
			detections.GET("/:id", s.handleGetDetection)
		}

		queue := api.Group("/queue")
		{
			queue.GET("", s.handleListQueue)
			queue.POST("/drain", s.handleDrainQueue)
		}
	}

	if s.deps.Gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
}

// ginLogger creates a Gin middleware for logging
func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

// corsMiddleware allows dashboards on the local network to read the API
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
