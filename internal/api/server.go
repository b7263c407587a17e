package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/symptom-expert-server/internal/domain"
	"github.com/symptom-expert-server/internal/middleware"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

const (
	maxRequestBytes = 64 << 10
	sweepInterval   = time.Minute
)

// Server represents the HTTP server
type Server struct {
	configManager domain.ConfigManager
	engine        domain.DiagnosisEngine
	logger        *logrus.Logger
	router        *gin.Engine
	server        *http.Server
	limiter       *middleware.RateLimiter
	upgrader      websocket.Upgrader
}

// NewServer creates a new HTTP server instance
func NewServer(configManager domain.ConfigManager, engine domain.DiagnosisEngine, logger *logrus.Logger) *Server {
	cfg := configManager.GetConfig()

	// Set Gin mode based on log level
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(corsMiddleware())

	server := &Server{
		configManager: configManager,
		engine:        engine,
		logger:        logger,
		router:        router,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}

	if cfg.RateLimit.Enabled {
		server.limiter = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}

	server.setupRoutes()

	return server
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	if s.limiter != nil {
		go s.sweepLimiter(ctx)
	}

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) sweepLimiter(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.limiter.Sweep(); n > 0 {
				s.logger.WithField("clients", n).Debug("Dropped idle rate limit entries")
			}
		}
	}
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	if s.limiter != nil {
		v1.Use(s.limiter.Middleware())
	}
	{
		v1.GET("/config", s.handleConfig)
		v1.GET("/rules/:id", s.handleGetRule)
		v1.POST("/diagnose", middleware.RequestTimeout(s.configManager.GetServerConfig().RequestTimeout), s.handleDiagnose)
		v1.GET("/ws", s.handleWebSocket)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	kb := s.engine.KnowledgeBase()
	if kb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "unhealthy",
			"timestamp": time.Now().UTC(),
			"version":   Version,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"timestamp":      time.Now().UTC(),
		"version":        Version,
		"knowledge_base": kb.Fingerprint(),
		"rules":          len(kb.Rules()),
	})
}

// handleConfig exposes the vocabulary a client needs to build a request
func (s *Server) handleConfig(c *gin.Context) {
	kb := s.engine.KnowledgeBase()
	if kb == nil {
		s.writeError(c, domain.NewAPIError(domain.ErrKnowledgeBase, "Knowledge base not loaded", "", middleware.GetCorrelationID(c)))
		return
	}
	c.JSON(http.StatusOK, domain.Summarize(kb))
}

func (s *Server) handleGetRule(c *gin.Context) {
	id := c.Param("id")
	kb := s.engine.KnowledgeBase()
	if kb == nil {
		s.writeError(c, domain.NewAPIError(domain.ErrKnowledgeBase, "Knowledge base not loaded", "", middleware.GetCorrelationID(c)))
		return
	}

	rule, ok := kb.Rule(id)
	if !ok {
		s.writeError(c, fmt.Errorf("rule %q: %w", id, domain.ErrNotFound))
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (s *Server) handleDiagnose(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBytes)

	var req domain.DiagnosisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, domain.NewAPIError(domain.ErrInvalidInput, "Invalid request body", err.Error(), middleware.GetCorrelationID(c)))
		return
	}

	resp, err := s.engine.Diagnose(c.Request.Context(), &req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) writeError(c *gin.Context, err error) {
	apiErr := domain.APIErrorFrom(err, middleware.GetCorrelationID(c))
	status := statusFor(apiErr.Code)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithField("correlation_id", apiErr.RequestID).Error("Request failed")
	}
	c.AbortWithStatusJSON(status, apiErr)
}

func statusFor(code string) int {
	switch code {
	case domain.ErrInvalidInput, domain.ErrEmptySymptoms, domain.ErrValidation:
		return http.StatusBadRequest
	case domain.ErrNotFoundCode:
		return http.StatusNotFound
	case domain.ErrRateLimit:
		return http.StatusTooManyRequests
	case domain.ErrRequestTimeoutCode:
		return http.StatusRequestTimeout
	case domain.ErrKnowledgeBase:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, "+middleware.CorrelationIDHeader)
		c.Header("Access-Control-Expose-Headers", "Content-Length, "+middleware.CorrelationIDHeader)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
