package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/flybeeper/drone-sim/internal/auth"
	"github.com/flybeeper/drone-sim/internal/config"
	"github.com/flybeeper/drone-sim/internal/filter"
	"github.com/flybeeper/drone-sim/internal/metrics"
	"github.com/flybeeper/drone-sim/internal/repository"
	"github.com/flybeeper/drone-sim/internal/service"
	"github.com/flybeeper/drone-sim/pkg/utils"
)

// Pinger внешняя зависимость, доступность которой входит в health check
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatsSource отдает статистику одного компонента для /api/v1/stats
type StatsSource func(ctx context.Context) (interface{}, error)

// Dependencies компоненты, которые использует HTTP слой
type Dependencies struct {
	Simulation SimulationController
	Validation *service.ValidationService
	Progress   *service.ProgressTracker
	History    repository.HistoryRepository // nil если MySQL отключен
	Health     map[string]Pinger
	Stats      map[string]StatsSource
	Auth       *auth.Middleware    // nil или выключенный валидатор: управление без токена
	Import     *filter.FilterChain // nil: импорт без очистки
	Version    string
}

// Server HTTP сервер
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	logger      *utils.Logger
	config      *config.Config
	deps        Dependencies
	restHandler *RESTHandler
	wsHandler   *WebSocketHandler
}

// NewServer создает новый HTTP сервер
func NewServer(cfg *config.Config, deps Dependencies, logger *utils.Logger) *Server {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}
	if deps.Auth == nil {
		deps.Auth = auth.NewMiddleware(nil, logger.Entry())
	}

	router := gin.New()

	router.Use(LoggerMiddleware(logger))
	router.Use(gin.Recovery())
	router.Use(CORSMiddleware())
	router.Use(RateLimitMiddleware(cfg.Performance.RateLimitRPS, cfg.Performance.RateLimitBurst))
	router.Use(SecurityHeadersMiddleware())
	if cfg.Monitoring.MetricsEnabled {
		router.Use(metrics.HTTPMetricsMiddleware())
	}

	server := &Server{
		router:      router,
		logger:      logger,
		config:      cfg,
		deps:        deps,
		restHandler: NewRESTHandler(deps, cfg.Server.MaxUploadBytes, logger),
		wsHandler: NewWebSocketHandler(deps.Simulation, WebSocketConfig{
			PingInterval: cfg.Performance.WebSocketPingInterval,
			PongTimeout:  cfg.Performance.WebSocketPongTimeout,
			Buffer:       cfg.Performance.SubscriberBuffer,
			RequireToken: deps.Auth.Enabled(),
		}, logger.Entry()),
	}

	server.httpServer = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	server.setupRoutes()
	return server
}

// setupRoutes настраивает маршруты
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)

	requireOperator := s.deps.Auth.RequireOperator()

	v1 := s.router.Group("/api/v1")
	{
		sim := v1.Group("/simulation")
		sim.GET("", s.restHandler.GetSimulation)
		sim.GET("/progress", s.restHandler.GetProgress)
		sim.POST("/start", requireOperator, s.restHandler.Start)
		sim.POST("/pause", requireOperator, s.restHandler.Pause)
		sim.POST("/reset", requireOperator, s.restHandler.Reset)

		path := v1.Group("/path")
		path.GET("", s.restHandler.GetPath)
		path.PUT("", requireOperator, s.restHandler.ReplacePath)
		path.DELETE("", requireOperator, s.restHandler.ClearPath)
		path.POST("/waypoints", requireOperator, s.restHandler.AppendWaypoint)
		path.POST("/import", requireOperator, s.restHandler.ImportPath)

		v1.GET("/stats", s.statsHandler)
		v1.DELETE("/auth/token", s.deps.Auth.Logout)

		runs := v1.Group("/runs")
		runs.GET("", s.restHandler.ListRuns)
		runs.GET("/:run_id", s.restHandler.GetRun)
		runs.GET("/:run_id/telemetry", s.restHandler.GetTelemetry)
	}

	s.router.GET("/ws/v1/simulation", s.deps.Auth.OptionalOperator(), s.wsHandler.HandleWebSocket)

	if s.config.Monitoring.MetricsEnabled {
		s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
}

// Router возвращает gin engine (используется в тестах)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// WebSocket возвращает hub рассылки снимков
func (s *Server) WebSocket() *WebSocketHandler {
	return s.wsHandler
}

// Start запускает HTTP сервер и рассылку снимков в WebSocket
func (s *Server) Start(ctx context.Context) error {
	s.wsHandler.Start(ctx)

	s.logger.WithFields(map[string]interface{}{
		"address": s.config.Server.Address,
		"mode":    gin.Mode(),
	}).Info("Starting HTTP server")

	return s.httpServer.ListenAndServe()
}

// Shutdown корректное завершение сервера
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// healthCheck проверяет доступность зависимостей
func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	components := make(map[string]string, len(s.deps.Health))
	for name, p := range s.deps.Health {
		if err := p.Ping(ctx); err != nil {
			components[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	snap := s.deps.Simulation.Snapshot()
	c.JSON(code, gin.H{
		"status":     status,
		"timestamp":  time.Now().Unix(),
		"version":    s.deps.Version,
		"simulation": snap.Status.String(),
		"sequence":   snap.Sequence,
		"clients":    s.wsHandler.ClientCount(),
		"components": components,
	})
}

// statsHandler собирает статистику подключенных компонентов.
// Ошибка одного компонента не скрывает остальные.
func (s *Server) statsHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	components := make(map[string]interface{}, len(s.deps.Stats)+2)
	for name, source := range s.deps.Stats {
		stats, err := source(ctx)
		if err != nil {
			s.logger.WithFields(map[string]interface{}{
				"component": name,
				"error":     err,
			}).Warn("Failed to collect component stats")
			components[name] = gin.H{"error": err.Error()}
			continue
		}
		components[name] = stats
	}
	components["websocket"] = gin.H{"clients": s.wsHandler.ClientCount()}
	if s.deps.Validation != nil {
		components["validation"] = s.deps.Validation.GetMetrics()
	}

	c.JSON(http.StatusOK, gin.H{
		"timestamp":  time.Now().Unix(),
		"components": components,
	})
}

// ==================== Middleware ====================

// LoggerMiddleware логирование запросов
func LoggerMiddleware(logger *utils.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.Request.URL.Path
		fields := map[string]interface{}{
			"method":     c.Request.Method,
			"path":       path,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
		}

		// Скрейп метрик и health check не засоряют лог
		if path == "/metrics" || path == "/health" {
			logger.WithFields(fields).Debug("HTTP request completed")
			return
		}
		logger.WithFields(fields).Info("HTTP request completed")
	}
}

// CORSMiddleware настройка CORS
func CORSMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:   []string{"Content-Length"},
		MaxAge:          12 * time.Hour,
	})
}

// RateLimitMiddleware ограничение частоты запросов
func RateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		rps = 100
	}
	if burst <= 0 {
		burst = 200
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return func(c *gin.Context) {
		// WebSocket держит одно долгое соединение
		if strings.HasPrefix(c.Request.URL.Path, "/ws/") {
			c.Next()
			return
		}
		if !limiter.Allow() {
			respondError(c, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many requests")
			return
		}
		c.Next()
	}
}

// SecurityHeadersMiddleware заголовки безопасности
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Content-Security-Policy", "default-src 'self'")
		c.Next()
	}
}
