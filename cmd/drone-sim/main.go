package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flybeeper/drone-sim/internal/auth"
	"github.com/flybeeper/drone-sim/internal/clock"
	"github.com/flybeeper/drone-sim/internal/config"
	"github.com/flybeeper/drone-sim/internal/filter"
	"github.com/flybeeper/drone-sim/internal/geo"
	"github.com/flybeeper/drone-sim/internal/handler"
	"github.com/flybeeper/drone-sim/internal/metrics"
	"github.com/flybeeper/drone-sim/internal/models"
	"github.com/flybeeper/drone-sim/internal/mqtt"
	"github.com/flybeeper/drone-sim/internal/repository"
	"github.com/flybeeper/drone-sim/internal/service"
	"github.com/flybeeper/drone-sim/internal/simulation"
	"github.com/flybeeper/drone-sim/internal/tracing"
	"github.com/flybeeper/drone-sim/pkg/utils"
)

var (
	// Version будет установлен при сборке через ldflags
	Version = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := utils.NewLogger(config.LogLevel(), config.LogFormat())
	utils.SetDefaultLogger(logger)
	logger.WithFields(map[string]interface{}{
		"version":  Version,
		"geometry": cfg.Simulation.Geometry,
		"interval": cfg.Simulation.TickInterval,
		"speed":    cfg.Simulation.Speed,
	}).Info("Starting drone simulator")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, logger)
	if err != nil {
		logger.WithField("error", err).Fatal("Failed to initialize tracing")
	}

	metrics.SetAppInfo(Version, cfg.Simulation.Geometry)

	// Геометрия и движок
	provider, err := geo.NewProvider(cfg.Simulation.Geometry)
	if err != nil {
		logger.WithField("error", err).Fatal("Failed to create geometry provider")
	}
	var distanceCache *geo.CachedProvider
	if cfg.Simulation.DistanceCacheSize > 0 {
		distanceCache = geo.NewCachedProvider(provider, cfg.Simulation.DistanceCacheSize)
		provider = distanceCache
	}

	sim := simulation.New(provider, cfg.Simulation.Speed, cfg.Simulation.TickInterval, logger)
	validation := service.NewValidationService(logger, service.DefaultValidationConfig())
	health := make(map[string]handler.Pinger)
	stats := make(map[string]handler.StatsSource)
	var sinks service.RecorderSinks

	// Redis (опционально): живое состояние и восстановление маршрута
	var redisRepo *repository.RedisRepository
	if cfg.RedisEnabled() {
		redisRepo, err = repository.NewRedisRepository(&cfg.Redis, logger)
		if err != nil {
			logger.WithField("error", err).Warn("Failed to initialize Redis repository")
		} else if err := redisRepo.Ping(ctx); err != nil {
			logger.WithField("error", err).Warn("Failed to connect to Redis, state will not be persisted")
			redisRepo.Close()
			redisRepo = nil
		} else {
			defer redisRepo.Close()
			logger.Info("Connected to Redis")
			health["redis"] = redisRepo
			stats["redis"] = func(ctx context.Context) (interface{}, error) {
				return redisRepo.GetStats(ctx)
			}
			sinks.State = redisRepo
		}
	}

	restoreRoute(ctx, cfg, redisRepo, sim, validation, logger)

	// MySQL (опционально): история прогонов и телеметрия
	var mysqlRepo *repository.MySQLRepository
	var batchWriter *service.BatchWriter
	if cfg.HistoryEnabled() {
		mysqlRepo, err = openHistory(ctx, cfg, logger)
		if err != nil {
			logger.WithField("error", err).Warn("Run history disabled")
		} else {
			defer mysqlRepo.Close()
			health["mysql"] = mysqlRepo
			stats["mysql"] = func(ctx context.Context) (interface{}, error) {
				return mysqlRepo.GetStats(ctx)
			}
			sinks.Runs = mysqlRepo

			batchCfg := service.DefaultBatchConfig()
			batchCfg.BatchSize = cfg.Batch.Size
			batchCfg.FlushInterval = cfg.Batch.FlushInterval
			batchCfg.ChannelBuffer = cfg.Batch.QueueSize
			batchCfg.MaxRetries = cfg.Batch.MaxRetries
			batchWriter = service.NewBatchWriter(mysqlRepo, logger, batchCfg)
			stats["batch_writer"] = func(context.Context) (interface{}, error) {
				m := batchWriter.GetMetrics()
				return &m, nil
			}
			sinks.Telemetry = batchWriter

			if cfg.MySQL.Retention > 0 {
				go cleanupLoop(ctx, mysqlRepo, cfg.MySQL.Retention, logger)
			}
		}
	}

	// MQTT (опционально): телеметрия и команды
	var mqttClient *mqtt.Client
	if cfg.MQTTEnabled() {
		mqttClient, err = mqtt.NewClient(&cfg.MQTT, logger, mqtt.NewCommandHandler(sim, validation))
		if err != nil {
			logger.WithField("error", err).Fatal("Failed to initialize MQTT client")
		}
		// Клиент переподключается сам, сбой первого подключения не фатален
		if err := mqttClient.Connect(); err != nil {
			logger.WithField("error", err).Warn("MQTT broker unavailable, will keep retrying")
		}
		sinks.Publisher = mqttClient
		stats["mqtt"] = func(context.Context) (interface{}, error) {
			return mqttClient.GetStats(), nil
		}
	}
	if distanceCache != nil {
		stats["distance_cache"] = func(context.Context) (interface{}, error) {
			return distanceCache.Stats(), nil
		}
	}

	// Планировщик тиков работает независимо от статуса симуляции
	clk := clock.New(cfg.Simulation.TickInterval, func(ctx context.Context, at time.Time) {
		sim.Tick(ctx)
	})
	stats["clock"] = func(context.Context) (interface{}, error) {
		return map[string]interface{}{
			"ticks":    clk.Ticks(),
			"running":  clk.Running(),
			"interval": clk.Interval().String(),
		}, nil
	}

	// Рекордер получает все снимки симулятора
	snapshots, unsubscribe := sim.Subscribe(cfg.Performance.SubscriberBuffer)
	recorder := service.NewRecorder(sinks, logger)
	recorderDone := make(chan struct{})
	go func() {
		defer close(recorderDone)
		recorder.Run(ctx, snapshots)
	}()

	authMiddleware, err := newAuth(cfg, redisRepo, logger)
	if err != nil {
		logger.WithField("error", err).Fatal("Failed to configure authentication")
	}

	deps := handler.Dependencies{
		Simulation: sim,
		Validation: validation,
		Progress:   service.NewProgressTracker(provider),
		Health:     health,
		Stats:      stats,
		Auth:       authMiddleware,
		Import:     newImportFilter(cfg, provider, logger),
		Version:    Version,
	}
	if mysqlRepo != nil {
		deps.History = mysqlRepo
	}
	server := handler.NewServer(cfg, deps, logger)

	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithField("error", err).Error("HTTP server failed")
			cancel()
		}
	}()

	clockDone := clk.Start(ctx)

	if cfg.Simulation.AutoStart {
		sim.Start(ctx)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.WithField("signal", sig).Info("Received shutdown signal")
	case <-ctx.Done():
	}

	// Graceful shutdown
	cancel()
	<-clockDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithField("error", err).Error("HTTP server shutdown error")
	}

	unsubscribe()
	<-recorderDone

	if batchWriter != nil {
		batchWriter.Stop()
	}
	if mqttClient != nil {
		mqttClient.Disconnect()
	}
	tracing.ShutdownWithTimeout(context.Background(), shutdownTracing, 5*time.Second, logger)

	if distanceCache != nil {
		logger.WithFields(distanceCache.Stats()).Debug("Distance cache statistics")
	}
	logger.WithField("ticks", clk.Ticks()).Info("Drone simulator stopped gracefully")
}

// restoreRoute восстанавливает маршрут из Redis или загружает маршрут по умолчанию
func restoreRoute(ctx context.Context, cfg *config.Config, redisRepo *repository.RedisRepository, sim *simulation.Simulator, validation *service.ValidationService, logger *utils.Logger) {
	if redisRepo != nil {
		route, err := redisRepo.LoadRoute(ctx)
		switch {
		case err != nil:
			logger.WithField("error", err).Warn("Failed to load persisted route")
		case len(route) > 0:
			if err := validation.ValidatePath(route, service.SourceImport); err != nil {
				logger.WithField("error", err).Warn("Persisted route is invalid, ignoring")
				break
			}
			sim.ReplacePath(route)
			logger.WithField("waypoints", len(route)).Info("Restored route from Redis")
			return
		}
	}

	if cfg.Simulation.SeedDefaultRoute {
		route := models.DefaultRoute()
		sim.ReplacePath(route)
		logger.WithField("waypoints", len(route)).Info("Seeded default route")
	}
}

// newAuth собирает проверку токенов операторов; кеш внешних токенов живет в Redis
func newAuth(cfg *config.Config, redisRepo *repository.RedisRepository, logger *utils.Logger) (*auth.Middleware, error) {
	static, err := auth.ParseStaticTokens(cfg.Auth.Tokens)
	if err != nil {
		return nil, err
	}

	var cache *auth.Cache
	if redisRepo != nil {
		cache = auth.NewCache(redisRepo.Client(), cfg.Auth.CacheTTL)
	}

	validator := auth.NewValidator(static, cfg.Auth.Endpoint, cache, logger.Entry())
	if validator.Enabled() {
		logger.WithFields(map[string]interface{}{
			"static_tokens": len(static),
			"endpoint":      cfg.Auth.Endpoint != "",
		}).Info("Operator authentication enabled")
	} else {
		logger.Warn("Operator authentication disabled, control endpoints are open")
	}
	return auth.NewMiddleware(validator, logger.Entry()), nil
}

// newImportFilter собирает очистку импортируемых маршрутов
func newImportFilter(cfg *config.Config, provider geo.Provider, logger *utils.Logger) *filter.FilterChain {
	filterCfg := filter.DefaultFilterConfig()
	if cfg.Import.DedupDistance > 0 {
		filterCfg.MinDistance = cfg.Import.DedupDistance
		filterCfg.EnableDuplicateFilter = true
	}
	if cfg.Import.OutlierThreshold > 0 {
		filterCfg.OutlierThreshold = cfg.Import.OutlierThreshold
		filterCfg.EnableOutlierFilter = true
	}
	return filter.NewFilterChain(filterCfg, provider, logger)
}

// openHistory подключает MySQL и создает схему
func openHistory(ctx context.Context, cfg *config.Config, logger *utils.Logger) (*repository.MySQLRepository, error) {
	repo, err := repository.NewMySQLRepository(&cfg.MySQL, logger)
	if err != nil {
		return nil, err
	}
	if err := repo.Ping(ctx); err != nil {
		repo.Close()
		return nil, err
	}
	if err := repo.EnsureSchema(ctx); err != nil {
		repo.Close()
		return nil, err
	}
	logger.Info("Connected to MySQL")
	return repo, nil
}

// cleanupLoop периодически удаляет старые прогоны
func cleanupLoop(ctx context.Context, repo repository.HistoryRepository, retention time.Duration, logger *utils.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := repo.CleanupOldRuns(ctx, retention); err != nil {
				logger.WithField("error", err).Warn("Failed to clean up old runs")
			}
		}
	}
}
