package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flybeeper/drone-sim/internal/config"
	"github.com/flybeeper/drone-sim/internal/metrics"
	"github.com/flybeeper/drone-sim/internal/models"
	"github.com/flybeeper/drone-sim/pkg/utils"
)

const (
	// Снимок состояния целиком (JSON)
	SnapshotKey = "sim:snapshot"

	// GEO индекс живой позиции
	GeoKey    = "sim:geo"
	GeoMember = "drone"

	// Списки точек в формате "lat,lng"
	RouteKey = "sim:route"
	TrailKey = "sim:trail"

	// TTL снимка по умолчанию
	SnapshotTTL = 24 * time.Hour

	// Максимум точек маршрута, хранимых в Redis
	MaxRoutePoints = 10000
)

// RedisRepository репозиторий живого состояния в Redis
type RedisRepository struct {
	client *redis.Client
	logger *utils.Logger
	config *config.RedisConfig
}

// NewRedisRepository создает новый Redis репозиторий
func NewRedisRepository(cfg *config.RedisConfig, logger *utils.Logger) (*RedisRepository, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	// Парсим Redis URL
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Дополнительные настройки
	if cfg.Password != "" {
		opt.Password = cfg.Password
	}
	opt.DB = cfg.DB
	opt.PoolSize = cfg.PoolSize
	opt.MinIdleConns = cfg.MinIdleConns
	opt.ConnMaxIdleTime = 30 * time.Minute
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second

	return &RedisRepository{
		client: redis.NewClient(opt),
		logger: logger.WithField("component", "redis"),
		config: cfg,
	}, nil
}

// Ping проверяет соединение с Redis
func (r *RedisRepository) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		metrics.RedisConnectionStatus.Set(0)
		return fmt.Errorf("redis ping failed: %w", err)
	}
	metrics.RedisConnectionStatus.Set(1)
	return nil
}

// Close закрывает соединение с Redis
func (r *RedisRepository) Close() error {
	return r.client.Close()
}

// Client возвращает клиент Redis для вспомогательных кешей
func (r *RedisRepository) Client() *redis.Client {
	return r.client
}

func (r *RedisRepository) snapshotTTL() time.Duration {
	if r.config.SnapshotTTL > 0 {
		return r.config.SnapshotTTL
	}
	return SnapshotTTL
}

// SaveSnapshot сохраняет снимок, живую позицию и след одним pipeline
func (r *RedisRepository) SaveSnapshot(ctx context.Context, snap models.Snapshot) error {
	start := time.Now()
	defer func() {
		metrics.RedisOperationDuration.WithLabelValues("save_snapshot").Observe(time.Since(start).Seconds())
	}()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, SnapshotKey, data, r.snapshotTTL())

	// GEO индекс хранит только валидную позицию
	if snap.Position != nil && snap.Position.Validate() == nil {
		pipe.GeoAdd(ctx, GeoKey, &redis.GeoLocation{
			Name:      GeoMember,
			Longitude: snap.Position.Longitude,
			Latitude:  snap.Position.Latitude,
		})
	} else {
		pipe.ZRem(ctx, GeoKey, GeoMember)
	}

	pipe.Del(ctx, TrailKey)
	if len(snap.Trail) > 0 {
		pipe.RPush(ctx, TrailKey, encodePoints(snap.Trail)...)
		pipe.Expire(ctx, TrailKey, r.snapshotTTL())
	}

	if _, err := pipe.Exec(ctx); err != nil {
		metrics.RedisOperationErrors.WithLabelValues("save_snapshot").Inc()
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot возвращает последний сохраненный снимок
func (r *RedisRepository) LoadSnapshot(ctx context.Context) (*models.Snapshot, error) {
	data, err := r.client.Get(ctx, SnapshotKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		metrics.RedisOperationErrors.WithLabelValues("load_snapshot").Inc()
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snap, nil
}

// GetPosition возвращает живую позицию из GEO индекса
func (r *RedisRepository) GetPosition(ctx context.Context) (*models.Coordinate, error) {
	positions, err := r.client.GeoPos(ctx, GeoKey, GeoMember).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get position: %w", err)
	}
	if len(positions) == 0 || positions[0] == nil {
		return nil, ErrNotFound
	}
	return &models.Coordinate{Latitude: positions[0].Latitude, Longitude: positions[0].Longitude}, nil
}

// SaveRoute заменяет сохраненный маршрут. Маршрут хранится без TTL и переживает рестарт.
func (r *RedisRepository) SaveRoute(ctx context.Context, route []models.Coordinate) error {
	start := time.Now()
	defer func() {
		metrics.RedisOperationDuration.WithLabelValues("save_route").Observe(time.Since(start).Seconds())
	}()

	if len(route) > MaxRoutePoints {
		r.logger.WithFields(map[string]interface{}{
			"points": len(route),
			"max":    MaxRoutePoints,
		}).Warn("Route truncated for storage")
		route = route[:MaxRoutePoints]
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, RouteKey)
	if len(route) > 0 {
		pipe.RPush(ctx, RouteKey, encodePoints(route)...)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		metrics.RedisOperationErrors.WithLabelValues("save_route").Inc()
		return fmt.Errorf("failed to save route: %w", err)
	}

	r.logger.WithField("points", len(route)).Debug("Route saved")
	return nil
}

// LoadRoute загружает сохраненный маршрут. Некорректные точки пропускаются.
func (r *RedisRepository) LoadRoute(ctx context.Context) ([]models.Coordinate, error) {
	return r.loadPoints(ctx, RouteKey, "load_route")
}

// LoadTrail загружает сохраненный след
func (r *RedisRepository) LoadTrail(ctx context.Context) ([]models.Coordinate, error) {
	return r.loadPoints(ctx, TrailKey, "load_trail")
}

func (r *RedisRepository) loadPoints(ctx context.Context, key, operation string) ([]models.Coordinate, error) {
	start := time.Now()
	defer func() {
		metrics.RedisOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}()

	values, err := r.client.LRange(ctx, key, 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		metrics.RedisOperationErrors.WithLabelValues(operation).Inc()
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}

	points := make([]models.Coordinate, 0, len(values))
	for i, v := range values {
		c, err := models.ParseCoordinate(v)
		if err == nil {
			err = c.Validate()
		}
		if err != nil {
			r.logger.WithFields(map[string]interface{}{
				"key":   key,
				"index": i,
				"value": v,
				"error": err,
			}).Warn("Skipping invalid stored point")
			continue
		}
		points = append(points, c)
	}
	return points, nil
}

// GetStats возвращает статистику Redis
func (r *RedisRepository) GetStats(ctx context.Context) (map[string]interface{}, error) {
	pipe := r.client.Pipeline()

	routeLenCmd := pipe.LLen(ctx, RouteKey)
	trailLenCmd := pipe.LLen(ctx, TrailKey)
	snapshotTTLCmd := pipe.TTL(ctx, SnapshotKey)
	infoCmd := pipe.Info(ctx, "memory")

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get Redis stats: %w", err)
	}

	return map[string]interface{}{
		"route_points": routeLenCmd.Val(),
		"trail_points": trailLenCmd.Val(),
		"snapshot_ttl": snapshotTTLCmd.Val().String(),
		"memory_info":  infoCmd.Val(),
	}, nil
}

// encodePoints кодирует точки для RPUSH
func encodePoints(points []models.Coordinate) []interface{} {
	values := make([]interface{}, len(points))
	for i, p := range points {
		values[i] = p.String()
	}
	return values
}
