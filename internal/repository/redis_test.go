package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/flybeeper/drone-sim/internal/config"
	"github.com/flybeeper/drone-sim/internal/models"
	"github.com/flybeeper/drone-sim/pkg/utils"
)

// RedisTestSuite представляет тестовый набор для Redis repository
type RedisTestSuite struct {
	suite.Suite
	repo   *RedisRepository
	client *redis.Client
	ctx    context.Context
}

// SetupSuite запускается один раз перед всеми тестами
func (suite *RedisTestSuite) SetupSuite() {
	suite.ctx = context.Background()

	// Используем Redis тестовую базу данных
	cfg := &config.RedisConfig{
		URL:          "redis://localhost:6379",
		DB:           15, // Используем DB 15 для тестов
		PoolSize:     10,
		MinIdleConns: 1,
		SnapshotTTL:  time.Hour,
	}

	var err error
	suite.repo, err = NewRedisRepository(cfg, utils.NewLogger("info", "text"))
	require.NoError(suite.T(), err)

	suite.client = suite.repo.client

	// Проверяем подключение к Redis
	if err := suite.repo.Ping(suite.ctx); err != nil {
		suite.T().Skip("Redis not available for testing: " + err.Error())
	}
}

// SetupTest запускается перед каждым тестом
func (suite *RedisTestSuite) SetupTest() {
	require.NoError(suite.T(), suite.client.FlushDB(suite.ctx).Err())
}

// TearDownSuite запускается один раз после всех тестов
func (suite *RedisTestSuite) TearDownSuite() {
	if suite.client != nil {
		suite.client.FlushDB(suite.ctx)
		suite.client.Close()
	}
}

func testSnapshot() models.Snapshot {
	pos := models.Coordinate{Latitude: 18.5615, Longitude: -68.4050}
	route := models.DefaultRoute()
	trail := models.ClonePath(route)
	trail[0] = pos
	return models.Snapshot{
		RunID:     "3f1c2a9e-0000-4000-8000-000000000001",
		Sequence:  42,
		Status:    models.StatusRunning,
		Index:     0,
		Position:  &pos,
		Geohash:   pos.Geohash(models.DefaultGeohashPrecision),
		Path:      trail,
		Waypoints: route,
		Trail:     trail,
		Speed:     10,
		UpdatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func (suite *RedisTestSuite) TestSaveAndLoadSnapshot() {
	snap := testSnapshot()

	require.NoError(suite.T(), suite.repo.SaveSnapshot(suite.ctx, snap))

	loaded, err := suite.repo.LoadSnapshot(suite.ctx)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), snap.RunID, loaded.RunID)
	assert.Equal(suite.T(), snap.Sequence, loaded.Sequence)
	assert.Equal(suite.T(), snap.Status, loaded.Status)
	assert.Equal(suite.T(), snap.Trail, loaded.Trail)
	assert.True(suite.T(), snap.UpdatedAt.Equal(loaded.UpdatedAt))

	// Проверяем TTL
	ttl := suite.client.TTL(suite.ctx, SnapshotKey).Val()
	assert.Greater(suite.T(), ttl, 50*time.Minute)
}

func (suite *RedisTestSuite) TestSnapshotWritesGeoAndTrail() {
	snap := testSnapshot()
	require.NoError(suite.T(), suite.repo.SaveSnapshot(suite.ctx, snap))

	pos, err := suite.repo.GetPosition(suite.ctx)
	require.NoError(suite.T(), err)
	assert.InDelta(suite.T(), snap.Position.Latitude, pos.Latitude, 0.0001)
	assert.InDelta(suite.T(), snap.Position.Longitude, pos.Longitude, 0.0001)

	trail, err := suite.repo.LoadTrail(suite.ctx)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), snap.Trail, trail)

	// Снимок без позиции убирает дрон из GEO индекса
	snap.Position = nil
	snap.Trail = nil
	require.NoError(suite.T(), suite.repo.SaveSnapshot(suite.ctx, snap))

	_, err = suite.repo.GetPosition(suite.ctx)
	assert.True(suite.T(), errors.Is(err, ErrNotFound))
	assert.Equal(suite.T(), int64(0), suite.client.Exists(suite.ctx, TrailKey).Val())
}

func (suite *RedisTestSuite) TestLoadSnapshotMissing() {
	_, err := suite.repo.LoadSnapshot(suite.ctx)
	assert.True(suite.T(), errors.Is(err, ErrNotFound))
}

func (suite *RedisTestSuite) TestSaveAndLoadRoute() {
	route := models.DefaultRoute()

	require.NoError(suite.T(), suite.repo.SaveRoute(suite.ctx, route))
	loaded, err := suite.repo.LoadRoute(suite.ctx)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), route, loaded)

	// Маршрут без TTL
	assert.Equal(suite.T(), time.Duration(-1), suite.client.TTL(suite.ctx, RouteKey).Val())

	// Пустой маршрут очищает ключ
	require.NoError(suite.T(), suite.repo.SaveRoute(suite.ctx, nil))
	loaded, err = suite.repo.LoadRoute(suite.ctx)
	require.NoError(suite.T(), err)
	assert.Empty(suite.T(), loaded)
}

func (suite *RedisTestSuite) TestLoadRouteSkipsInvalidPoints() {
	suite.client.RPush(suite.ctx, RouteKey, "1,2", "garbage", "95,10", "3,4")

	loaded, err := suite.repo.LoadRoute(suite.ctx)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), []models.Coordinate{{Latitude: 1, Longitude: 2}, {Latitude: 3, Longitude: 4}}, loaded)
}

func (suite *RedisTestSuite) TestGetStats() {
	require.NoError(suite.T(), suite.repo.SaveRoute(suite.ctx, models.DefaultRoute()))
	require.NoError(suite.T(), suite.repo.SaveSnapshot(suite.ctx, testSnapshot()))

	stats, err := suite.repo.GetStats(suite.ctx)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(4), stats["route_points"])
	assert.Equal(suite.T(), int64(4), stats["trail_points"])
	assert.NotEmpty(suite.T(), stats["memory_info"])
}

func (suite *RedisTestSuite) TestConcurrentSnapshots() {
	const workers = 8
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				snap := testSnapshot()
				snap.Sequence = uint64(w*10 + i)
				assert.NoError(suite.T(), suite.repo.SaveSnapshot(suite.ctx, snap))
			}
		}(w)
	}
	wg.Wait()

	// Транзакционный pipeline оставляет согласованный снимок и след
	loaded, err := suite.repo.LoadSnapshot(suite.ctx)
	require.NoError(suite.T(), err)
	trail, err := suite.repo.LoadTrail(suite.ctx)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), loaded.Trail, trail)
}

// Запускаем тестовый набор
func TestRedisRepositorySuite(t *testing.T) {
	suite.Run(t, new(RedisTestSuite))
}

// Дополнительные unit тесты, не требующие Redis подключения
func TestRedisConstants(t *testing.T) {
	assert.Equal(t, "sim:snapshot", SnapshotKey)
	assert.Equal(t, "sim:geo", GeoKey)
	assert.Equal(t, "drone", GeoMember)
	assert.Equal(t, "sim:route", RouteKey)
	assert.Equal(t, "sim:trail", TrailKey)
	assert.Equal(t, 24*time.Hour, SnapshotTTL)
}

func TestNewRedisRepository_Validation(t *testing.T) {
	_, err := NewRedisRepository(nil, utils.Nop())
	assert.Error(t, err)

	_, err = NewRedisRepository(&config.RedisConfig{URL: "redis://localhost:6379"}, nil)
	assert.Error(t, err)

	_, err = NewRedisRepository(&config.RedisConfig{URL: "://bad"}, utils.Nop())
	assert.Error(t, err)
}

func TestEncodePoints(t *testing.T) {
	values := encodePoints([]models.Coordinate{{Latitude: 1.5, Longitude: -2.25}})
	require.Len(t, values, 1)
	assert.Equal(t, fmt.Sprint(values[0]), "1.5,-2.25")
}
