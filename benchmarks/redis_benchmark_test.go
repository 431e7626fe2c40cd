package benchmarks

// Redis бенчмарки хранилища живого состояния
//
// Для запуска требуется Redis сервер:
// docker run -d -p 6379:6379 redis:alpine
//
// Ожидаемые результаты:
// - SaveSnapshot (TxPipeline): < 1ms
// - SaveRoute 1000 точек: < 5ms

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/flybeeper/drone-sim/internal/config"
	"github.com/flybeeper/drone-sim/internal/geo"
	"github.com/flybeeper/drone-sim/internal/repository"
	"github.com/flybeeper/drone-sim/internal/simulation"
	"github.com/flybeeper/drone-sim/pkg/utils"
)

func setupRedisForBenchmark(b *testing.B) *repository.RedisRepository {
	b.Helper()

	repo, err := repository.NewRedisRepository(&config.RedisConfig{
		URL:          "redis://localhost:6379",
		DB:           15, // Отдельная DB для бенчмарков
		PoolSize:     10,
		MinIdleConns: 2,
		SnapshotTTL:  time.Hour,
	}, utils.Nop())
	if err != nil {
		b.Fatal(err)
	}

	ctx := context.Background()
	if err := repo.Ping(ctx); err != nil {
		repo.Close()
		b.Skip("Redis not available:", err)
	}
	repo.Client().FlushDB(ctx)
	return repo
}

func BenchmarkRedisSnapshot(b *testing.B) {
	repo := setupRedisForBenchmark(b)
	defer repo.Close()
	ctx := context.Background()

	for _, points := range []int{4, 1000} {
		sim := simulation.New(geo.Haversine{}, 10, time.Second, utils.Nop())
		sim.ReplacePath(benchRoute(points))
		sim.Start(ctx)
		sim.Tick(ctx)
		snap := sim.Snapshot()

		b.Run(fmt.Sprintf("SaveSnapshot/%d", points), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				if err := repo.SaveSnapshot(ctx, snap); err != nil {
					b.Fatal(err)
				}
			}
		})

		b.Run(fmt.Sprintf("SaveRoute/%d", points), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				if err := repo.SaveRoute(ctx, snap.Waypoints); err != nil {
					b.Fatal(err)
				}
			}
		})
	}

	b.Run("LoadSnapshot", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			if _, err := repo.LoadSnapshot(ctx); err != nil {
				b.Fatal(err)
			}
		}
	})
}
