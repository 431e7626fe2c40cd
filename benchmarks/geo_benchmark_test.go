package benchmarks

// Бенчмарки геометрии и движка симуляции
//
// Ожидаемые результаты:
// - Haversine Distance: < 100 ns/op, 0 allocs/op
// - CachedProvider hit: < 200 ns/op
// - Advance (1 сегмент): < 1µs
// - Advance (перелет 1000 точек за тик): линейно от числа точек

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/flybeeper/drone-sim/internal/geo"
	"github.com/flybeeper/drone-sim/internal/models"
	"github.com/flybeeper/drone-sim/internal/simulation"
	"github.com/flybeeper/drone-sim/pkg/utils"
)

// benchRoute маршрут из n точек с шагом ~111 м по долготе у экватора
func benchRoute(n int) []models.Coordinate {
	route := make([]models.Coordinate, n)
	for i := range route {
		route[i] = models.Coordinate{Latitude: 0.5, Longitude: float64(i) * 0.001}
	}
	return route
}

func BenchmarkProviders(b *testing.B) {
	a := models.Coordinate{Latitude: 18.5621, Longitude: -68.4084}
	c := models.Coordinate{Latitude: 18.5579, Longitude: -68.3884}

	providers := map[string]geo.Provider{
		"Haversine": geo.Haversine{},
		"Planar":    geo.Planar{},
	}

	for name, p := range providers {
		b.Run(name+"/Distance", func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = p.Distance(a, c)
			}
		})
		b.Run(name+"/Interpolate", func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = p.Interpolate(a, c, 0.37)
			}
		})
	}
}

func BenchmarkCachedProvider(b *testing.B) {
	route := benchRoute(64)

	b.Run("Hit", func(b *testing.B) {
		cp := geo.NewCachedProvider(geo.Haversine{}, 1024)
		for i := 0; i+1 < len(route); i++ {
			cp.Distance(route[i], route[i+1])
		}
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			j := i % (len(route) - 1)
			_ = cp.Distance(route[j], route[j+1])
		}
	})

	b.Run("Miss", func(b *testing.B) {
		cp := geo.NewCachedProvider(geo.Haversine{}, 16)
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			j := i % (len(route) - 1)
			_ = cp.Distance(route[j], route[j+1])
		}
	})
}

func BenchmarkGeohash(b *testing.B) {
	c := models.Coordinate{Latitude: 18.5621, Longitude: -68.4084}
	for _, precision := range []int{5, 7, 9} {
		b.Run(fmt.Sprintf("Precision%d", precision), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = c.Geohash(precision)
			}
		})
	}
}

func BenchmarkAdvance(b *testing.B) {
	cases := []struct {
		name   string
		points int
		budget float64
	}{
		{"WithinSegment", 2, 10},
		{"Overshoot10", 100, 111.2 * 10},
		{"Overshoot1000", 2000, 111.2 * 1000},
	}

	for _, tc := range cases {
		b.Run(tc.name, func(b *testing.B) {
			route := benchRoute(tc.points)
			start := simulation.State{
				Waypoints: route,
				Trail:     simulation.SeedTrail(route),
				Position:  &route[0],
				Status:    models.StatusRunning,
			}
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_, _ = simulation.Advance(geo.Haversine{}, start, tc.budget)
			}
		})
	}
}

func BenchmarkSimulatorTick(b *testing.B) {
	route := benchRoute(100000)
	sim := simulation.New(geo.NewCachedProvider(geo.Haversine{}, 4096), 10, time.Second, utils.Nop())
	ctx := context.Background()

	for _, subscribers := range []int{0, 10} {
		b.Run(fmt.Sprintf("Subscribers%d", subscribers), func(b *testing.B) {
			var cancels []func()
			for i := 0; i < subscribers; i++ {
				_, cancel := sim.Subscribe(1)
				cancels = append(cancels, cancel)
			}
			defer func() {
				for _, cancel := range cancels {
					cancel()
				}
			}()

			sim.Reset(ctx)
			sim.ReplacePath(route)
			sim.Start(ctx)
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				sim.Tick(ctx)
			}
		})
	}
}
