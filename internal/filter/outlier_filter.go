package filter

import (
	"github.com/flybeeper/drone-sim/internal/geo"
	"github.com/flybeeper/drone-sim/internal/models"
	"github.com/flybeeper/drone-sim/pkg/utils"
)

// OutlierFilter удаляет одиночные выбросы: точку, далекую от обоих соседей,
// при том что сами соседи близки друг к другу. Первая и последняя точки сохраняются.
type OutlierFilter struct {
	config   *FilterConfig
	provider geo.Provider
	logger   *utils.Logger
}

// NewOutlierFilter создает новый фильтр выбросов
func NewOutlierFilter(config *FilterConfig, provider geo.Provider, logger *utils.Logger) *OutlierFilter {
	return &OutlierFilter{
		config:   config,
		provider: provider,
		logger:   logger,
	}
}

// Filter применяет фильтр выбросов к маршруту
func (f *OutlierFilter) Filter(points []models.Coordinate) *FilterResult {
	if len(points) < 3 || f.config.OutlierThreshold <= 0 {
		return passThrough(points)
	}

	threshold := f.config.OutlierThreshold
	kept := make([]models.Coordinate, 0, len(points))
	kept = append(kept, points[0])
	stats := FilterStats{}

	for i := 1; i < len(points)-1; i++ {
		prev := kept[len(kept)-1]
		next := points[i+1]

		in := f.provider.Distance(prev, points[i])
		out := f.provider.Distance(points[i], next)
		if in > threshold && out > threshold && f.provider.Distance(prev, next) <= threshold {
			stats.Outliers++
			if in > stats.MaxDistanceJump {
				stats.MaxDistanceJump = in
			}
			f.logger.WithFields(map[string]interface{}{
				"point_index": i,
				"lat":         points[i].Latitude,
				"lng":         points[i].Longitude,
			}).Debug("Waypoint marked as outlier")
			continue
		}
		kept = append(kept, points[i])
	}
	kept = append(kept, points[len(points)-1])

	return &FilterResult{
		OriginalCount: len(points),
		FilteredCount: len(points) - len(kept),
		Points:        kept,
		Statistics:    stats,
	}
}

// Name возвращает имя фильтра
func (f *OutlierFilter) Name() string {
	return "outlier"
}
