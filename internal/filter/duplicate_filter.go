package filter

import (
	"github.com/flybeeper/drone-sim/internal/geo"
	"github.com/flybeeper/drone-sim/internal/models"
	"github.com/flybeeper/drone-sim/pkg/utils"
)

// DuplicateFilter удаляет точки, совпадающие с предыдущей оставленной
type DuplicateFilter struct {
	config   *FilterConfig
	provider geo.Provider
	logger   *utils.Logger
}

// NewDuplicateFilter создает новый фильтр дублей
func NewDuplicateFilter(config *FilterConfig, provider geo.Provider, logger *utils.Logger) *DuplicateFilter {
	return &DuplicateFilter{
		config:   config,
		provider: provider,
		logger:   logger,
	}
}

// Filter применяет фильтр дублей к маршруту
func (f *DuplicateFilter) Filter(points []models.Coordinate) *FilterResult {
	if len(points) <= 1 {
		return passThrough(points)
	}

	kept := make([]models.Coordinate, 0, len(points))
	kept = append(kept, points[0])
	stats := FilterStats{}

	for i := 1; i < len(points); i++ {
		last := kept[len(kept)-1]
		distance := f.provider.Distance(last, points[i])

		if points[i] == last || distance < f.config.MinDistance {
			stats.Duplicates++
			continue
		}
		if distance > stats.MaxDistanceJump {
			stats.MaxDistanceJump = distance
		}
		kept = append(kept, points[i])
	}

	if stats.Duplicates > 0 {
		f.logger.WithFields(map[string]interface{}{
			"original_points": len(points),
			"duplicates":      stats.Duplicates,
		}).Debug("Duplicate waypoints removed")
	}

	return &FilterResult{
		OriginalCount: len(points),
		FilteredCount: len(points) - len(kept),
		Points:        kept,
		Statistics:    stats,
	}
}

// Name возвращает имя фильтра
func (f *DuplicateFilter) Name() string {
	return "duplicate"
}

func passThrough(points []models.Coordinate) *FilterResult {
	return &FilterResult{
		OriginalCount: len(points),
		Points:        models.ClonePath(points),
	}
}
