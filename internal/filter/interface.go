package filter

import (
	"github.com/flybeeper/drone-sim/internal/models"
)

// RouteFilter очищает маршрут перед загрузкой в симулятор
type RouteFilter interface {
	// Filter возвращает оставшиеся точки и статистику; вход не изменяется
	Filter(points []models.Coordinate) *FilterResult

	// Name возвращает имя фильтра
	Name() string
}

// FilterResult результат фильтрации
type FilterResult struct {
	OriginalCount int                 `json:"original_count"`
	FilteredCount int                 `json:"filtered_count"`
	Points        []models.Coordinate `json:"-"`
	Statistics    FilterStats         `json:"statistics"`
}

// FilterStats статистика фильтрации
type FilterStats struct {
	Duplicates      int     `json:"duplicates"`
	Outliers        int     `json:"outliers"`
	MaxDistanceJump float64 `json:"max_distance_jump"`
}

func (s *FilterStats) merge(other FilterStats) {
	s.Duplicates += other.Duplicates
	s.Outliers += other.Outliers
	if other.MaxDistanceJump > s.MaxDistanceJump {
		s.MaxDistanceJump = other.MaxDistanceJump
	}
}

// FilterConfig конфигурация фильтров. Расстояния в единицах провайдера геометрии.
type FilterConfig struct {
	// Точки ближе этого расстояния к предыдущей считаются дублями
	MinDistance float64 `json:"min_distance"`

	// Одиночная точка, отстоящая от обоих соседей дальше порога, считается выбросом
	OutlierThreshold float64 `json:"outlier_threshold"`

	EnableDuplicateFilter bool `json:"enable_duplicate_filter"`
	EnableOutlierFilter   bool `json:"enable_outlier_filter"`
}

// DefaultFilterConfig фильтры выключены: совпадающие точки допустимы в маршруте
func DefaultFilterConfig() *FilterConfig {
	return &FilterConfig{
		MinDistance:      1,
		OutlierThreshold: 50000,
	}
}
