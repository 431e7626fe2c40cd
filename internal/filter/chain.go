package filter

import (
	"github.com/flybeeper/drone-sim/internal/geo"
	"github.com/flybeeper/drone-sim/internal/models"
	"github.com/flybeeper/drone-sim/pkg/utils"
)

// FilterChain цепочка фильтров для последовательного применения
type FilterChain struct {
	filters []RouteFilter
	logger  *utils.Logger
}

// NewFilterChain создает цепочку по конфигурации
func NewFilterChain(config *FilterConfig, provider geo.Provider, logger *utils.Logger) *FilterChain {
	if config == nil {
		config = DefaultFilterConfig()
	}
	if logger == nil {
		logger = utils.DefaultLogger()
	}

	chain := &FilterChain{logger: logger.WithField("component", "route_filter")}

	if config.EnableDuplicateFilter {
		chain.AddFilter(NewDuplicateFilter(config, provider, chain.logger))
	}
	if config.EnableOutlierFilter {
		chain.AddFilter(NewOutlierFilter(config, provider, chain.logger))
	}

	return chain
}

// AddFilter добавляет фильтр в цепочку
func (fc *FilterChain) AddFilter(filter RouteFilter) {
	fc.filters = append(fc.filters, filter)
}

// Len число фильтров в цепочке
func (fc *FilterChain) Len() int {
	return len(fc.filters)
}

// Filter применяет все фильтры в цепочке
func (fc *FilterChain) Filter(points []models.Coordinate) *FilterResult {
	result := passThrough(points)

	for _, f := range fc.filters {
		step := f.Filter(result.Points)
		result.Points = step.Points
		result.Statistics.merge(step.Statistics)

		if step.FilteredCount > 0 {
			fc.logger.WithFields(map[string]interface{}{
				"filter":  f.Name(),
				"removed": step.FilteredCount,
				"left":    len(step.Points),
			}).Debug("Route filter applied")
		}
	}

	result.FilteredCount = result.OriginalCount - len(result.Points)
	return result
}
