package service

import (
	"errors"
	"fmt"
	"sync"

	"github.com/flybeeper/drone-sim/internal/metrics"
	"github.com/flybeeper/drone-sim/internal/models"
	"github.com/flybeeper/drone-sim/pkg/utils"
)

// ErrTooManyWaypoints маршрут превышает допустимую длину
var ErrTooManyWaypoints = errors.New("too many waypoints")

// Источники точек маршрута
const (
	SourceREST   = "rest"
	SourceMQTT   = "mqtt"
	SourceImport = "import"
)

// ValidationConfig настройки проверки входных точек
type ValidationConfig struct {
	MaxWaypoints int // 0 - без ограничения
}

// DefaultValidationConfig возвращает конфигурацию по умолчанию
func DefaultValidationConfig() *ValidationConfig {
	return &ValidationConfig{MaxWaypoints: 10000}
}

// ValidationService проверяет точки маршрута до передачи в симулятор.
// Движок сам координаты не перепроверяет.
type ValidationService struct {
	mu      sync.RWMutex
	config  *ValidationConfig
	logger  *utils.Logger
	metrics ValidationMetrics
}

// ValidationMetrics метрики валидации
type ValidationMetrics struct {
	Accepted int64 `json:"accepted"`
	Rejected int64 `json:"rejected"`
}

// NewValidationService создает новый сервис валидации
func NewValidationService(logger *utils.Logger, config *ValidationConfig) *ValidationService {
	if config == nil {
		config = DefaultValidationConfig()
	}
	if logger == nil {
		logger = utils.DefaultLogger()
	}
	return &ValidationService{
		config: config,
		logger: logger.WithField("component", "validation"),
	}
}

// ValidateWaypoint проверяет одну точку, добавляемую к маршруту длины current
func (s *ValidationService) ValidateWaypoint(c models.Coordinate, current int, source string) error {
	if err := c.Validate(); err != nil {
		s.reject(source, 1, err)
		return err
	}
	if s.config.MaxWaypoints > 0 && current+1 > s.config.MaxWaypoints {
		err := fmt.Errorf("%w: limit %d", ErrTooManyWaypoints, s.config.MaxWaypoints)
		s.reject(source, 1, err)
		return err
	}
	s.accept(1)
	return nil
}

// ValidatePath проверяет маршрут целиком
func (s *ValidationService) ValidatePath(path []models.Coordinate, source string) error {
	if s.config.MaxWaypoints > 0 && len(path) > s.config.MaxWaypoints {
		err := fmt.Errorf("%w: %d > %d", ErrTooManyWaypoints, len(path), s.config.MaxWaypoints)
		s.reject(source, len(path), err)
		return err
	}
	if err := models.ValidatePath(path); err != nil {
		s.reject(source, 1, err)
		return err
	}

	// Совпадающие соседние точки допустимы, движок проходит их мгновенно
	duplicates := 0
	for i := 1; i < len(path); i++ {
		if path[i] == path[i-1] {
			duplicates++
		}
	}
	if duplicates > 0 {
		s.logger.WithFields(map[string]interface{}{
			"source":     source,
			"duplicates": duplicates,
		}).Debug("Path contains duplicate consecutive waypoints")
	}

	s.accept(int64(len(path)))
	return nil
}

// GetMetrics возвращает счетчики валидации
func (s *ValidationService) GetMetrics() ValidationMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics
}

func (s *ValidationService) accept(n int64) {
	s.mu.Lock()
	s.metrics.Accepted += n
	s.mu.Unlock()
}

func (s *ValidationService) reject(source string, n int, err error) {
	s.mu.Lock()
	s.metrics.Rejected += int64(n)
	s.mu.Unlock()

	metrics.ValidationRejectedWaypoints.WithLabelValues(source).Add(float64(n))
	s.logger.WithFields(map[string]interface{}{
		"source": source,
		"error":  err.Error(),
	}).Debug("Waypoint rejected")
}
