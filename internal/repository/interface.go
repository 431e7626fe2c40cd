package repository

import (
	"context"
	"errors"
	"time"

	"github.com/flybeeper/drone-sim/internal/models"
)

// ErrNotFound запрошенная запись отсутствует
var ErrNotFound = errors.New("not found")

// StateStore хранилище живого состояния симуляции
type StateStore interface {
	// Проверка соединения
	Ping(ctx context.Context) error
	Close() error

	// Снимок состояния
	SaveSnapshot(ctx context.Context, snap models.Snapshot) error
	LoadSnapshot(ctx context.Context) (*models.Snapshot, error)

	// Маршрут оператора
	SaveRoute(ctx context.Context, route []models.Coordinate) error
	LoadRoute(ctx context.Context) ([]models.Coordinate, error)

	// Статистика
	GetStats(ctx context.Context) (map[string]interface{}, error)
}

// HistoryRepository интерфейс для работы с историей прогонов
type HistoryRepository interface {
	// Проверка соединения
	Ping(ctx context.Context) error
	Close() error

	// Схема
	EnsureSchema(ctx context.Context) error

	// Прогоны
	StartRun(ctx context.Context, run models.Run) error
	FinishRun(ctx context.Context, runID string, status models.Status, endedAt time.Time) error
	GetRun(ctx context.Context, runID string) (*models.Run, error)
	ListRuns(ctx context.Context, limit int) ([]models.Run, error)

	// Телеметрия
	GetTelemetry(ctx context.Context, runID string, limit int) ([]models.Telemetry, error)

	// Обслуживание
	CleanupOldRuns(ctx context.Context, olderThan time.Duration) error
	GetStats(ctx context.Context) (map[string]interface{}, error)
}

// TelemetryWriter приемник пакетов телеметрии
type TelemetryWriter interface {
	SaveTelemetryBatch(ctx context.Context, points []*models.Telemetry) error
}

// MySQLRepositoryInterface интерфейс для MySQL репозитория с batch операциями
type MySQLRepositoryInterface interface {
	HistoryRepository
	TelemetryWriter
}

// Ensure implementations
var _ StateStore = (*RedisRepository)(nil)
var _ HistoryRepository = (*MySQLRepository)(nil)
var _ MySQLRepositoryInterface = (*MySQLRepository)(nil)
