package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/flybeeper/drone-sim/internal/metrics"
	"github.com/flybeeper/drone-sim/internal/models"
	"github.com/flybeeper/drone-sim/internal/repository"
	"github.com/flybeeper/drone-sim/pkg/utils"
)

var (
	// ErrQueueFull очередь телеметрии переполнена
	ErrQueueFull = errors.New("telemetry queue is full")
	// ErrWriterStopped writer уже остановлен
	ErrWriterStopped = errors.New("batch writer is shutting down")
)

// BatchWriter асинхронный writer для батчевого сохранения телеметрии в MySQL
type BatchWriter struct {
	repo   repository.TelemetryWriter
	logger *utils.Logger
	config *BatchConfig

	queue   chan *models.Telemetry
	flushCh chan chan error
	buffer  []*models.Telemetry

	// Контроль жизненного цикла
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	metrics *BatchMetrics
}

// BatchConfig конфигурация батчера
type BatchConfig struct {
	BatchSize     int           `json:"batch_size"`     // Размер батча
	FlushInterval time.Duration `json:"flush_interval"` // Интервал принудительного flush
	ChannelBuffer int           `json:"channel_buffer"` // Размер буфера канала
	MaxRetries    int           `json:"max_retries"`    // Максимум повторов
	RetryDelay    time.Duration `json:"retry_delay"`    // Задержка между повторами
	StopTimeout   time.Duration `json:"stop_timeout"`   // Время на финальный flush
}

// BatchMetrics метрики производительности
type BatchMetrics struct {
	mu sync.RWMutex

	Queued    int64 `json:"queued"`
	Batches   int64 `json:"batches"`
	Processed int64 `json:"processed"`
	Errors    int64 `json:"errors"`
	Dropped   int64 `json:"dropped"`

	QueueDepth        int64         `json:"queue_depth"`
	LastFlushDuration time.Duration `json:"last_flush_duration"`
	LastBatchSize     int           `json:"last_batch_size"`
}

// DefaultBatchConfig возвращает конфигурацию по умолчанию
func DefaultBatchConfig() *BatchConfig {
	return &BatchConfig{
		BatchSize:     100,
		FlushInterval: 5 * time.Second,
		ChannelBuffer: 10000,
		MaxRetries:    3,
		RetryDelay:    100 * time.Millisecond,
		StopTimeout:   5 * time.Second,
	}
}

// NewBatchWriter создает и запускает BatchWriter
func NewBatchWriter(repo repository.TelemetryWriter, logger *utils.Logger, config *BatchConfig) *BatchWriter {
	if config == nil {
		config = DefaultBatchConfig()
	}
	if logger == nil {
		logger = utils.DefaultLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())

	bw := &BatchWriter{
		repo:    repo,
		logger:  logger.WithField("component", "batch_writer"),
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
		queue:   make(chan *models.Telemetry, config.ChannelBuffer),
		flushCh: make(chan chan error),
		buffer:  make([]*models.Telemetry, 0, config.BatchSize),
		metrics: &BatchMetrics{},
	}

	bw.wg.Add(1)
	go bw.worker()

	bw.logger.WithField("batch_size", config.BatchSize).
		WithField("flush_interval", config.FlushInterval).
		Info("Started MySQL batch writer")

	return bw
}

// QueueTelemetry добавляет точку телеметрии в очередь. Не блокируется.
func (bw *BatchWriter) QueueTelemetry(point *models.Telemetry) error {
	if point == nil {
		return nil
	}
	if bw.ctx.Err() != nil {
		return ErrWriterStopped
	}

	select {
	case bw.queue <- point:
		bw.metrics.mu.Lock()
		bw.metrics.Queued++
		bw.metrics.QueueDepth = int64(len(bw.queue))
		bw.metrics.mu.Unlock()
		metrics.MySQLQueueSize.Set(float64(len(bw.queue)))
		return nil
	default:
		bw.metrics.mu.Lock()
		bw.metrics.Dropped++
		bw.metrics.mu.Unlock()
		metrics.MySQLBatchesTotal.WithLabelValues("dropped").Inc()
		return ErrQueueFull
	}
}

// worker накапливает точки и сбрасывает их по размеру или по таймеру
func (bw *BatchWriter) worker() {
	defer bw.wg.Done()

	ticker := time.NewTicker(bw.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case point := <-bw.queue:
			bw.buffer = append(bw.buffer, point)
			if len(bw.buffer) >= bw.config.BatchSize {
				bw.flush(bw.ctx)
			}

		case <-ticker.C:
			if len(bw.buffer) > 0 {
				bw.flush(bw.ctx)
			}

		case done := <-bw.flushCh:
			bw.drainQueue()
			done <- bw.flush(bw.ctx)

		case <-bw.ctx.Done():
			// Финальный flush с отдельным таймаутом: основной контекст уже отменен
			bw.drainQueue()
			ctx, cancel := context.WithTimeout(context.Background(), bw.config.StopTimeout)
			bw.flush(ctx)
			cancel()
			return
		}
	}
}

// drainQueue переносит все ожидающие точки в буфер
func (bw *BatchWriter) drainQueue() {
	for {
		select {
		case point := <-bw.queue:
			bw.buffer = append(bw.buffer, point)
		default:
			return
		}
	}
}

// flush сохраняет буфер в MySQL частями не больше BatchSize
func (bw *BatchWriter) flush(ctx context.Context) error {
	var firstErr error
	for len(bw.buffer) > 0 {
		n := len(bw.buffer)
		if n > bw.config.BatchSize {
			n = bw.config.BatchSize
		}
		batch := make([]*models.Telemetry, n)
		copy(batch, bw.buffer[:n])
		bw.buffer = bw.buffer[n:]

		if err := bw.flushBatch(ctx, batch); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	bw.buffer = bw.buffer[:0]
	metrics.MySQLQueueSize.Set(float64(len(bw.queue)))
	return firstErr
}

func (bw *BatchWriter) flushBatch(ctx context.Context, batch []*models.Telemetry) error {
	start := time.Now()

	err := bw.retryOperation(ctx, func() error {
		return bw.repo.SaveTelemetryBatch(ctx, batch)
	})

	duration := time.Since(start)
	metrics.MySQLBatchSize.Observe(float64(len(batch)))

	bw.metrics.mu.Lock()
	defer bw.metrics.mu.Unlock()

	bw.metrics.LastFlushDuration = duration
	bw.metrics.LastBatchSize = len(batch)

	if err != nil {
		bw.metrics.Errors += int64(len(batch))
		metrics.MySQLBatchesTotal.WithLabelValues("error").Inc()
		bw.logger.WithField("batch_size", len(batch)).
			WithField("duration", duration).
			WithField("error", err).
			Error("Failed to flush telemetry batch")
		return err
	}

	bw.metrics.Batches++
	bw.metrics.Processed += int64(len(batch))
	metrics.MySQLBatchesTotal.WithLabelValues("success").Inc()
	metrics.MySQLRecordsProcessed.Add(float64(len(batch)))
	bw.logger.WithField("batch_size", len(batch)).
		WithField("duration", duration).
		Debug("Flushed telemetry batch to MySQL")
	return nil
}

// retryOperation выполняет операцию с повторами и линейной задержкой
func (bw *BatchWriter) retryOperation(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 0; attempt <= bw.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(bw.config.RetryDelay * time.Duration(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = operation()
		if lastErr == nil {
			return nil
		}

		bw.logger.WithField("attempt", attempt+1).
			WithField("max_retries", bw.config.MaxRetries).
			WithField("error", lastErr).
			Warn("MySQL batch operation failed, retrying")
	}

	return fmt.Errorf("operation failed after %d retries: %w", bw.config.MaxRetries, lastErr)
}

// GetMetrics возвращает копию метрик производительности
func (bw *BatchWriter) GetMetrics() BatchMetrics {
	bw.metrics.mu.RLock()
	defer bw.metrics.mu.RUnlock()

	return BatchMetrics{
		Queued:            bw.metrics.Queued,
		Batches:           bw.metrics.Batches,
		Processed:         bw.metrics.Processed,
		Errors:            bw.metrics.Errors,
		Dropped:           bw.metrics.Dropped,
		QueueDepth:        int64(len(bw.queue)),
		LastFlushDuration: bw.metrics.LastFlushDuration,
		LastBatchSize:     bw.metrics.LastBatchSize,
	}
}

// Flush синхронно сбрасывает все накопленные точки
func (bw *BatchWriter) Flush(ctx context.Context) error {
	done := make(chan error, 1)

	select {
	case bw.flushCh <- done:
	case <-bw.ctx.Done():
		return ErrWriterStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop останавливает BatchWriter и дожидается финального flush
func (bw *BatchWriter) Stop() error {
	bw.stopOnce.Do(func() {
		bw.logger.Info("Stopping MySQL batch writer...")
		bw.cancel()
		bw.wg.Wait()
		bw.logger.Info("MySQL batch writer stopped")
	})
	return nil
}
