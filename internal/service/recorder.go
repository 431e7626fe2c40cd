package service

import (
	"context"
	"slices"
	"time"

	"github.com/flybeeper/drone-sim/internal/metrics"
	"github.com/flybeeper/drone-sim/internal/models"
	"github.com/flybeeper/drone-sim/pkg/utils"
)

// SnapshotStore сохраняет живое состояние (Redis)
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap models.Snapshot) error
	SaveRoute(ctx context.Context, route []models.Coordinate) error
}

// RunStore ведет журнал прогонов (MySQL)
type RunStore interface {
	StartRun(ctx context.Context, run models.Run) error
	FinishRun(ctx context.Context, runID string, status models.Status, endedAt time.Time) error
}

// TelemetryQueue принимает точки для батчевой записи
type TelemetryQueue interface {
	QueueTelemetry(point *models.Telemetry) error
}

// TelemetryPublisher публикует точки во внешний брокер (MQTT)
type TelemetryPublisher interface {
	PublishTelemetry(ctx context.Context, point *models.Telemetry) error
}

// RecorderSinks приемники снимков; любой может быть nil
type RecorderSinks struct {
	State     SnapshotStore
	Runs      RunStore
	Telemetry TelemetryQueue
	Publisher TelemetryPublisher
}

// Recorder раскладывает поток снимков симулятора по хранилищам.
// Ошибки приемников логируются и не останавливают поток.
type Recorder struct {
	sinks   RecorderSinks
	logger  *utils.Logger
	timeout time.Duration

	route      []models.Coordinate
	routeSaved bool
	activeRun  string
	lastStatus models.Status
	finished   bool
}

// NewRecorder создает рекордер
func NewRecorder(sinks RecorderSinks, logger *utils.Logger) *Recorder {
	if logger == nil {
		logger = utils.DefaultLogger()
	}
	return &Recorder{
		sinks:   sinks,
		logger:  logger.WithField("component", "recorder"),
		timeout: 5 * time.Second,
	}
}

// Run читает снимки до закрытия канала или отмены контекста
func (r *Recorder) Run(ctx context.Context, snapshots <-chan models.Snapshot) {
	r.logger.Info("Snapshot recorder started")
	defer r.logger.Info("Snapshot recorder stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			r.Record(ctx, snap)
		}
	}
}

// Record обрабатывает один снимок
func (r *Recorder) Record(ctx context.Context, snap models.Snapshot) {
	opCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	r.recordState(opCtx, snap)
	r.recordRun(opCtx, snap)
	r.recordTelemetry(opCtx, snap)
}

func (r *Recorder) recordState(ctx context.Context, snap models.Snapshot) {
	if r.sinks.State == nil {
		return
	}

	if !r.routeSaved || !slices.Equal(r.route, snap.Waypoints) {
		if err := r.sinks.State.SaveRoute(ctx, snap.Waypoints); err != nil {
			r.logger.WithError(err).Warn("Failed to save route")
		} else {
			r.route = models.ClonePath(snap.Waypoints)
			r.routeSaved = true
		}
	}

	if err := r.sinks.State.SaveSnapshot(ctx, snap); err != nil {
		r.logger.WithError(err).WithField("sequence", snap.Sequence).Warn("Failed to save snapshot")
	}
}

func (r *Recorder) recordRun(ctx context.Context, snap models.Snapshot) {
	if snap.RunID != r.activeRun {
		if r.activeRun != "" && !r.finished {
			// Прерванный прогон закрывается последним известным статусом
			status := r.lastStatus
			if status == models.StatusRunning {
				status = models.StatusIdle
			}
			r.finishRun(ctx, r.activeRun, status, snap.UpdatedAt)
		}

		r.activeRun = snap.RunID
		r.finished = false
		if snap.RunID != "" && r.sinks.Runs != nil {
			run := models.Run{
				RunID:     snap.RunID,
				StartedAt: snap.UpdatedAt,
				Waypoints: len(snap.Waypoints),
			}
			if err := r.sinks.Runs.StartRun(ctx, run); err != nil {
				r.logger.WithError(err).WithField("run_id", snap.RunID).Warn("Failed to record run start")
			}
		}
	}

	r.lastStatus = snap.Status
	if snap.RunID != "" && snap.Status == models.StatusCompleted && !r.finished {
		r.finishRun(ctx, snap.RunID, models.StatusCompleted, snap.UpdatedAt)
	}
}

func (r *Recorder) finishRun(ctx context.Context, runID string, status models.Status, at time.Time) {
	r.finished = true
	if r.sinks.Runs == nil {
		return
	}
	if err := r.sinks.Runs.FinishRun(ctx, runID, status, at); err != nil {
		r.logger.WithError(err).WithField("run_id", runID).Warn("Failed to record run finish")
	}
}

func (r *Recorder) recordTelemetry(ctx context.Context, snap models.Snapshot) {
	if snap.RunID == "" {
		return
	}
	point, ok := models.TelemetryFromSnapshot(snap)
	if !ok {
		return
	}

	if r.sinks.Telemetry != nil {
		if err := r.sinks.Telemetry.QueueTelemetry(point); err != nil {
			r.logger.WithError(err).Debug("Telemetry point not queued")
		}
	}
	if r.sinks.Publisher != nil {
		if err := r.sinks.Publisher.PublishTelemetry(ctx, point); err != nil {
			metrics.MQTTMessagesPublished.WithLabelValues("error").Inc()
			r.logger.WithError(err).Debug("Telemetry point not published")
		}
	}
}
