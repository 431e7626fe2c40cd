package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/protobuf/proto"

	"github.com/flybeeper/drone-sim/internal/filter"
	"github.com/flybeeper/drone-sim/internal/importer"
	"github.com/flybeeper/drone-sim/internal/metrics"
	"github.com/flybeeper/drone-sim/internal/models"
	"github.com/flybeeper/drone-sim/internal/repository"
	"github.com/flybeeper/drone-sim/internal/service"
	"github.com/flybeeper/drone-sim/pkg/utils"
)

// SimulationController операции симулятора, доступные внешним поверхностям
type SimulationController interface {
	Start(ctx context.Context) (models.Snapshot, bool)
	Pause(ctx context.Context) (models.Snapshot, bool)
	Reset(ctx context.Context) (models.Snapshot, bool)
	Snapshot() models.Snapshot
	Waypoints() []models.Coordinate
	AppendWaypoint(c models.Coordinate)
	ReplacePath(path []models.Coordinate)
	ClearPath()
	Subscribe(buffer int) (<-chan models.Snapshot, func())
}

// RESTHandler обработчик REST API endpoints
type RESTHandler struct {
	sim        SimulationController
	validation *service.ValidationService
	progress   *service.ProgressTracker
	history    repository.HistoryRepository // nil если MySQL отключен
	cleanup    *filter.FilterChain
	maxUpload  int64
	logger     *utils.Logger
	timeout    time.Duration
}

// NewRESTHandler создает новый REST handler
func NewRESTHandler(deps Dependencies, maxUpload int64, logger *utils.Logger) *RESTHandler {
	validation := deps.Validation
	if validation == nil {
		validation = service.NewValidationService(logger, nil)
	}
	return &RESTHandler{
		sim:        deps.Simulation,
		validation: validation,
		progress:   deps.Progress,
		history:    deps.History,
		cleanup:    deps.Import,
		maxUpload:  maxUpload,
		logger:     logger.WithField("component", "rest"),
		timeout:    10 * time.Second,
	}
}

// GetSimulation возвращает текущий снимок
// GET /api/v1/simulation
func (h *RESTHandler) GetSimulation(c *gin.Context) {
	h.respondSnapshot(c, http.StatusOK, h.sim.Snapshot())
}

// GetProgress возвращает прогресс по маршруту
// GET /api/v1/simulation/progress
func (h *RESTHandler) GetProgress(c *gin.Context) {
	if h.progress == nil {
		respondError(c, http.StatusServiceUnavailable, "progress_unavailable", "Progress tracker is not configured")
		return
	}
	c.JSON(http.StatusOK, h.progress.Compute(h.sim.Snapshot()))
}

// Start запускает симуляцию
// POST /api/v1/simulation/start
func (h *RESTHandler) Start(c *gin.Context) {
	h.lifecycle(c, "start", h.sim.Start)
}

// Pause приостанавливает симуляцию
// POST /api/v1/simulation/pause
func (h *RESTHandler) Pause(c *gin.Context) {
	h.lifecycle(c, "pause", h.sim.Pause)
}

// Reset очищает маршрут и состояние
// POST /api/v1/simulation/reset
func (h *RESTHandler) Reset(c *gin.Context) {
	h.lifecycle(c, "reset", h.sim.Reset)
}

func (h *RESTHandler) lifecycle(c *gin.Context, action string, op func(context.Context) (models.Snapshot, bool)) {
	snap, changed := op(c.Request.Context())

	h.logger.WithFields(map[string]interface{}{
		"action":  action,
		"changed": changed,
		"status":  snap.Status.String(),
		"run_id":  snap.RunID,
	}).Info("Lifecycle command applied")

	c.JSON(http.StatusOK, gin.H{
		"changed":    changed,
		"simulation": snap,
	})
}

// GetPath возвращает маршрут оператора
// GET /api/v1/path
func (h *RESTHandler) GetPath(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"waypoints": h.sim.Waypoints()})
}

// AppendWaypoint добавляет точку в конец маршрута
// POST /api/v1/path/waypoints
func (h *RESTHandler) AppendWaypoint(c *gin.Context) {
	point, err := bindWaypoint(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := h.validation.ValidateWaypoint(point, len(h.sim.Waypoints()), service.SourceREST); err != nil {
		h.respondValidationError(c, err)
		return
	}

	h.sim.AppendWaypoint(point)
	c.JSON(http.StatusCreated, h.sim.Snapshot())
}

// ReplacePath заменяет маршрут целиком
// PUT /api/v1/path
func (h *RESTHandler) ReplacePath(c *gin.Context) {
	path, err := bindPath(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := h.validation.ValidatePath(path, service.SourceREST); err != nil {
		h.respondValidationError(c, err)
		return
	}

	h.sim.ReplacePath(path)
	h.respondSnapshot(c, http.StatusOK, h.sim.Snapshot())
}

// ClearPath удаляет все точки маршрута
// DELETE /api/v1/path
func (h *RESTHandler) ClearPath(c *gin.Context) {
	h.sim.ClearPath()
	c.JSON(http.StatusOK, h.sim.Snapshot())
}

// ImportPath загружает маршрут из CSV файла
// POST /api/v1/path/import (multipart, поле file)
func (h *RESTHandler) ImportPath(c *gin.Context) {
	if h.maxUpload > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		metrics.ImportsTotal.WithLabelValues("invalid").Inc()
		respondError(c, http.StatusBadRequest, "missing_file", "Multipart field 'file' is required")
		return
	}
	defer file.Close()

	result, err := importer.ParseCSV(file)
	if err != nil {
		metrics.ImportsTotal.WithLabelValues("rejected").Inc()
		h.logger.WithFields(map[string]interface{}{
			"filename": header.Filename,
			"error":    err.Error(),
		}).Warn("Route import rejected")

		code := "invalid_csv"
		switch {
		case errors.Is(err, importer.ErrNoCoordinates):
			code = "no_coordinates"
		case errors.Is(err, importer.ErrMissingColumns):
			code = "missing_columns"
		}
		respondError(c, http.StatusUnprocessableEntity, code, err.Error())
		return
	}

	waypoints := result.Waypoints
	var stats filter.FilterStats
	if h.cleanup != nil {
		cleaned := h.cleanup.Filter(waypoints)
		waypoints = cleaned.Points
		stats = cleaned.Statistics
	}

	if err := h.validation.ValidatePath(waypoints, service.SourceImport); err != nil {
		metrics.ImportsTotal.WithLabelValues("rejected").Inc()
		h.respondValidationError(c, err)
		return
	}

	h.sim.ReplacePath(waypoints)
	metrics.ImportsTotal.WithLabelValues("accepted").Inc()

	h.logger.WithFields(map[string]interface{}{
		"filename":  header.Filename,
		"rows":      result.Rows,
		"waypoints": len(waypoints),
		"dropped":   result.Dropped(),
		"filtered":  len(result.Waypoints) - len(waypoints),
	}).Info("Route imported")

	c.JSON(http.StatusOK, gin.H{
		"rows":         result.Rows,
		"imported":     len(waypoints),
		"dropped":      result.Dropped(),
		"zero":         result.Zero,
		"out_of_range": result.OutOfRange,
		"duplicates":   stats.Duplicates,
		"outliers":     stats.Outliers,
		"simulation":   h.sim.Snapshot(),
	})
}

// ListRuns возвращает последние прогоны
// GET /api/v1/runs?limit=N
func (h *RESTHandler) ListRuns(c *gin.Context) {
	if !h.historyEnabled(c) {
		return
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	runs, err := h.history.ListRuns(ctx, limit)
	if err != nil {
		h.logger.WithField("error", err).Error("Failed to list runs")
		respondError(c, http.StatusInternalServerError, "internal_error", "Failed to retrieve runs")
		return
	}
	if runs == nil {
		runs = []models.Run{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// GetRun возвращает прогон по идентификатору
// GET /api/v1/runs/:run_id
func (h *RESTHandler) GetRun(c *gin.Context) {
	if !h.historyEnabled(c) {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	run, err := h.history.GetRun(ctx, c.Param("run_id"))
	if err != nil {
		h.respondHistoryError(c, err, "Failed to retrieve run")
		return
	}
	c.JSON(http.StatusOK, run)
}

// GetTelemetry возвращает телеметрию прогона в порядке sequence
// GET /api/v1/runs/:run_id/telemetry?limit=N
func (h *RESTHandler) GetTelemetry(c *gin.Context) {
	if !h.historyEnabled(c) {
		return
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	runID := c.Param("run_id")

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	if _, err := h.history.GetRun(ctx, runID); err != nil {
		h.respondHistoryError(c, err, "Failed to retrieve run")
		return
	}

	points, err := h.history.GetTelemetry(ctx, runID, limit)
	if err != nil {
		h.respondHistoryError(c, err, "Failed to retrieve telemetry")
		return
	}
	if points == nil {
		points = []models.Telemetry{}
	}
	c.JSON(http.StatusOK, gin.H{
		"run_id":    runID,
		"count":     len(points),
		"telemetry": points,
	})
}

func (h *RESTHandler) historyEnabled(c *gin.Context) bool {
	if h.history == nil {
		respondError(c, http.StatusServiceUnavailable, "history_disabled", "Run history is not configured")
		return false
	}
	return true
}

func (h *RESTHandler) respondHistoryError(c *gin.Context, err error, message string) {
	if errors.Is(err, repository.ErrNotFound) {
		respondError(c, http.StatusNotFound, "run_not_found", "Run not found")
		return
	}
	h.logger.WithField("error", err).Error(message)
	respondError(c, http.StatusInternalServerError, "internal_error", message)
}

func (h *RESTHandler) respondValidationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidLatitude):
		respondError(c, http.StatusBadRequest, "invalid_latitude", err.Error())
	case errors.Is(err, models.ErrInvalidLongitude):
		respondError(c, http.StatusBadRequest, "invalid_longitude", err.Error())
	case errors.Is(err, service.ErrTooManyWaypoints):
		respondError(c, http.StatusUnprocessableEntity, "too_many_waypoints", err.Error())
	default:
		respondError(c, http.StatusBadRequest, "invalid_request", err.Error())
	}
}

// respondSnapshot отдает снимок в JSON или protobuf по заголовку Accept
func (h *RESTHandler) respondSnapshot(c *gin.Context, status int, snap models.Snapshot) {
	if !wantsProtobuf(c) {
		c.JSON(status, snap)
		return
	}

	msg, err := convertSnapshotToStruct(snap)
	if err == nil {
		var data []byte
		data, err = proto.Marshal(msg)
		if err == nil {
			c.Data(status, contentTypeProtobuf, data)
			return
		}
	}

	h.logger.WithField("error", err).Error("Failed to marshal protobuf")
	respondError(c, http.StatusInternalServerError, "serialization_error", "Failed to serialize response")
}
