package simulation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flybeeper/drone-sim/internal/geo"
	"github.com/flybeeper/drone-sim/internal/metrics"
	"github.com/flybeeper/drone-sim/internal/models"
	"github.com/flybeeper/drone-sim/pkg/utils"
)

const tracerName = "github.com/flybeeper/drone-sim/internal/simulation"

// Simulator владеет состоянием обхода и сериализует все изменения.
// Шаг движка выполняется под блокировкой записи, поэтому наблюдатели
// никогда не видят частично обновленное состояние.
type Simulator struct {
	provider geo.Provider
	speed    float64
	interval time.Duration
	logger   *utils.Logger
	tracer   trace.Tracer

	mu       sync.RWMutex
	state    State
	runID    string
	sequence uint64
	updated  time.Time

	subMu       sync.Mutex
	subscribers map[int]chan models.Snapshot
	nextSubID   int

	now func() time.Time
}

// New создает симулятор в состоянии Idle с пустым маршрутом.
// speed задается в единицах расстояния провайдера за секунду.
func New(provider geo.Provider, speed float64, interval time.Duration, logger *utils.Logger) *Simulator {
	if logger == nil {
		logger = utils.DefaultLogger()
	}
	return &Simulator{
		provider:    provider,
		speed:       speed,
		interval:    interval,
		logger:      logger.WithField("component", "simulator"),
		tracer:      otel.Tracer(tracerName),
		state:       State{Status: models.StatusIdle},
		subscribers: make(map[int]chan models.Snapshot),
		now:         time.Now,
	}
}

// Budget возвращает дистанцию, проходимую за один такт
func (s *Simulator) Budget() float64 {
	return s.speed * s.interval.Seconds()
}

// Status возвращает текущий статус
func (s *Simulator) Status() models.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Status
}

// Tick выполняет один шаг движка. Вне состояния Running шаг ничего не делает.
func (s *Simulator) Tick(ctx context.Context) TickResult {
	start := time.Now()
	budget := s.Budget()

	s.mu.Lock()
	if !s.state.CanAdvance(budget) {
		res := TickResult{Index: s.state.Index, Status: s.state.Status, Position: s.state.Position}
		s.mu.Unlock()
		metrics.SimulationTicks.WithLabelValues("noop").Inc()
		return res
	}

	tickCtx, span := s.tracer.Start(ctx, "simulation.tick",
		trace.WithAttributes(
			attribute.String("run_id", s.runID),
			attribute.Int("index", s.state.Index),
			attribute.Float64("budget", budget),
		))

	next, res := Advance(s.provider, s.state, budget)
	s.state = next
	snap := s.commitLocked()
	s.publish(snap)
	s.mu.Unlock()

	span.SetAttributes(
		attribute.Int("crossed", res.Crossed),
		attribute.String("status", res.Status.String()),
	)
	span.End()

	metrics.SimulationTickDuration.Observe(time.Since(start).Seconds())
	metrics.SegmentsCrossed.Add(float64(res.Crossed))
	metrics.SimulationWaypointIndex.Set(float64(res.Index))
	if res.Completed {
		metrics.SimulationTicks.WithLabelValues("completed").Inc()
		metrics.SimulationStatus.Set(float64(res.Status))
		s.logger.WithContext(tickCtx).WithFields(map[string]interface{}{
			"run_id": snap.RunID,
			"index":  res.Index,
		}).Info("Destination reached")
	} else {
		metrics.SimulationTicks.WithLabelValues("advanced").Inc()
	}
	return res
}

// Start переводит симуляцию в Running.
// Из Completed, а также из Idle без активного прогона, маршрут проходится заново с новым run ID.
// Из Idle после паузы движение продолжается с места остановки.
// Возвращает снимок, зафиксированный переходом (или текущий, если переход пустой).
func (s *Simulator) Start(ctx context.Context) (models.Snapshot, bool) {
	_, span := s.tracer.Start(ctx, "simulation.start")
	defer span.End()

	s.mu.Lock()
	if s.state.Status == models.StatusRunning {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		metrics.LifecycleTransitions.WithLabelValues("start", "noop").Inc()
		return snap, false
	}

	resumed := s.state.Status == models.StatusIdle && s.runID != ""
	if !resumed {
		s.rewindLocked()
		s.runID = uuid.NewString()
	}
	s.state.Status = models.StatusRunning
	waypoints := len(s.state.Waypoints)
	snap := s.commitLocked()
	s.publish(snap)
	s.mu.Unlock()

	span.SetAttributes(attribute.String("run_id", snap.RunID), attribute.Bool("resumed", resumed))
	metrics.LifecycleTransitions.WithLabelValues("start", "applied").Inc()
	metrics.SimulationStatus.Set(float64(models.StatusRunning))

	log := s.logger.WithFields(map[string]interface{}{
		"run_id":    snap.RunID,
		"waypoints": waypoints,
		"resumed":   resumed,
	})
	if waypoints < 2 {
		log.Warn("Simulation started with fewer than 2 waypoints, ticks will be no-ops")
	} else {
		log.Info("Simulation started")
	}
	return snap, true
}

// Pause замораживает индекс и живую позицию
func (s *Simulator) Pause(ctx context.Context) (models.Snapshot, bool) {
	_, span := s.tracer.Start(ctx, "simulation.pause")
	defer span.End()

	s.mu.Lock()
	if s.state.Status != models.StatusRunning {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		metrics.LifecycleTransitions.WithLabelValues("pause", "noop").Inc()
		return snap, false
	}
	s.state.Status = models.StatusIdle
	snap := s.commitLocked()
	s.publish(snap)
	s.mu.Unlock()

	metrics.LifecycleTransitions.WithLabelValues("pause", "applied").Inc()
	metrics.SimulationStatus.Set(float64(models.StatusIdle))
	s.logger.WithFields(map[string]interface{}{
		"run_id": snap.RunID,
		"index":  snap.Index,
	}).Info("Simulation paused")
	return snap, true
}

// Reset переводит в Idle и очищает маршрут, след и индекс
func (s *Simulator) Reset(ctx context.Context) (models.Snapshot, bool) {
	_, span := s.tracer.Start(ctx, "simulation.reset")
	defer span.End()

	s.mu.Lock()
	prevRun := s.runID
	s.state = State{Status: models.StatusIdle}
	s.runID = ""
	snap := s.commitLocked()
	s.publish(snap)
	s.mu.Unlock()

	metrics.LifecycleTransitions.WithLabelValues("reset", "applied").Inc()
	metrics.SimulationStatus.Set(float64(models.StatusIdle))
	metrics.SimulationWaypoints.Set(0)
	metrics.SimulationWaypointIndex.Set(0)
	s.logger.WithField("run_id", prevRun).Info("Simulation reset")
	return snap, true
}

// AppendWaypoint добавляет точку в конец маршрута и следа
func (s *Simulator) AppendWaypoint(c models.Coordinate) {
	s.mu.Lock()
	s.state.Waypoints = append(models.ClonePath(s.state.Waypoints), c)
	s.state.Trail = append(models.ClonePath(s.state.Trail), c)
	if s.state.Position == nil {
		pos := s.state.Waypoints[0]
		s.state.Position = &pos
	}
	count := len(s.state.Waypoints)
	snap := s.commitLocked()
	s.publish(snap)
	s.mu.Unlock()

	metrics.SimulationWaypoints.Set(float64(count))
	s.logger.WithFields(map[string]interface{}{
		"waypoint":  c.String(),
		"waypoints": count,
	}).Debug("Waypoint appended")
}

// ReplacePath заменяет маршрут целиком. Индекс и след начинаются заново;
// текущий прогон завершается, а при статусе Running сразу начинается новый.
// Статус не меняется: Completed остается Completed до start() или reset().
func (s *Simulator) ReplacePath(path []models.Coordinate) {
	s.mu.Lock()
	s.state.Waypoints = models.ClonePath(path)
	s.rewindLocked()
	s.renewRunLocked()
	snap := s.commitLocked()
	s.publish(snap)
	s.mu.Unlock()

	metrics.SimulationWaypoints.Set(float64(len(path)))
	metrics.SimulationWaypointIndex.Set(0)
	s.logger.WithFields(map[string]interface{}{
		"waypoints": len(path),
		"run_id":    snap.RunID,
	}).Info("Path replaced")
}

// ClearPath очищает маршрут и след, статус сохраняется.
// Прогон вне Running закрывается: маршрут, собранный заново, начнет новый.
func (s *Simulator) ClearPath() {
	s.mu.Lock()
	s.state.Waypoints = nil
	s.state.Trail = nil
	s.state.Position = nil
	s.state.Index = 0
	if s.state.Status != models.StatusRunning {
		s.runID = ""
	}
	snap := s.commitLocked()
	s.publish(snap)
	s.mu.Unlock()

	metrics.SimulationWaypoints.Set(0)
	metrics.SimulationWaypointIndex.Set(0)
	s.logger.Info("Path cleared")
}

// Waypoints возвращает копию маршрута оператора
func (s *Simulator) Waypoints() []models.Coordinate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.ClonePath(s.state.Waypoints)
}

// State возвращает глубокую копию внутреннего состояния
func (s *Simulator) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Snapshot возвращает согласованный снимок для рендеринга
func (s *Simulator) Snapshot() models.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Subscribe регистрирует подписчика на снимки состояния.
// Медленный подписчик теряет снимки, шаг движка не блокируется.
func (s *Simulator) Subscribe(buffer int) (<-chan models.Snapshot, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan models.Snapshot, buffer)

	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subscribers, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// rewindLocked возвращает дрон в начало маршрута и заново заполняет след
func (s *Simulator) rewindLocked() {
	s.state.Index = 0
	s.state.Trail = SeedTrail(s.state.Waypoints)
	s.state.Position = nil
	if len(s.state.Waypoints) > 0 {
		pos := s.state.Waypoints[0]
		s.state.Position = &pos
	}
}

// renewRunLocked после замены маршрута: в Running сразу начинается новый прогон,
// иначе прогон закрывается и следующий start() начнет его с начала маршрута
func (s *Simulator) renewRunLocked() {
	if s.state.Status == models.StatusRunning {
		s.runID = uuid.NewString()
		return
	}
	s.runID = ""
}

// commitLocked фиксирует изменение и строит снимок; вызывается под s.mu
func (s *Simulator) commitLocked() models.Snapshot {
	s.sequence++
	s.updated = s.now()
	return s.snapshotLocked()
}

func (s *Simulator) snapshotLocked() models.Snapshot {
	st := s.state.Clone()
	snap := models.Snapshot{
		RunID:     s.runID,
		Sequence:  s.sequence,
		Status:    st.Status,
		Index:     st.Index,
		Position:  st.Position,
		Path:      s.state.LivePath(),
		Waypoints: st.Waypoints,
		Trail:     st.Trail,
		Speed:     s.speed,
		UpdatedAt: s.updated,
	}
	if snap.Path == nil {
		snap.Path = []models.Coordinate{}
	}
	if snap.Waypoints == nil {
		snap.Waypoints = []models.Coordinate{}
	}
	if snap.Trail == nil {
		snap.Trail = []models.Coordinate{}
	}
	if st.Position != nil {
		snap.Geohash = st.Position.Geohash(models.DefaultGeohashPrecision)
	}
	return snap
}

// publish рассылает снимок под s.mu, поэтому порядок sequence сохраняется
func (s *Simulator) publish(snap models.Snapshot) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, ch := range s.subscribers {
		select {
		case ch <- snap:
		default:
			metrics.SubscriberDrops.Inc()
		}
	}
}
