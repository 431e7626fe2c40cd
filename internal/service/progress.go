package service

import (
	"math"
	"time"

	"github.com/flybeeper/drone-sim/internal/geo"
	"github.com/flybeeper/drone-sim/internal/models"
)

// Progress положение дрона относительно маршрута
type Progress struct {
	RunID        string             `json:"run_id"`
	Status       string             `json:"status"`
	Index        int                `json:"index"`
	Segments     int                `json:"segments"`
	Total        float64            `json:"total"`     // Длина маршрута
	Traveled     float64            `json:"traveled"`  // Пройдено от начала
	Remaining    float64            `json:"remaining"` // Осталось до конечной точки
	Percent      float64            `json:"percent"`
	ETA          time.Duration      `json:"-"`
	ETASeconds   float64            `json:"eta_seconds"`
	NextWaypoint *models.Coordinate `json:"next_waypoint,omitempty"`
}

// ProgressTracker вычисляет прогресс по снимку состояния
type ProgressTracker struct {
	provider geo.Provider
}

// NewProgressTracker создает трекер прогресса
func NewProgressTracker(provider geo.Provider) *ProgressTracker {
	return &ProgressTracker{provider: provider}
}

// Compute возвращает прогресс для снимка. Расстояния в единицах провайдера.
func (pt *ProgressTracker) Compute(snap models.Snapshot) Progress {
	wp := snap.Waypoints
	p := Progress{
		RunID:  snap.RunID,
		Status: snap.Status.String(),
		Index:  snap.Index,
	}
	if len(wp) < 2 {
		return p
	}
	p.Segments = len(wp) - 1
	p.Total = geo.PathLength(pt.provider, wp)

	index := snap.Index
	if index < 0 {
		index = 0
	}
	if index >= len(wp)-1 {
		p.Traveled = p.Total
		p.Percent = 100
		return p
	}

	// Полные сегменты до текущего
	for i := 1; i <= index; i++ {
		p.Traveled += pt.provider.Distance(wp[i-1], wp[i])
	}

	pos := wp[index]
	if snap.Position != nil {
		pos = *snap.Position
	}
	next := wp[index+1]
	p.NextWaypoint = &next

	segment := pt.provider.Distance(wp[index], next)
	left := pt.provider.Distance(pos, next)
	if segment > left {
		p.Traveled += segment - left
	}
	p.Remaining = left
	for i := index + 2; i < len(wp); i++ {
		p.Remaining += pt.provider.Distance(wp[i-1], wp[i])
	}

	if p.Total > 0 {
		p.Percent = math.Min(100, p.Traveled/p.Total*100)
	}
	if snap.Speed > 0 {
		p.ETA = time.Duration(p.Remaining / snap.Speed * float64(time.Second))
		p.ETASeconds = p.ETA.Seconds()
	}
	return p
}
