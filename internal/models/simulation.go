package models

import (
	"fmt"
	"time"
)

// Status состояние жизненного цикла симуляции
type Status int

const (
	StatusIdle Status = iota
	StatusRunning
	StatusCompleted
)

// String возвращает строковое представление статуса
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// MarshalText сериализует статус как строку в JSON
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText разбирает статус из JSON строки
func (s *Status) UnmarshalText(b []byte) error {
	st, ok := ParseStatus(string(b))
	if !ok {
		return fmt.Errorf("unknown status %q", string(b))
	}
	*s = st
	return nil
}

// ParseStatus разбирает строковый статус
func ParseStatus(s string) (Status, bool) {
	switch s {
	case "idle":
		return StatusIdle, true
	case "running":
		return StatusRunning, true
	case "completed":
		return StatusCompleted, true
	default:
		return StatusIdle, false
	}
}

// Snapshot неизменяемый снимок состояния симуляции для рендеринга и подписчиков
type Snapshot struct {
	RunID     string       `json:"run_id"`
	Sequence  uint64       `json:"sequence"`
	Status    Status       `json:"status"`
	Index     int          `json:"index"`
	Position  *Coordinate  `json:"position,omitempty"`
	Geohash   string       `json:"geohash,omitempty"`
	Path      []Coordinate `json:"path"`      // Маршрут, где точка index заменена живой позицией
	Waypoints []Coordinate `json:"waypoints"` // Исходный маршрут оператора
	Trail     []Coordinate `json:"trail"`
	Speed     float64      `json:"speed"` // Метры за секунду
	UpdatedAt time.Time    `json:"updated_at"`
}

// Telemetry точка телеметрии, одна на каждое изменение состояния
type Telemetry struct {
	RunID      string    `json:"run_id"`
	Sequence   uint64    `json:"seq"`
	Status     Status    `json:"status"`
	Index      int       `json:"index"`
	Latitude   float64   `json:"lat"`
	Longitude  float64   `json:"lng"`
	Geohash    string    `json:"geohash,omitempty"`
	RecordedAt time.Time `json:"ts"`
}

// TelemetryFromSnapshot строит точку телеметрии; false если позиции еще нет
func TelemetryFromSnapshot(s Snapshot) (*Telemetry, bool) {
	if s.Position == nil {
		return nil, false
	}
	return &Telemetry{
		RunID:      s.RunID,
		Sequence:   s.Sequence,
		Status:     s.Status,
		Index:      s.Index,
		Latitude:   s.Position.Latitude,
		Longitude:  s.Position.Longitude,
		Geohash:    s.Geohash,
		RecordedAt: s.UpdatedAt,
	}, true
}

// Run запись о прогоне симуляции
type Run struct {
	RunID       string     `json:"run_id"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	FinalStatus string     `json:"final_status,omitempty"`
	Waypoints   int        `json:"waypoints"`
}
