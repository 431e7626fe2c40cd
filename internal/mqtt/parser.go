package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/flybeeper/drone-sim/internal/models"
)

var (
	// ErrUnknownCommand команда не поддерживается
	ErrUnknownCommand = errors.New("unknown command")
	// ErrMissingCoordinate для append не переданы координаты
	ErrMissingCoordinate = errors.New("append requires lat and lng")
)

// Action команда управления симуляцией
type Action string

const (
	ActionStart  Action = "start"
	ActionPause  Action = "pause"
	ActionReset  Action = "reset"
	ActionClear  Action = "clear"
	ActionAppend Action = "append"
)

// Command разобранное сообщение из командного топика
type Command struct {
	Action Action             `json:"action"`
	Point  *models.Coordinate `json:"-"` // Только для append
}

type commandPayload struct {
	Action string   `json:"action"`
	Lat    *float64 `json:"lat"`
	Lng    *float64 `json:"lng"`
}

// ParseCommand разбирает JSON команду вида {"action":"append","lat":..,"lng":..}
func ParseCommand(payload []byte) (*Command, error) {
	var p commandPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("invalid command payload: %w", err)
	}

	action := Action(strings.ToLower(strings.TrimSpace(p.Action)))
	switch action {
	case ActionStart, ActionPause, ActionReset, ActionClear:
		return &Command{Action: action}, nil
	case ActionAppend:
		if p.Lat == nil || p.Lng == nil {
			return nil, ErrMissingCoordinate
		}
		point := models.Coordinate{Latitude: *p.Lat, Longitude: *p.Lng}
		return &Command{Action: action, Point: &point}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, p.Action)
	}
}

// EncodeTelemetry сериализует точку телеметрии для публикации
func EncodeTelemetry(point *models.Telemetry) ([]byte, error) {
	if point == nil {
		return nil, errors.New("telemetry point is nil")
	}
	return json.Marshal(point)
}
