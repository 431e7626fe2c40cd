package mqtt

import (
	"context"
	"fmt"

	"github.com/flybeeper/drone-sim/internal/models"
)

// Controller операции симулятора, управляемые через командный топик
type Controller interface {
	Start(ctx context.Context) (models.Snapshot, bool)
	Pause(ctx context.Context) (models.Snapshot, bool)
	Reset(ctx context.Context) (models.Snapshot, bool)
	ClearPath()
	AppendWaypoint(c models.Coordinate)
	Waypoints() []models.Coordinate
}

// WaypointValidator проверяет точку перед добавлением в маршрут
type WaypointValidator interface {
	ValidateWaypoint(c models.Coordinate, current int, source string) error
}

// SourceMQTT метка источника точек для валидации
const SourceMQTT = "mqtt"

// NewCommandHandler возвращает обработчик, применяющий команды к симулятору
func NewCommandHandler(ctrl Controller, validator WaypointValidator) CommandHandler {
	return func(ctx context.Context, cmd *Command) error {
		switch cmd.Action {
		case ActionStart:
			ctrl.Start(ctx)
		case ActionPause:
			ctrl.Pause(ctx)
		case ActionReset:
			ctrl.Reset(ctx)
		case ActionClear:
			ctrl.ClearPath()
		case ActionAppend:
			if cmd.Point == nil {
				return ErrMissingCoordinate
			}
			if validator != nil {
				if err := validator.ValidateWaypoint(*cmd.Point, len(ctrl.Waypoints()), SourceMQTT); err != nil {
					return fmt.Errorf("waypoint rejected: %w", err)
				}
			}
			ctrl.AppendWaypoint(*cmd.Point)
		default:
			return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Action)
		}
		return nil
	}
}
