package simulation

import "github.com/flybeeper/drone-sim/internal/models"

// UpdateTrail возвращает новый след, голова которого равна живой позиции.
// Остальные точки следа не трогаются. Пустой след остается пустым.
func UpdateTrail(trail []models.Coordinate, position models.Coordinate) []models.Coordinate {
	if len(trail) == 0 {
		return trail
	}
	out := models.ClonePath(trail)
	out[0] = position
	return out
}

// SeedTrail создает след из маршрута при начале прогона
func SeedTrail(waypoints []models.Coordinate) []models.Coordinate {
	return models.ClonePath(waypoints)
}
