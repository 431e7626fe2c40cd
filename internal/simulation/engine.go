package simulation

import (
	"github.com/flybeeper/drone-sim/internal/geo"
	"github.com/flybeeper/drone-sim/internal/models"
)

// State единый набор состояния обхода маршрута.
// Waypoints никогда не изменяется движком: живая позиция хранится отдельно.
type State struct {
	Waypoints []models.Coordinate
	Index     int
	Position  *models.Coordinate
	Trail     []models.Coordinate
	Status    models.Status
}

// TickResult итог одного шага движка
type TickResult struct {
	Advanced  bool // Состояние изменилось
	Completed bool // Достигнута конечная точка на этом шаге
	Crossed   int  // Сколько точек маршрута пройдено за шаг
	Index     int
	Status    models.Status
	Position  *models.Coordinate
}

// Clone возвращает глубокую копию состояния
func (s State) Clone() State {
	out := State{
		Waypoints: models.ClonePath(s.Waypoints),
		Index:     s.Index,
		Trail:     models.ClonePath(s.Trail),
		Status:    s.Status,
	}
	if s.Position != nil {
		pos := *s.Position
		out.Position = &pos
	}
	return out
}

// LivePath возвращает маршрут, где точка текущего сегмента заменена живой позицией
func (s State) LivePath() []models.Coordinate {
	path := models.ClonePath(s.Waypoints)
	if s.Position != nil && s.Index >= 0 && s.Index < len(path) {
		path[s.Index] = *s.Position
	}
	return path
}

// CanAdvance сообщает, способен ли шаг с данным бюджетом что-то изменить
func (s State) CanAdvance(budget float64) bool {
	// !(budget > 0) также отсекает NaN
	if s.Status != models.StatusRunning || !(budget > 0) {
		return false
	}
	return len(s.Waypoints) >= 2 && s.Index >= 0 && s.Index < len(s.Waypoints)-1
}

// Advance продвигает дрон на расстояние budget вдоль маршрута.
// Функция чистая: входное состояние не изменяется, результат возвращается новым значением.
// За один шаг может быть пройдено несколько сегментов; остаток после
// достижения конечной точки отбрасывается.
func Advance(p geo.Provider, st State, budget float64) (State, TickResult) {
	if !st.CanAdvance(budget) {
		return st, TickResult{Index: st.Index, Status: st.Status, Position: st.Position}
	}

	last := len(st.Waypoints) - 1
	index := st.Index
	current := st.Waypoints[index]
	if st.Position != nil {
		current = *st.Position
	}

	status := st.Status
	crossed := 0
	remaining := budget

	// Цикл ограничен длиной маршрута: каждая итерация либо увеличивает index, либо завершает шаг
	for index < last {
		next := st.Waypoints[index+1]
		segment := p.Distance(current, next)

		// Вырожденный сегмент (совпадающие точки) проходится мгновенно
		if !(segment > 0) || remaining >= segment {
			if segment > 0 {
				remaining -= segment
			}
			index++
			crossed++
			current = next
			if index == last {
				status = models.StatusCompleted
				break
			}
			continue
		}

		current = p.Interpolate(current, next, remaining/segment)
		break
	}

	pos := current
	next := State{
		Waypoints: st.Waypoints,
		Index:     index,
		Position:  &pos,
		Trail:     UpdateTrail(st.Trail, pos),
		Status:    status,
	}

	return next, TickResult{
		Advanced:  true,
		Completed: status == models.StatusCompleted,
		Crossed:   crossed,
		Index:     index,
		Status:    status,
		Position:  &pos,
	}
}
