package models

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mmcloughlin/geohash"
)

var (
	// ErrInvalidLatitude широта вне диапазона [-90, 90]
	ErrInvalidLatitude = errors.New("invalid latitude")
	// ErrInvalidLongitude долгота вне диапазона [-180, 180]
	ErrInvalidLongitude = errors.New("invalid longitude")
)

// DefaultGeohashPrecision точность geohash для позиции дрона (~150 м)
const DefaultGeohashPrecision = 7

// Coordinate представляет географическую точку маршрута
type Coordinate struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// Validate проверяет корректность координат
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Latitude) || c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("%w: %f", ErrInvalidLatitude, c.Latitude)
	}
	if math.IsNaN(c.Longitude) || c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("%w: %f", ErrInvalidLongitude, c.Longitude)
	}
	return nil
}

// IsZero true для нулевой точки (0,0)
func (c Coordinate) IsZero() bool {
	return c.Latitude == 0 && c.Longitude == 0
}

// Geohash возвращает geohash для точки с заданной точностью
func (c Coordinate) Geohash(precision int) string {
	return geohash.EncodeWithPrecision(c.Latitude, c.Longitude, uint(precision))
}

// String формат "lat,lng" используется в Redis списках
func (c Coordinate) String() string {
	return strconv.FormatFloat(c.Latitude, 'f', -1, 64) + "," +
		strconv.FormatFloat(c.Longitude, 'f', -1, 64)
}

// ParseCoordinate разбирает строку вида "lat,lng"
func ParseCoordinate(s string) (Coordinate, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return Coordinate{}, fmt.Errorf("invalid coordinate: %q", s)
	}

	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Coordinate{}, fmt.Errorf("invalid latitude %q: %w", parts[0], err)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Coordinate{}, fmt.Errorf("invalid longitude %q: %w", parts[1], err)
	}

	return Coordinate{Latitude: lat, Longitude: lng}, nil
}

// ValidatePath проверяет все точки маршрута, ошибка содержит индекс точки
func ValidatePath(path []Coordinate) error {
	for i, c := range path {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("waypoint %d: %w", i, err)
		}
	}
	return nil
}

// ClonePath возвращает независимую копию маршрута
func ClonePath(path []Coordinate) []Coordinate {
	if path == nil {
		return nil
	}
	out := make([]Coordinate, len(path))
	copy(out, path)
	return out
}

// DefaultRoute маршрут по умолчанию (район Пунта-Каны)
func DefaultRoute() []Coordinate {
	return []Coordinate{
		{Latitude: 18.562093938563784, Longitude: -68.40836660716829},
		{Latitude: 18.560995497953385, Longitude: -68.40230123938906},
		{Latitude: 18.558920646396807, Longitude: -68.39049951972353},
		{Latitude: 18.55794423693522, Longitude: -68.3884395832001},
	}
}
