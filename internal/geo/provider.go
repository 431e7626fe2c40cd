package geo

import (
	"fmt"
	"math"
	"strings"

	"github.com/flybeeper/drone-sim/internal/models"
)

const (
	// Earth radius in meters
	earthRadiusM = 6371000.0

	degToRad = math.Pi / 180
	radToDeg = 180 / math.Pi
)

// Provider is the geometry oracle consumed by the traversal engine.
// Distance must be non-negative; Interpolate(a, b, 0) == a and Interpolate(a, b, 1) == b.
type Provider interface {
	Distance(a, b models.Coordinate) float64
	Interpolate(a, b models.Coordinate, ratio float64) models.Coordinate
}

// Haversine measures great-circle distance in meters and interpolates along the great circle
type Haversine struct{}

// Distance calculates the Haversine distance between two points in meters
func (Haversine) Distance(a, b models.Coordinate) float64 {
	lat1Rad := a.Latitude * degToRad
	lat2Rad := b.Latitude * degToRad
	deltaLat := (b.Latitude - a.Latitude) * degToRad
	deltaLon := (b.Longitude - a.Longitude) * degToRad

	h := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusM * c
}

// Interpolate returns the intermediate point at fraction ratio along the great circle from a to b
func (p Haversine) Interpolate(a, b models.Coordinate, ratio float64) models.Coordinate {
	if ratio <= 0 {
		return a
	}
	if ratio >= 1 {
		return b
	}

	delta := p.Distance(a, b) / earthRadiusM
	if delta == 0 {
		return a
	}

	lat1, lon1 := a.Latitude*degToRad, a.Longitude*degToRad
	lat2, lon2 := b.Latitude*degToRad, b.Longitude*degToRad

	sinDelta := math.Sin(delta)
	wa := math.Sin((1-ratio)*delta) / sinDelta
	wb := math.Sin(ratio*delta) / sinDelta

	x := wa*math.Cos(lat1)*math.Cos(lon1) + wb*math.Cos(lat2)*math.Cos(lon2)
	y := wa*math.Cos(lat1)*math.Sin(lon1) + wb*math.Cos(lat2)*math.Sin(lon2)
	z := wa*math.Sin(lat1) + wb*math.Sin(lat2)

	return models.Coordinate{
		Latitude:  math.Atan2(z, math.Sqrt(x*x+y*y)) * radToDeg,
		Longitude: math.Atan2(y, x) * radToDeg,
	}
}

// Planar treats coordinates as points on a flat plane measured in degrees.
// Used for synthetic routes and tests where unit distances are convenient.
type Planar struct{}

// Distance returns the Euclidean distance in degree units
func (Planar) Distance(a, b models.Coordinate) float64 {
	return math.Hypot(b.Latitude-a.Latitude, b.Longitude-a.Longitude)
}

// Interpolate returns the linear interpolation between a and b
func (Planar) Interpolate(a, b models.Coordinate, ratio float64) models.Coordinate {
	if ratio <= 0 {
		return a
	}
	if ratio >= 1 {
		return b
	}
	return models.Coordinate{
		Latitude:  a.Latitude + (b.Latitude-a.Latitude)*ratio,
		Longitude: a.Longitude + (b.Longitude-a.Longitude)*ratio,
	}
}

// NewProvider returns a provider by name: "haversine" or "planar"
func NewProvider(name string) (Provider, error) {
	switch strings.ToLower(name) {
	case "", "haversine":
		return Haversine{}, nil
	case "planar":
		return Planar{}, nil
	default:
		return nil, fmt.Errorf("unknown geometry provider: %s", name)
	}
}

// PathLength returns the total length of a route
func PathLength(p Provider, path []models.Coordinate) float64 {
	total := 0.0
	for i := 1; i < len(path); i++ {
		total += p.Distance(path[i-1], path[i])
	}
	return total
}
