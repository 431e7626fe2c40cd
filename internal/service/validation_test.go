package service

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flybeeper/drone-sim/internal/models"
	"github.com/flybeeper/drone-sim/pkg/utils"
)

func TestValidationService_ValidateWaypoint(t *testing.T) {
	service := NewValidationService(utils.Nop(), &ValidationConfig{MaxWaypoints: 3})

	t.Run("ValidPoint", func(t *testing.T) {
		err := service.ValidateWaypoint(models.Coordinate{Latitude: 18.5, Longitude: -68.4}, 0, SourceREST)
		assert.NoError(t, err)
	})

	t.Run("LatitudeOutOfRange", func(t *testing.T) {
		err := service.ValidateWaypoint(models.Coordinate{Latitude: 91, Longitude: 0}, 0, SourceREST)
		require.Error(t, err)
		assert.True(t, errors.Is(err, models.ErrInvalidLatitude))
	})

	t.Run("LongitudeNaN", func(t *testing.T) {
		err := service.ValidateWaypoint(models.Coordinate{Latitude: 0, Longitude: math.NaN()}, 0, SourceMQTT)
		assert.True(t, errors.Is(err, models.ErrInvalidLongitude))
	})

	t.Run("RouteFull", func(t *testing.T) {
		err := service.ValidateWaypoint(models.Coordinate{Latitude: 1, Longitude: 1}, 3, SourceREST)
		assert.True(t, errors.Is(err, ErrTooManyWaypoints))
	})

	m := service.GetMetrics()
	assert.Equal(t, int64(1), m.Accepted)
	assert.Equal(t, int64(3), m.Rejected)
}

func TestValidationService_ValidatePath(t *testing.T) {
	service := NewValidationService(utils.Nop(), &ValidationConfig{MaxWaypoints: 4})

	assert.NoError(t, service.ValidatePath(models.DefaultRoute(), SourceREST))
	assert.NoError(t, service.ValidatePath(nil, SourceREST))

	// Дубликаты допустимы
	dup := []models.Coordinate{{Latitude: 1, Longitude: 1}, {Latitude: 1, Longitude: 1}}
	assert.NoError(t, service.ValidatePath(dup, SourceImport))

	bad := []models.Coordinate{{Latitude: 1, Longitude: 1}, {Latitude: 1, Longitude: 181}}
	err := service.ValidatePath(bad, SourceREST)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "waypoint 1")

	tooLong := make([]models.Coordinate, 5)
	err = service.ValidatePath(tooLong, SourceREST)
	assert.True(t, errors.Is(err, ErrTooManyWaypoints))
}

func TestValidationService_Unlimited(t *testing.T) {
	service := NewValidationService(utils.Nop(), &ValidationConfig{})

	path := make([]models.Coordinate, 20000)
	for i := range path {
		path[i] = models.Coordinate{Latitude: 1, Longitude: 1}
	}
	assert.NoError(t, service.ValidatePath(path, SourceImport))
	assert.NoError(t, service.ValidateWaypoint(models.Coordinate{Latitude: 1, Longitude: 1}, 20000, SourceREST))
}
