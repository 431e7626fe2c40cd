package geo

import (
	"testing"

	"github.com/flybeeper/drone-sim/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestSegmentCache_Eviction(t *testing.T) {
	c := NewSegmentCache(2)
	a := models.Coordinate{Latitude: 0, Longitude: 0}
	b := models.Coordinate{Latitude: 0, Longitude: 1}
	d := models.Coordinate{Latitude: 0, Longitude: 2}

	c.Put(a, b, 1)
	c.Put(b, d, 2)
	_, _ = c.Get(a, b) // a→b становится самым свежим
	c.Put(a, d, 3)     // вытесняет b→d

	_, ok := c.Get(b, d)
	assert.False(t, ok)

	v, ok := c.Get(a, b)
	assert.True(t, ok)
	assert.Equal(t, 1.0, v)
	assert.Equal(t, 2, c.Len())

	hits, misses, rate := c.Stats()
	assert.Equal(t, uint64(2), hits)
	assert.Equal(t, uint64(1), misses)
	assert.InDelta(t, 2.0/3.0, rate, 1e-9)
}

func TestSegmentCache_PutUpdatesExisting(t *testing.T) {
	c := NewSegmentCache(0)
	a := models.Coordinate{Latitude: 1, Longitude: 1}
	b := models.Coordinate{Latitude: 2, Longitude: 2}

	c.Put(a, b, 5)
	c.Put(a, b, 7)

	v, ok := c.Get(a, b)
	assert.True(t, ok)
	assert.Equal(t, 7.0, v)
	assert.Equal(t, 1, c.Len())
}

type countingProvider struct {
	Planar
	calls int
}

func (p *countingProvider) Distance(a, b models.Coordinate) float64 {
	p.calls++
	return p.Planar.Distance(a, b)
}

func TestCachedProvider_Memoizes(t *testing.T) {
	inner := &countingProvider{}
	cp := NewCachedProvider(inner, 16)

	a := models.Coordinate{Latitude: 0, Longitude: 0}
	b := models.Coordinate{Latitude: 0, Longitude: 10}

	assert.Equal(t, 10.0, cp.Distance(a, b))
	assert.Equal(t, 10.0, cp.Distance(a, b))
	assert.Equal(t, 1, inner.calls)

	// Обратное направление - другой ключ
	cp.Distance(b, a)
	assert.Equal(t, 2, inner.calls)

	// Interpolate проходит к исходному провайдеру
	assert.Equal(t, models.Coordinate{Latitude: 0, Longitude: 5}, cp.Interpolate(a, b, 0.5))

	stats := cp.Stats()
	assert.Equal(t, uint64(1), stats["hits"])
	assert.Equal(t, uint64(2), stats["misses"])
}
