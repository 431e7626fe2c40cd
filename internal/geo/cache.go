package geo

import (
	"container/list"
	"sync"

	"github.com/flybeeper/drone-sim/internal/metrics"
	"github.com/flybeeper/drone-sim/internal/models"
)

// segment ключ кеша: направленный отрезок между двумя точками.
// Координаты сравниваются точно, без округления.
type segment struct {
	from, to models.Coordinate
}

type segmentEntry struct {
	key    segment
	length float64
}

// SegmentCache потокобезопасный LRU кеш длин отрезков
type SegmentCache struct {
	capacity int
	items    map[segment]*list.Element
	order    *list.List
	mu       sync.Mutex

	hits   uint64
	misses uint64
}

// NewSegmentCache создает кеш на capacity отрезков (минимум один)
func NewSegmentCache(capacity int) *SegmentCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &SegmentCache{
		capacity: capacity,
		items:    make(map[segment]*list.Element, capacity),
		order:    list.New(),
	}
}

// Get возвращает длину отрезка from→to, если она уже вычислялась
func (c *SegmentCache) Get(from, to models.Coordinate) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[segment{from, to}]
	if !ok {
		c.misses++
		metrics.DistanceCacheLookups.WithLabelValues("miss").Inc()
		return 0, false
	}
	c.order.MoveToFront(elem)
	c.hits++
	metrics.DistanceCacheLookups.WithLabelValues("hit").Inc()
	return elem.Value.(*segmentEntry).length, true
}

// Put запоминает длину отрезка, вытесняя самый давний при переполнении
func (c *SegmentCache) Put(from, to models.Coordinate, length float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := segment{from, to}
	if elem, ok := c.items[key]; ok {
		elem.Value.(*segmentEntry).length = length
		c.order.MoveToFront(elem)
		return
	}

	c.items[key] = c.order.PushFront(&segmentEntry{key: key, length: length})
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		delete(c.items, oldest.Value.(*segmentEntry).key)
		c.order.Remove(oldest)
	}
}

func (c *SegmentCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats возвращает число попаданий, промахов и долю попаданий
func (c *SegmentCache) Stats() (hits, misses uint64, hitRate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hits, misses = c.hits, c.misses
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return
}

// CachedProvider запоминает длины отрезков исходного провайдера.
// Пока дрон внутри одного отрезка, его длина запрашивается каждый тик.
// Interpolate не кешируется: ratio меняется от тика к тику.
type CachedProvider struct {
	Provider
	cache *SegmentCache
}

// NewCachedProvider оборачивает p кешем на capacity отрезков
func NewCachedProvider(p Provider, capacity int) *CachedProvider {
	return &CachedProvider{
		Provider: p,
		cache:    NewSegmentCache(capacity),
	}
}

func (cp *CachedProvider) Distance(a, b models.Coordinate) float64 {
	if d, ok := cp.cache.Get(a, b); ok {
		return d
	}
	d := cp.Provider.Distance(a, b)
	cp.cache.Put(a, b, d)
	return d
}

// Stats возвращает статистику кеша для /stats и логов
func (cp *CachedProvider) Stats() map[string]interface{} {
	hits, misses, hitRate := cp.cache.Stats()
	return map[string]interface{}{
		"size":     cp.cache.Len(),
		"hits":     hits,
		"misses":   misses,
		"hit_rate": hitRate,
	}
}
