package clock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// TickFunc вызывается на каждом срабатывании часов
type TickFunc func(ctx context.Context, at time.Time)

// Clock периодический планировщик с фиксированным интервалом.
// Срабатывает независимо от статуса симуляции; обработчики вызываются
// последовательно, поэтому такты никогда не перекрываются.
type Clock struct {
	interval time.Duration

	mu        sync.Mutex
	listeners []TickFunc

	ticks   atomic.Uint64
	running atomic.Bool
}

// New создает часы с интервалом interval и необязательным обработчиком
func New(interval time.Duration, fn TickFunc) *Clock {
	c := &Clock{interval: interval}
	if fn != nil {
		c.listeners = append(c.listeners, fn)
	}
	return c
}

// AddListener регистрирует дополнительный обработчик такта
func (c *Clock) AddListener(fn TickFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Interval возвращает интервал срабатывания
func (c *Clock) Interval() time.Duration {
	return c.interval
}

// Ticks возвращает число срабатываний с момента запуска
func (c *Clock) Ticks() uint64 {
	return c.ticks.Load()
}

// Running сообщает, запущен ли цикл
func (c *Clock) Running() bool {
	return c.running.Load()
}

// Run блокируется и вызывает обработчики каждый интервал до отмены ctx.
// Отмена не прерывает уже начатый такт.
func (c *Clock) Run(ctx context.Context) {
	if !c.running.CompareAndSwap(false, true) {
		return
	}
	defer c.running.Store(false)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case at := <-ticker.C:
			c.ticks.Add(1)
			c.fire(ctx, at)
		}
	}
}

// Start запускает Run в отдельной горутине.
// Возвращает канал, закрываемый после остановки цикла.
func (c *Clock) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()
	return done
}

func (c *Clock) fire(ctx context.Context, at time.Time) {
	c.mu.Lock()
	listeners := make([]TickFunc, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(ctx, at)
	}
}
