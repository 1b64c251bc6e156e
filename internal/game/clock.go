package game

import (
	"sort"
	"sync"
	"time"
)

// Timer отменяемая отложенная задача
type Timer interface {
	// Stop отменяет задачу. false - задача уже выполнена или отменена.
	Stop() bool
}

// Clock источник времени и планировщик отложенных задач.
// В production используется RealClock, в тестах ManualClock.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// RealClock возвращает часы на основе пакета time
func RealClock() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ============ ManualClock ============

// ManualClock виртуальные часы: время двигается только через Advance.
// Задачи выполняются синхронно внутри Advance в порядке срабатывания.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	clock   *ManualClock
	at      time.Time
	seq     int
	f       func()
	stopped bool
	fired   bool
}

// NewManualClock создает виртуальные часы с начальным временем start
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now текущее виртуальное время
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc планирует f через d виртуального времени
func (c *ManualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	t := &manualTimer{clock: c, at: c.now.Add(d), seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance сдвигает время на d и выполняет все наступившие задачи.
// Задачи, запланированные во время Advance, тоже выполняются, если успели наступить.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDueLocked(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = next.at
		next.fired = true
		c.removeLocked(next)
		c.mu.Unlock()

		next.f()
	}
}

// Pending число незапущенных и неотмененных задач
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *ManualClock) nextDueLocked(target time.Time) *manualTimer {
	if len(c.timers) == 0 {
		return nil
	}
	sort.Slice(c.timers, func(i, j int) bool {
		if c.timers[i].at.Equal(c.timers[j].at) {
			return c.timers[i].seq < c.timers[j].seq
		}
		return c.timers[i].at.Before(c.timers[j].at)
	})
	if c.timers[0].at.After(target) {
		return nil
	}
	return c.timers[0]
}

func (c *ManualClock) removeLocked(t *manualTimer) {
	for i, other := range c.timers {
		if other == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return
		}
	}
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	t.clock.removeLocked(t)
	return true
}

// ============ Группа таймеров фазы ============

// phaseTimers таймеры, принадлежащие одному экземпляру лобби или раунда.
// cancelAll вызывается при каждом переходе между фазами.
type phaseTimers struct {
	clock  Clock
	timers []Timer
}

func (p *phaseTimers) after(d time.Duration, f func()) {
	p.timers = append(p.timers, p.clock.AfterFunc(d, f))
}

func (p *phaseTimers) cancelAll() {
	for _, t := range p.timers {
		t.Stop()
	}
	p.timers = p.timers[:0]
}
