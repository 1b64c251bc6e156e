package ratelimit

import (
	"context"
	"sync"
	"time"
)

// RateLimiter - Token Bucket rate limiter для команд игроков
//
// Алгоритм Token Bucket:
// - Ведро наполняется токенами с постоянной скоростью (rate токенов/сек)
// - Максимальная ёмкость ведра = burst (позволяет короткие всплески)
// - Каждая команда потребляет 1 токен
// - Если токенов нет, команда отклоняется
//
// Использование:
//
//	limiter := NewRateLimiter(10, 20) // 10 cmd/sec, burst 20
//	if limiter.Allow() { ... }
type RateLimiter struct {
	rate       float64   // токенов в секунду
	burst      float64   // максимальная ёмкость (burst capacity)
	tokens     float64   // текущее количество токенов
	lastRefill time.Time // время последнего пополнения
	now        func() time.Time
	mu         sync.Mutex
}

// NewRateLimiter создаёт новый rate limiter
//
// Параметры:
//   - rate: команд в секунду
//   - burst: максимальный всплеск (не меньше rate)
func NewRateLimiter(rate, burst float64) *RateLimiter {
	return newRateLimiter(rate, burst, time.Now)
}

func newRateLimiter(rate, burst float64, now func() time.Time) *RateLimiter {
	if rate <= 0 {
		rate = 10
	}
	if burst <= 0 {
		burst = rate * 2
	}
	if burst < rate {
		burst = rate
	}

	return &RateLimiter{
		rate:       rate,
		burst:      burst,
		tokens:     burst, // начинаем с полным ведром
		lastRefill: now(),
		now:        now,
	}
}

// refill пополняет токены на основе прошедшего времени
// ВАЖНО: вызывается под lock'ом
func (rl *RateLimiter) refill() {
	now := rl.now()
	elapsed := now.Sub(rl.lastRefill).Seconds()

	rl.tokens += elapsed * rl.rate
	if rl.tokens > rl.burst {
		rl.tokens = rl.burst
	}

	rl.lastRefill = now
}

// Allow проверяет доступность токена без блокировки
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()

	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}

	return false
}

// Tokens возвращает текущее количество доступных токенов
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill()
	return rl.tokens
}

// full ведро заполнено (клиент давно не обращался)
func (rl *RateLimiter) full() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill()
	return rl.tokens >= rl.burst
}

// ============================================================
// KeyedLimiter - отдельное ведро на каждый ключ (IP клиента)
// ============================================================

// KeyedLimiter управляет набором RateLimiter по ключу
type KeyedLimiter struct {
	rate     float64
	burst    float64
	now      func() time.Time
	limiters map[string]*RateLimiter
	mu       sync.Mutex
}

// NewKeyedLimiter создаёт limiter с общими параметрами для всех ключей
func NewKeyedLimiter(rate, burst float64) *KeyedLimiter {
	return &KeyedLimiter{
		rate:     rate,
		burst:    burst,
		now:      time.Now,
		limiters: make(map[string]*RateLimiter),
	}
}

// Allow расходует токен ключа
func (kl *KeyedLimiter) Allow(key string) bool {
	kl.mu.Lock()
	limiter, ok := kl.limiters[key]
	if !ok {
		limiter = newRateLimiter(kl.rate, kl.burst, kl.now)
		kl.limiters[key] = limiter
	}
	kl.mu.Unlock()

	return limiter.Allow()
}

// Len возвращает число отслеживаемых ключей
func (kl *KeyedLimiter) Len() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.limiters)
}

// Prune удаляет ключи с полным ведром: их состояние не отличается от нового.
// Возвращает число удалённых ключей.
func (kl *KeyedLimiter) Prune() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	removed := 0
	for key, limiter := range kl.limiters {
		if limiter.full() {
			delete(kl.limiters, key)
			removed++
		}
	}
	return removed
}

// RunJanitor периодически вызывает Prune до отмены контекста
func (kl *KeyedLimiter) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			kl.Prune()
		}
	}
}
