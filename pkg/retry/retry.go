package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config конфигурация для retry логики
//
// Экспоненциальный backoff с jitter:
// delay(k) = min(InitialDelay * Multiplier^(k-1), MaxDelay) ± jitter
//
// где k - номер повтора, начиная с 1.
type Config struct {
	// MaxAttempts - максимальное количество попыток (включая первую)
	// 0 или отрицательное = бесконечные повторы
	MaxAttempts int

	// InitialDelay - задержка перед первым повтором
	InitialDelay time.Duration

	// MaxDelay - потолок задержки
	MaxDelay time.Duration

	// Multiplier - множитель экспоненциального роста
	Multiplier float64

	// JitterFactor - фактор случайности (0.0 - 1.0)
	// 0.0 = детерминированные задержки
	JitterFactor float64

	// RetryIf - нужно ли повторять ошибку (nil = повторять все)
	RetryIf func(error) bool

	// OnRetry - callback перед каждым повтором (для логирования)
	OnRetry func(attempt int, err error, delay time.Duration)
}

// PersistenceConfig для идемпотентных операций с БД
//
// - 3 попытки
// - Задержки: 100ms, 200ms (+ jitter 10%)
// - Ошибки контекста и Permanent не повторяются
func PersistenceConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
		RetryIf:      RetryIfNotContext,
	}
}

// ReconnectConfig расписание переподключения к источнику цен
//
// Задержка повтора k (с 1): min(2s * 2^(k-1), 30s), без jitter.
// После maxAttempts повторов попытки прекращаются.
func ReconnectConfig(maxAttempts int) Config {
	return Config{
		MaxAttempts:  maxAttempts,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// normalize устанавливает значения по умолчанию
func (c *Config) normalize() {
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.JitterFactor < 0 {
		c.JitterFactor = 0
	}
	if c.JitterFactor > 1 {
		c.JitterFactor = 1
	}
}

// Delay вычисляет задержку перед повтором attempt (нумерация с 1)
func (c Config) Delay(attempt int) time.Duration {
	c.normalize()
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt-1))
	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}

	if c.JitterFactor > 0 {
		delay += delay * c.JitterFactor * (rand.Float64()*2 - 1)
	}

	if delay < 0 {
		delay = 0
	}

	return time.Duration(delay)
}

// Do выполняет операцию с повторными попытками
//
// Параметры:
//   - ctx: контекст для отмены
//   - operation: функция для выполнения
//   - cfg: конфигурация retry
//
// Возвращает nil при успехе или последнюю ошибку.
//
// Пример:
//
//	err := retry.Do(ctx, func() error {
//	    return repo.Upsert(ctx, id, name, balance)
//	}, retry.PersistenceConfig())
func Do(ctx context.Context, operation func() error, cfg Config) error {
	_, err := DoWithResult(ctx, func() (struct{}, error) {
		return struct{}{}, operation()
	}, cfg)
	return err
}

// DoWithResult выполняет операцию с результатом и retry
func DoWithResult[T any](ctx context.Context, operation func() (T, error), cfg Config) (T, error) {
	cfg.normalize()

	var lastErr error
	var zero T

	for attempt := 1; cfg.MaxAttempts <= 0 || attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, err
		}

		result, err := operation()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if IsPermanent(err) || (cfg.RetryIf != nil && !cfg.RetryIf(err)) {
			return zero, err
		}

		// Последняя попытка - не ждём
		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			break
		}

		delay := cfg.Delay(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		}
	}

	return zero, lastErr
}

// RetryIfNotContext не повторяет ошибки контекста (cancel, timeout)
func RetryIfNotContext(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// ============================================================
// Wrapper errors
// ============================================================

// PermanentError оборачивает ошибку, которую не нужно повторять
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent оборачивает ошибку в PermanentError
//
// Пример:
//
//	if errors.Is(err, repository.ErrPlayerNotFound) {
//	    return retry.Permanent(err)
//	}
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent проверяет, помечена ли ошибка как неповторяемая
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}
