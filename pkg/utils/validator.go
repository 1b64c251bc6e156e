package utils

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
)

// validator.go - валидация входных данных команд игрока
//
// Назначение:
// Проверка корректности данных до того, как они попадут в оркестратор.
//
// Функции:
// - ValidatePlayerID: формат внешнего идентификатора игрока
// - ValidateUsername: отображаемое имя
// - ValidateBetAmount: ставка (конечное число, >= минимальной)
// - ValidatePair: формат торговой пары (BTC/USD)
// - NormalizePair: приведение пары к каноническому виду
// - ValidationErrors: накопление ошибок по полям
//
// Возвращает error с описанием проблемы или nil

// Ошибки валидации
var (
	ErrInvalidPlayerID = errors.New("invalid player id")
	ErrInvalidUsername = errors.New("invalid username")
	ErrInvalidBet      = errors.New("invalid bet amount")
	ErrBetBelowMinimum = errors.New("bet amount below minimum")
	ErrInvalidPair     = errors.New("invalid pair")
)

var (
	playerIDRegex = regexp.MustCompile(`^[A-Za-z0-9_\-:.]{1,64}$`)
	pairRegex     = regexp.MustCompile(`^[A-Z0-9]{2,12}/[A-Z0-9]{2,12}$`)
)

const maxUsernameLength = 32

// ValidatePlayerID проверяет внешний идентификатор игрока.
// Допустимы латиница, цифры и символы _-:. длиной до 64.
func ValidatePlayerID(id string) error {
	if !playerIDRegex.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidPlayerID, id)
	}
	return nil
}

// ValidateUsername проверяет отображаемое имя игрока
func ValidateUsername(username string) error {
	trimmed := strings.TrimSpace(username)
	if trimmed == "" {
		return fmt.Errorf("%w: empty", ErrInvalidUsername)
	}
	if len([]rune(trimmed)) > maxUsernameLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidUsername, maxUsernameLength)
	}
	return nil
}

// ValidateBetAmount проверяет ставку.
//
// Возвращает:
//   - ErrInvalidBet для NaN, Inf и значений <= 0
//   - ErrBetBelowMinimum если ставка меньше minBet
func ValidateBetAmount(bet, minBet float64) error {
	if math.IsNaN(bet) || math.IsInf(bet, 0) || bet <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidBet, bet)
	}
	if bet < minBet {
		return fmt.Errorf("%w: %v < %v", ErrBetBelowMinimum, bet, minBet)
	}
	return nil
}

// NormalizePair приводит пару к виду BASE/QUOTE в верхнем регистре.
// Разделители - и _ заменяются на /.
//
// Примеры:
//   - "btc-usd" -> "BTC/USD"
//   - "eth_usdt" -> "ETH/USDT"
func NormalizePair(pair string) string {
	p := strings.ToUpper(strings.TrimSpace(pair))
	p = strings.NewReplacer("-", "/", "_", "/").Replace(p)
	return p
}

// ValidatePair проверяет формат пары после нормализации
func ValidatePair(pair string) error {
	if !pairRegex.MatchString(NormalizePair(pair)) {
		return fmt.Errorf("%w: %q", ErrInvalidPair, pair)
	}
	return nil
}

// ============ Накопление ошибок ============

// ValidationError ошибка конкретного поля
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors список ошибок валидации
type ValidationErrors []ValidationError

// Add добавляет ошибку поля
func (v *ValidationErrors) Add(field, message string) {
	*v = append(*v, ValidationError{Field: field, Message: message})
}

// AddError добавляет ошибку, если err != nil
func (v *ValidationErrors) AddError(field string, err error) {
	if err != nil {
		v.Add(field, err.Error())
	}
}

// HasErrors есть ли ошибки
func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "; ")
}
