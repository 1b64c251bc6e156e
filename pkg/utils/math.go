package utils

import (
	"math"

	"github.com/shopspring/decimal"
)

// math.go - финансовые расчеты игры
//
// Назначение:
// Формулы PNL, ликвидации и выплат для позиций с плечом.
// Все функции являются чистыми (pure functions) без побочных эффектов
// и безопасны для конкурентного вызова.
//
// Функции:
// - CalculatePnl: PNL позиции по текущей цене
// - CalculatePnlPercent: PNL в процентах от ставки
// - LiquidationPrice: цена ликвидации позиции
// - IsLiquidated: проверка достижения цены ликвидации
// - CalculatePayout: выплата игроку при закрытии позиции
// - StdDev: стандартное отклонение (волатильность)
// - RoundDecimal: десятичное округление без ошибок float

// Стороны позиции (дублируют models.SideLong/SideShort, pkg не зависит от internal)
const (
	SideLong  = "LONG"
	SideShort = "SHORT"
)

// CalculatePnl рассчитывает PNL позиции с плечом.
//
// Формула:
//
//	change = (currentPrice - entryPrice) / entryPrice
//	LONG:  PNL = betAmount × change × leverage
//	SHORT: PNL = betAmount × -change × leverage
//
// Параметры:
//   - side: LONG или SHORT
//   - entryPrice: цена входа (должна быть != 0)
//   - currentPrice: текущая цена
//   - betAmount: размер ставки
//   - leverage: плечо
//
// Возвращает:
//   - PNL в единицах ставки
//   - 0 если entryPrice == 0 или сторона неизвестна
//
// Примеры:
//   - CalculatePnl(LONG, 100, 110, 10, 500) = 500
//   - CalculatePnl(SHORT, 100, 110, 10, 500) = -500
func CalculatePnl(side string, entryPrice, currentPrice, betAmount, leverage float64) float64 {
	if entryPrice == 0 {
		return 0
	}
	change := (currentPrice - entryPrice) / entryPrice

	switch side {
	case SideLong:
		return betAmount * change * leverage
	case SideShort:
		return betAmount * -change * leverage
	default:
		return 0
	}
}

// CalculatePnlPercent возвращает PNL в процентах от ставки.
// Для нулевой ставки возвращает 0.
func CalculatePnlPercent(pnl, betAmount float64) float64 {
	if betAmount == 0 {
		return 0
	}
	return pnl / betAmount * 100
}

// LiquidationPrice рассчитывает цену ликвидации.
//
// Формула:
//
//	LONG:  entryPrice × (1 - 1/leverage)
//	SHORT: entryPrice × (1 + 1/leverage)
//
// При leverage <= 0 или неизвестной стороне возвращает 0.
//
// Примеры:
//   - LiquidationPrice(LONG, 100, 500) = 99.8
//   - LiquidationPrice(SHORT, 100, 500) = 100.2
func LiquidationPrice(side string, entryPrice, leverage float64) float64 {
	if leverage <= 0 {
		return 0
	}

	switch side {
	case SideLong:
		return entryPrice * (1 - 1/leverage)
	case SideShort:
		return entryPrice * (1 + 1/leverage)
	default:
		return 0
	}
}

// IsLiquidated проверяет, достигла ли цена уровня ликвидации.
//
// Граница включается: цена, равная цене ликвидации, считается ликвидацией.
//   - LONG:  currentPrice <= liquidationPrice
//   - SHORT: currentPrice >= liquidationPrice
//
// При leverage <= 0 позиция никогда не ликвидируется.
func IsLiquidated(side string, entryPrice, currentPrice, leverage float64) bool {
	if leverage <= 0 {
		return false
	}
	liqPrice := LiquidationPrice(side, entryPrice, leverage)

	switch side {
	case SideLong:
		return currentPrice <= liqPrice
	case SideShort:
		return currentPrice >= liqPrice
	default:
		return false
	}
}

// CalculatePayout рассчитывает выплату игроку.
//
//   - ликвидирована: 0
//   - иначе: max(0, betAmount + pnl)
//
// Досрочный выход (shoot) формулу не меняет: он только определяет момент,
// когда PNL был зафиксирован.
func CalculatePayout(betAmount, pnl float64, liquidated bool) float64 {
	if liquidated {
		return 0
	}
	return math.Max(0, betAmount+pnl)
}

// StdDev возвращает стандартное отклонение генеральной совокупности.
// Для пустого слайса возвращает 0.
//
// Формула:
//
//	σ = sqrt(Σ(x_i - mean)² / n)
func StdDev(samples []float64) float64 {
	n := len(samples)
	if n == 0 {
		return 0
	}

	var sum float64
	for _, v := range samples {
		sum += v
	}
	mean := sum / float64(n)

	var sq float64
	for _, v := range samples {
		d := v - mean
		sq += d * d
	}

	return math.Sqrt(sq / float64(n))
}

// RoundDecimal округляет значение до places знаков после запятой (half away from zero).
//
// Используем decimal, чтобы 2.675 округлялось до 2.68, а не до 2.67
// как при math.Round(v*100)/100.
func RoundDecimal(value float64, places int32) float64 {
	rounded, _ := decimal.NewFromFloat(value).Round(places).Float64()
	return rounded
}
