package game

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"shootout/internal/models"
	"shootout/pkg/utils"
)

// Доля самых волатильных пар, из которых выбирается пара раунда
const topVolatileShare = 0.3

// Базовое плечо, относительно которого масштабируется длительность раунда
const baseLeverage = 500.0

// Randomizer случайные решения игры: выбор пары, стороны позиций, длительность раунда.
// Безопасен для конкурентного использования.
type Randomizer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomizer создает генератор с заданным seed (для воспроизводимых тестов)
func NewRandomizer(seed int64) *Randomizer {
	return &Randomizer{rng: rand.New(rand.NewSource(seed))}
}

// SelectRandomPair выбирает случайную пару среди самых волатильных.
//
// Алгоритм:
//  1. Сортировка по убыванию волатильности
//  2. Берутся первые ceil(n*0.3), минимум одна
//  3. Равновероятный выбор внутри этого подмножества
//
// Возвращает false для пустого входа.
func (r *Randomizer) SelectRandomPair(records []models.VolatilityRecord) (string, bool) {
	if len(records) == 0 {
		return "", false
	}

	sorted := make([]models.VolatilityRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Volatility > sorted[j].Volatility
	})

	top := int(math.Ceil(float64(len(sorted)) * topVolatileShare))
	if top < 1 {
		top = 1
	}

	r.mu.Lock()
	idx := r.rng.Intn(top)
	r.mu.Unlock()

	return sorted[idx].Pair, true
}

// AssignPositions случайно распределяет игроков по сторонам.
//
// После перемешивания первые floor(n/2) получают LONG, остальные SHORT.
// При нечетном n лишний игрок всегда оказывается в SHORT.
func (r *Randomizer) AssignPositions(playerIDs []string) map[string]string {
	shuffled := make([]string, len(playerIDs))
	copy(shuffled, playerIDs)

	r.mu.Lock()
	r.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	r.mu.Unlock()

	half := len(shuffled) / 2
	sides := make(map[string]string, len(shuffled))
	for i, id := range shuffled {
		if i < half {
			sides[id] = models.SideLong
		} else {
			sides[id] = models.SideShort
		}
	}
	return sides
}

// RoundDuration генерирует длительность раунда в секундах.
//
// Формула:
//
//	factor = 500 / leverage
//	adjustedMax = min(maxSeconds × factor, maxSeconds × 5)
//	duration = uniform[minSeconds, adjustedMax], округление до 0.01
//
// Если adjustedMax меньше minSeconds (очень большое плечо), возвращается minSeconds.
func (r *Randomizer) RoundDuration(leverage, minSeconds, maxSeconds float64) float64 {
	factor := 1.0
	if leverage > 0 {
		factor = baseLeverage / leverage
	}
	adjustedMax := math.Min(maxSeconds*factor, maxSeconds*5)

	if adjustedMax <= minSeconds {
		return utils.RoundDecimal(minSeconds, 2)
	}

	r.mu.Lock()
	u := r.rng.Float64()
	r.mu.Unlock()

	return utils.RoundDecimal(minSeconds+u*(adjustedMax-minSeconds), 2)
}
