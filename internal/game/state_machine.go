package game

import "shootout/internal/models"

// ValidTransitions определяет допустимые переходы между фазами
var ValidTransitions = map[string][]string{
	models.PhaseLobby: {models.PhaseLobby, models.PhaseRound}, // LOBBY -> LOBBY при перезапуске
	models.PhaseRound: {models.PhaseLobby},
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to string) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// PhaseInfo возвращает описание фазы для UI
func PhaseInfo(phase string) string {
	switch phase {
	case models.PhaseLobby:
		return "Прием ставок"
	case models.PhaseRound:
		return "Раунд идет"
	default:
		return "Неизвестная фаза"
	}
}

// Причины перезапуска лобби (метки метрик и логов)
const (
	RestartEmptyRoster  = "empty_roster"
	RestartNoPair       = "no_pair"
	RestartPriceTimeout = "price_timeout"
	RestartFeedError    = "feed_error"
	RestartPersistence  = "persistence_failure"
)
