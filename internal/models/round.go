package models

import "time"

// Фазы игрового цикла
const (
	PhaseLobby = "LOBBY" // прием ставок
	PhaseRound = "ROUND" // активный раунд
)

// Статусы раунда в БД
const (
	RoundStatusActive    = "active"
	RoundStatusCompleted = "completed"
)

// Причины завершения раунда
const (
	EndReasonTimeExpired = "time_expired"
	EndReasonShutdown    = "shutdown"
	EndReasonManual      = "manual"
)

// Round представляет запись раунда в БД
type Round struct {
	ID              int64      `json:"id" db:"id"`
	Pair            string     `json:"pair" db:"pair"`
	EntryPrice      float64    `json:"entry_price" db:"entry_price"`
	ExitPrice       *float64   `json:"exit_price,omitempty" db:"exit_price"`
	Leverage        float64    `json:"leverage" db:"leverage"`
	DurationSeconds float64    `json:"duration_seconds" db:"duration_seconds"`
	Status          string     `json:"status" db:"status"`
	EndReason       string     `json:"end_reason,omitempty" db:"end_reason"`
	StartedAt       time.Time  `json:"started_at" db:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

// RoundDetails раунд вместе с позициями (история раундов)
type RoundDetails struct {
	Round     *Round      `json:"round"`
	Positions []*Position `json:"positions"`
}
