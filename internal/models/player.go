package models

import "time"

// Player представляет игрока и его баланс
type Player struct {
	ID          string    `json:"id" db:"id"`
	Username    string    `json:"username" db:"username"`
	Balance     float64   `json:"balance" db:"balance"`
	TotalPnl    float64   `json:"total_pnl" db:"total_pnl"`
	GamesPlayed int       `json:"games_played" db:"games_played"`
	GamesWon    int       `json:"games_won" db:"games_won"`
	GamesLost   int       `json:"games_lost" db:"games_lost"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// PlayerDelta - инкрементальное изменение баланса и счетчиков игрока.
// Применяется одним UPDATE ... SET x = x + $n, поэтому повторное применение
// одной и той же дельты недопустимо.
type PlayerDelta struct {
	PlayerID    string
	Balance     float64
	TotalPnl    float64
	GamesPlayed int
	GamesWon    int
	GamesLost   int
}

// IsZero возвращает true если дельта ничего не меняет
func (d PlayerDelta) IsZero() bool {
	return d.Balance == 0 && d.TotalPnl == 0 && d.GamesPlayed == 0 && d.GamesWon == 0 && d.GamesLost == 0
}

// BalanceInfo - ответ на запрос баланса
type BalanceInfo struct {
	PlayerID    string  `json:"player_id"`
	Balance     float64 `json:"balance"`
	TotalPnl    float64 `json:"total_pnl"`
	GamesPlayed int     `json:"games_played"`
}
