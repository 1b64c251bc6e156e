package models

import "time"

// Стороны позиции
const (
	SideLong  = "LONG"
	SideShort = "SHORT"
)

// Position представляет позицию игрока в раунде (запись в БД)
type Position struct {
	RoundID     int64      `json:"round_id" db:"round_id"`
	PlayerID    string     `json:"player_id" db:"player_id"`
	Side        string     `json:"side" db:"side"` // LONG, SHORT
	EntryAmount float64    `json:"entry_amount" db:"entry_amount"`
	EntryPrice  float64    `json:"entry_price" db:"entry_price"`
	ExitPrice   *float64   `json:"exit_price,omitempty" db:"exit_price"`
	Pnl         *float64   `json:"pnl,omitempty" db:"pnl"`
	Liquidated  bool       `json:"liquidated" db:"liquidated"`
	DidShoot    bool       `json:"did_shoot" db:"did_shoot"`
	ShotAt      *time.Time `json:"shot_at,omitempty" db:"shot_at"`
}

// PositionUpdate - частичное обновление позиции.
// nil поля не изменяются.
type PositionUpdate struct {
	RoundID    int64
	PlayerID   string
	Liquidated *bool
	DidShoot   *bool
	ShotAt     *time.Time
	ExitPrice  *float64
	Pnl        *float64
}

// IsValidSide проверяет допустимость стороны позиции
func IsValidSide(side string) bool {
	return side == SideLong || side == SideShort
}
