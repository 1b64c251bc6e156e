package models

import "time"

// LobbyEntry - запись о ставке игрока в лобби
type LobbyEntry struct {
	ID        string    `json:"id" db:"id"` // uuid
	PlayerID  string    `json:"player_id" db:"player_id"`
	BetAmount float64   `json:"bet_amount" db:"bet_amount"`
	JoinedAt  time.Time `json:"joined_at" db:"joined_at"`
}
