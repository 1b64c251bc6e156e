package game

import "time"

// Типы событий для слоя доставки
const (
	EventLobbyStart        = "lobby:start"
	EventLobbyUpdate       = "lobby:update"
	EventLobbyPlayerJoined = "lobby:player_joined"
	EventRoundStart        = "round:start"
	EventPriceUpdate       = "price:update"
	EventPlayerLiquidated  = "player:liquidated"
	EventPlayerShoot       = "player:shoot"
	EventRoundEnd          = "round:end"
)

// Event уведомление об изменении состояния игры
type Event struct {
	Type    string
	Payload interface{}
}

// EventSink получатель событий.
// Emit вызывается из цикла оркестратора и не должен блокироваться.
type EventSink interface {
	Emit(event Event)
}

// SinkFunc адаптер функции к EventSink
type SinkFunc func(Event)

// Emit вызывает f(event)
func (f SinkFunc) Emit(event Event) { f(event) }

// ============ Payloads ============

// LobbyStartPayload новое лобби
type LobbyStartPayload struct {
	LobbyEndTime     time.Time `json:"lobbyEndTime"`
	SecondsRemaining int       `json:"secondsRemaining"`
	MinBet           float64   `json:"minBet"`
}

// LobbyPlayer игрок в лобби (для отображения)
type LobbyPlayer struct {
	PlayerID  string    `json:"playerId"`
	Username  string    `json:"username"`
	BetAmount float64   `json:"betAmount"`
	Balance   float64   `json:"balance"` // баланс на момент входа
	JoinedAt  time.Time `json:"joinedAt"`
}

// LobbyUpdatePayload периодическое состояние лобби
type LobbyUpdatePayload struct {
	SecondsRemaining int           `json:"secondsRemaining"`
	PlayersInLobby   int           `json:"playersInLobby"`
	TotalWagered     float64       `json:"totalWagered"`
	Players          []LobbyPlayer `json:"players"`
}

// PlayerJoinedPayload игрок вошел в лобби
type PlayerJoinedPayload struct {
	PlayerID  string  `json:"playerId"`
	Username  string  `json:"username"`
	BetAmount float64 `json:"betAmount"`
	Balance   float64 `json:"balance"`
}

// RoundPlayer сторона и условия входа игрока
type RoundPlayer struct {
	PlayerID         string  `json:"playerId"`
	Username         string  `json:"username"`
	PositionType     string  `json:"positionType"`
	BetAmount        float64 `json:"betAmount"`
	EntryPrice       float64 `json:"entryPrice"`
	LiquidationPrice float64 `json:"liquidationPrice"`
}

// RoundStartPayload старт раунда
type RoundStartPayload struct {
	RoundID      int64         `json:"roundId"`
	Pair         string        `json:"pair"`
	EntryPrice   float64       `json:"entryPrice"`
	Leverage     float64       `json:"leverage"`
	Duration     float64       `json:"duration"` // секунды
	StartTime    time.Time     `json:"startTime"`
	EndTime      time.Time     `json:"endTime"`
	TotalWagered float64       `json:"totalWagered"`
	Players      []RoundPlayer `json:"players"`
}

// PlayerPnl текущий PNL игрока
type PlayerPnl struct {
	PlayerID         string  `json:"playerId"`
	PositionType     string  `json:"positionType"`
	Pnl              float64 `json:"pnl"`
	PnlPercentage    float64 `json:"pnlPercentage"`
	LiquidationPrice float64 `json:"liquidationPrice"`
	Liquidated       bool    `json:"liquidated"`
	DidShoot         bool    `json:"didShoot"`
}

// PriceUpdatePayload агрегированное обновление после тика
type PriceUpdatePayload struct {
	RoundID      int64       `json:"roundId"`
	Pair         string      `json:"pair"`
	CurrentPrice float64     `json:"currentPrice"`
	Players      []PlayerPnl `json:"players"`
}

// LiquidatedPayload ликвидация позиции
type LiquidatedPayload struct {
	PlayerID   string  `json:"playerId"`
	RoundID    int64   `json:"roundId"`
	FinalPrice float64 `json:"finalPrice"`
	Loss       float64 `json:"loss"`
}

// ShootPayload досрочный выход
type ShootPayload struct {
	PlayerID   string  `json:"playerId"`
	RoundID    int64   `json:"roundId"`
	ExitPrice  float64 `json:"exitPrice"`
	Pnl        float64 `json:"pnl"`
	Payout     float64 `json:"payout"`
	NewBalance float64 `json:"newBalance"`
}

// PlayerResult итог игрока в раунде
type PlayerResult struct {
	PlayerID     string  `json:"playerId"`
	PositionType string  `json:"positionType"`
	BetAmount    float64 `json:"betAmount"`
	Pnl          float64 `json:"pnl"`
	Payout       float64 `json:"payout"`
	Liquidated   bool    `json:"liquidated"`
	DidShoot     bool    `json:"didShoot"`
	NewBalance   float64 `json:"newBalance"`
}

// RoundEndPayload завершение раунда
type RoundEndPayload struct {
	RoundID    int64          `json:"roundId"`
	Pair       string         `json:"pair"`
	FinalPrice float64        `json:"finalPrice"`
	Reason     string         `json:"reason"`
	Results    []PlayerResult `json:"results"`
}
