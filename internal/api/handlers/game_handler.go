package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"shootout/internal/game"
	"shootout/internal/models"
)

// GameService команды и запросы оркестратора (game.Orchestrator)
type GameService interface {
	JoinLobby(ctx context.Context, playerID, username string, betAmount float64) (*game.JoinResult, error)
	LeaveLobby(ctx context.Context, playerID string) error
	Shoot(ctx context.Context, playerID string, roundID int64) (*game.ShootResult, error)
	GetBalance(ctx context.Context, playerID string) (*models.BalanceInfo, error)
	Snapshot(ctx context.Context) (*game.Snapshot, error)
}

// GameHandler обрабатывает HTTP команды игроков.
//
// Endpoints:
// - POST /api/v1/lobby/join - вход в лобби со ставкой
// - POST /api/v1/lobby/leave - выход из лобби (не поддерживается, 501)
// - POST /api/v1/rounds/{roundId}/shoot - досрочное закрытие позиции
// - GET /api/v1/players/{id}/balance - баланс и статистика игрока
// - GET /api/v1/game/state - снимок текущей фазы
//
// Ошибки оркестратора отображаются в статус по категории (StatusForKind),
// тело ErrorResponse со стабильным кодом.
type GameHandler struct {
	game GameService
}

// NewGameHandler создает GameHandler
func NewGameHandler(svc GameService) *GameHandler {
	return &GameHandler{game: svc}
}

// JoinLobbyRequest тело POST /api/v1/lobby/join
type JoinLobbyRequest struct {
	PlayerID  string  `json:"player_id"`
	Username  string  `json:"username"`
	BetAmount float64 `json:"bet_amount"`
}

// PlayerRequest тело команд с одним идентификатором игрока
type PlayerRequest struct {
	PlayerID string `json:"player_id"`
}

// JoinLobby POST /api/v1/lobby/join
//
// Request:
//
//	{"player_id": "p-1", "username": "alice", "bet_amount": 25}
//
// Response 200 OK:
//
//	{"player_id": "p-1", "balance": 1000, "bet_amount": 25, "lobby_end_time": "..."}
//
// Response 400: bet_below_minimum, wrong_phase, already_joined, insufficient_balance, invalid_input
// Response 503: persistence_failure
func (h *GameHandler) JoinLobby(w http.ResponseWriter, r *http.Request) {
	var req JoinLobbyRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, game.CodeInvalidInput, "invalid request body", err.Error())
		return
	}

	result, err := h.game.JoinLobby(r.Context(), req.PlayerID, req.Username, req.BetAmount)
	if err != nil {
		writeGameError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// LeaveLobby POST /api/v1/lobby/leave
//
// Операция объявлена, но не поддерживается: всегда 501 not_implemented.
func (h *GameHandler) LeaveLobby(w http.ResponseWriter, r *http.Request) {
	var req PlayerRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, game.CodeInvalidInput, "invalid request body", err.Error())
		return
	}

	if err := h.game.LeaveLobby(r.Context(), req.PlayerID); err != nil {
		writeGameError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, SuccessResponse{Message: "left lobby"})
}

// Shoot POST /api/v1/rounds/{roundId}/shoot
//
// Request:
//
//	{"player_id": "p-1"}
//
// Response 200 OK:
//
//	{"player_id": "p-1", "round_id": 42, "exit_price": 65010.5, "pnl": 40.4,
//	 "payout": 65.4, "new_balance": 1040.4}
//
// Response 400: wrong_phase, invalid_input
// Response 404: position_not_found
// Response 409: round_mismatch, already_shot, already_liquidated
func (h *GameHandler) Shoot(w http.ResponseWriter, r *http.Request) {
	roundID, err := strconv.ParseInt(mux.Vars(r)["roundId"], 10, 64)
	if err != nil || roundID <= 0 {
		WriteError(w, http.StatusBadRequest, game.CodeInvalidInput, "invalid round id", "")
		return
	}

	var req PlayerRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, game.CodeInvalidInput, "invalid request body", err.Error())
		return
	}

	result, err := h.game.Shoot(r.Context(), req.PlayerID, roundID)
	if err != nil {
		writeGameError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// GetBalance GET /api/v1/players/{id}/balance
//
// Response 200 OK:
//
//	{"player_id": "p-1", "balance": 975, "total_pnl": -25, "games_played": 1}
//
// Response 404: player_not_found
func (h *GameHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	info, err := h.game.GetBalance(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeGameError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, info)
}

// GetState GET /api/v1/game/state
func (h *GameHandler) GetState(w http.ResponseWriter, r *http.Request) {
	snap, err := h.game.Snapshot(r.Context())
	if err != nil {
		writeGameError(w, err)
		return
	}
	if snap.Lobby == nil {
		snap.Lobby = []game.LobbyPlayer{}
	}
	WriteJSON(w, http.StatusOK, snap)
}
