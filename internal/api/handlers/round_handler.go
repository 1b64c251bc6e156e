package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"shootout/internal/game"
	"shootout/internal/models"
)

// RoundReader чтение истории раундов (service.GameStore)
type RoundReader interface {
	GetRoundDetails(ctx context.Context, roundID int64) (*models.RoundDetails, error)
}

// RoundHandler отдает завершенные и активные раунды из БД
type RoundHandler struct {
	rounds RoundReader
}

// NewRoundHandler создает RoundHandler
func NewRoundHandler(rounds RoundReader) *RoundHandler {
	return &RoundHandler{rounds: rounds}
}

// GetRound GET /api/v1/rounds/{roundId}
//
// Response 200 OK:
//
//	{"round": {"id": 17, "pair": "BTC/USD", ...}, "positions": [...]}
//
// Errors:
// - 400: некорректный roundId
// - 404: раунд не найден
// - 500: ошибка БД
func (h *RoundHandler) GetRound(w http.ResponseWriter, r *http.Request) {
	roundID, err := strconv.ParseInt(mux.Vars(r)["roundId"], 10, 64)
	if err != nil || roundID <= 0 {
		WriteError(w, http.StatusBadRequest, game.CodeInvalidInput, "invalid round id", "")
		return
	}

	details, err := h.rounds.GetRoundDetails(r.Context(), roundID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "internal_error", "failed to load round", "")
		return
	}
	if details == nil {
		WriteError(w, http.StatusNotFound, game.CodeRoundNotFound, "round not found", "")
		return
	}

	WriteJSON(w, http.StatusOK, details)
}
