package handlers

import (
	"math"
	"net/http"
	"strconv"

	"shootout/internal/game"
	"shootout/internal/models"
)

// VolatilityHandler отдает текущее ранжирование пар
type VolatilityHandler struct {
	ranker game.VolatilityRanker
}

// NewVolatilityHandler создает VolatilityHandler
func NewVolatilityHandler(ranker game.VolatilityRanker) *VolatilityHandler {
	return &VolatilityHandler{ranker: ranker}
}

type volatilityResponse struct {
	Pairs []models.VolatilityRecord `json:"pairs"`
	Total int                       `json:"total"`
}

// GetRanking GET /api/v1/volatility?min=0.5
//
// min - необязательный порог (по умолчанию 0, то есть все пары с достаточной историей).
//
// Response 200 OK:
//
//	{"pairs": [{"pair": "ETH/USD", "volatility": 5.77, "samples": 60, "last_updated": "..."}], "total": 1}
func (h *VolatilityHandler) GetRanking(w http.ResponseWriter, r *http.Request) {
	threshold := 0.0
	if raw := r.URL.Query().Get("min"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			WriteError(w, http.StatusBadRequest, game.CodeInvalidInput, "min must be a non-negative number", "")
			return
		}
		threshold = v
	}

	pairs := h.ranker.RankedAbove(threshold)
	if pairs == nil {
		pairs = []models.VolatilityRecord{}
	}
	WriteJSON(w, http.StatusOK, volatilityResponse{Pairs: pairs, Total: len(pairs)})
}
