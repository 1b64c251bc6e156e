package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shootout/internal/game"
	"shootout/internal/models"
	"shootout/pkg/ratelimit"
	"shootout/pkg/utils"
)

type stubGame struct {
	shootRound int64
}

func (s *stubGame) JoinLobby(ctx context.Context, playerID, username string, bet float64) (*game.JoinResult, error) {
	return &game.JoinResult{PlayerID: playerID, Balance: 1000, BetAmount: bet}, nil
}

func (s *stubGame) LeaveLobby(ctx context.Context, playerID string) error {
	return &game.Error{Kind: game.KindNotImplemented, Code: game.CodeNotImplemented, Message: "leaving the lobby is not supported"}
}

func (s *stubGame) Shoot(ctx context.Context, playerID string, roundID int64) (*game.ShootResult, error) {
	s.shootRound = roundID
	return &game.ShootResult{PlayerID: playerID, RoundID: roundID}, nil
}

func (s *stubGame) GetBalance(ctx context.Context, playerID string) (*models.BalanceInfo, error) {
	return &models.BalanceInfo{PlayerID: playerID, Balance: 1000}, nil
}

func (s *stubGame) Snapshot(ctx context.Context) (*game.Snapshot, error) {
	return &game.Snapshot{Phase: models.PhaseLobby}, nil
}

type stubRanker struct{}

func (stubRanker) RankedAbove(threshold float64) []models.VolatilityRecord {
	return []models.VolatilityRecord{{Pair: "BTC/USD", Volatility: 3, Samples: 60}}
}

type stubRounds struct{}

func (stubRounds) GetRoundDetails(ctx context.Context, roundID int64) (*models.RoundDetails, error) {
	if roundID != 17 {
		return nil, nil
	}
	return &models.RoundDetails{Round: &models.Round{ID: roundID}, Positions: []*models.Position{}}, nil
}

func newTestRouter(t *testing.T, limiter *ratelimit.KeyedLimiter) (http.Handler, *stubGame) {
	t.Helper()
	g := &stubGame{}
	router := SetupRoutes(&Dependencies{
		Game:           g,
		Volatility:     stubRanker{},
		Rounds:         stubRounds{},
		Stream:         http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusAccepted) }),
		Limiter:        limiter,
		AllowedOrigins: []string{"http://game.local"},
		Logger:         utils.NewNopLogger(),
		Health: func() map[string]interface{} {
			return map[string]interface{}{"feed": "connected"}
		},
	})
	return router, g
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.RemoteAddr = "192.0.2.10:4000"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRoutes(t *testing.T) {
	router, g := newTestRouter(t, nil)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"join", http.MethodPost, "/api/v1/lobby/join", `{"player_id":"p-1","username":"a","bet_amount":5}`, http.StatusOK},
		{"leave is not implemented", http.MethodPost, "/api/v1/lobby/leave", `{"player_id":"p-1"}`, http.StatusNotImplemented},
		{"shoot", http.MethodPost, "/api/v1/rounds/17/shoot", `{"player_id":"p-1"}`, http.StatusOK},
		{"shoot with non-numeric round", http.MethodPost, "/api/v1/rounds/abc/shoot", `{"player_id":"p-1"}`, http.StatusNotFound},
		{"join via GET", http.MethodGet, "/api/v1/lobby/join", "", http.StatusMethodNotAllowed},
		{"round history", http.MethodGet, "/api/v1/rounds/17", "", http.StatusOK},
		{"unknown round", http.MethodGet, "/api/v1/rounds/18", "", http.StatusNotFound},
		{"balance", http.MethodGet, "/api/v1/players/p-1/balance", "", http.StatusOK},
		{"state", http.MethodGet, "/api/v1/game/state", "", http.StatusOK},
		{"volatility", http.MethodGet, "/api/v1/volatility", "", http.StatusOK},
		{"stream", http.MethodGet, "/ws/stream", "", http.StatusAccepted},
		{"metrics", http.MethodGet, "/metrics", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(router, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
		})
	}

	assert.Equal(t, int64(17), g.shootRound)
}

func TestRoutes_Health(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	w := do(router, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","feed":"connected"}`, w.Body.String())
}

func TestRoutes_RateLimitAppliesToCommandsOnly(t *testing.T) {
	router, _ := newTestRouter(t, ratelimit.NewKeyedLimiter(0.001, 1))

	join := `{"player_id":"p-1","username":"a","bet_amount":5}`
	assert.Equal(t, http.StatusOK, do(router, http.MethodPost, "/api/v1/lobby/join", join).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(router, http.MethodPost, "/api/v1/lobby/join", join).Code)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/api/v1/game/state", "").Code)
	}
}

func TestRoutes_Preflight(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/lobby/join", nil)
	req.Header.Set("Origin", "http://game.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://game.local", w.Header().Get("Access-Control-Allow-Origin"))
}
