package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shootout/internal/models"
	"shootout/pkg/retry"
	"shootout/pkg/utils"
)

var playerCols = []string{"id", "username", "balance", "total_pnl", "games_played", "games_won", "games_lost", "created_at", "updated_at"}

func newTestStore(t *testing.T) (*GameStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := NewGameStore(db, 1000, utils.NewNopLogger())
	store.SetRetryConfig(retry.Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		RetryIf:      retry.RetryIfNotContext,
	})
	return store, mock
}

func TestGameStore_UpsertPlayerRetries(t *testing.T) {
	store, mock := newTestStore(t)
	now := time.Now()

	mock.ExpectQuery(`INSERT INTO players`).
		WithArgs("alice", "Alice", 1000.0).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectQuery(`INSERT INTO players`).
		WithArgs("alice", "Alice", 1000.0).
		WillReturnRows(sqlmock.NewRows(playerCols).AddRow("alice", "Alice", 1000.0, 0.0, 0, 0, 0, now, now))

	player, err := store.UpsertPlayer(context.Background(), "alice", "Alice")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, player.Balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGameStore_GetPlayer(t *testing.T) {
	t.Run("missing player is nil without retry", func(t *testing.T) {
		store, mock := newTestStore(t)
		mock.ExpectQuery(`SELECT .+ FROM players WHERE id = \$1`).
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)

		player, err := store.GetPlayer(context.Background(), "ghost")
		require.NoError(t, err)
		assert.Nil(t, player)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("exhausted retries return error", func(t *testing.T) {
		store, mock := newTestStore(t)
		for i := 0; i < 3; i++ {
			mock.ExpectQuery(`SELECT .+ FROM players`).WillReturnError(errors.New("db down"))
		}

		_, err := store.GetPlayer(context.Background(), "alice")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "db down")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGameStore_ApplyPlayerDeltaNeverRetried(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec(`UPDATE players SET balance = balance \+ \$2`).
		WithArgs("alice", 25.0, 15.0, 1, 1, 0).
		WillReturnError(errors.New("timeout"))

	err := store.ApplyPlayerDelta(context.Background(), models.PlayerDelta{
		PlayerID: "alice", Balance: 25, TotalPnl: 15, GamesPlayed: 1, GamesWon: 1,
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet(), "delta must be attempted exactly once")
}

func TestGameStore_ApplyZeroDeltaSkipsQuery(t *testing.T) {
	store, mock := newTestStore(t)

	require.NoError(t, store.ApplyPlayerDelta(context.Background(), models.PlayerDelta{PlayerID: "alice"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGameStore_CreateRound(t *testing.T) {
	started := time.Now()

	newRound := func() (*models.Round, []*models.Position) {
		round := &models.Round{Pair: "BTC/USD", EntryPrice: 100, Leverage: 500, DurationSeconds: 12.5, StartedAt: started}
		positions := []*models.Position{
			{PlayerID: "alice", Side: models.SideLong, EntryAmount: 10, EntryPrice: 100},
			{PlayerID: "bob", Side: models.SideShort, EntryAmount: 20, EntryPrice: 100},
		}
		return round, positions
	}

	t.Run("commits round and positions", func(t *testing.T) {
		store, mock := newTestStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO rounds`).
			WithArgs("BTC/USD", 100.0, 500.0, 12.5, models.RoundStatusActive, started).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
		mock.ExpectExec(`INSERT INTO positions`).
			WithArgs(int64(7), "alice", models.SideLong, 10.0, 100.0).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO positions`).
			WithArgs(int64(7), "bob", models.SideShort, 20.0, 100.0).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		round, positions := newRound()
		require.NoError(t, store.CreateRound(context.Background(), round, positions))
		assert.Equal(t, int64(7), round.ID)
		assert.Equal(t, int64(7), positions[1].RoundID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on position failure", func(t *testing.T) {
		store, mock := newTestStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO rounds`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(8))
		mock.ExpectExec(`INSERT INTO positions`).
			WillReturnError(errors.New("fk violation"))
		mock.ExpectRollback()

		round, positions := newRound()
		err := store.CreateRound(context.Background(), round, positions)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "create position alice")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin failure", func(t *testing.T) {
		store, mock := newTestStore(t)
		mock.ExpectBegin().WillReturnError(errors.New("pool exhausted"))

		round, positions := newRound()
		require.Error(t, store.CreateRound(context.Background(), round, positions))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGameStore_CompleteRound(t *testing.T) {
	ended := time.Now()

	t.Run("retries transient failure", func(t *testing.T) {
		store, mock := newTestStore(t)
		mock.ExpectExec(`UPDATE rounds SET exit_price`).
			WillReturnError(errors.New("broken pipe"))
		mock.ExpectExec(`UPDATE rounds SET exit_price`).
			WithArgs(int64(3), 101.5, models.EndReasonTimeExpired, ended, models.RoundStatusCompleted).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.CompleteRound(context.Background(), 3, 101.5, models.EndReasonTimeExpired, ended))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown round is not retried", func(t *testing.T) {
		store, mock := newTestStore(t)
		mock.ExpectExec(`UPDATE rounds SET exit_price`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.CompleteRound(context.Background(), 99, 101.5, models.EndReasonTimeExpired, ended)
		require.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGameStore_UpdatePosition(t *testing.T) {
	store, mock := newTestStore(t)

	liquidated := true
	exit := 99.8
	pnl := -10.0
	mock.ExpectExec(`UPDATE positions SET liquidated = \$3, exit_price = \$4, pnl = \$5 WHERE round_id = \$1 AND player_id = \$2`).
		WithArgs(int64(4), "alice", true, 99.8, -10.0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpdatePosition(context.Background(), models.PositionUpdate{
		RoundID: 4, PlayerID: "alice", Liquidated: &liquidated, ExitPrice: &exit, Pnl: &pnl,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGameStore_LobbyEntries(t *testing.T) {
	store, mock := newTestStore(t)
	joined := time.Now()

	mock.ExpectExec(`INSERT INTO lobby_entries`).
		WithArgs("6f1c2a9e-0000-4000-8000-000000000001", "alice", 10.0, joined).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM lobby_entries WHERE joined_at < \$1`).
		WithArgs(joined.Add(time.Second)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.CreateLobbyEntry(context.Background(), &models.LobbyEntry{
		ID: "6f1c2a9e-0000-4000-8000-000000000001", PlayerID: "alice", BetAmount: 10, JoinedAt: joined,
	}))
	require.NoError(t, store.ClearLobbyEntries(context.Background(), joined.Add(time.Second)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGameStore_GetRoundDetails(t *testing.T) {
	roundCols := []string{"id", "pair", "entry_price", "exit_price", "leverage", "duration_seconds", "status", "end_reason", "started_at", "ended_at"}
	posCols := []string{"round_id", "player_id", "side", "entry_amount", "entry_price", "exit_price", "pnl", "liquidated", "did_shoot", "shot_at"}

	t.Run("round with positions", func(t *testing.T) {
		store, mock := newTestStore(t)
		now := time.Now()
		mock.ExpectQuery(`SELECT .+ FROM rounds WHERE id = \$1`).
			WithArgs(int64(4)).
			WillReturnRows(sqlmock.NewRows(roundCols).
				AddRow(4, "BTC/USD", 100.0, 101.0, 500.0, 12.5, models.RoundStatusCompleted, models.EndReasonTimeExpired, now, now))
		mock.ExpectQuery(`SELECT .+ FROM positions WHERE round_id = \$1`).
			WithArgs(int64(4)).
			WillReturnRows(sqlmock.NewRows(posCols).
				AddRow(4, "alice", "LONG", 10.0, 100.0, 101.0, 50.0, false, false, nil))

		details, err := store.GetRoundDetails(context.Background(), 4)
		require.NoError(t, err)
		require.NotNil(t, details)
		assert.Equal(t, "BTC/USD", details.Round.Pair)
		require.Len(t, details.Positions, 1)
		assert.Equal(t, "alice", details.Positions[0].PlayerID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown round is nil without retry", func(t *testing.T) {
		store, mock := newTestStore(t)
		mock.ExpectQuery(`SELECT .+ FROM rounds`).WillReturnError(sql.ErrNoRows)

		details, err := store.GetRoundDetails(context.Background(), 99)
		require.NoError(t, err)
		assert.Nil(t, details)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("round without positions", func(t *testing.T) {
		store, mock := newTestStore(t)
		mock.ExpectQuery(`SELECT .+ FROM rounds`).
			WillReturnRows(sqlmock.NewRows(roundCols).
				AddRow(5, "ETH/USD", 3000.0, nil, 500.0, 10.0, models.RoundStatusActive, "", time.Now(), nil))
		mock.ExpectQuery(`SELECT .+ FROM positions`).WillReturnRows(sqlmock.NewRows(posCols))

		details, err := store.GetRoundDetails(context.Background(), 5)
		require.NoError(t, err)
		assert.NotNil(t, details.Positions)
		assert.Empty(t, details.Positions)
	})
}

func TestGameStore_Recover(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec(`UPDATE rounds SET status = \$1.+WHERE status = \$4`).
		WithArgs(models.RoundStatusCompleted, models.EndReasonShutdown, sqlmock.AnyArg(), models.RoundStatusActive).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`DELETE FROM lobby_entries`).
		WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, store.Recover(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
