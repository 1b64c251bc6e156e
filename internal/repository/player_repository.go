package repository

import (
	"context"
	"database/sql"
	"errors"

	"shootout/internal/models"
)

// Ошибки репозитория игроков
var (
	ErrPlayerNotFound = errors.New("player not found")
)

// PlayerRepository - работа с таблицей players
type PlayerRepository struct {
	db DBTX
}

// NewPlayerRepository создает новый экземпляр репозитория
func NewPlayerRepository(db DBTX) *PlayerRepository {
	return &PlayerRepository{db: db}
}

// WithTx возвращает копию репозитория, работающую в транзакции
func (r *PlayerRepository) WithTx(tx *sql.Tx) *PlayerRepository {
	return &PlayerRepository{db: tx}
}

const playerColumns = `id, username, balance, total_pnl, games_played, games_won, games_lost, created_at, updated_at`

// Upsert создает игрока со стартовым балансом или обновляет его имя.
// Баланс существующего игрока не меняется, поэтому операцию можно повторять.
func (r *PlayerRepository) Upsert(ctx context.Context, id, username string, startingBalance float64) (*models.Player, error) {
	query := `
		INSERT INTO players (id, username, balance, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE
		SET username = EXCLUDED.username, updated_at = NOW()
		RETURNING ` + playerColumns

	return scanPlayer(r.db.QueryRowContext(ctx, query, id, username, startingBalance))
}

// GetByID возвращает игрока по ID
func (r *PlayerRepository) GetByID(ctx context.Context, id string) (*models.Player, error) {
	query := `SELECT ` + playerColumns + ` FROM players WHERE id = $1`

	player, err := scanPlayer(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPlayerNotFound
		}
		return nil, err
	}
	return player, nil
}

// ApplyDelta атомарно применяет изменение баланса и счетчиков.
//
// Запрос инкрементальный (balance = balance + $2), повторный вызов с той же
// дельтой изменит баланс дважды.
func (r *PlayerRepository) ApplyDelta(ctx context.Context, delta models.PlayerDelta) error {
	query := `
		UPDATE players
		SET balance = balance + $2,
			total_pnl = total_pnl + $3,
			games_played = games_played + $4,
			games_won = games_won + $5,
			games_lost = games_lost + $6,
			updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query,
		delta.PlayerID,
		delta.Balance,
		delta.TotalPnl,
		delta.GamesPlayed,
		delta.GamesWon,
		delta.GamesLost,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrPlayerNotFound
	}

	return nil
}

func scanPlayer(row *sql.Row) (*models.Player, error) {
	p := &models.Player{}
	err := row.Scan(
		&p.ID,
		&p.Username,
		&p.Balance,
		&p.TotalPnl,
		&p.GamesPlayed,
		&p.GamesWon,
		&p.GamesLost,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}
