package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"shootout/internal/models"
)

// Ошибки репозитория раундов
var (
	ErrRoundNotFound = errors.New("round not found")
)

// RoundRepository - работа с таблицей rounds
type RoundRepository struct {
	db DBTX
}

// NewRoundRepository создает новый экземпляр репозитория
func NewRoundRepository(db DBTX) *RoundRepository {
	return &RoundRepository{db: db}
}

// WithTx возвращает копию репозитория, работающую в транзакции
func (r *RoundRepository) WithTx(tx *sql.Tx) *RoundRepository {
	return &RoundRepository{db: tx}
}

// Create сохраняет новый раунд и заполняет round.ID
func (r *RoundRepository) Create(ctx context.Context, round *models.Round) error {
	query := `
		INSERT INTO rounds (pair, entry_price, leverage, duration_seconds, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	if round.Status == "" {
		round.Status = models.RoundStatusActive
	}

	return r.db.QueryRowContext(ctx, query,
		round.Pair,
		round.EntryPrice,
		round.Leverage,
		round.DurationSeconds,
		round.Status,
		round.StartedAt,
	).Scan(&round.ID)
}

// Complete отмечает раунд завершенным
func (r *RoundRepository) Complete(ctx context.Context, id int64, exitPrice float64, reason string, endedAt time.Time) error {
	query := `
		UPDATE rounds
		SET exit_price = $2, end_reason = $3, ended_at = $4, status = $5
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id, exitPrice, reason, endedAt, models.RoundStatusCompleted)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrRoundNotFound
	}

	return nil
}

// GetByID возвращает раунд по ID
func (r *RoundRepository) GetByID(ctx context.Context, id int64) (*models.Round, error) {
	query := `
		SELECT id, pair, entry_price, exit_price, leverage, duration_seconds, status, end_reason, started_at, ended_at
		FROM rounds
		WHERE id = $1`

	round := &models.Round{}
	var exitPrice sql.NullFloat64
	var endedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&round.ID,
		&round.Pair,
		&round.EntryPrice,
		&exitPrice,
		&round.Leverage,
		&round.DurationSeconds,
		&round.Status,
		&round.EndReason,
		&round.StartedAt,
		&endedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoundNotFound
		}
		return nil, err
	}

	if exitPrice.Valid {
		round.ExitPrice = &exitPrice.Float64
	}
	if endedAt.Valid {
		round.EndedAt = &endedAt.Time
	}

	return round, nil
}

// CloseStale завершает раунды, оставшиеся активными после аварийной остановки.
// Возвращает число закрытых раундов.
func (r *RoundRepository) CloseStale(ctx context.Context, reason string, endedAt time.Time) (int64, error) {
	query := `
		UPDATE rounds
		SET status = $1, end_reason = $2, ended_at = $3
		WHERE status = $4`

	result, err := r.db.ExecContext(ctx, query, models.RoundStatusCompleted, reason, endedAt, models.RoundStatusActive)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
