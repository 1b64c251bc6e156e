package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"shootout/internal/models"
)

// Ошибки репозитория позиций
var (
	ErrPositionNotFound = errors.New("position not found")
	ErrEmptyUpdate      = errors.New("position update has no fields")
)

// PositionRepository - работа с таблицей positions
type PositionRepository struct {
	db DBTX
}

// NewPositionRepository создает новый экземпляр репозитория
func NewPositionRepository(db DBTX) *PositionRepository {
	return &PositionRepository{db: db}
}

// WithTx возвращает копию репозитория, работающую в транзакции
func (r *PositionRepository) WithTx(tx *sql.Tx) *PositionRepository {
	return &PositionRepository{db: tx}
}

// Create сохраняет позицию игрока в раунде.
// Повторная вставка той же пары (round_id, player_id) игнорируется.
func (r *PositionRepository) Create(ctx context.Context, p *models.Position) error {
	query := `
		INSERT INTO positions (round_id, player_id, side, entry_amount, entry_price)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (round_id, player_id) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query,
		p.RoundID,
		p.PlayerID,
		p.Side,
		p.EntryAmount,
		p.EntryPrice,
	)
	return err
}

// Update частично обновляет позицию. Изменяются только непустые поля.
//
// Все поля выставляются абсолютными значениями, поэтому операцию
// можно безопасно повторять.
func (r *PositionRepository) Update(ctx context.Context, upd models.PositionUpdate) error {
	sets := make([]string, 0, 5)
	args := []interface{}{upd.RoundID, upd.PlayerID}

	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd.Liquidated != nil {
		add("liquidated", *upd.Liquidated)
	}
	if upd.DidShoot != nil {
		add("did_shoot", *upd.DidShoot)
	}
	if upd.ShotAt != nil {
		add("shot_at", *upd.ShotAt)
	}
	if upd.ExitPrice != nil {
		add("exit_price", *upd.ExitPrice)
	}
	if upd.Pnl != nil {
		add("pnl", *upd.Pnl)
	}

	if len(sets) == 0 {
		return ErrEmptyUpdate
	}

	query := `UPDATE positions SET ` + strings.Join(sets, ", ") + ` WHERE round_id = $1 AND player_id = $2`

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrPositionNotFound
	}

	return nil
}

// ListByRound возвращает позиции раунда
func (r *PositionRepository) ListByRound(ctx context.Context, roundID int64) ([]*models.Position, error) {
	query := `
		SELECT round_id, player_id, side, entry_amount, entry_price, exit_price, pnl, liquidated, did_shoot, shot_at
		FROM positions
		WHERE round_id = $1
		ORDER BY player_id`

	rows, err := r.db.QueryContext(ctx, query, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*models.Position
	for rows.Next() {
		p := &models.Position{}
		var exitPrice, pnl sql.NullFloat64
		var shotAt sql.NullTime

		if err := rows.Scan(
			&p.RoundID,
			&p.PlayerID,
			&p.Side,
			&p.EntryAmount,
			&p.EntryPrice,
			&exitPrice,
			&pnl,
			&p.Liquidated,
			&p.DidShoot,
			&shotAt,
		); err != nil {
			return nil, err
		}

		if exitPrice.Valid {
			p.ExitPrice = &exitPrice.Float64
		}
		if pnl.Valid {
			p.Pnl = &pnl.Float64
		}
		if shotAt.Valid {
			p.ShotAt = &shotAt.Time
		}

		positions = append(positions, p)
	}

	return positions, rows.Err()
}
