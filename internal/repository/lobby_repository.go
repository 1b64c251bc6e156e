package repository

import (
	"context"
	"time"

	"shootout/internal/models"
)

// LobbyRepository - работа с таблицей lobby_entries
type LobbyRepository struct {
	db DBTX
}

// NewLobbyRepository создает новый экземпляр репозитория
func NewLobbyRepository(db DBTX) *LobbyRepository {
	return &LobbyRepository{db: db}
}

// Create сохраняет ставку игрока в лобби.
// ID записи генерируется вызывающей стороной, повторная вставка игнорируется.
func (r *LobbyRepository) Create(ctx context.Context, entry *models.LobbyEntry) error {
	query := `
		INSERT INTO lobby_entries (id, player_id, bet_amount, joined_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query, entry.ID, entry.PlayerID, entry.BetAmount, entry.JoinedAt)
	return err
}

// DeleteBefore удаляет записи лобби, созданные раньше before.
// Записи следующего лобби (joined_at >= before) не затрагиваются.
// Возвращает число удаленных строк.
func (r *LobbyRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM lobby_entries WHERE joined_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
