package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"shootout/internal/game"
	"shootout/internal/models"
	"shootout/internal/repository"
	"shootout/pkg/retry"
	"shootout/pkg/utils"
)

// GameStore реализует game.Store поверх репозиториев PostgreSQL.
//
// Функции:
// - игроки: upsert со стартовым балансом, чтение, инкрементальные дельты
// - раунды: создание вместе с позициями в одной транзакции, завершение, история
// - позиции: частичное обновление
// - лобби: запись ставки, очистка
//
// Повторы:
// - идемпотентные операции повторяются по retry.PersistenceConfig
// - ApplyPlayerDelta и CreateRound не повторяются: повтор дельты
//   удвоил бы изменение баланса, повтор CreateRound создал бы второй раунд
type GameStore struct {
	db        *sql.DB
	players   *repository.PlayerRepository
	rounds    *repository.RoundRepository
	positions *repository.PositionRepository
	lobby     *repository.LobbyRepository

	startingBalance float64
	retryCfg        retry.Config
	logger          *utils.Logger
}

var _ game.Store = (*GameStore)(nil)

// NewGameStore создает хранилище игры
func NewGameStore(db *sql.DB, startingBalance float64, logger *utils.Logger) *GameStore {
	s := &GameStore{
		db:              db,
		players:         repository.NewPlayerRepository(db),
		rounds:          repository.NewRoundRepository(db),
		positions:       repository.NewPositionRepository(db),
		lobby:           repository.NewLobbyRepository(db),
		startingBalance: startingBalance,
		logger:          logger.WithComponent("store"),
	}
	s.SetRetryConfig(retry.PersistenceConfig())
	return s
}

// SetRetryConfig заменяет расписание повторов (в тестах - без задержек)
func (s *GameStore) SetRetryConfig(cfg retry.Config) {
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.logger.Warn("retrying store operation",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}
	s.retryCfg = cfg
}

// ============ Игроки ============

// UpsertPlayer создает игрока со стартовым балансом или обновляет имя
func (s *GameStore) UpsertPlayer(ctx context.Context, id, username string) (*models.Player, error) {
	player, err := retry.DoWithResult(ctx, func() (*models.Player, error) {
		return s.players.Upsert(ctx, id, username, s.startingBalance)
	}, s.retryCfg)
	if err != nil {
		return nil, fmt.Errorf("upsert player %s: %w", id, err)
	}
	return player, nil
}

// GetPlayer возвращает игрока или nil, если его нет
func (s *GameStore) GetPlayer(ctx context.Context, id string) (*models.Player, error) {
	player, err := retry.DoWithResult(ctx, func() (*models.Player, error) {
		p, err := s.players.GetByID(ctx, id)
		if errors.Is(err, repository.ErrPlayerNotFound) {
			return nil, retry.Permanent(err)
		}
		return p, err
	}, s.retryCfg)
	if errors.Is(err, repository.ErrPlayerNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get player %s: %w", id, err)
	}
	return player, nil
}

// ApplyPlayerDelta применяет дельту баланса и счетчиков ровно один раз
func (s *GameStore) ApplyPlayerDelta(ctx context.Context, delta models.PlayerDelta) error {
	if delta.IsZero() {
		return nil
	}
	if err := s.players.ApplyDelta(ctx, delta); err != nil {
		return fmt.Errorf("apply delta for %s: %w", delta.PlayerID, err)
	}
	return nil
}

// ============ Раунды и позиции ============

// CreateRound сохраняет раунд и позиции одной транзакцией и заполняет round.ID
func (s *GameStore) CreateRound(ctx context.Context, round *models.Round, positions []*models.Position) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin round tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Error("round tx rollback failed", zap.Error(rbErr))
			}
		}
	}()

	if err = s.rounds.WithTx(tx).Create(ctx, round); err != nil {
		return fmt.Errorf("create round: %w", err)
	}

	positionRepo := s.positions.WithTx(tx)
	for _, p := range positions {
		p.RoundID = round.ID
		if err = positionRepo.Create(ctx, p); err != nil {
			return fmt.Errorf("create position %s: %w", p.PlayerID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit round tx: %w", err)
	}
	return nil
}

// CompleteRound отмечает раунд завершенным. Повтор безопасен: поля выставляются абсолютно.
func (s *GameStore) CompleteRound(ctx context.Context, roundID int64, exitPrice float64, reason string, endedAt time.Time) error {
	err := retry.Do(ctx, func() error {
		err := s.rounds.Complete(ctx, roundID, exitPrice, reason, endedAt)
		if errors.Is(err, repository.ErrRoundNotFound) {
			return retry.Permanent(err)
		}
		return err
	}, s.retryCfg)
	if err != nil {
		return fmt.Errorf("complete round %d: %w", roundID, err)
	}
	return nil
}

// UpdatePosition частично обновляет позицию
func (s *GameStore) UpdatePosition(ctx context.Context, upd models.PositionUpdate) error {
	err := retry.Do(ctx, func() error {
		err := s.positions.Update(ctx, upd)
		if errors.Is(err, repository.ErrPositionNotFound) || errors.Is(err, repository.ErrEmptyUpdate) {
			return retry.Permanent(err)
		}
		return err
	}, s.retryCfg)
	if err != nil {
		return fmt.Errorf("update position %d/%s: %w", upd.RoundID, upd.PlayerID, err)
	}
	return nil
}

// ============ Лобби ============

// CreateLobbyEntry сохраняет ставку игрока в лобби
func (s *GameStore) CreateLobbyEntry(ctx context.Context, entry *models.LobbyEntry) error {
	err := retry.Do(ctx, func() error {
		return s.lobby.Create(ctx, entry)
	}, s.retryCfg)
	if err != nil {
		return fmt.Errorf("create lobby entry: %w", err)
	}
	return nil
}

// ClearLobbyEntries удаляет записи лобби, созданные раньше before
func (s *GameStore) ClearLobbyEntries(ctx context.Context, before time.Time) error {
	err := retry.Do(ctx, func() error {
		_, err := s.lobby.DeleteBefore(ctx, before)
		return err
	}, s.retryCfg)
	if err != nil {
		return fmt.Errorf("clear lobby entries: %w", err)
	}
	return nil
}

// GetRoundDetails возвращает раунд с позициями или nil, если раунда нет
func (s *GameStore) GetRoundDetails(ctx context.Context, roundID int64) (*models.RoundDetails, error) {
	round, err := retry.DoWithResult(ctx, func() (*models.Round, error) {
		r, err := s.rounds.GetByID(ctx, roundID)
		if errors.Is(err, repository.ErrRoundNotFound) {
			return nil, retry.Permanent(err)
		}
		return r, err
	}, s.retryCfg)
	if errors.Is(err, repository.ErrRoundNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get round %d: %w", roundID, err)
	}

	positions, err := retry.DoWithResult(ctx, func() ([]*models.Position, error) {
		return s.positions.ListByRound(ctx, roundID)
	}, s.retryCfg)
	if err != nil {
		return nil, fmt.Errorf("list positions of round %d: %w", roundID, err)
	}
	if positions == nil {
		positions = []*models.Position{}
	}

	return &models.RoundDetails{Round: round, Positions: positions}, nil
}

// ============ Восстановление ============

// Recover приводит БД в согласованное состояние после рестарта:
// незавершенные раунды закрываются с причиной shutdown, записи лобби удаляются.
// Ставки в таких раундах уже списаны и не возвращаются.
func (s *GameStore) Recover(ctx context.Context) error {
	closed, err := s.rounds.CloseStale(ctx, models.EndReasonShutdown, time.Now())
	if err != nil {
		return fmt.Errorf("close stale rounds: %w", err)
	}
	if closed > 0 {
		s.logger.Warn("closed rounds left active by previous run", zap.Int64("rounds", closed))
	}

	if err := s.ClearLobbyEntries(ctx, time.Now()); err != nil {
		return err
	}
	return nil
}
