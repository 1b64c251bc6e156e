package game

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shootout/internal/models"
	"shootout/pkg/utils"
)

// ============ Фаза LOBBY ============

// startLobby открывает новое лобби: пустой список игроков, новый дедлайн,
// таймер окончания и периодическая рассылка состояния.
func (o *Orchestrator) startLobby() {
	o.enterPhase(models.PhaseLobby)
	o.roster = make(map[string]*lobbyPlayer)
	o.order = nil
	PlayersInLobby.Set(0)

	now := o.clock.Now()
	o.lobbyStart = now
	o.lobbyEnd = now.Add(o.cfg.LobbyDuration)

	o.afterPhase(o.cfg.LobbyDuration, o.onLobbyExpired)
	o.scheduleLobbyBroadcast()

	o.logger.Debug("lobby started", zap.Time("ends_at", o.lobbyEnd))
	o.emit(EventLobbyStart, LobbyStartPayload{
		LobbyEndTime:     o.lobbyEnd,
		SecondsRemaining: o.secondsRemaining(),
		MinBet:           o.cfg.MinBet,
	})
}

// restartLobby отказ от старта раунда: лобби начинается заново без игроков.
// Ставки на этом этапе еще не списаны, поэтому возвращать нечего.
func (o *Orchestrator) restartLobby(reason string) {
	if len(o.order) > 0 {
		o.logger.Warn("lobby restarted, roster discarded",
			zap.String("reason", reason),
			zap.Int("players", len(o.order)))
	}
	RecordLobbyRestart(reason)
	o.clearLobbyEntries()
	o.startLobby()
}

// clearLobbyEntries удаляет записи закрытого лобби в фоне.
// Граница по времени сохраняет ставки следующего лобби, даже если
// очистка выполнится после них.
func (o *Orchestrator) clearLobbyEntries() {
	before := o.clock.Now()
	o.ledger.Submit(lobbyLedgerKey, "clear_lobby", func(ctx context.Context) error {
		return o.store.ClearLobbyEntries(ctx, before)
	})
}

// scheduleLobbyBroadcast планирует следующую рассылку lobby:update.
// Таймер принадлежит текущему лобби и отменяется вместе с ним.
func (o *Orchestrator) scheduleLobbyBroadcast() {
	o.afterPhase(o.cfg.LobbyBroadcastInterval, func() {
		o.broadcastLobby()
		o.scheduleLobbyBroadcast()
	})
}

func (o *Orchestrator) broadcastLobby() {
	players, total := o.lobbyPlayers()
	o.emit(EventLobbyUpdate, LobbyUpdatePayload{
		SecondsRemaining: o.secondsRemaining(),
		PlayersInLobby:   len(players),
		TotalWagered:     total,
		Players:          players,
	})
}

// lobbyPlayers список игроков в порядке входа и сумма ставок
func (o *Orchestrator) lobbyPlayers() ([]LobbyPlayer, float64) {
	players := make([]LobbyPlayer, 0, len(o.order))
	var total float64
	for _, id := range o.order {
		p := o.roster[id]
		players = append(players, LobbyPlayer{
			PlayerID:  p.PlayerID,
			Username:  p.Username,
			BetAmount: p.BetAmount,
			Balance:   p.Balance,
			JoinedAt:  p.JoinedAt,
		})
		total += p.BetAmount
	}
	return players, total
}

func (o *Orchestrator) secondsRemaining() int {
	left := o.lobbyEnd.Sub(o.clock.Now()).Seconds()
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left))
}

// ============ Команды лобби ============

// JoinResult результат входа в лобби
type JoinResult struct {
	PlayerID     string    `json:"player_id"`
	Balance      float64   `json:"balance"`
	BetAmount    float64   `json:"bet_amount"`
	LobbyEndTime time.Time `json:"lobby_end_time"`
}

// JoinLobby добавляет игрока в лобби со ставкой betAmount.
//
// Отклоняется если:
//   - фаза не LOBBY (wrong_phase)
//   - ставка меньше минимальной (bet_below_minimum)
//   - игрок уже в лобби (already_joined)
//   - сохраненный баланс меньше ставки (insufficient_balance)
//
// При успехе игрок создается/обновляется в БД, сохраняется запись лобби
// и рассылается lobby:player_joined. Баланс списывается при старте раунда.
func (o *Orchestrator) JoinLobby(ctx context.Context, playerID, username string, betAmount float64) (*JoinResult, error) {
	username = strings.TrimSpace(username)

	var errs utils.ValidationErrors
	errs.AddError("player_id", utils.ValidatePlayerID(playerID))
	errs.AddError("username", utils.ValidateUsername(username))
	if errs.HasErrors() {
		err := newError(KindValidation, CodeInvalidInput, "%s", errs.Error())
		RecordRejected("join", err)
		return nil, err
	}
	if err := utils.ValidateBetAmount(betAmount, o.cfg.MinBet); err != nil {
		gerr := newError(KindValidation, CodeBetBelowMinimum, "bet must be at least %v", o.cfg.MinBet)
		RecordRejected("join", gerr)
		return nil, gerr
	}

	var (
		result *JoinResult
		joinErr error
	)
	err := o.call(ctx, func() {
		result, joinErr = o.joinLobby(playerID, username, betAmount)
	})
	if err == nil {
		err = joinErr
	}
	if err != nil {
		RecordRejected("join", err)
		return nil, err
	}
	return result, nil
}

// joinLobby выполняется в цикле
func (o *Orchestrator) joinLobby(playerID, username string, betAmount float64) (*JoinResult, error) {
	if o.phase != models.PhaseLobby {
		return nil, newError(KindValidation, CodeWrongPhase, "lobby is closed, round in progress")
	}
	if o.starting != nil {
		return nil, newError(KindValidation, CodeWrongPhase, "lobby is closed, round is starting")
	}
	if _, ok := o.roster[playerID]; ok {
		return nil, newError(KindValidation, CodeAlreadyJoined, "player %s already in lobby", playerID)
	}

	entry := &models.LobbyEntry{
		ID:        uuid.NewString(),
		PlayerID:  playerID,
		BetAmount: betAmount,
		JoinedAt:  o.clock.Now(),
	}

	ctx, cancel := o.persistCtx()
	defer cancel()

	// Upsert, проверка баланса и запись лобби одной задачей в очереди игрока:
	// баланс читается после всех ранее поставленных выплат.
	var player *models.Player
	err := o.ledger.Do(ctx, playerID, "join", func(ctx context.Context) error {
		p, err := o.store.UpsertPlayer(ctx, playerID, username)
		if err != nil {
			return transientError(CodePersistenceFailure, "failed to save player", err)
		}
		if p.Balance < betAmount {
			return newError(KindValidation, CodeInsufficientBalance,
				"balance %.2f is less than bet %.2f", p.Balance, betAmount)
		}
		// вызывающий мог уйти по таймауту: запись лобби без игрока в списке не нужна
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := o.store.CreateLobbyEntry(ctx, entry); err != nil {
			return transientError(CodePersistenceFailure, "failed to save lobby entry", err)
		}
		player = p
		return nil
	})
	if err != nil {
		if KindOf(err) == KindUnknown {
			err = transientError(CodePersistenceFailure, "join failed", err)
		}
		return nil, err
	}

	lp := &lobbyPlayer{
		PlayerID:  playerID,
		Username:  player.Username,
		BetAmount: betAmount,
		Balance:   player.Balance,
		JoinedAt:  entry.JoinedAt,
	}
	o.roster[playerID] = lp
	o.order = append(o.order, playerID)
	PlayersInLobby.Set(float64(len(o.order)))

	o.logger.Info("player joined lobby",
		zap.String("player_id", playerID),
		zap.Float64("bet", betAmount),
		zap.Int("players", len(o.order)))

	o.emit(EventLobbyPlayerJoined, PlayerJoinedPayload{
		PlayerID:  playerID,
		Username:  lp.Username,
		BetAmount: betAmount,
		Balance:   lp.Balance,
	})

	return &JoinResult{
		PlayerID:     playerID,
		Balance:      lp.Balance,
		BetAmount:    betAmount,
		LobbyEndTime: o.lobbyEnd,
	}, nil
}

// LeaveLobby выход из лобби не поддерживается: игрок не удаляется
// и ставка не возвращается. Команда явно отклоняется с not_implemented.
func (o *Orchestrator) LeaveLobby(ctx context.Context, playerID string) error {
	o.logger.Warn("leave lobby requested but not implemented", zap.String("player_id", playerID))
	err := newError(KindNotImplemented, CodeNotImplemented, "leaving the lobby is not supported")
	RecordRejected("leave", err)
	return err
}

// ============ LOBBY → ROUND ============

// onLobbyExpired дедлайн лобби: старт раунда или перезапуск лобби
func (o *Orchestrator) onLobbyExpired() {
	if len(o.order) == 0 {
		o.restartLobby(RestartEmptyRoster)
		return
	}

	candidates := o.ranker.RankedAbove(o.cfg.VolatilityThreshold)
	pair, ok := o.rnd.SelectRandomPair(candidates)
	if !ok {
		o.logger.Warn("no volatile pair available", zap.Float64("threshold", o.cfg.VolatilityThreshold))
		o.restartLobby(RestartNoPair)
		return
	}

	sub := newTickSubscription()
	unsubscribe, err := o.feed.Subscribe(pair, func(t models.Tick) {
		o.postTick(sub, t)
	})
	if err != nil {
		o.logger.Error("price feed subscribe failed", zap.String("pair", pair), zap.Error(err))
		o.restartLobby(RestartFeedError)
		return
	}
	sub.unsubscribe = unsubscribe

	// Лобби закрыто: рассылка остановлена, ставки не принимаются.
	// Раунд стартует по первому тику (onTick), без тика - перезапуск по таймеру.
	o.sealPhase()
	o.starting = &pendingStart{pair: pair, sub: sub}
	o.afterPhase(o.cfg.PriceSampleTimeout, o.onSampleTimeout)
}

// onSampleTimeout первая цена пары не пришла за PriceSampleTimeout
func (o *Orchestrator) onSampleTimeout() {
	s := o.starting
	if s == nil {
		return
	}
	o.starting = nil
	s.sub.stop()

	o.logger.Warn("no price sample before timeout", zap.String("pair", s.pair),
		zap.Duration("timeout", o.cfg.PriceSampleTimeout))
	o.restartLobby(RestartPriceTimeout)
}
