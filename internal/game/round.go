package game

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"shootout/internal/models"
	"shootout/pkg/utils"
)

// ============ Состояние раунда ============

// roundState активный раунд. Изменяется только горутиной цикла.
type roundState struct {
	id           int64
	pair         string
	entryPrice   float64
	currentPrice float64
	hasTick      bool // получен хотя бы один тик после старта
	leverage     float64
	startTime    time.Time
	endTime      time.Time
	duration     float64
	totalWagered float64
	positions    map[string]*playerPosition
	order        []string
	sub          *tickSub
}

// playerPosition позиция игрока в памяти.
// Liquidated и DidShoot монотонны и взаимоисключающи: после любого из них
// позиция терминальна и PNL больше не пересчитывается.
type playerPosition struct {
	PlayerID   string
	Username   string
	Side       string
	BetAmount  float64
	EntryPrice float64
	CurrentPnl float64
	Liquidated bool
	DidShoot   bool
	ShotAt     time.Time
	ExitPrice  float64
	Payout     float64
	Balance    float64 // ожидаемый баланс после поставленных записей
}

func (p *playerPosition) terminal() bool {
	return p.Liquidated || p.DidShoot
}

// tickSub подписка раунда на цены пары.
// stopped закрывается при отписке, после этого тики подписки в цикл не попадают.
type tickSub struct {
	unsubscribe func()
	stopped     chan struct{}
	once        sync.Once
}

func newTickSubscription() *tickSub {
	return &tickSub{stopped: make(chan struct{})}
}

func (s *tickSub) stop() {
	s.once.Do(func() {
		close(s.stopped)
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
	})
}

// pnlView текущий PNL всех игроков, включая терминальные позиции
func (r *roundState) pnlView() []PlayerPnl {
	view := make([]PlayerPnl, 0, len(r.order))
	for _, id := range r.order {
		p := r.positions[id]
		view = append(view, PlayerPnl{
			PlayerID:         p.PlayerID,
			PositionType:     p.Side,
			Pnl:              utils.RoundDecimal(p.CurrentPnl, 2),
			PnlPercentage:    utils.RoundDecimal(utils.CalculatePnlPercent(p.CurrentPnl, p.BetAmount), 2),
			LiquidationPrice: utils.LiquidationPrice(p.Side, p.EntryPrice, r.leverage),
			Liquidated:       p.Liquidated,
			DidShoot:         p.DidShoot,
		})
	}
	return view
}

// ============ LOBBY → ROUND ============

// startRound фиксирует игроков лобби в позициях и запускает раунд
func (o *Orchestrator) startRound(pair string, entryPrice float64, sub *tickSub) {
	sides := o.rnd.AssignPositions(o.order)
	duration := o.rnd.RoundDuration(o.cfg.Leverage, o.cfg.RoundMinSeconds, o.cfg.RoundMaxSeconds)
	now := o.clock.Now()

	record := &models.Round{
		Pair:            pair,
		EntryPrice:      entryPrice,
		Leverage:        o.cfg.Leverage,
		DurationSeconds: duration,
		Status:          models.RoundStatusActive,
		StartedAt:       now,
	}
	records := make([]*models.Position, 0, len(o.order))
	for _, id := range o.order {
		records = append(records, &models.Position{
			PlayerID:    id,
			Side:        sides[id],
			EntryAmount: o.roster[id].BetAmount,
			EntryPrice:  entryPrice,
		})
	}

	ctx, cancel := o.persistCtx()
	err := o.store.CreateRound(ctx, record, records)
	cancel()
	if err != nil {
		sub.stop()
		o.logger.Error("failed to persist round", zap.String("pair", pair), zap.Error(err))
		o.restartLobby(RestartPersistence)
		return
	}

	r := &roundState{
		id:           record.ID,
		pair:         pair,
		entryPrice:   entryPrice,
		currentPrice: entryPrice,
		leverage:     o.cfg.Leverage,
		startTime:    now,
		endTime:      now.Add(time.Duration(duration * float64(time.Second))),
		duration:     duration,
		positions:    make(map[string]*playerPosition, len(o.order)),
		order:        append([]string(nil), o.order...),
		sub:          sub,
	}

	players := make([]RoundPlayer, 0, len(o.order))
	for _, id := range o.order {
		lp := o.roster[id]
		bet := lp.BetAmount
		o.ledger.Submit(id, "round_bet", func(ctx context.Context) error {
			return o.store.ApplyPlayerDelta(ctx, models.PlayerDelta{PlayerID: id, Balance: -bet})
		})

		r.positions[id] = &playerPosition{
			PlayerID:   id,
			Username:   lp.Username,
			Side:       sides[id],
			BetAmount:  bet,
			EntryPrice: entryPrice,
			Balance:    lp.Balance - bet,
		}
		r.totalWagered += bet

		players = append(players, RoundPlayer{
			PlayerID:         id,
			Username:         lp.Username,
			PositionType:     sides[id],
			BetAmount:        bet,
			EntryPrice:       entryPrice,
			LiquidationPrice: utils.LiquidationPrice(sides[id], entryPrice, o.cfg.Leverage),
		})
	}

	o.clearLobbyEntries()

	o.enterPhase(models.PhaseRound)
	o.round = r
	o.roster = make(map[string]*lobbyPlayer)
	o.order = nil
	PlayersInLobby.Set(0)

	o.afterPhase(r.endTime.Sub(now), func() {
		o.endRound(models.EndReasonTimeExpired)
	})

	o.logger.WithRound(r.id).Info("round started",
		zap.String("pair", pair),
		zap.Float64("entry_price", entryPrice),
		zap.Float64("duration_s", duration),
		zap.Int("players", len(players)))

	o.emit(EventRoundStart, RoundStartPayload{
		RoundID:      r.id,
		Pair:         pair,
		EntryPrice:   entryPrice,
		Leverage:     r.leverage,
		Duration:     duration,
		StartTime:    r.startTime,
		EndTime:      r.endTime,
		TotalWagered: r.totalWagered,
		Players:      players,
	})
	RecordRoundStarted(pair, r.totalWagered)
}

// ============ Тики ============

// postTick передает тик в цикл. Отписанная подписка или остановка
// оркестратора снимает ожидание места в очереди.
func (o *Orchestrator) postTick(sub *tickSub, t models.Tick) {
	select {
	case o.inbox <- func() { o.onTick(sub, t) }:
	case <-o.done:
	case <-sub.stopped:
	}
}

// onTick пересчитывает PNL открытых позиций и ликвидирует пересекшие порог.
// Первый тик закрытого лобби становится ценой входа нового раунда.
func (o *Orchestrator) onTick(sub *tickSub, t models.Tick) {
	if s := o.starting; s != nil && s.sub == sub {
		if t.Price > 0 {
			o.starting = nil
			o.startRound(s.pair, t.Price, sub)
		}
		return
	}

	r := o.round
	if o.phase != models.PhaseRound || r == nil || r.sub != sub || t.Price <= 0 {
		return
	}
	started := time.Now()

	r.currentPrice = t.Price
	r.hasTick = true

	for _, id := range r.order {
		p := r.positions[id]
		if p.terminal() {
			continue
		}
		p.CurrentPnl = utils.CalculatePnl(p.Side, p.EntryPrice, t.Price, p.BetAmount, r.leverage)
		if utils.IsLiquidated(p.Side, p.EntryPrice, t.Price, r.leverage) {
			o.liquidate(r, p, t.Price)
		}
	}

	o.emit(EventPriceUpdate, PriceUpdatePayload{
		RoundID:      r.id,
		Pair:         r.pair,
		CurrentPrice: r.currentPrice,
		Players:      r.pnlView(),
	})

	TickProcessing.Observe(float64(time.Since(started).Microseconds()) / 1000)
}

// liquidate фиксирует полную потерю ставки. Ставка уже списана при старте,
// поэтому баланс не меняется, обновляются только PNL и счетчики.
func (o *Orchestrator) liquidate(r *roundState, p *playerPosition, price float64) {
	p.Liquidated = true
	p.CurrentPnl = -p.BetAmount
	p.ExitPrice = price
	p.Payout = 0

	roundID, playerID, pnl := r.id, p.PlayerID, p.CurrentPnl
	liquidated := true
	o.ledger.Submit(playerID, "liquidate", func(ctx context.Context) error {
		return o.store.UpdatePosition(ctx, models.PositionUpdate{
			RoundID:    roundID,
			PlayerID:   playerID,
			Liquidated: &liquidated,
			ExitPrice:  &price,
			Pnl:        &pnl,
		})
	})
	o.ledger.Submit(playerID, "liquidate_stats", func(ctx context.Context) error {
		return o.store.ApplyPlayerDelta(ctx, models.PlayerDelta{
			PlayerID:    playerID,
			TotalPnl:    pnl,
			GamesPlayed: 1,
			GamesLost:   1,
		})
	})

	o.logger.WithRound(r.id).Info("position liquidated",
		zap.String("player_id", playerID),
		zap.String("side", p.Side),
		zap.Float64("price", price))

	o.emit(EventPlayerLiquidated, LiquidatedPayload{
		PlayerID:   playerID,
		RoundID:    roundID,
		FinalPrice: price,
		Loss:       p.BetAmount,
	})
	RecordPositionClosed("liquidated")
}

// ============ Shoot ============

// ShootResult результат досрочного выхода
type ShootResult struct {
	PlayerID   string  `json:"player_id"`
	RoundID    int64   `json:"round_id"`
	ExitPrice  float64 `json:"exit_price"`
	Pnl        float64 `json:"pnl"`
	Payout     float64 `json:"payout"`
	NewBalance float64 `json:"new_balance"`
}

// Shoot досрочно закрывает позицию игрока по цене последнего тика.
//
// PNL фиксируется, выплата bet+pnl (не меньше 0) зачисляется сразу,
// не дожидаясь конца раунда. Разрешен один раз за раунд.
func (o *Orchestrator) Shoot(ctx context.Context, playerID string, roundID int64) (*ShootResult, error) {
	var (
		result   *ShootResult
		shootErr error
	)
	err := o.call(ctx, func() {
		result, shootErr = o.shoot(playerID, roundID)
	})
	if err == nil {
		err = shootErr
	}
	if err != nil {
		RecordRejected("shoot", err)
		return nil, err
	}
	return result, nil
}

func (o *Orchestrator) shoot(playerID string, roundID int64) (*ShootResult, error) {
	r := o.round
	if o.phase != models.PhaseRound || r == nil {
		return nil, newError(KindValidation, CodeWrongPhase, "no active round")
	}
	if roundID != r.id {
		return nil, newError(KindStateConflict, CodeRoundMismatch, "round %d is not active", roundID)
	}
	p, ok := r.positions[playerID]
	if !ok {
		return nil, newError(KindNotFound, CodePositionNotFound, "player %s has no position in round %d", playerID, roundID)
	}
	if p.Liquidated {
		return nil, newError(KindStateConflict, CodeAlreadyLiquidated, "position already liquidated")
	}
	if p.DidShoot {
		return nil, newError(KindStateConflict, CodeAlreadyShot, "position already closed")
	}

	now := o.clock.Now()
	pnl := p.CurrentPnl
	if !r.hasTick {
		pnl = 0
	}
	payout := utils.CalculatePayout(p.BetAmount, pnl, false)

	p.DidShoot = true
	p.ShotAt = now
	p.CurrentPnl = pnl
	p.ExitPrice = r.currentPrice
	p.Payout = payout
	p.Balance += payout

	exitPrice := r.currentPrice
	didShoot := true
	o.ledger.Submit(playerID, "shoot", func(ctx context.Context) error {
		return o.store.UpdatePosition(ctx, models.PositionUpdate{
			RoundID:   r.id,
			PlayerID:  playerID,
			DidShoot:  &didShoot,
			ShotAt:    &now,
			ExitPrice: &exitPrice,
			Pnl:       &pnl,
		})
	})
	o.ledger.Submit(playerID, "shoot_credit", func(ctx context.Context) error {
		return o.store.ApplyPlayerDelta(ctx, models.PlayerDelta{
			PlayerID: playerID,
			Balance:  payout,
			TotalPnl: pnl,
		})
	})

	o.logger.WithRound(r.id).Info("player shot",
		zap.String("player_id", playerID),
		zap.Float64("pnl", pnl),
		zap.Float64("payout", payout))

	result := &ShootResult{
		PlayerID:   playerID,
		RoundID:    r.id,
		ExitPrice:  exitPrice,
		Pnl:        utils.RoundDecimal(pnl, 2),
		Payout:     utils.RoundDecimal(payout, 2),
		NewBalance: utils.RoundDecimal(p.Balance, 2),
	}
	o.emit(EventPlayerShoot, ShootPayload{
		PlayerID:   result.PlayerID,
		RoundID:    result.RoundID,
		ExitPrice:  result.ExitPrice,
		Pnl:        result.Pnl,
		Payout:     result.Payout,
		NewBalance: result.NewBalance,
	})
	RecordPositionClosed("shoot")
	return result, nil
}

// ============ ROUND → LOBBY ============

// endRound рассчитывает все позиции и возвращает игру в LOBBY.
// Подписка на цены снимается до расчета.
func (o *Orchestrator) endRound(reason string) {
	r := o.round
	if r == nil {
		return
	}
	o.timers.cancelAll()
	r.sub.stop()

	final := r.currentPrice
	results := make([]PlayerResult, 0, len(r.order))

	for _, id := range r.order {
		p := r.positions[id]
		switch {
		case p.Liquidated:
			// убыток и счетчики записаны при ликвидации
		case p.DidShoot:
			delta := models.PlayerDelta{PlayerID: id, GamesPlayed: 1}
			countOutcome(&delta, p.CurrentPnl)
			o.ledger.Submit(id, "settle_stats", func(ctx context.Context) error {
				return o.store.ApplyPlayerDelta(ctx, delta)
			})
		default:
			o.settleOpen(r, p, final)
		}

		results = append(results, PlayerResult{
			PlayerID:     id,
			PositionType: p.Side,
			BetAmount:    p.BetAmount,
			Pnl:          utils.RoundDecimal(p.CurrentPnl, 2),
			Payout:       utils.RoundDecimal(p.Payout, 2),
			Liquidated:   p.Liquidated,
			DidShoot:     p.DidShoot,
			NewBalance:   utils.RoundDecimal(p.Balance, 2),
		})
	}

	endedAt := o.clock.Now()
	roundID := r.id
	o.ledger.Submit(roundLedgerKey, "complete_round", func(ctx context.Context) error {
		return o.store.CompleteRound(ctx, roundID, final, reason, endedAt)
	})

	o.logger.WithRound(r.id).Info("round ended",
		zap.String("reason", reason),
		zap.Float64("final_price", final),
		zap.Int("players", len(results)))

	o.emit(EventRoundEnd, RoundEndPayload{
		RoundID:    r.id,
		Pair:       r.pair,
		FinalPrice: final,
		Reason:     reason,
		Results:    results,
	})
	o.round = nil

	if !o.closing {
		o.startLobby()
	}
}

// settleOpen закрывает открытую позицию по финальной цене
func (o *Orchestrator) settleOpen(r *roundState, p *playerPosition, final float64) {
	pnl := utils.CalculatePnl(p.Side, p.EntryPrice, final, p.BetAmount, r.leverage)
	payout := utils.CalculatePayout(p.BetAmount, pnl, false)

	p.CurrentPnl = pnl
	p.ExitPrice = final
	p.Payout = payout
	p.Balance += payout

	roundID, playerID := r.id, p.PlayerID
	o.ledger.Submit(playerID, "settle", func(ctx context.Context) error {
		return o.store.UpdatePosition(ctx, models.PositionUpdate{
			RoundID:   roundID,
			PlayerID:  playerID,
			ExitPrice: &final,
			Pnl:       &pnl,
		})
	})

	delta := models.PlayerDelta{
		PlayerID:    playerID,
		Balance:     payout,
		TotalPnl:    pnl,
		GamesPlayed: 1,
	}
	countOutcome(&delta, pnl)
	o.ledger.Submit(playerID, "settle_credit", func(ctx context.Context) error {
		return o.store.ApplyPlayerDelta(ctx, delta)
	})
	RecordPositionClosed("settled")
}

// countOutcome победа или поражение по знаку PNL, ноль не считается
func countOutcome(delta *models.PlayerDelta, pnl float64) {
	switch {
	case pnl > 0:
		delta.GamesWon = 1
	case pnl < 0:
		delta.GamesLost = 1
	}
}
