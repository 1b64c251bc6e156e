package game

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"shootout/internal/config"
	"shootout/internal/models"
	"shootout/pkg/utils"
)

// Store - хранилище игроков, раундов, позиций и записей лобби.
// Реализуется service.GameStore.
type Store interface {
	// UpsertPlayer создает игрока со стартовым балансом или обновляет имя
	UpsertPlayer(ctx context.Context, id, username string) (*models.Player, error)
	// GetPlayer возвращает игрока или nil, если игрок ни разу не входил в лобби
	GetPlayer(ctx context.Context, id string) (*models.Player, error)
	// CreateRound сохраняет раунд и позиции одной транзакцией, заполняет round.ID
	CreateRound(ctx context.Context, round *models.Round, positions []*models.Position) error
	CompleteRound(ctx context.Context, roundID int64, exitPrice float64, reason string, endedAt time.Time) error
	UpdatePosition(ctx context.Context, upd models.PositionUpdate) error
	// ApplyPlayerDelta инкрементально меняет баланс и счетчики, не повторяется
	ApplyPlayerDelta(ctx context.Context, delta models.PlayerDelta) error
	CreateLobbyEntry(ctx context.Context, entry *models.LobbyEntry) error
	// ClearLobbyEntries удаляет записи лобби, созданные раньше before
	ClearLobbyEntries(ctx context.Context, before time.Time) error
}

// PriceFeed - подписка на тики пары. Реализуется pricefeed.Client.
type PriceFeed interface {
	Subscribe(pair string, onTick func(models.Tick)) (unsubscribe func(), err error)
}

// VolatilityRanker - рейтинг пар по волатильности. Реализуется volatility.Tracker.
type VolatilityRanker interface {
	RankedAbove(threshold float64) []models.VolatilityRecord
}

// Dependencies внешние зависимости оркестратора
type Dependencies struct {
	Store      Store
	Feed       PriceFeed
	Volatility VolatilityRanker
	Sink       EventSink
	Ledger     *Ledger
	Randomizer *Randomizer // nil = seed от текущего времени
	Clock      Clock       // nil = RealClock
	Logger     *utils.Logger
}

// Orchestrator - конечный автомат LOBBY/ROUND.
//
// Архитектура:
// - Все изменения состояния (фаза, лобби, позиции раунда) выполняются
//   одной горутиной цикла run(). Тики, таймеры и команды игроков
//   попадают в inbox и обрабатываются строго по очереди.
// - Записи данных игрока идут через Ledger (очередь на игрока), поэтому
//   цикл не ждет БД при обработке тиков.
// - Таймеры принадлежат экземпляру фазы и отменяются при каждом переходе.
//   Событие таймера несет номер поколения, устаревшие события игнорируются.
//
// Поток данных:
// PriceFeed → inbox → onTick → EventSink
// API → JoinLobby/Shoot → inbox → Store (через Ledger) → EventSink
type Orchestrator struct {
	cfg    config.GameConfig
	store  Store
	feed   PriceFeed
	ranker VolatilityRanker
	sink   EventSink
	ledger *Ledger
	rnd    *Randomizer
	clock  Clock
	logger *utils.Logger

	inbox   chan func()
	done    chan struct{}
	stopped chan struct{}

	started   atomic.Bool
	startOnce sync.Once
	closeOnce sync.Once

	// ============ Состояние цикла (только горутина run) ============
	phase      string
	gen        uint64 // поколение текущего экземпляра фазы
	closing    bool
	lobbyStart time.Time
	lobbyEnd   time.Time
	roster     map[string]*lobbyPlayer
	order      []string // порядок входа в лобби
	starting   *pendingStart
	round      *roundState
	timers     phaseTimers
}

// pendingStart лобби закрыто, пара выбрана, раунд ждет первую цену
type pendingStart struct {
	pair string
	sub  *tickSub
}

// Ключи очередей Ledger для записей, не относящихся к одному игроку
const (
	lobbyLedgerKey = "lobby"
	roundLedgerKey = "rounds"
)

// lobbyPlayer запись лобби
type lobbyPlayer struct {
	PlayerID  string
	Username  string
	BetAmount float64
	Balance   float64 // снимок баланса при входе
	JoinedAt  time.Time
}

const inboxSize = 1024

// NewOrchestrator создает оркестратор. Запуск - Start, остановка - Close.
func NewOrchestrator(cfg config.GameConfig, deps Dependencies) *Orchestrator {
	clock := deps.Clock
	if clock == nil {
		clock = RealClock()
	}
	rnd := deps.Randomizer
	if rnd == nil {
		rnd = NewRandomizer(time.Now().UnixNano())
	}

	return &Orchestrator{
		cfg:     cfg,
		store:   deps.Store,
		feed:    deps.Feed,
		ranker:  deps.Volatility,
		sink:    deps.Sink,
		ledger:  deps.Ledger,
		rnd:     rnd,
		clock:   clock,
		logger:  deps.Logger.WithComponent("orchestrator"),
		inbox:   make(chan func(), inboxSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		roster:  make(map[string]*lobbyPlayer),
		timers:  phaseTimers{clock: clock},
	}
}

// Start запускает цикл и первое лобби
func (o *Orchestrator) Start() {
	o.startOnce.Do(func() {
		o.started.Store(true)
		go o.run()
		o.post(o.startLobby)
	})
}

// Close останавливает цикл: отменяет таймеры, рассчитывает активный раунд
// (причина shutdown) и снимает подписку на цены. Новое лобби не создается.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		close(o.done)
	})
	if o.started.Load() {
		<-o.stopped
	}
}

// run - единственная горутина, изменяющая состояние игры
func (o *Orchestrator) run() {
	defer close(o.stopped)

	for {
		select {
		case fn := <-o.inbox:
			o.exec(fn)
		case <-o.done:
			o.exec(o.shutdown)
			return
		}
	}
}

// exec выполняет задачу цикла с защитой от паники
func (o *Orchestrator) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic in game loop", zap.Any("panic", r), zap.String("phase", o.phase))
		}
	}()
	fn()
}

func (o *Orchestrator) shutdown() {
	o.closing = true
	o.timers.cancelAll()
	if o.starting != nil {
		o.starting.sub.stop()
		o.starting = nil
	}
	if o.round != nil {
		o.endRound(models.EndReasonShutdown)
	}
	o.roster = make(map[string]*lobbyPlayer)
	o.order = nil
	o.logger.Info("game loop stopped")
}

// post ставит задачу в очередь цикла. false - оркестратор остановлен.
func (o *Orchestrator) post(fn func()) bool {
	select {
	case o.inbox <- fn:
		return true
	case <-o.done:
		return false
	}
}

// call выполняет fn в цикле и ждет завершения
func (o *Orchestrator) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}

	select {
	case o.inbox <- task:
	case <-o.done:
		return errShuttingDown()
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-o.stopped:
		return errShuttingDown()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func errShuttingDown() error {
	return newError(KindTransient, CodeShuttingDown, "game is shutting down")
}

// afterPhase планирует fn в цикле через d, если фаза не сменится раньше
func (o *Orchestrator) afterPhase(d time.Duration, fn func()) {
	gen := o.gen
	o.timers.after(d, func() {
		o.post(func() {
			if o.gen != gen || o.closing {
				return
			}
			fn()
		})
	})
}

// enterPhase отменяет таймеры предыдущего экземпляра фазы и открывает новый
func (o *Orchestrator) enterPhase(to string) {
	if o.phase != "" && !CanTransition(o.phase, to) {
		o.logger.Error("invalid phase transition", zap.String("from", o.phase), zap.String("to", to))
	}
	o.sealPhase()
	o.phase = to
	RecordPhase(to)
}

// sealPhase отменяет таймеры текущего экземпляра фазы, фаза не меняется
func (o *Orchestrator) sealPhase() {
	o.timers.cancelAll()
	o.gen++
}

func (o *Orchestrator) emit(eventType string, payload interface{}) {
	if o.sink == nil {
		return
	}
	o.sink.Emit(Event{Type: eventType, Payload: payload})
}

func (o *Orchestrator) persistCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), o.cfg.PersistTimeout)
}

// ============ Запросы состояния ============

// Snapshot полное состояние игры для клиентов, подключившихся позже
type Snapshot struct {
	Phase            string         `json:"phase"`
	PhaseLabel       string         `json:"phaseLabel"`
	RoundStarting    bool           `json:"roundStarting,omitempty"` // лобби закрыто, ждем первую цену
	LobbyStartTime   *time.Time     `json:"lobbyStartTime,omitempty"`
	LobbyEndTime     *time.Time     `json:"lobbyEndTime,omitempty"`
	SecondsRemaining int            `json:"secondsRemaining"`
	Lobby            []LobbyPlayer  `json:"lobby"`
	TotalWagered     float64        `json:"totalWagered"`
	Round            *RoundSnapshot `json:"round,omitempty"`
}

// RoundSnapshot состояние активного раунда
type RoundSnapshot struct {
	RoundID      int64       `json:"roundId"`
	Pair         string      `json:"pair"`
	EntryPrice   float64     `json:"entryPrice"`
	CurrentPrice float64     `json:"currentPrice"`
	Leverage     float64     `json:"leverage"`
	StartTime    time.Time   `json:"startTime"`
	EndTime      time.Time   `json:"endTime"`
	Duration     float64     `json:"duration"`
	TotalWagered float64     `json:"totalWagered"`
	Players      []PlayerPnl `json:"players"`
}

// Snapshot возвращает копию текущего состояния
func (o *Orchestrator) Snapshot(ctx context.Context) (*Snapshot, error) {
	var snap *Snapshot
	err := o.call(ctx, func() {
		snap = o.snapshot()
	})
	return snap, err
}

func (o *Orchestrator) snapshot() *Snapshot {
	snap := &Snapshot{
		Phase:         o.phase,
		PhaseLabel:    PhaseInfo(o.phase),
		RoundStarting: o.starting != nil,
	}

	switch o.phase {
	case models.PhaseLobby:
		start, end := o.lobbyStart, o.lobbyEnd
		snap.LobbyStartTime = &start
		snap.LobbyEndTime = &end
		snap.SecondsRemaining = o.secondsRemaining()
		snap.Lobby, snap.TotalWagered = o.lobbyPlayers()
	case models.PhaseRound:
		if r := o.round; r != nil {
			snap.TotalWagered = r.totalWagered
			snap.Round = &RoundSnapshot{
				RoundID:      r.id,
				Pair:         r.pair,
				EntryPrice:   r.entryPrice,
				CurrentPrice: r.currentPrice,
				Leverage:     r.leverage,
				StartTime:    r.startTime,
				EndTime:      r.endTime,
				Duration:     r.duration,
				TotalWagered: r.totalWagered,
				Players:      r.pnlView(),
			}
		}
	}

	if snap.Lobby == nil {
		snap.Lobby = []LobbyPlayer{}
	}
	return snap
}

// GetBalance возвращает сохраненный баланс игрока.
//
// Чтение идет через очередь игрока, поэтому видит все ранее
// поставленные записи (выплаты за shoot и т.п.).
func (o *Orchestrator) GetBalance(ctx context.Context, playerID string) (*models.BalanceInfo, error) {
	if err := utils.ValidatePlayerID(playerID); err != nil {
		return nil, newError(KindValidation, CodeInvalidInput, "%v", err)
	}

	var player *models.Player
	err := o.ledger.Do(ctx, playerID, "get_balance", func(ctx context.Context) error {
		p, err := o.store.GetPlayer(ctx, playerID)
		player = p
		return err
	})
	if err != nil {
		return nil, transientError(CodePersistenceFailure, "failed to read balance", err)
	}
	if player == nil {
		return nil, newError(KindNotFound, CodePlayerNotFound, "player %s not found", playerID)
	}

	return &models.BalanceInfo{
		PlayerID:    player.ID,
		Balance:     player.Balance,
		TotalPnl:    player.TotalPnl,
		GamesPlayed: player.GamesPlayed,
	}, nil
}

// EndRound завершает активный раунд по внешнему сигналу
func (o *Orchestrator) EndRound(ctx context.Context, reason string) error {
	var result error
	err := o.call(ctx, func() {
		if o.phase != models.PhaseRound || o.round == nil {
			result = newError(KindValidation, CodeWrongPhase, "no active round")
			return
		}
		o.endRound(reason)
	})
	if err != nil {
		return err
	}
	return result
}
