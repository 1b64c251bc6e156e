package game

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"shootout/internal/models"
)

// ============================================================
// Prometheus метрики игрового цикла
// ============================================================

// ============ Состояние ============

// CurrentPhase - 0 = LOBBY, 1 = ROUND
var CurrentPhase = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "shootout",
		Subsystem: "game",
		Name:      "phase",
		Help:      "Current game phase (0 = lobby, 1 = round)",
	},
)

// PlayersInLobby - игроков в текущем лобби
var PlayersInLobby = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "shootout",
		Subsystem: "game",
		Name:      "players_in_lobby",
		Help:      "Number of players waiting in the lobby",
	},
)

// ============ Счётчики событий ============

// RoundsStarted - запущенные раунды по парам
var RoundsStarted = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "shootout",
		Subsystem: "game",
		Name:      "rounds_started_total",
		Help:      "Total number of started rounds",
	},
	[]string{"pair"},
)

// LobbyRestarts - перезапуски лобби без старта раунда
var LobbyRestarts = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "shootout",
		Subsystem: "game",
		Name:      "lobby_restarts_total",
		Help:      "Total number of lobby restarts by reason",
	},
	[]string{"reason"},
)

// PositionsClosed - закрытые позиции по исходу
var PositionsClosed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "shootout",
		Subsystem: "game",
		Name:      "positions_closed_total",
		Help:      "Total number of closed positions by outcome (shoot, liquidated, settled)",
	},
	[]string{"outcome"},
)

// AmountWagered - сумма ставок
var AmountWagered = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "shootout",
		Subsystem: "game",
		Name:      "wagered_total",
		Help:      "Total amount wagered in started rounds",
	},
)

// CommandsRejected - отклоненные команды игроков
var CommandsRejected = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "shootout",
		Subsystem: "game",
		Name:      "commands_rejected_total",
		Help:      "Player commands rejected by code",
	},
	[]string{"command", "code"},
)

// LedgerFailures - неудачные операции записи
var LedgerFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "shootout",
		Subsystem: "game",
		Name:      "ledger_failures_total",
		Help:      "Failed or dropped per-player persistence operations",
	},
	[]string{"op"},
)

// ============ Латентность ============

// TickProcessing - обработка тика в раунде
var TickProcessing = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "shootout",
		Subsystem: "game",
		Name:      "tick_processing_ms",
		Help:      "Time to process a price tick in the active round in milliseconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	},
)

// ============ Хелперы ============

// RecordPhase обновляет gauge фазы
func RecordPhase(phase string) {
	if phase == models.PhaseRound {
		CurrentPhase.Set(1)
		return
	}
	CurrentPhase.Set(0)
}

// RecordLobbyRestart учитывает перезапуск лобби
func RecordLobbyRestart(reason string) {
	LobbyRestarts.WithLabelValues(reason).Inc()
}

// RecordRoundStarted учитывает старт раунда
func RecordRoundStarted(pair string, wagered float64) {
	RoundsStarted.WithLabelValues(pair).Inc()
	AmountWagered.Add(wagered)
}

// RecordPositionClosed учитывает закрытие позиции
func RecordPositionClosed(outcome string) {
	PositionsClosed.WithLabelValues(outcome).Inc()
}

// RecordRejected учитывает отклоненную команду
func RecordRejected(command string, err error) {
	code := CodeOf(err)
	if code == "" {
		code = "internal"
	}
	CommandsRejected.WithLabelValues(command, code).Inc()
}

// RecordLedgerFailure учитывает неудачную операцию записи
func RecordLedgerFailure(op string) {
	LedgerFailures.WithLabelValues(op).Inc()
}
