package pricefeed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики источника цен
// ============================================================

// ConnectionState - текущее состояние соединения (значение State)
var ConnectionState = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "shootout",
		Subsystem: "feed",
		Name:      "connection_state",
		Help:      "Upstream connection state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 closed)",
	},
)

// Disconnects - разрывы установленного соединения
var Disconnects = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "shootout",
		Subsystem: "feed",
		Name:      "disconnects_total",
		Help:      "Total number of dropped upstream connections",
	},
)

// ReconnectAttempts - попытки переподключения
var ReconnectAttempts = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "shootout",
		Subsystem: "feed",
		Name:      "reconnect_attempts_total",
		Help:      "Total number of upstream reconnect attempts",
	},
)

// TicksReceived - разобранные ценовые обновления
var TicksReceived = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "shootout",
		Subsystem: "feed",
		Name:      "ticks_received_total",
		Help:      "Total number of price updates received per pair",
	},
	[]string{"pair"},
)

// MalformedMessages - отброшенные входящие сообщения
var MalformedMessages = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "shootout",
		Subsystem: "feed",
		Name:      "malformed_messages_total",
		Help:      "Inbound messages dropped because they could not be decoded",
	},
)

// CallbackPanics - паники в обработчиках тиков
var CallbackPanics = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "shootout",
		Subsystem: "feed",
		Name:      "callback_panics_total",
		Help:      "Tick callbacks that panicked and were isolated",
	},
)

// SubscribedPairs - пары с активной подпиской
var SubscribedPairs = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "shootout",
		Subsystem: "feed",
		Name:      "subscribed_pairs",
		Help:      "Number of pairs with at least one subscriber",
	},
)
