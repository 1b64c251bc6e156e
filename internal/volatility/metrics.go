package volatility

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PairVolatility - последняя рассчитанная волатильность пары
var PairVolatility = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "shootout",
		Subsystem: "volatility",
		Name:      "stddev",
		Help:      "Population standard deviation of recent prices per pair",
	},
	[]string{"pair"},
)

// HistorySamples - заполненность истории цен пары
var HistorySamples = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "shootout",
		Subsystem: "volatility",
		Name:      "history_samples",
		Help:      "Number of price samples held per pair",
	},
	[]string{"pair"},
)
