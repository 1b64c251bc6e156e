package models

import "time"

// Tick - ценовое обновление пары от внешнего источника
type Tick struct {
	Pair        string    `json:"pair"`
	Price       float64   `json:"price"`
	Confidence  float64   `json:"confidence"`
	Expo        int       `json:"expo"`
	PublishTime int64     `json:"publishTime"`
	ReceivedAt  time.Time `json:"-"`
}

// VolatilityRecord - волатильность пары по последним ценам
type VolatilityRecord struct {
	Pair        string    `json:"pair"`
	Volatility  float64   `json:"volatility"` // стандартное отклонение цены
	Samples     int       `json:"samples"`
	LastUpdated time.Time `json:"last_updated"`
}
