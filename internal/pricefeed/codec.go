package pricefeed

import (
	"errors"
	"fmt"
	"math"
	"time"

	jsoniter "github.com/json-iterator/go"

	"shootout/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Типы сообщений протокола источника цен
const (
	msgSubscribe   = "subscribe"
	msgUnsubscribe = "unsubscribe"
	msgPriceUpdate = "price_update"
)

// ErrMalformed входящее сообщение не удалось разобрать
var ErrMalformed = errors.New("malformed feed message")

// controlMessage исходящее сообщение подписки
//
//	{"type":"subscribe","pair":"BTC/USD"}
type controlMessage struct {
	Type string `json:"type"`
	Pair string `json:"pair"`
}

// inboundMessage входящее сообщение
//
//	{"type":"price_update","pair":"BTC/USD","data":{"pair":"BTC/USD","price":65000.5,
//	 "confidence":12.3,"expo":-8,"publishTime":1718000000}}
type inboundMessage struct {
	Type string     `json:"type"`
	Pair string     `json:"pair"`
	Data *priceData `json:"data"`
}

type priceData struct {
	Pair        string  `json:"pair"`
	Price       float64 `json:"price"`
	Confidence  float64 `json:"confidence"`
	Expo        int     `json:"expo"`
	PublishTime int64   `json:"publishTime"`
}

func encodeControl(msgType, pair string) ([]byte, error) {
	return json.Marshal(controlMessage{Type: msgType, Pair: pair})
}

// decodeTick разбирает входящее сообщение.
//
// Возвращает:
//   - (tick, true, nil) для корректного price_update
//   - (_, false, nil) для сообщений других типов (подтверждения и т.п.)
//   - ErrMalformed если JSON битый или в price_update нет пары/цены
func decodeTick(raw []byte, receivedAt time.Time) (models.Tick, bool, error) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return models.Tick{}, false, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.Type != msgPriceUpdate {
		return models.Tick{}, false, nil
	}
	if msg.Data == nil {
		return models.Tick{}, false, fmt.Errorf("%w: price_update without data", ErrMalformed)
	}

	pair := msg.Data.Pair
	if pair == "" {
		pair = msg.Pair
	}
	if pair == "" {
		return models.Tick{}, false, fmt.Errorf("%w: price_update without pair", ErrMalformed)
	}

	price := msg.Data.Price
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return models.Tick{}, false, fmt.Errorf("%w: invalid price %v for %s", ErrMalformed, price, pair)
	}

	return models.Tick{
		Pair:        pair,
		Price:       price,
		Confidence:  msg.Data.Confidence,
		Expo:        msg.Data.Expo,
		PublishTime: msg.Data.PublishTime,
		ReceivedAt:  receivedAt,
	}, true, nil
}
