package websocket

import (
	"time"

	jsoniter "github.com/json-iterator/go"

	"shootout/internal/game"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EventMessage - сообщение клиенту об изменении состояния игры
//
// Тип совпадает с типом события оркестратора:
// lobby:start, lobby:update, lobby:player_joined, round:start,
// price:update, player:liquidated, player:shoot, round:end
//
//	{"type":"price:update","timestamp":"...","data":{"pair":"BTC/USD","price":65000.5,...}}
type EventMessage struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// NewEventMessage создает сообщение из события оркестратора
func NewEventMessage(event game.Event, now time.Time) *EventMessage {
	return &EventMessage{
		Type:      event.Type,
		Timestamp: now,
		Data:      event.Payload,
	}
}

// encode сериализует сообщение через пул потоков jsoniter.
// Возвращает копию, поток возвращается в пул.
func encode(v interface{}) ([]byte, error) {
	stream := json.BorrowStream(nil)
	defer json.ReturnStream(stream)

	stream.WriteVal(v)
	if stream.Error != nil {
		return nil, stream.Error
	}

	buf := stream.Buffer()
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, nil
}
