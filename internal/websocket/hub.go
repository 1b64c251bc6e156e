package websocket

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"shootout/internal/game"
	"shootout/pkg/utils"
)

// broadcastBufferSize очередь сообщений между Emit и циклом Run
const broadcastBufferSize = 1024

var (
	connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "shootout",
		Subsystem: "ws",
		Name:      "connected_clients",
		Help:      "Number of connected stream clients",
	})

	droppedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shootout",
		Subsystem: "ws",
		Name:      "dropped_messages_total",
		Help:      "Broadcast messages dropped because the hub queue was full",
	})

	slowClientsRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shootout",
		Subsystem: "ws",
		Name:      "slow_clients_removed_total",
		Help:      "Clients disconnected because their send buffer was full",
	})
)

// Hub управляет всеми активными WebSocket соединениями
//
// Назначение:
// Доставляет события игры всем подключенным браузерам.
// Реализует game.EventSink: Emit никогда не блокирует цикл оркестратора.
//
// Функции:
// - Регистрация и отмена регистрации клиентов
// - Broadcast сообщений всем активным клиентам
// - Отключение клиентов, не успевающих читать
// - Счетчик сброшенных сообщений при переполнении очереди
//
// Использование:
// 1. Создать hub: hub := NewHub(origins, logger)
// 2. Запустить в горутине: go hub.Run()
// 3. Передать оркестратору как Sink
// 4. При остановке: hub.Stop()
type Hub struct {
	// Зарегистрированные клиенты
	clients map[*Client]bool

	// Сериализованные сообщения для рассылки
	broadcast chan []byte

	register   chan *Client
	unregister chan *Client

	stop     chan struct{}
	stopOnce sync.Once

	mu      sync.RWMutex
	dropped atomic.Uint64

	origins *OriginChecker
	logger  *utils.Logger
	now     func() time.Time
}

var _ game.EventSink = (*Hub)(nil)

// NewHub создает новый Hub
func NewHub(origins *OriginChecker, logger *utils.Logger) *Hub {
	if origins == nil {
		origins = NewOriginChecker(nil)
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, broadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		origins:    origins,
		logger:     logger.WithComponent("ws_hub"),
		now:        time.Now,
	}
}

// Run запускает главный цикл Hub до вызова Stop.
//
// Список клиентов копируется под коротким RLock, отправка идет без блокировки,
// медленные клиенты удаляются под Write Lock.
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			connectedClients.Set(0)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			connectedClients.Set(float64(total))
			h.logger.Debug("stream client connected", zap.Int("clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			connectedClients.Set(float64(total))
			h.logger.Debug("stream client disconnected", zap.Int("clients", total))

		case message := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			var toRemove []*Client
			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					toRemove = append(toRemove, client)
				}
			}

			if len(toRemove) > 0 {
				h.mu.Lock()
				for _, client := range toRemove {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				total := len(h.clients)
				h.mu.Unlock()
				slowClientsRemoved.Add(float64(len(toRemove)))
				connectedClients.Set(float64(total))
				h.logger.Warn("removed slow stream clients",
					zap.Int("removed", len(toRemove)),
					zap.Int("clients", total))
			}
		}
	}
}

// Stop завершает Run и закрывает каналы всех клиентов. Повторный вызов безопасен.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Emit рассылает событие оркестратора
func (h *Hub) Emit(event game.Event) {
	h.Broadcast(NewEventMessage(event, h.now()))
}

// Broadcast сериализует сообщение и ставит его в очередь рассылки
func (h *Hub) Broadcast(message interface{}) {
	data, err := encode(message)
	if err != nil {
		h.logger.Error("failed to encode broadcast message", zap.Error(err))
		return
	}
	h.BroadcastRaw(data)
}

// BroadcastRaw ставит в очередь уже сериализованное сообщение.
// При переполнении очереди сообщение сбрасывается.
func (h *Hub) BroadcastRaw(data []byte) {
	select {
	case h.broadcast <- data:
	default:
		h.dropped.Add(1)
		droppedMessages.Inc()
	}
}

// DroppedMessages количество сброшенных сообщений
func (h *Hub) DroppedMessages() uint64 {
	return h.dropped.Load()
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// registerClient false если hub уже остановлен
func (h *Hub) registerClient(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.stop:
		return false
	}
}

func (h *Hub) unregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stop:
	}
}
