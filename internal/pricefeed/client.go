package pricefeed

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"shootout/internal/config"
	"shootout/internal/models"
	"shootout/pkg/utils"
)

// ErrNeverConnected подписка до первого успешного подключения
var ErrNeverConnected = errors.New("feed has never connected")

// TickHandler получатель тиков пары
type TickHandler func(models.Tick)

// pairEntry подписчики одной пары
type pairEntry struct {
	handlers map[uint64]TickHandler
}

// Client - клиент источника цен.
//
// Назначение:
// Держит одно соединение с источником и раздает тики подписчикам.
//
// Функции:
// - Subscribe/unsubscribe с подсчетом ссылок: upstream subscribe уходит
//   на первого подписчика пары, unsubscribe на уход последнего
// - Доставка тика всем подписчикам пары, паника подписчика изолирована
// - Переподключение с backoff (connManager)
// - Битые входящие сообщения отбрасываются без разрыва соединения
//
// Подписки после переподключения восстанавливаются только при
// ResubscribeOnReconnect, иначе в лог пишется предупреждение.
type Client struct {
	conn        *connManager
	logger      *utils.Logger
	resubscribe bool
	now         func() time.Time

	mu     sync.Mutex
	pairs  map[string]*pairEntry
	nextID uint64

	everConnected atomic.Bool
	disconnects   atomic.Uint64
}

// NewClient создает клиента. Подключение - Connect.
func NewClient(cfg config.FeedConfig, logger *utils.Logger) *Client {
	logger = logger.WithComponent("feed")
	c := &Client{
		conn:        newConnManager(cfg, logger),
		logger:      logger,
		resubscribe: cfg.ResubscribeOnReconnect,
		now:         time.Now,
		pairs:       make(map[string]*pairEntry),
	}
	c.conn.onMessage = c.handleMessage
	c.conn.onConnect = c.handleConnect
	c.conn.onDisconnect = c.handleDisconnect
	return c
}

// Connect выполняет первое подключение.
// При ошибке клиент продолжает попытки в фоне по расписанию backoff.
func (c *Client) Connect() error {
	return c.conn.connect()
}

// Disconnects число разрывов установленного соединения
func (c *Client) Disconnects() uint64 {
	return c.disconnects.Load()
}

// State текущее состояние соединения
func (c *Client) State() State {
	return c.conn.getState()
}

// Close закрывает соединение. Подписчики больше не получают тиков.
func (c *Client) Close() {
	c.conn.close()
}

// Subscribe регистрирует обработчик тиков пары.
//
// Возвращает функцию отписки (повторный вызов безопасен).
// Ошибки:
//   - ErrNeverConnected: клиент ни разу не подключался
//   - ошибка отправки upstream subscribe для первого подписчика пары
func (c *Client) Subscribe(pair string, onTick func(models.Tick)) (func(), error) {
	if !c.everConnected.Load() {
		return nil, ErrNeverConnected
	}

	c.mu.Lock()
	entry, ok := c.pairs[pair]
	if !ok {
		if err := c.sendControl(msgSubscribe, pair); err != nil {
			c.mu.Unlock()
			return nil, fmt.Errorf("subscribe %s: %w", pair, err)
		}
		entry = &pairEntry{handlers: make(map[uint64]TickHandler)}
		c.pairs[pair] = entry
		SubscribedPairs.Set(float64(len(c.pairs)))
		c.logger.Debug("subscribed to pair", zap.String("pair", pair))
	}
	c.nextID++
	id := c.nextID
	entry.handlers[id] = onTick
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { c.unsubscribe(pair, id) })
	}, nil
}

func (c *Client) unsubscribe(pair string, id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.pairs[pair]
	if !ok {
		return
	}
	delete(entry.handlers, id)
	if len(entry.handlers) > 0 {
		return
	}

	delete(c.pairs, pair)
	SubscribedPairs.Set(float64(len(c.pairs)))
	if err := c.sendControl(msgUnsubscribe, pair); err != nil {
		c.logger.Warn("upstream unsubscribe failed", zap.String("pair", pair), zap.Error(err))
		return
	}
	c.logger.Debug("unsubscribed from pair", zap.String("pair", pair))
}

// Pairs пары с активными подписчиками
func (c *Client) Pairs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	pairs := make([]string, 0, len(c.pairs))
	for p := range c.pairs {
		pairs = append(pairs, p)
	}
	sort.Strings(pairs)
	return pairs
}

func (c *Client) sendControl(msgType, pair string) error {
	payload, err := encodeControl(msgType, pair)
	if err != nil {
		return err
	}
	return c.conn.send(payload)
}

// handleConnect вызывается после каждого успешного подключения
func (c *Client) handleConnect(reconnected bool) {
	c.everConnected.Store(true)
	if !reconnected {
		return
	}

	pairs := c.Pairs()
	if len(pairs) == 0 {
		return
	}
	if !c.resubscribe {
		c.logger.Warn("feed reconnected without restoring upstream subscriptions",
			zap.Strings("pairs", pairs))
		return
	}

	for _, pair := range pairs {
		if err := c.sendControl(msgSubscribe, pair); err != nil {
			c.logger.Warn("resubscribe failed", zap.String("pair", pair), zap.Error(err))
		}
	}
	c.logger.Info("resubscribed after reconnect", zap.Int("pairs", len(pairs)))
}

// handleDisconnect вызывается при разрыве установленного соединения.
// До переподключения подписчики перечисленных пар тиков не получают.
func (c *Client) handleDisconnect(err error) {
	c.disconnects.Add(1)
	Disconnects.Inc()

	if pairs := c.Pairs(); len(pairs) > 0 {
		c.logger.Warn("price updates interrupted",
			zap.Strings("pairs", pairs),
			zap.Error(err))
	}
}

// handleMessage разбирает сообщение и раздает тик подписчикам пары.
// Обработчики вызываются без удержания c.mu.
func (c *Client) handleMessage(raw []byte) {
	tick, ok, err := decodeTick(raw, c.now())
	if err != nil {
		MalformedMessages.Inc()
		c.logger.Debug("dropping malformed feed message", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	TicksReceived.WithLabelValues(tick.Pair).Inc()

	c.mu.Lock()
	entry, found := c.pairs[tick.Pair]
	var handlers []TickHandler
	if found {
		handlers = make([]TickHandler, 0, len(entry.handlers))
		for _, h := range entry.handlers {
			handlers = append(handlers, h)
		}
	}
	c.mu.Unlock()

	for _, h := range handlers {
		c.dispatch(h, tick)
	}
}

func (c *Client) dispatch(h TickHandler, tick models.Tick) {
	defer func() {
		if r := recover(); r != nil {
			CallbackPanics.Inc()
			c.logger.Error("tick handler panicked",
				zap.String("pair", tick.Pair),
				zap.Any("panic", r))
		}
	}()
	h(tick)
}
