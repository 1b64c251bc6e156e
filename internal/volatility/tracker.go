package volatility

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"shootout/internal/config"
	"shootout/internal/models"
	"shootout/pkg/utils"
)

// MinSamples - минимум цен в истории пары для участия в ранжировании
const MinSamples = 10

// Feed источник тиков (pricefeed.Client)
type Feed interface {
	Subscribe(pair string, onTick func(models.Tick)) (unsubscribe func(), err error)
}

// ============ Кольцевой буфер ============

// ring хранит последние cap(buf) цен, самая старая вытесняется
type ring struct {
	buf   []float64
	start int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]float64, capacity)}
}

func (r *ring) push(v float64) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = v
		r.size++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

// values копия истории от старых к новым
func (r *ring) values() []float64 {
	out := make([]float64, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// ============ Tracker ============

// Tracker - ранжирование пар по волатильности.
//
// Назначение:
// Держит ограниченную историю цен по каждой отслеживаемой паре и
// периодически пересчитывает стандартное отклонение.
//
// Функции:
// - Record: добавление цены тика в кольцевой буфер пары
// - Recompute: пересчет волатильности пар с историей >= MinSamples
// - RankedAbove: пары с волатильностью >= порога, по убыванию
// - Start/Close: подписка на тики и периодический пересчет
//
// Записи волатильности принадлежат только трекеру, наружу отдаются копии.
type Tracker struct {
	cfg    config.VolatilityConfig
	feed   Feed
	logger *utils.Logger
	now    func() time.Time

	mu      sync.RWMutex
	history map[string]*ring
	records map[string]models.VolatilityRecord

	// subs меняется только горутиной run и в Close после ее завершения
	subs map[string]func()

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New создает трекер для cfg.TrackedPairs
func New(cfg config.VolatilityConfig, feed Feed, logger *utils.Logger) *Tracker {
	t := &Tracker{
		cfg:     cfg,
		feed:    feed,
		logger:  logger.WithComponent("volatility"),
		now:     time.Now,
		history: make(map[string]*ring, len(cfg.TrackedPairs)),
		records: make(map[string]models.VolatilityRecord, len(cfg.TrackedPairs)),
		subs:    make(map[string]func(), len(cfg.TrackedPairs)),
	}
	for _, pair := range cfg.TrackedPairs {
		t.history[pair] = newRing(cfg.WindowSize)
	}
	return t
}

// Record добавляет цену тика в историю пары.
// Тики неотслеживаемых пар игнорируются.
func (t *Tracker) Record(tick models.Tick) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.history[tick.Pair]
	if !ok {
		return
	}
	h.push(tick.Price)
	HistorySamples.WithLabelValues(tick.Pair).Set(float64(h.size))
}

// Recompute пересчитывает волатильность пар, набравших MinSamples цен.
// Запись пары перезаписывается целиком.
func (t *Tracker) Recompute() {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	for pair, h := range t.history {
		if h.size < MinSamples {
			continue
		}
		vol := utils.StdDev(h.values())
		t.records[pair] = models.VolatilityRecord{
			Pair:        pair,
			Volatility:  vol,
			Samples:     h.size,
			LastUpdated: now,
		}
		PairVolatility.WithLabelValues(pair).Set(vol)
	}
}

// RankedAbove возвращает пары с волатильностью >= threshold по убыванию.
// При равной волатильности порядок по имени пары.
func (t *Tracker) RankedAbove(threshold float64) []models.VolatilityRecord {
	t.mu.RLock()
	ranked := make([]models.VolatilityRecord, 0, len(t.records))
	for _, rec := range t.records {
		if rec.Volatility >= threshold {
			ranked = append(ranked, rec)
		}
	}
	t.mu.RUnlock()

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Volatility != ranked[j].Volatility {
			return ranked[i].Volatility > ranked[j].Volatility
		}
		return ranked[i].Pair < ranked[j].Pair
	})
	return ranked
}

// Start подписывается на отслеживаемые пары и запускает периодический пересчет.
//
// Пары, на которые не удалось подписаться (источник еще не подключен),
// повторяются на каждом периоде пересчета.
func (t *Tracker) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)

	t.subscribePending()

	t.wg.Add(1)
	go t.run(ctx)

	t.logger.Info("volatility tracker started",
		zap.Strings("pairs", t.cfg.TrackedPairs),
		zap.Int("window", t.cfg.WindowSize),
		zap.Duration("interval", t.cfg.Interval))
}

func (t *Tracker) run(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.subscribePending()
			t.Recompute()
		}
	}
}

func (t *Tracker) subscribePending() {
	for _, pair := range t.cfg.TrackedPairs {
		if _, ok := t.subs[pair]; ok {
			continue
		}
		unsubscribe, err := t.feed.Subscribe(pair, t.Record)
		if err != nil {
			t.logger.Debug("tracking subscription pending", zap.String("pair", pair), zap.Error(err))
			continue
		}
		t.subs[pair] = unsubscribe
		t.logger.Info("tracking pair", zap.String("pair", pair))
	}
}

// Close останавливает пересчет и снимает подписки. Повторный вызов безопасен.
func (t *Tracker) Close() {
	t.closeOnce.Do(func() {
		if t.cancel != nil {
			t.cancel()
		}
		t.wg.Wait()

		for pair, unsubscribe := range t.subs {
			unsubscribe()
			delete(t.subs, pair)
		}
		t.logger.Info("volatility tracker stopped")
	})
}
