package game

import (
	"context"
	"errors"
	"sync"
	"time"

	"shootout/internal/models"
)

// ============ Mock Store ============

type MockStore struct {
	mu sync.Mutex

	startingBalance float64
	players         map[string]*models.Player
	rounds          map[int64]*models.Round
	positions       map[int64][]*models.Position
	lobby           map[string]*models.LobbyEntry
	updates         []models.PositionUpdate
	deltas          []models.PlayerDelta
	nextRoundID     int64

	upsertErr      error
	createRoundErr error
	lobbyErr       error
}

func NewMockStore(startingBalance float64) *MockStore {
	return &MockStore{
		startingBalance: startingBalance,
		players:         make(map[string]*models.Player),
		rounds:          make(map[int64]*models.Round),
		positions:       make(map[int64][]*models.Position),
		lobby:           make(map[string]*models.LobbyEntry),
		nextRoundID:     1,
	}
}

func (m *MockStore) UpsertPlayer(ctx context.Context, id, username string) (*models.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.upsertErr != nil {
		return nil, m.upsertErr
	}
	p, ok := m.players[id]
	if !ok {
		p = &models.Player{ID: id, Balance: m.startingBalance, CreatedAt: time.Now()}
		m.players[id] = p
	}
	p.Username = username
	cp := *p
	return &cp, nil
}

func (m *MockStore) GetPlayer(ctx context.Context, id string) (*models.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.players[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *MockStore) CreateRound(ctx context.Context, round *models.Round, positions []*models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createRoundErr != nil {
		return m.createRoundErr
	}
	round.ID = m.nextRoundID
	m.nextRoundID++
	cp := *round
	m.rounds[round.ID] = &cp
	for _, p := range positions {
		p.RoundID = round.ID
		pc := *p
		m.positions[round.ID] = append(m.positions[round.ID], &pc)
	}
	return nil
}

func (m *MockStore) CompleteRound(ctx context.Context, roundID int64, exitPrice float64, reason string, endedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rounds[roundID]
	if !ok {
		return errors.New("round not found")
	}
	r.Status = models.RoundStatusCompleted
	r.ExitPrice = &exitPrice
	r.EndReason = reason
	r.EndedAt = &endedAt
	return nil
}

func (m *MockStore) UpdatePosition(ctx context.Context, upd models.PositionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.updates = append(m.updates, upd)
	for _, p := range m.positions[upd.RoundID] {
		if p.PlayerID != upd.PlayerID {
			continue
		}
		if upd.Liquidated != nil {
			p.Liquidated = *upd.Liquidated
		}
		if upd.DidShoot != nil {
			p.DidShoot = *upd.DidShoot
		}
		if upd.ShotAt != nil {
			p.ShotAt = upd.ShotAt
		}
		if upd.ExitPrice != nil {
			p.ExitPrice = upd.ExitPrice
		}
		if upd.Pnl != nil {
			p.Pnl = upd.Pnl
		}
		return nil
	}
	return errors.New("position not found")
}

func (m *MockStore) ApplyPlayerDelta(ctx context.Context, delta models.PlayerDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.players[delta.PlayerID]
	if !ok {
		return errors.New("player not found")
	}
	m.deltas = append(m.deltas, delta)
	p.Balance += delta.Balance
	p.TotalPnl += delta.TotalPnl
	p.GamesPlayed += delta.GamesPlayed
	p.GamesWon += delta.GamesWon
	p.GamesLost += delta.GamesLost
	return nil
}

func (m *MockStore) CreateLobbyEntry(ctx context.Context, entry *models.LobbyEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lobbyErr != nil {
		return m.lobbyErr
	}
	cp := *entry
	m.lobby[entry.ID] = &cp
	return nil
}

func (m *MockStore) ClearLobbyEntries(ctx context.Context, before time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, e := range m.lobby {
		if e.JoinedAt.Before(before) {
			delete(m.lobby, id)
		}
	}
	return nil
}

func (m *MockStore) player(id string) models.Player {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.players[id]
}

func (m *MockStore) roundStatus(id int64) (status, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rounds[id]
	return r.Status, r.EndReason
}

func (m *MockStore) round(id int64) models.Round {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.rounds[id]
}

func (m *MockStore) position(roundID int64, playerID string) models.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.positions[roundID] {
		if p.PlayerID == playerID {
			return *p
		}
	}
	return models.Position{}
}

func (m *MockStore) lobbySize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lobby)
}

func (m *MockStore) setCreateRoundErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createRoundErr = err
}

// ============ Mock PriceFeed ============

type MockFeed struct {
	mu sync.Mutex

	// initialPrice > 0: Subscribe сразу доставляет тик с этой ценой
	initialPrice float64
	subscribeErr error
	subs         map[int]feedSub
	nextID       int
	subscribes   int
	unsubscribes int
}

type feedSub struct {
	pair string
	cb   func(models.Tick)
}

func NewMockFeed(initialPrice float64) *MockFeed {
	return &MockFeed{initialPrice: initialPrice, subs: make(map[int]feedSub)}
}

func (f *MockFeed) Subscribe(pair string, onTick func(models.Tick)) (func(), error) {
	f.mu.Lock()
	if f.subscribeErr != nil {
		err := f.subscribeErr
		f.mu.Unlock()
		return nil, err
	}
	f.nextID++
	id := f.nextID
	f.subs[id] = feedSub{pair: pair, cb: onTick}
	f.subscribes++
	initial := f.initialPrice
	f.mu.Unlock()

	if initial > 0 {
		onTick(models.Tick{Pair: pair, Price: initial, ReceivedAt: time.Now()})
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.unsubscribes++
			f.mu.Unlock()
		})
	}, nil
}

// Push доставляет тик всем активным подпискам
func (f *MockFeed) Push(price float64) {
	f.mu.Lock()
	subs := make([]feedSub, 0, len(f.subs))
	for _, s := range f.subs {
		subs = append(subs, s)
	}
	f.mu.Unlock()

	for _, s := range subs {
		s.cb(models.Tick{Pair: s.pair, Price: price, ReceivedAt: time.Now()})
	}
}

func (f *MockFeed) active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *MockFeed) counts() (subscribes, unsubscribes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes, f.unsubscribes
}

func (f *MockFeed) setInitialPrice(price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initialPrice = price
}

// ============ Mock VolatilityRanker ============

type MockRanker struct {
	mu      sync.Mutex
	records []models.VolatilityRecord
}

func (r *MockRanker) RankedAbove(threshold float64) []models.VolatilityRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.VolatilityRecord, 0, len(r.records))
	for _, rec := range r.records {
		if rec.Volatility > threshold {
			out = append(out, rec)
		}
	}
	return out
}

func (r *MockRanker) set(records ...models.VolatilityRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = records
}

// ============ Recording sink ============

type RecordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *RecordingSink) Emit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *RecordingSink) OfType(eventType string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Event
	for _, e := range s.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (s *RecordingSink) Count(eventType string) int {
	return len(s.OfType(eventType))
}

func (s *RecordingSink) Last(eventType string) (Event, bool) {
	events := s.OfType(eventType)
	if len(events) == 0 {
		return Event{}, false
	}
	return events[len(events)-1], true
}
