package handlers

import (
	"context"
	"errors"
	"sync"

	"shootout/internal/game"
	"shootout/internal/models"
)

// ErrMockDatabase инфраструктурная ошибка без категории
var ErrMockDatabase = errors.New("mock database error")

// ============ Mock Game Service ============

// MockGameService мок GameService: запоминает аргументы, возвращает заданные ответы
type MockGameService struct {
	mu sync.Mutex

	joinResult  *game.JoinResult
	shootResult *game.ShootResult
	balance     *models.BalanceInfo
	snapshot    *game.Snapshot
	errs        map[string]error

	lastPlayerID string
	lastUsername string
	lastBet      float64
	lastRoundID  int64
	calls        map[string]int
}

// NewMockGameService создает мок с пустыми ответами
func NewMockGameService() *MockGameService {
	return &MockGameService{
		errs:     make(map[string]error),
		calls:    make(map[string]int),
		snapshot: &game.Snapshot{Phase: models.PhaseLobby},
	}
}

// SetError задает ошибку операции: join, leave, shoot, balance, snapshot
func (m *MockGameService) SetError(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[op] = err
}

func (m *MockGameService) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *MockGameService) record(op, playerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++
	m.lastPlayerID = playerID
	return m.errs[op]
}

func (m *MockGameService) JoinLobby(ctx context.Context, playerID, username string, betAmount float64) (*game.JoinResult, error) {
	if err := m.record("join", playerID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastUsername = username
	m.lastBet = betAmount
	if m.joinResult != nil {
		return m.joinResult, nil
	}
	return &game.JoinResult{PlayerID: playerID, Balance: 1000, BetAmount: betAmount}, nil
}

func (m *MockGameService) LeaveLobby(ctx context.Context, playerID string) error {
	return m.record("leave", playerID)
}

func (m *MockGameService) Shoot(ctx context.Context, playerID string, roundID int64) (*game.ShootResult, error) {
	if err := m.record("shoot", playerID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastRoundID = roundID
	if m.shootResult != nil {
		return m.shootResult, nil
	}
	return &game.ShootResult{PlayerID: playerID, RoundID: roundID}, nil
}

func (m *MockGameService) GetBalance(ctx context.Context, playerID string) (*models.BalanceInfo, error) {
	if err := m.record("balance", playerID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balance != nil {
		return m.balance, nil
	}
	return &models.BalanceInfo{PlayerID: playerID, Balance: 1000}, nil
}

func (m *MockGameService) Snapshot(ctx context.Context) (*game.Snapshot, error) {
	if err := m.record("snapshot", ""); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot, nil
}

// ============ Mock Ranker ============

// MockRanker возвращает заданный список, фильтруя по порогу
type MockRanker struct {
	records       []models.VolatilityRecord
	lastThreshold float64
}

func (r *MockRanker) RankedAbove(threshold float64) []models.VolatilityRecord {
	r.lastThreshold = threshold
	var out []models.VolatilityRecord
	for _, rec := range r.records {
		if rec.Volatility >= threshold {
			out = append(out, rec)
		}
	}
	return out
}

func gameErr(kind game.Kind, code string) error {
	return &game.Error{Kind: kind, Code: code, Message: code}
}

// ============ Mock Round Reader ============

// MockRoundReader мок RoundReader
type MockRoundReader struct {
	details *models.RoundDetails
	err     error
	lastID  int64
}

func (m *MockRoundReader) GetRoundDetails(ctx context.Context, roundID int64) (*models.RoundDetails, error) {
	m.lastID = roundID
	return m.details, m.err
}
