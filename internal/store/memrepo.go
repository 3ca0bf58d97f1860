package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/park285/Cheese-Match-server/internal/domain"
)

// Memory is an in-process Repository used when no DATABASE_URL is configured and in tests.
type Memory struct {
	mu sync.RWMutex

	matches map[string]*domain.Match
	moves   map[string]map[int]*domain.MoveRecord // matchID -> ply -> record
	results []*domain.GameResult
	nextID  int64
}

func NewMemory() *Memory {
	return &Memory{
		matches: make(map[string]*domain.Match),
		moves:   make(map[string]map[int]*domain.MoveRecord),
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) CreateMatch(ctx context.Context, match *domain.Match) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.matches[match.ID]; ok {
		return ErrDuplicateID
	}
	m.matches[match.ID] = match.Clone()
	return nil
}

func (m *Memory) GetMatch(ctx context.Context, id string) (*domain.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	match, ok := m.matches[id]
	if !ok {
		return nil, ErrNotFound
	}
	return match.Clone(), nil
}

func (m *Memory) RecordMove(ctx context.Context, mv *domain.MoveRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	match, ok := m.matches[mv.MatchID]
	if !ok {
		return ErrNotFound
	}
	byPly := m.moves[mv.MatchID]
	if byPly == nil {
		byPly = make(map[int]*domain.MoveRecord)
		m.moves[mv.MatchID] = byPly
	}
	if _, dup := byPly[mv.Ply]; dup {
		return ErrDuplicateMove
	}
	cp := *mv
	byPly[mv.Ply] = &cp

	if mv.Ply > match.Ply {
		match.Ply = mv.Ply
		match.FEN = mv.FENAfter
		match.LastMoveUCI = mv.UCI
		match.UpdatedAt = mv.CreatedAt
	}
	return nil
}

func (m *Memory) CloseMatch(ctx context.Context, id string, status domain.Status, winner string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	match, ok := m.matches[id]
	if !ok {
		return ErrNotFound
	}
	if match.Status.Terminal() {
		return nil
	}
	match.Status = status
	match.Winner = winner
	match.FinishedAt = at
	match.UpdatedAt = at
	return nil
}

func (m *Memory) ListMoves(ctx context.Context, matchID string) ([]*domain.MoveRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byPly := m.moves[matchID]
	out := make([]*domain.MoveRecord, 0, len(byPly))
	for _, mv := range byPly {
		cp := *mv
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ply < out[j].Ply })
	return out, nil
}

func (m *Memory) SaveGameResult(ctx context.Context, r *domain.GameResult) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	cp := *r
	cp.ID = m.nextID
	m.results = append(m.results, &cp)
	return cp.ID, nil
}

// GameResults returns a copy of the saved results, oldest first.
func (m *Memory) GameResults() []*domain.GameResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.GameResult, 0, len(m.results))
	for _, r := range m.results {
		cp := *r
		out = append(out, &cp)
	}
	return out
}
