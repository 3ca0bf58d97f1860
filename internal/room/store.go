package room

import (
	"context"
	"sync"
	"time"
)

// Store persists rooms. Insert must fail with ErrCodeTaken when the code exists; Update is
// an atomic read-modify-write and keeps the match index current.
type Store interface {
	Insert(ctx context.Context, r *Room) error
	Get(ctx context.Context, code string) (*Room, error)
	Update(ctx context.Context, code string, fn func(*Room) error) (*Room, error)
	CodeByMatch(ctx context.Context, matchID string) (string, error)
}

type memEntry struct {
	room    *Room
	expires time.Time
}

// MemoryStore keeps rooms in process for single-instance deployments and tests.
type MemoryStore struct {
	mu        sync.Mutex
	rooms     map[string]*memEntry
	byMatch   map[string]string
	retention time.Duration
	now       func() time.Time
}

func NewMemoryStore(retention time.Duration) *MemoryStore {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &MemoryStore{
		rooms:     make(map[string]*memEntry),
		byMatch:   make(map[string]string),
		retention: retention,
		now:       time.Now,
	}
}

// live returns the entry for code, dropping it if expired. Caller holds mu.
func (s *MemoryStore) live(code string) *memEntry {
	e, ok := s.rooms[code]
	if !ok {
		return nil
	}
	if s.now().After(e.expires) {
		delete(s.rooms, code)
		if e.room.MatchID != "" {
			delete(s.byMatch, e.room.MatchID)
		}
		return nil
	}
	return e
}

func (s *MemoryStore) Insert(ctx context.Context, r *Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live(r.Code) != nil {
		return ErrCodeTaken
	}
	s.rooms[r.Code] = &memEntry{room: r.clone(), expires: s.now().Add(s.retention)}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, code string) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.live(code)
	if e == nil {
		return nil, ErrRoomNotFound
	}
	return e.room.clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, code string, fn func(*Room) error) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.live(code)
	if e == nil {
		return nil, ErrRoomNotFound
	}
	next := e.room.clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if prev := e.room.MatchID; prev != next.MatchID {
		if prev != "" {
			delete(s.byMatch, prev)
		}
		if next.MatchID != "" {
			s.byMatch[next.MatchID] = code
		}
	}
	e.room = next
	return next.clone(), nil
}

func (s *MemoryStore) CodeByMatch(ctx context.Context, matchID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.byMatch[matchID]
	if !ok || s.live(code) == nil {
		return "", ErrRoomNotFound
	}
	return code, nil
}
