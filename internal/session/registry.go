package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/park285/Cheese-Match-server/internal/domain"
	"github.com/park285/Cheese-Match-server/internal/obslog"
	"github.com/park285/Cheese-Match-server/internal/store"
)

// MatchLoader reads durable match records for lazy materialization.
type MatchLoader interface {
	GetMatch(ctx context.Context, id string) (*domain.Match, error)
}

type entry struct {
	mu      sync.Mutex
	s       *Session
	evicted bool
}

// Registry holds live sessions keyed by match id. Each session has its own lock; the
// registry lock only guards the map and is never held together with a session lock.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry

	loader  MatchLoader
	loads   singleflight.Group
	idleTTL time.Duration
	now     func() time.Time
}

func NewRegistry(loader MatchLoader, idleTTL time.Duration) *Registry {
	if idleTTL <= 0 {
		idleTTL = 2 * time.Hour
	}
	return &Registry{
		entries: make(map[string]*entry),
		loader:  loader,
		idleTTL: idleTTL,
		now:     time.Now,
	}
}

// Create installs a session for a freshly created match. An existing session wins.
func (r *Registry) Create(m *domain.Match) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[m.ID]; ok {
		return
	}
	r.entries[m.ID] = &entry{s: newFromMatch(m, r.now())}
	obslog.Match(m.ID).Debug("session_created", zap.String("white", m.Player1), zap.String("black", m.Player2))
}

// With runs fn under the session lock. When materialize is set a missing session is
// loaded from the store; otherwise a missing session is ErrMatchNotActive.
func (r *Registry) With(ctx context.Context, matchID string, materialize bool, fn func(*Session) error) error {
	// 대기 중 evict 되면 다시 조회
	for attempt := 0; attempt < 3; attempt++ {
		e, err := r.lookup(ctx, matchID, materialize)
		if err != nil {
			return err
		}
		e.mu.Lock()
		if e.evicted {
			e.mu.Unlock()
			continue
		}
		err = fn(e.s)
		e.s.lastActive = r.now()
		e.mu.Unlock()
		return err
	}
	return ErrMatchNotActive
}

// Peek snapshots a live session without loading it.
func (r *Registry) Peek(matchID string) (Snapshot, bool) {
	r.mu.Lock()
	e := r.entries[matchID]
	r.mu.Unlock()
	if e == nil {
		return Snapshot{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.evicted {
		return Snapshot{}, false
	}
	return e.s.Snapshot(), true
}

func (r *Registry) lookup(ctx context.Context, matchID string, materialize bool) (*entry, error) {
	r.mu.Lock()
	e := r.entries[matchID]
	r.mu.Unlock()
	if e != nil {
		return e, nil
	}
	if !materialize || r.loader == nil {
		return nil, ErrMatchNotActive
	}

	v, err, _ := r.loads.Do(matchID, func() (any, error) {
		m, err := r.loader.GetMatch(ctx, matchID)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		if existing := r.entries[matchID]; existing != nil {
			return existing, nil
		}
		fresh := &entry{s: newFromMatch(m, r.now())}
		r.entries[matchID] = fresh
		obslog.Match(matchID).Info("session_materialized", zap.Int("ply", m.Ply), zap.String("status", string(m.Status)))
		return fresh, nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load match %s: %w", matchID, err)
	}
	return v.(*entry), nil
}

// Evict drops a session regardless of state.
func (r *Registry) Evict(matchID string) {
	r.mu.Lock()
	e := r.entries[matchID]
	delete(r.entries, matchID)
	r.mu.Unlock()
	if e == nil {
		return
	}
	e.mu.Lock()
	e.evicted = true
	e.mu.Unlock()
}

// EvictTerminal drops the session only once it has reached a terminal status.
func (r *Registry) EvictTerminal(matchID string) bool {
	r.mu.Lock()
	e := r.entries[matchID]
	r.mu.Unlock()
	if e == nil {
		return false
	}
	e.mu.Lock()
	if !e.s.Status.Terminal() {
		e.mu.Unlock()
		return false
	}
	e.evicted = true
	e.mu.Unlock()

	r.mu.Lock()
	if r.entries[matchID] == e {
		delete(r.entries, matchID)
	}
	r.mu.Unlock()
	obslog.Match(matchID).Debug("session_evicted")
	return true
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep evicts sessions idle for longer than the idle TTL and returns how many went.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	candidates := make(map[string]*entry, len(r.entries))
	for id, e := range r.entries {
		candidates[id] = e
	}
	r.mu.Unlock()

	var gone []string
	for id, e := range candidates {
		e.mu.Lock()
		if now.Sub(e.s.lastActive) > r.idleTTL {
			e.evicted = true
			gone = append(gone, id)
		}
		e.mu.Unlock()
	}
	if len(gone) == 0 {
		return 0
	}

	r.mu.Lock()
	for _, id := range gone {
		if r.entries[id] == candidates[id] {
			delete(r.entries, id)
		}
	}
	r.mu.Unlock()
	obslog.L().Info("session_sweep", zap.Int("evicted", len(gone)))
	return len(gone)
}

// RunJanitor sweeps idle sessions until ctx is done.
func (r *Registry) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.Sweep(now)
		}
	}
}
