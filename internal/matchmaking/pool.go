package matchmaking

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Match-server/internal/obslog"
)

// Pool pairs anonymous players first-come first-served.
//
// An identity is in at most one of waiting, reserved (pairing in flight) or pending
// (paired, not yet polled).
type Pool struct {
	mu       sync.Mutex
	waiting  []string
	reserved map[string]struct{}
	pending  map[string]pairing

	creator    MatchCreator
	pendingTTL time.Duration
	now        func() time.Time
}

func NewPool(creator MatchCreator, pendingTTL time.Duration) *Pool {
	if pendingTTL <= 0 {
		pendingTTL = 10 * time.Minute
	}
	return &Pool{
		reserved:   make(map[string]struct{}),
		pending:    make(map[string]pairing),
		creator:    creator,
		pendingTTL: pendingTTL,
		now:        time.Now,
	}
}

// RequestMatch pairs identity with the oldest different waiter, or enqueues it.
func (p *Pool) RequestMatch(ctx context.Context, identity string) (Result, error) {
	if identity == "" {
		return Result{}, ErrInvalidIdentity
	}

	p.mu.Lock()
	if pd, ok := p.pending[identity]; ok {
		delete(p.pending, identity)
		if !pd.returned {
			p.mu.Unlock()
			return Result{State: StateMatched, MatchID: pd.matchID}, nil
		}
		// 이미 받은 매치는 새 탐색을 막지 않는다
	}
	if _, ok := p.reserved[identity]; ok {
		p.mu.Unlock()
		return Result{State: StateWaiting}, nil
	}
	idx := slices.IndexFunc(p.waiting, func(w string) bool { return w != identity })
	if idx < 0 {
		if !slices.Contains(p.waiting, identity) {
			p.waiting = append(p.waiting, identity)
			obslog.L().Debug("matchmaking_enqueued", zap.String("player", identity), zap.Int("waiting", len(p.waiting)))
		}
		p.mu.Unlock()
		return Result{State: StateWaiting}, nil
	}
	partner := p.waiting[idx]
	p.waiting = slices.DeleteFunc(p.waiting, func(w string) bool { return w == partner || w == identity })
	p.reserved[partner] = struct{}{}
	p.reserved[identity] = struct{}{}
	p.mu.Unlock()

	// 매치 생성은 락 밖에서
	matchID, err := p.creator.StartMatch(ctx, partner, identity)

	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.reserved, partner)
	delete(p.reserved, identity)
	if err != nil {
		p.waiting = append([]string{partner}, p.waiting...)
		obslog.L().Error("matchmaking_start_failed", zap.String("white", partner), zap.String("black", identity), zap.Error(err))
		return Result{}, fmt.Errorf("start match: %w", err)
	}
	at := p.now()
	p.pending[partner] = pairing{matchID: matchID, pairedAt: at}
	p.pending[identity] = pairing{matchID: matchID, pairedAt: at, returned: true}
	obslog.Match(matchID).Info("matchmaking_paired", zap.String("white", partner), zap.String("black", identity))
	return Result{State: StateMatched, MatchID: matchID}, nil
}

// PollMatch reports the caller's state. A pairing is returned once, then cleared.
func (p *Pool) PollMatch(identity string) Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pd, ok := p.pending[identity]; ok {
		delete(p.pending, identity)
		return Result{State: StateMatched, MatchID: pd.matchID}
	}
	if _, ok := p.reserved[identity]; ok || slices.Contains(p.waiting, identity) {
		return Result{State: StateWaiting}
	}
	return Result{State: StateIdle}
}

// CancelWaiting removes a waiting identity. Reserved or paired identities cannot cancel.
func (p *Pool) CancelWaiting(identity string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := slices.Index(p.waiting, identity)
	if idx < 0 {
		return false
	}
	p.waiting = slices.Delete(p.waiting, idx, idx+1)
	obslog.L().Debug("matchmaking_cancelled", zap.String("player", identity))
	return true
}

// Waiting is the current queue length.
func (p *Pool) Waiting() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiting)
}

// Sweep drops pairings nobody collected within the pending TTL.
func (p *Pool) Sweep(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for id, pd := range p.pending {
		if now.Sub(pd.pairedAt) > p.pendingTTL {
			delete(p.pending, id)
			n++
		}
	}
	if n > 0 {
		obslog.L().Info("matchmaking_pending_expired", zap.Int("count", n))
	}
	return n
}

func (p *Pool) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			p.Sweep(now)
		}
	}
}
