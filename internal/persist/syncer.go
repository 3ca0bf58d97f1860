package persist

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Match-server/internal/domain"
	"github.com/park285/Cheese-Match-server/internal/obslog"
	"github.com/park285/Cheese-Match-server/internal/store"
)

// Writer is the subset of store.Repository the syncer needs.
type Writer interface {
	RecordMove(ctx context.Context, mv *domain.MoveRecord) error
	CloseMatch(ctx context.Context, id string, status domain.Status, winner string, at time.Time) error
}

// CloseTask describes a terminal result to write.
type CloseTask struct {
	MatchID string
	Status  domain.Status
	Winner  string
	At      time.Time
}

// Syncer runs durable writes off the gameplay path. Writes are fire-and-forget: a failed
// write is logged and dropped, never retried and never reported to players.
type Syncer struct {
	w       Writer
	sem     chan struct{}
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	// OnClosed runs after a terminal result has been written successfully.
	onClosed func(matchID string)
}

type Option func(*Syncer)

// WithConcurrency bounds the number of writes in flight.
func WithConcurrency(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.sem = make(chan struct{}, n)
		}
	}
}

// WithTimeout bounds each write.
func WithTimeout(d time.Duration) Option {
	return func(s *Syncer) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithOnClosed registers the terminal-write confirmation hook.
func WithOnClosed(fn func(matchID string)) Option {
	return func(s *Syncer) { s.onClosed = fn }
}

func New(w Writer, opts ...Option) *Syncer {
	s := &Syncer{
		w:       w,
		sem:     make(chan struct{}, 8),
		timeout: 5 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RecordMove schedules a move append.
func (s *Syncer) RecordMove(mv domain.MoveRecord) {
	s.spawn("persist_move", func(ctx context.Context) error {
		err := s.w.RecordMove(ctx, &mv)
		if errors.Is(err, store.ErrDuplicateMove) {
			obslog.Match(mv.MatchID).Debug("persist_move_duplicate", zap.Int("ply", mv.Ply))
			return nil
		}
		return err
	}, zap.String("match_id", mv.MatchID), zap.Int("ply", mv.Ply))
}

// CloseMatch schedules a terminal status write.
func (s *Syncer) CloseMatch(t CloseTask) {
	s.spawn("persist_close", func(ctx context.Context) error {
		if err := s.w.CloseMatch(ctx, t.MatchID, t.Status, t.Winner, t.At); err != nil {
			return err
		}
		s.mu.Lock()
		hook := s.onClosed
		s.mu.Unlock()
		if hook != nil {
			hook(t.MatchID)
		}
		return nil
	}, zap.String("match_id", t.MatchID), zap.String("status", string(t.Status)))
}

func (s *Syncer) spawn(op string, fn func(ctx context.Context) error, fields ...zap.Field) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		obslog.L().Warn(op+"_dropped", append(fields, zap.String("reason", "syncer closed"))...)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.sem <- struct{}{}
		defer func() { <-s.sem }()

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		start := time.Now()
		if err := fn(ctx); err != nil {
			obslog.L().Error(op+"_failed", append(fields, zap.Error(err))...)
			return
		}
		obslog.L().Debug(op, append(fields, zap.Duration("took", time.Since(start)))...)
	}()
}

// Close stops accepting work and waits for in-flight writes or ctx expiry.
func (s *Syncer) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
