package persist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/park285/Cheese-Match-server/internal/board"
	"github.com/park285/Cheese-Match-server/internal/domain"
	"github.com/park285/Cheese-Match-server/internal/obslog"
	"github.com/park285/Cheese-Match-server/internal/store"
)

type flakyWriter struct {
	mu       sync.Mutex
	failMove bool
	moves    []domain.MoveRecord
	closed   []string
}

func (w *flakyWriter) RecordMove(ctx context.Context, mv *domain.MoveRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failMove {
		return errors.New("db down")
	}
	w.moves = append(w.moves, *mv)
	return nil
}

func (w *flakyWriter) CloseMatch(ctx context.Context, id string, status domain.Status, winner string, at time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = append(w.closed, id)
	return nil
}

func observe(t *testing.T) *observer.ObservedLogs {
	core, logs := observer.New(zapcore.DebugLevel)
	obslog.Set(zap.New(core))
	t.Cleanup(func() { obslog.Set(nil) })
	return logs
}

func TestSyncerWritesAndConfirmsClose(t *testing.T) {
	observe(t)
	w := &flakyWriter{}
	confirmed := make(chan string, 1)
	s := New(w, WithConcurrency(2), WithOnClosed(func(id string) { confirmed <- id }))

	s.RecordMove(domain.MoveRecord{MatchID: "m1", Ply: 1, Color: board.White, UCI: "e2e4"})
	s.CloseMatch(CloseTask{MatchID: "m1", Status: domain.StatusDraw, At: time.Now()})

	select {
	case id := <-confirmed:
		assert.Equal(t, "m1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("close confirmation not delivered")
	}
	require.NoError(t, s.Close(context.Background()))

	w.mu.Lock()
	defer w.mu.Unlock()
	require.Len(t, w.moves, 1)
	assert.Equal(t, "e2e4", w.moves[0].UCI)
	assert.Equal(t, []string{"m1"}, w.closed)
}

func TestSyncerLogsAndSwallowsFailures(t *testing.T) {
	logs := observe(t)
	w := &flakyWriter{failMove: true}
	s := New(w)

	s.RecordMove(domain.MoveRecord{MatchID: "m2", Ply: 3})
	require.NoError(t, s.Close(context.Background()))

	entries := logs.FilterMessage("persist_move_failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "m2", entries[0].ContextMap()["match_id"])
}

type dupWriter struct{ flakyWriter }

func (w *dupWriter) RecordMove(ctx context.Context, mv *domain.MoveRecord) error {
	return store.ErrDuplicateMove
}

func TestSyncerTreatsDuplicatePlyAsDone(t *testing.T) {
	logs := observe(t)
	s := New(&dupWriter{})
	s.RecordMove(domain.MoveRecord{MatchID: "m3", Ply: 1})
	require.NoError(t, s.Close(context.Background()))
	assert.Zero(t, logs.FilterMessage("persist_move_failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("persist_move_duplicate").Len())
}

func TestSyncerDropsAfterClose(t *testing.T) {
	logs := observe(t)
	w := &flakyWriter{}
	s := New(w)
	require.NoError(t, s.Close(context.Background()))

	s.RecordMove(domain.MoveRecord{MatchID: "m4", Ply: 1})
	assert.Equal(t, 1, logs.FilterMessage("persist_move_dropped").Len())
	w.mu.Lock()
	defer w.mu.Unlock()
	assert.Empty(t, w.moves)
}

type blockingWriter struct {
	flakyWriter
	release chan struct{}
}

func (w *blockingWriter) RecordMove(ctx context.Context, mv *domain.MoveRecord) error {
	<-w.release
	return nil
}

func TestSyncerCloseHonoursDeadline(t *testing.T) {
	observe(t)
	w := &blockingWriter{release: make(chan struct{})}
	s := New(w)
	s.RecordMove(domain.MoveRecord{MatchID: "m5", Ply: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.Close(ctx), context.DeadlineExceeded)

	close(w.release)
	require.NoError(t, s.Close(context.Background()))
}
