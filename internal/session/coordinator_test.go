package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/Cheese-Match-server/internal/board"
	"github.com/park285/Cheese-Match-server/internal/domain"
	"github.com/park285/Cheese-Match-server/internal/store"
	"github.com/park285/Cheese-Match-server/pkg/matchdto"
)

type captured struct {
	to string
	ev matchdto.Event
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []captured
}

func (f *fakeEmitter) Broadcast(ev matchdto.Event) { f.add("", ev) }

func (f *fakeEmitter) Direct(identity string, ev matchdto.Event) { f.add(identity, ev) }

func (f *fakeEmitter) add(to string, ev matchdto.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, captured{to: to, ev: ev})
}

func (f *fakeEmitter) all() []captured {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]captured(nil), f.events...)
}

type fakeRecorder struct {
	mu    sync.Mutex
	moves []domain.MoveRecord
}

func (f *fakeRecorder) RecordMove(mv domain.MoveRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moves = append(f.moves, mv)
}

type closeCall struct {
	matchID string
	status  domain.Status
	winner  string
}

type fakeCloser struct {
	mu    sync.Mutex
	calls []closeCall
}

func (f *fakeCloser) CloseMatch(ctx context.Context, matchID string, status domain.Status, winner string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, closeCall{matchID, status, winner})
}

type fixture struct {
	repo     *store.Memory
	reg      *Registry
	emit     *fakeEmitter
	recorder *fakeRecorder
	closer   *fakeCloser
	coord    *Coordinator
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		repo:     store.NewMemory(),
		emit:     &fakeEmitter{},
		recorder: &fakeRecorder{},
		closer:   &fakeCloser{},
	}
	f.reg = NewRegistry(f.repo, time.Hour)
	f.coord = NewCoordinator(f.reg, f.repo, f.emit, f.recorder, f.closer, opts...)
	return f
}

func (f *fixture) startMatch(t *testing.T, id string) *domain.Match {
	t.Helper()
	now := time.Now()
	m := &domain.Match{
		ID: id, Player1: "alice", Player2: "bob",
		Status: domain.StatusInProgress, FEN: board.StartFEN,
		Source: domain.SourceQuickMatch, CreatedAt: now, StartedAt: now, UpdatedAt: now,
	}
	require.NoError(t, f.repo.CreateMatch(context.Background(), m))
	f.reg.Create(m)
	return m
}

func intp(v int) *int { return &v }

// e2e4 for white from the starting position.
func pawnPush() matchdto.MoveRequest {
	b := board.Start()
	b[6][4] = ""
	b[4][4] = "P"
	return matchdto.MoveRequest{
		FromRow: intp(6), FromCol: intp(4), ToRow: intp(4), ToCol: intp(4),
		Piece: "P", PlayerColor: "white", Board: b.Rows(),
	}
}

func replyPush(after board.Board) matchdto.MoveRequest {
	after[1][4] = ""
	after[3][4] = "p"
	return matchdto.MoveRequest{
		FromRow: intp(1), FromCol: intp(4), ToRow: intp(3), ToCol: intp(4),
		Piece: "p", PlayerColor: "black", Board: after.Rows(),
	}
}

func TestApplyMoveAdvancesTurnAndRecords(t *testing.T) {
	f := newFixture(t)
	f.startMatch(t, "m1")
	ctx := context.Background()

	res, err := f.coord.ApplyMove(ctx, "m1", "alice", pawnPush())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Ply)
	assert.Equal(t, "e4", res.Code)
	assert.Equal(t, "e2e4", res.UCI)
	assert.Equal(t, board.Black, res.NextTurn)
	assert.Equal(t, domain.StatusInProgress, res.Status)

	events := f.emit.all()
	require.Len(t, events, 1)
	ev := events[0].ev
	assert.Equal(t, matchdto.EventMove, ev.Type)
	assert.Equal(t, "white", ev.PlayerColor)
	require.NotNil(t, ev.IsWhiteTurn)
	assert.False(t, *ev.IsWhiteTurn)
	assert.Equal(t, "e4", ev.Move.Code)
	assert.Equal(t, "P", ev.Board[4][4])

	require.Len(t, f.recorder.moves, 1)
	rec := f.recorder.moves[0]
	assert.Equal(t, board.StartFEN, rec.FENBefore)
	assert.Contains(t, rec.FENAfter, " b ")
	assert.Equal(t, 1, rec.MoveNumber)

	after, _, err := board.DecodeFEN(rec.FENAfter)
	require.NoError(t, err)
	res, err = f.coord.ApplyMove(ctx, "m1", "bob", replyPush(after))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Ply)
	assert.Equal(t, board.White, res.NextTurn)
	assert.Empty(t, f.closer.calls)
}

func TestApplyMoveRejections(t *testing.T) {
	f := newFixture(t)
	f.startMatch(t, "m2")
	ctx := context.Background()

	_, err := f.coord.ApplyMove(ctx, "nope", "alice", pawnPush())
	assert.ErrorIs(t, err, ErrMatchNotActive)

	_, err = f.coord.ApplyMove(ctx, "m2", "mallory", pawnPush())
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = f.coord.ApplyMove(ctx, "m2", "bob", pawnPush())
	assert.ErrorIs(t, err, ErrNotYourTurn)

	wrong := pawnPush()
	wrong.PlayerColor = "black"
	_, err = f.coord.ApplyMove(ctx, "m2", "alice", wrong)
	assert.ErrorIs(t, err, ErrColorMismatch)

	missing := pawnPush()
	missing.ToCol = nil
	_, err = f.coord.ApplyMove(ctx, "m2", "alice", missing)
	assert.ErrorIs(t, err, ErrInvalidMove)

	short := pawnPush()
	short.Board = short.Board[:7]
	_, err = f.coord.ApplyMove(ctx, "m2", "alice", short)
	assert.ErrorIs(t, err, ErrInvalidMove)

	badStatus := pawnPush()
	badStatus.Status = "ABANDONED"
	_, err = f.coord.ApplyMove(ctx, "m2", "alice", badStatus)
	assert.ErrorIs(t, err, ErrInvalidMove)

	// nothing changed
	snap, ok := f.reg.Peek("m2")
	require.True(t, ok)
	assert.Equal(t, board.Start(), snap.Board)
	assert.Equal(t, 0, snap.Ply)
	assert.Empty(t, f.emit.all())
	assert.Empty(t, f.recorder.moves)
}

func TestFinishingMoveClosesWithMoverAsWinner(t *testing.T) {
	f := newFixture(t)
	f.startMatch(t, "m3")
	req := pawnPush()
	req.Status = "FINISHED"

	res, err := f.coord.ApplyMove(context.Background(), "m3", "alice", req)
	require.NoError(t, err)
	assert.Equal(t, "alice", res.Winner)
	require.Len(t, f.closer.calls, 1)
	assert.Equal(t, closeCall{"m3", domain.StatusFinished, "alice"}, f.closer.calls[0])

	_, err = f.coord.ApplyMove(context.Background(), "m3", "bob", replyPush(board.Start()))
	assert.ErrorIs(t, err, ErrMatchNotActive)
}

func TestDrawStatusMoveHasNoWinner(t *testing.T) {
	f := newFixture(t)
	f.startMatch(t, "m4")
	req := pawnPush()
	req.Status = "DRAW"
	res, err := f.coord.ApplyMove(context.Background(), "m4", "alice", req)
	require.NoError(t, err)
	assert.Empty(t, res.Winner)
	assert.Equal(t, closeCall{"m4", domain.StatusDraw, ""}, f.closer.calls[0])
}

func TestResignGivesOpponentTheWin(t *testing.T) {
	f := newFixture(t)
	f.startMatch(t, "m5")
	ctx := context.Background()

	require.ErrorIs(t, f.coord.Resign(ctx, "m5", "mallory"), ErrNotParticipant)
	require.NoError(t, f.coord.Resign(ctx, "m5", "bob"))
	assert.Equal(t, []closeCall{{"m5", domain.StatusResigned, "alice"}}, f.closer.calls)

	events := f.emit.all()
	require.Len(t, events, 1)
	assert.Equal(t, matchdto.EventResign, events[0].ev.Type)
	assert.Equal(t, "alice", events[0].ev.Winner)

	// terminal is irreversible
	assert.ErrorIs(t, f.coord.Resign(ctx, "m5", "alice"), ErrMatchNotActive)
	assert.ErrorIs(t, f.coord.AcceptDraw(ctx, "m5", "alice"), ErrMatchNotActive)
	_, err := f.coord.ApplyMove(ctx, "m5", "alice", pawnPush())
	assert.ErrorIs(t, err, ErrMatchNotActive)
}

func TestDrawNegotiation(t *testing.T) {
	f := newFixture(t)
	f.startMatch(t, "m6")
	ctx := context.Background()

	require.NoError(t, f.coord.OfferDraw(ctx, "m6", "alice"))
	require.NoError(t, f.coord.DeclineDraw(ctx, "m6", "bob"))
	require.NoError(t, f.coord.AcceptDraw(ctx, "m6", "bob"))

	events := f.emit.all()
	require.Len(t, events, 3)
	assert.Equal(t, "bob", events[0].to, "offer goes to the opponent only")
	assert.Equal(t, matchdto.EventDrawOffer, events[0].ev.Type)
	assert.Equal(t, "", events[1].to)
	assert.Equal(t, matchdto.EventDrawDeclined, events[1].ev.Type)
	assert.Equal(t, matchdto.EventDrawAccepted, events[2].ev.Type)
	assert.Equal(t, []closeCall{{"m6", domain.StatusDraw, ""}}, f.closer.calls)

	// seq is strictly increasing per match
	assert.Less(t, events[0].ev.Seq, events[1].ev.Seq)
	assert.Less(t, events[1].ev.Seq, events[2].ev.Seq)
}

func TestChat(t *testing.T) {
	f := newFixture(t)
	f.startMatch(t, "m7")
	ctx := context.Background()

	require.NoError(t, f.coord.Chat(ctx, "m7", "alice", "  good luck  "))
	assert.ErrorIs(t, f.coord.Chat(ctx, "m7", "alice", "   "), ErrInvalidChat)
	long := make([]rune, MaxChatRunes+1)
	for i := range long {
		long[i] = '가'
	}
	assert.ErrorIs(t, f.coord.Chat(ctx, "m7", "alice", string(long)), ErrInvalidChat)
	assert.ErrorIs(t, f.coord.Chat(ctx, "m7", "mallory", "hi"), ErrNotParticipant)

	events := f.emit.all()
	require.Len(t, events, 1)
	assert.Equal(t, "good luck", events[0].ev.Message)
}

func TestJoinMaterializesFromStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()
	fen := "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1"
	require.NoError(t, f.repo.CreateMatch(ctx, &domain.Match{
		ID: "m8", Player1: "alice", Player2: "bob", Status: domain.StatusInProgress,
		FEN: fen, Ply: 1, CreatedAt: now, StartedAt: now, UpdatedAt: now,
	}))

	// moves need a live session
	_, err := f.coord.ApplyMove(ctx, "m8", "bob", replyPush(board.Start()))
	require.ErrorIs(t, err, ErrMatchNotActive)

	snap, err := f.coord.Join(ctx, "m8", "bob")
	require.NoError(t, err)
	assert.Equal(t, board.Black, snap.Turn)
	assert.Equal(t, 1, snap.Ply)
	assert.Equal(t, "P", snap.Board[4][4])

	_, err = f.coord.Join(ctx, "missing", "bob")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.coord.Join(ctx, "m8", "mallory")
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestDetailsProjection(t *testing.T) {
	f := newFixture(t)
	f.startMatch(t, "m9")
	ctx := context.Background()

	_, err := f.coord.ApplyMove(ctx, "m9", "alice", pawnPush())
	require.NoError(t, err)
	for _, mv := range f.recorder.moves {
		require.NoError(t, f.repo.RecordMove(ctx, &mv))
	}

	d, err := f.coord.Details(ctx, "m9", "bob")
	require.NoError(t, err)
	assert.Equal(t, "black", d.PlayerColor)
	assert.Equal(t, "alice", d.Opponent)
	assert.True(t, d.IsMyTurn)
	assert.True(t, d.Live)
	assert.Equal(t, 1, d.Ply)
	require.Len(t, d.Moves, 1)
	assert.Equal(t, 6, d.Moves[0].FromRow)
	assert.Equal(t, 4, d.Moves[0].ToCol)

	_, err = f.coord.Details(ctx, "m9", "mallory")
	assert.ErrorIs(t, err, ErrNotParticipant)
	_, err = f.coord.Details(ctx, "zzz", "bob")
	assert.ErrorIs(t, err, ErrNotFound)

	// after eviction the durable snapshot answers
	f.reg.Evict("m9")
	d, err = f.coord.Details(ctx, "m9", "alice")
	require.NoError(t, err)
	assert.False(t, d.Live)
	assert.False(t, d.IsMyTurn)
	assert.Equal(t, 1, d.Ply)
}

type rejectAll struct{}

func (rejectAll) ValidateMove(context.Context, board.Board, board.Color, board.Move, board.Board, string) error {
	return errors.New("nope")
}

func TestValidatorRejection(t *testing.T) {
	f := newFixture(t, WithValidator(rejectAll{}))
	f.startMatch(t, "m10")
	_, err := f.coord.ApplyMove(context.Background(), "m10", "alice", pawnPush())
	require.ErrorIs(t, err, ErrIllegalMove)
	code, ok := CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, ErrIllegalMove, code)
}

func TestConcurrentMovesAdvanceOnce(t *testing.T) {
	f := newFixture(t)
	f.startMatch(t, "m11")

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.coord.ApplyMove(context.Background(), "m11", "alice", pawnPush()); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	snap, _ := f.reg.Peek("m11")
	assert.Equal(t, 1, snap.Ply)
	assert.Equal(t, board.Black, snap.Turn)
}

func TestPositionAndHistory(t *testing.T) {
	f := newFixture(t)
	f.startMatch(t, "m12")
	ctx := context.Background()
	_, err := f.coord.ApplyMove(ctx, "m12", "alice", pawnPush())
	require.NoError(t, err)

	snap, color, err := f.coord.Position(ctx, "m12", "bob")
	require.NoError(t, err)
	assert.Equal(t, board.Black, color)
	assert.Equal(t, "e2e4", snap.LastUCI)

	hist, err := f.coord.History(ctx, "m12", "alice")
	require.NoError(t, err)
	assert.Empty(t, hist, "nothing persisted yet")

	_, err = f.coord.History(ctx, "m12", "mallory")
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestClientFENWithWrongTurnIsNotPersisted(t *testing.T) {
	f := newFixture(t)
	f.startMatch(t, "m13")
	ctx := context.Background()

	mv := pawnPush()
	// placement is right but the side to move still says white
	mv.FenAfter = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR w KQkq - 0 1"
	_, err := f.coord.ApplyMove(ctx, "m13", "alice", mv)
	require.NoError(t, err)

	require.Len(t, f.recorder.moves, 1)
	rec := f.recorder.moves[0]
	assert.Contains(t, rec.FENAfter, " b ")
	require.NoError(t, f.repo.RecordMove(ctx, &rec))

	// 재시작 후 복원해도 흑 차례여야 한다
	f.reg.Evict("m13")
	snap, err := f.coord.Join(ctx, "m13", "alice")
	require.NoError(t, err)
	assert.Equal(t, board.Black, snap.Turn)
	assert.Equal(t, 1, snap.Ply)

	_, err = f.coord.ApplyMove(ctx, "m13", "alice", pawnPush())
	require.ErrorIs(t, err, ErrNotYourTurn)
}

func TestClientFENIsKeptWhenItAgrees(t *testing.T) {
	f := newFixture(t)
	f.startMatch(t, "m14")
	mv := pawnPush()
	mv.FenAfter = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1"
	_, err := f.coord.ApplyMove(context.Background(), "m14", "alice", mv)
	require.NoError(t, err)
	require.Len(t, f.recorder.moves, 1)
	assert.Equal(t, mv.FenAfter, f.recorder.moves[0].FENAfter)
}
