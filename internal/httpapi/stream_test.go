package httpapi

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/park285/Cheese-Match-server/internal/board"
	"github.com/park285/Cheese-Match-server/internal/wsclient"
	"github.com/park285/Cheese-Match-server/pkg/matchdto"
)

type player struct {
	c      *wsclient.Client
	events chan matchdto.Event
}

func (s *stack) connect(t *testing.T, who string) *player {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
	p := &player{
		c:      wsclient.New(url, wsclient.WithHeader("X-User-Id", who), wsclient.WithReconnect(0), wsclient.WithPingInterval(0)),
		events: make(chan matchdto.Event, 32),
	}
	p.c.OnEvent(func(ev *matchdto.Event) { p.events <- *ev })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.c.Connect(ctx))
	t.Cleanup(func() { _ = p.c.Close(context.Background()) })
	return p
}

// next waits for the next event of type typ, skipping others.
func (p *player) next(t *testing.T, typ string) matchdto.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-p.events:
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event", typ)
		}
	}
}

func (p *player) quiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case ev := <-p.events:
		t.Fatalf("unexpected event %s", ev.Type)
	case <-time.After(d):
	}
}

func intp(v int) *int { return &v }

func (s *stack) quickMatch(t *testing.T) string {
	t.Helper()
	s.do(t, http.MethodPost, "/game", "alice", nil)
	m := decodeBody[matchdto.MatchmakingResponse](t, s.do(t, http.MethodPost, "/game", "bob", nil))
	require.NotEmpty(t, m.MatchID)
	return m.MatchID
}

func TestStreamMoveIsBroadcast(t *testing.T) {
	s := newStack(t)
	id := s.quickMatch(t)
	ctx := context.Background()

	alice, bob := s.connect(t, "alice"), s.connect(t, "bob")
	require.NoError(t, alice.c.Join(ctx, id))
	join := alice.next(t, matchdto.EventJoin)
	assert.Equal(t, "white", join.PlayerColor)
	require.NoError(t, bob.c.Join(ctx, id))
	bob.next(t, matchdto.EventJoin)

	after := board.Start()
	after[6][4], after[4][4] = "", "P"
	mv := matchdto.MoveRequest{
		FromRow: intp(6), FromCol: intp(4), ToRow: intp(4), ToCol: intp(4),
		Piece: "P", PlayerColor: "white", Board: after.Rows(),
	}
	require.NoError(t, alice.c.Move(ctx, id, mv))

	got := bob.next(t, matchdto.EventMove)
	require.NotNil(t, got.Move)
	assert.Equal(t, "e2e4", got.Move.UCI)
	require.NotNil(t, got.IsWhiteTurn)
	assert.False(t, *got.IsWhiteTurn)
	alice.next(t, matchdto.EventMove)

	// 차례가 아닌 수는 보낸 쪽에만 에러
	require.NoError(t, alice.c.Send(ctx, matchdto.Command{Type: matchdto.CmdMove, MatchID: id, Move: &mv, Ref: "r1"}))
	rej := alice.next(t, matchdto.EventError)
	require.NotNil(t, rej.Error)
	assert.Equal(t, "not-your-turn", rej.Error.Code)
	assert.Equal(t, "r1", rej.Ref)
	bob.quiet(t, 150*time.Millisecond)
}

func TestStreamDrawOfferIsDirect(t *testing.T) {
	s := newStack(t)
	id := s.quickMatch(t)
	ctx := context.Background()

	alice, bob := s.connect(t, "alice"), s.connect(t, "bob")
	require.NoError(t, alice.c.Join(ctx, id))
	alice.next(t, matchdto.EventJoin)

	// bob never joined the match channel but still receives the offer on his own channel
	require.NoError(t, alice.c.Send(ctx, matchdto.Command{Type: matchdto.CmdDrawOffer, MatchID: id}))
	offer := bob.next(t, matchdto.EventDrawOffer)
	assert.Equal(t, "alice", offer.Player)

	require.NoError(t, bob.c.Send(ctx, matchdto.Command{Type: matchdto.CmdDrawAccept, MatchID: id}))
	done := alice.next(t, matchdto.EventDrawAccepted)
	assert.Equal(t, "DRAW", done.Status)
}

func TestStreamRejectsOutsiders(t *testing.T) {
	s := newStack(t)
	id := s.quickMatch(t)
	ctx := context.Background()

	carol := s.connect(t, "carol")
	require.NoError(t, carol.c.Join(ctx, id))
	rej := carol.next(t, matchdto.EventError)
	assert.Equal(t, "not-a-participant", rej.Error.Code)
	assert.Equal(t, id, rej.MatchID)

	require.NoError(t, carol.c.Send(ctx, matchdto.Command{Type: "teleport", MatchID: id}))
	rej = carol.next(t, matchdto.EventError)
	assert.Equal(t, "bad-request", rej.Error.Code)
}

func (s *stack) dial(t *testing.T, who string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"X-User-Id": []string{who}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func TestCloseStreamsEndsOpenConnections(t *testing.T) {
	s := newStack(t)
	conn := s.dial(t, "alice")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	closed := make(chan error, 1)
	go func() { closed <- s.api.CloseStreams(ctx) }()

	_, _, err := conn.Read(ctx)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
	require.NoError(t, <-closed)

	// 드레인 중에는 새 연결도 바로 닫힘
	late := s.dial(t, "bob")
	_, _, err = late.Read(ctx)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}
