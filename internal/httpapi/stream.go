package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/Cheese-Match-server/internal/obslog"
	"github.com/park285/Cheese-Match-server/internal/relay"
	"github.com/park285/Cheese-Match-server/internal/session"
	"github.com/park285/Cheese-Match-server/pkg/matchdto"
)

const (
	streamReadLimit  = 64 << 10
	streamOutBuffer  = 64
	streamWriteLimit = 5 * time.Second
)

var errUnknownCommand = errors.New("unknown command")

// stream is one websocket connection. It always listens on the caller's direct channel
// and adds a match channel per successful join.
type stream struct {
	srv      *Server
	conn     *websocket.Conn
	identity string
	id       string
	log      *zap.Logger

	out chan matchdto.Event

	mu   sync.Mutex
	subs map[string]*relay.Subscription
	fwd  sync.WaitGroup
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	// 핸드셰이크 완료 전에 구독해야 직후의 direct 이벤트를 놓치지 않음
	userSub := s.deps.Hub.SubscribeUser(caller(r))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns})
	if err != nil {
		userSub.Close()
		// Accept이 이미 응답을 씀
		obslog.L().Debug("ws_accept_failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(streamReadLimit)

	st := &stream{
		srv:      s,
		conn:     conn,
		identity: caller(r),
		id:       uuid.NewString(),
		out:      make(chan matchdto.Event, streamOutBuffer),
		subs:     make(map[string]*relay.Subscription),
	}
	st.log = obslog.L().With(zap.String("conn_id", st.id), zap.String("player", st.identity))
	if !s.track(st) {
		userSub.Close()
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer s.untrack(st)
	st.log.Info("ws_connected")

	err = st.serve(r.Context(), userSub)
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		st.log.Info("ws_closed")
	default:
		if errors.Is(err, context.Canceled) {
			st.log.Info("ws_closed")
		} else {
			st.log.Info("ws_closed", zap.Error(err))
		}
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) track(st *stream) bool {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()
	if s.draining {
		return false
	}
	s.streams[st] = struct{}{}
	s.live.Add(1)
	return true
}

func (s *Server) untrack(st *stream) {
	s.streamsMu.Lock()
	delete(s.streams, st)
	s.streamsMu.Unlock()
	s.live.Done()
}

// CloseStreams refuses new websocket connections, closes the open ones with GoingAway and
// waits until every stream handler has returned, so no command is still being applied.
// http.Server.Shutdown does not cover hijacked connections.
func (s *Server) CloseStreams(ctx context.Context) error {
	s.streamsMu.Lock()
	s.draining = true
	open := make([]*stream, 0, len(s.streams))
	for st := range s.streams {
		open = append(open, st)
	}
	s.streamsMu.Unlock()

	for _, st := range open {
		go func() { _ = st.conn.Close(websocket.StatusGoingAway, "server shutting down") }()
	}
	done := make(chan struct{})
	go func() {
		s.live.Wait()
		close(done)
	}()
	select {
	case <-done:
		obslog.L().Info("ws_streams_closed", zap.Int("count", len(open)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (st *stream) serve(parent context.Context, userSub *relay.Subscription) error {
	g, ctx := errgroup.WithContext(parent)

	st.forward(ctx, userSub)
	defer func() {
		userSub.Close()
		st.closeSubs()
		st.fwd.Wait()
	}()

	g.Go(func() error { return st.writeLoop(ctx) })
	// reader는 항상 에러로 끝나므로 writer도 같이 정리됨
	g.Go(func() error { return st.readLoop(ctx) })
	return g.Wait()
}

func (st *stream) readLoop(ctx context.Context) error {
	for {
		_, data, err := st.conn.Read(ctx)
		if err != nil {
			return err
		}
		var cmd matchdto.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			st.reply(ctx, cmd, errBadRequest)
			continue
		}
		if err := st.dispatch(ctx, cmd); err != nil {
			st.reply(ctx, cmd, err)
		}
	}
}

func (st *stream) writeLoop(ctx context.Context) error {
	var ping <-chan time.Time
	if st.srv.pingInterval > 0 {
		t := time.NewTicker(st.srv.pingInterval)
		defer t.Stop()
		ping = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-st.out:
			wctx, cancel := context.WithTimeout(ctx, streamWriteLimit)
			err := wsjson.Write(wctx, st.conn, ev)
			cancel()
			if err != nil {
				return err
			}
		case <-ping:
			pctx, cancel := context.WithTimeout(ctx, streamWriteLimit)
			err := st.conn.Ping(pctx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func (st *stream) dispatch(ctx context.Context, cmd matchdto.Command) error {
	games := st.srv.deps.Games
	switch cmd.Type {
	case matchdto.CmdJoin:
		return st.join(ctx, cmd.MatchID)
	case matchdto.CmdMove:
		if cmd.Move == nil {
			return session.ErrInvalidMove
		}
		_, err := games.ApplyMove(ctx, cmd.MatchID, st.identity, *cmd.Move)
		return err
	case matchdto.CmdResign:
		return games.Resign(ctx, cmd.MatchID, st.identity)
	case matchdto.CmdDrawOffer:
		return games.OfferDraw(ctx, cmd.MatchID, st.identity)
	case matchdto.CmdDrawAccept:
		return games.AcceptDraw(ctx, cmd.MatchID, st.identity)
	case matchdto.CmdDrawDecline:
		return games.DeclineDraw(ctx, cmd.MatchID, st.identity)
	case matchdto.CmdChat:
		return games.Chat(ctx, cmd.MatchID, st.identity, cmd.Message)
	}
	return errUnknownCommand
}

// join subscribes before joining so the connection sees its own join event.
func (st *stream) join(ctx context.Context, matchID string) error {
	st.mu.Lock()
	_, already := st.subs[matchID]
	var sub *relay.Subscription
	if !already {
		sub = st.srv.deps.Hub.SubscribeMatch(matchID)
		st.subs[matchID] = sub
	}
	st.mu.Unlock()

	if _, err := st.srv.deps.Games.Join(ctx, matchID, st.identity); err != nil {
		if sub != nil {
			st.mu.Lock()
			delete(st.subs, matchID)
			st.mu.Unlock()
			sub.Close()
		}
		return err
	}
	if sub != nil {
		st.forward(ctx, sub)
		st.log.Debug("ws_joined", zap.String("match_id", matchID))
	}
	return nil
}

func (st *stream) forward(ctx context.Context, sub *relay.Subscription) {
	st.fwd.Add(1)
	go func() {
		defer st.fwd.Done()
		for {
			select {
			case ev, ok := <-sub.C:
				if !ok {
					return
				}
				select {
				case st.out <- ev:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (st *stream) closeSubs() {
	st.mu.Lock()
	subs := st.subs
	st.subs = map[string]*relay.Subscription{}
	st.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
}

// reply sends a rejection to this connection only.
func (st *stream) reply(ctx context.Context, cmd matchdto.Command, err error) {
	if errors.Is(err, errUnknownCommand) {
		err = errBadRequest
	}
	_, de := st.srv.domainError(err)
	ev := matchdto.Event{
		Type:      matchdto.EventError,
		MatchID:   cmd.MatchID,
		Timestamp: st.srv.now(),
		Error:     &de,
		Ref:       cmd.Ref,
	}
	st.log.Debug("ws_command_rejected", zap.String("type", cmd.Type), zap.String("match_id", cmd.MatchID), zap.String("code", de.Code))
	select {
	case st.out <- ev:
	case <-ctx.Done():
	}
}
