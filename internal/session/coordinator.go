package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Match-server/internal/board"
	"github.com/park285/Cheese-Match-server/internal/domain"
	"github.com/park285/Cheese-Match-server/internal/obslog"
	"github.com/park285/Cheese-Match-server/internal/store"
	"github.com/park285/Cheese-Match-server/pkg/matchdto"
)

// MaxChatRunes caps a chat body after trimming.
const MaxChatRunes = 500

// Emitter publishes relay events. Implementations must not block.
type Emitter interface {
	Broadcast(ev matchdto.Event)
	Direct(identity string, ev matchdto.Event)
}

// MoveRecorder schedules the durable append of an accepted move.
type MoveRecorder interface {
	RecordMove(mv domain.MoveRecord)
}

// Closer finishes a match outside the session lock (room status, durable close).
type Closer interface {
	CloseMatch(ctx context.Context, matchID string, status domain.Status, winner string)
}

// MoveValidator optionally checks a move against the rules of chess.
type MoveValidator interface {
	ValidateMove(ctx context.Context, before board.Board, turn board.Color, mv board.Move, after board.Board, fenHint string) error
}

// Store is the read side used for match details.
type Store interface {
	GetMatch(ctx context.Context, id string) (*domain.Match, error)
	ListMoves(ctx context.Context, matchID string) ([]*domain.MoveRecord, error)
}

// Coordinator applies player commands to live sessions.
type Coordinator struct {
	reg       *Registry
	store     Store
	emit      Emitter
	recorder  MoveRecorder
	closer    Closer
	validator MoveValidator
	now       func() time.Time
}

type Option func(*Coordinator)

// WithValidator enables rule checking of submitted moves.
func WithValidator(v MoveValidator) Option {
	return func(c *Coordinator) { c.validator = v }
}

// WithClock overrides time.Now; tests only.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func NewCoordinator(reg *Registry, st Store, emit Emitter, recorder MoveRecorder, closer Closer, opts ...Option) *Coordinator {
	c := &Coordinator{
		reg:      reg,
		store:    st,
		emit:     emit,
		recorder: recorder,
		closer:   closer,
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// MoveResult summarizes an accepted move.
type MoveResult struct {
	Ply      int
	Code     string
	UCI      string
	Status   domain.Status
	Winner   string
	NextTurn board.Color
}

type closeOut struct {
	status domain.Status
	winner string
}

func (c *Coordinator) finish(ctx context.Context, matchID string, co *closeOut) {
	if co == nil || c.closer == nil {
		return
	}
	c.closer.CloseMatch(ctx, matchID, co.status, co.winner)
}

// Join announces a participant. The session is materialized from the durable record if
// absent.
func (c *Coordinator) Join(ctx context.Context, matchID, caller string) (Snapshot, error) {
	var snap Snapshot
	err := c.reg.With(ctx, matchID, true, func(s *Session) error {
		color, ok := s.ColorOf(caller)
		if !ok {
			return ErrNotParticipant
		}
		snap = s.Snapshot()
		ev := c.positionEvent(s, matchdto.EventJoin)
		ev.Player = caller
		ev.PlayerColor = string(color)
		c.emit.Broadcast(ev)
		return nil
	})
	return snap, err
}

// ApplyMove validates and applies a move submitted by caller.
func (c *Coordinator) ApplyMove(ctx context.Context, matchID, caller string, req matchdto.MoveRequest) (*MoveResult, error) {
	var (
		res *MoveResult
		co  *closeOut
	)
	err := c.reg.With(ctx, matchID, false, func(s *Session) error {
		if s.Status.Terminal() {
			return ErrMatchNotActive
		}
		color, ok := s.ColorOf(caller)
		if !ok {
			return ErrNotParticipant
		}
		if color != s.Turn || s.Mover() != caller {
			return ErrNotYourTurn
		}
		declared, ok := board.ParseColor(req.PlayerColor)
		if !ok || declared != s.Turn {
			return ErrColorMismatch
		}
		mv, after, status, err := parseMove(req)
		if err != nil {
			return err
		}
		if c.validator != nil {
			if err := c.validator.ValidateMove(ctx, s.Board, s.Turn, mv, after, req.FenBefore); err != nil {
				return fmt.Errorf("%w: %v", ErrIllegalMove, err)
			}
		}

		fenBefore := pickFEN(req.FenBefore, s.Board, s.Turn)
		mover := s.Turn
		s.Board = after
		s.Turn = mover.Opposite()
		s.Ply++
		s.Status = status
		fenAfter := pickFEN(req.FenAfter, s.Board, s.Turn)
		if status.Terminal() {
			s.Winner = winnerOf(status, caller, s.Opponent(caller))
			co = &closeOut{status: status, winner: s.Winner}
		}

		at := c.now()
		rec := domain.MoveRecord{
			MatchID:    s.MatchID,
			Ply:        s.Ply,
			MoveNumber: domain.MoveNumberFor(s.Ply),
			Color:      mover,
			UCI:        mv.UCI(),
			Code:       mv.Code(),
			FENBefore:  fenBefore,
			FENAfter:   fenAfter,
			CreatedAt:  at,
		}
		s.LastUCI = rec.UCI
		view := moveView(mv, rec)

		ev := c.positionEvent(s, matchdto.EventMove)
		ev.FEN = fenAfter
		ev.Player = caller
		ev.PlayerColor = string(mover)
		ev.Move = &view
		ev.Winner = s.Winner
		c.emit.Broadcast(ev)
		if c.recorder != nil {
			c.recorder.RecordMove(rec)
		}

		res = &MoveResult{
			Ply:      s.Ply,
			Code:     rec.Code,
			UCI:      rec.UCI,
			Status:   s.Status,
			Winner:   s.Winner,
			NextTurn: s.Turn,
		}
		obslog.Match(s.MatchID).Debug("move_applied",
			zap.String("player", caller),
			zap.Int("ply", s.Ply),
			zap.String("uci", rec.UCI),
			zap.String("status", string(s.Status)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.finish(ctx, matchID, co)
	return res, nil
}

// Resign ends the match in the opponent's favour.
func (c *Coordinator) Resign(ctx context.Context, matchID, caller string) error {
	var co *closeOut
	err := c.reg.With(ctx, matchID, false, func(s *Session) error {
		if s.Status.Terminal() {
			return ErrMatchNotActive
		}
		color, ok := s.ColorOf(caller)
		if !ok {
			return ErrNotParticipant
		}
		s.Status = domain.StatusResigned
		s.Winner = s.Opponent(caller)
		co = &closeOut{status: s.Status, winner: s.Winner}

		ev := c.event(s, matchdto.EventResign)
		ev.Player = caller
		ev.PlayerColor = string(color)
		ev.Status = string(s.Status)
		ev.Winner = s.Winner
		c.emit.Broadcast(ev)
		obslog.Match(s.MatchID).Info("match_resigned", zap.String("player", caller), zap.String("winner", s.Winner))
		return nil
	})
	if err != nil {
		return err
	}
	c.finish(ctx, matchID, co)
	return nil
}

// OfferDraw sends a draw offer to the opponent only. No state changes.
func (c *Coordinator) OfferDraw(ctx context.Context, matchID, caller string) error {
	return c.reg.With(ctx, matchID, false, func(s *Session) error {
		if s.Status.Terminal() {
			return ErrMatchNotActive
		}
		color, ok := s.ColorOf(caller)
		if !ok {
			return ErrNotParticipant
		}
		to := s.Opponent(caller)
		ev := c.event(s, matchdto.EventDrawOffer)
		ev.Player = caller
		ev.PlayerColor = string(color)
		ev.To = to
		c.emit.Direct(to, ev)
		return nil
	})
}

// AcceptDraw ends the match as a draw. An outstanding offer is not required.
func (c *Coordinator) AcceptDraw(ctx context.Context, matchID, caller string) error {
	var co *closeOut
	err := c.reg.With(ctx, matchID, false, func(s *Session) error {
		if s.Status.Terminal() {
			return ErrMatchNotActive
		}
		color, ok := s.ColorOf(caller)
		if !ok {
			return ErrNotParticipant
		}
		s.Status = domain.StatusDraw
		s.Winner = ""
		co = &closeOut{status: s.Status}

		ev := c.event(s, matchdto.EventDrawAccepted)
		ev.Player = caller
		ev.PlayerColor = string(color)
		ev.Status = string(s.Status)
		c.emit.Broadcast(ev)
		obslog.Match(s.MatchID).Info("match_drawn", zap.String("player", caller))
		return nil
	})
	if err != nil {
		return err
	}
	c.finish(ctx, matchID, co)
	return nil
}

// DeclineDraw broadcasts the refusal. No state changes.
func (c *Coordinator) DeclineDraw(ctx context.Context, matchID, caller string) error {
	return c.reg.With(ctx, matchID, false, func(s *Session) error {
		if s.Status.Terminal() {
			return ErrMatchNotActive
		}
		color, ok := s.ColorOf(caller)
		if !ok {
			return ErrNotParticipant
		}
		ev := c.event(s, matchdto.EventDrawDeclined)
		ev.Player = caller
		ev.PlayerColor = string(color)
		c.emit.Broadcast(ev)
		return nil
	})
}

// Chat relays a message from a participant to the match.
func (c *Coordinator) Chat(ctx context.Context, matchID, caller, message string) error {
	body := strings.TrimSpace(message)
	if body == "" || utf8.RuneCountInString(body) > MaxChatRunes {
		return ErrInvalidChat
	}
	return c.reg.With(ctx, matchID, false, func(s *Session) error {
		color, ok := s.ColorOf(caller)
		if !ok {
			return ErrNotParticipant
		}
		ev := c.event(s, matchdto.EventChat)
		ev.Player = caller
		ev.PlayerColor = string(color)
		ev.Message = body
		c.emit.Broadcast(ev)
		return nil
	})
}

type matchView struct {
	match *domain.Match
	color board.Color
	snap  Snapshot
	live  bool
}

// view loads the durable record, checks the caller and overlays the live session.
func (c *Coordinator) view(ctx context.Context, matchID, caller string) (*matchView, error) {
	m, err := c.store.GetMatch(ctx, matchID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get match %s: %w", matchID, err)
	}
	color, ok := m.ColorOf(caller)
	if !ok {
		return nil, ErrNotParticipant
	}
	snap, live := c.reg.Peek(matchID)
	if !live {
		snap = newFromMatch(m, c.now()).Snapshot()
	}
	return &matchView{match: m, color: color, snap: snap, live: live}, nil
}

// Position returns the current board as seen by a participant, and their color.
func (c *Coordinator) Position(ctx context.Context, matchID, caller string) (Snapshot, board.Color, error) {
	v, err := c.view(ctx, matchID, caller)
	if err != nil {
		return Snapshot{}, "", err
	}
	return v.snap, v.color, nil
}

// History lists the durable move records of a match for a participant.
func (c *Coordinator) History(ctx context.Context, matchID, caller string) ([]matchdto.MoveView, error) {
	if _, err := c.view(ctx, matchID, caller); err != nil {
		return nil, err
	}
	return c.history(ctx, matchID)
}

func (c *Coordinator) history(ctx context.Context, matchID string) ([]matchdto.MoveView, error) {
	records, err := c.store.ListMoves(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("list moves %s: %w", matchID, err)
	}
	moves := make([]matchdto.MoveView, 0, len(records))
	for _, r := range records {
		moves = append(moves, historyView(r))
	}
	return moves, nil
}

// Details builds the caller's view of a match from the durable record, overlaid with the
// live session when one exists.
func (c *Coordinator) Details(ctx context.Context, matchID, caller string) (*matchdto.MatchDetails, error) {
	v, err := c.view(ctx, matchID, caller)
	if err != nil {
		return nil, err
	}
	moves, err := c.history(ctx, matchID)
	if err != nil {
		return nil, err
	}
	m, snap := v.match, v.snap
	opponent := m.Player2
	if caller == m.Player2 {
		opponent = m.Player1
	}
	return &matchdto.MatchDetails{
		MatchID:     m.ID,
		PlayerColor: string(v.color),
		Opponent:    opponent,
		IsMyTurn:    !snap.Status.Terminal() && snap.Turn == v.color,
		Status:      string(snap.Status),
		Winner:      snap.Winner,
		FEN:         snap.FEN(),
		Board:       snap.Board.Rows(),
		Ply:         snap.Ply,
		Moves:       moves,
		TimeLimit:   snap.TimeLimit,
		CreatedAt:   m.CreatedAt,
		StartedAt:   m.StartedAt,
		Live:        v.live,
	}, nil
}

func (c *Coordinator) event(s *Session, typ string) matchdto.Event {
	return matchdto.Event{
		Type:      typ,
		MatchID:   s.MatchID,
		Timestamp: c.now(),
		Seq:       s.nextSeq(),
	}
}

func (c *Coordinator) positionEvent(s *Session, typ string) matchdto.Event {
	ev := c.event(s, typ)
	white := s.Turn == board.White
	ev.Board = s.Board.Rows()
	ev.FEN = board.EncodeFEN(s.Board, s.Turn)
	ev.IsWhiteTurn = &white
	ev.Status = string(s.Status)
	return ev
}

// winnerOf resolves the winner of a move that ended the game.
func winnerOf(status domain.Status, mover, opponent string) string {
	switch status {
	case domain.StatusFinished:
		return mover
	case domain.StatusResigned:
		return opponent
	}
	return ""
}

// pickFEN prefers a client-supplied FEN whose placement and side to move agree with
// the session; anything else is replaced by the server's own encoding.
func pickFEN(client string, b board.Board, turn board.Color) string {
	if client != "" {
		if cb, ct, err := board.DecodeFEN(client); err == nil && cb == b && ct == turn {
			return client
		}
	}
	return board.EncodeFEN(b, turn)
}

func parseMove(req matchdto.MoveRequest) (board.Move, board.Board, domain.Status, error) {
	if req.FromRow == nil || req.FromCol == nil || req.ToRow == nil || req.ToCol == nil {
		return board.Move{}, board.Board{}, "", fmt.Errorf("%w: missing coordinate", ErrInvalidMove)
	}
	if !board.InRange(*req.FromRow, *req.FromCol) || !board.InRange(*req.ToRow, *req.ToCol) {
		return board.Move{}, board.Board{}, "", fmt.Errorf("%w: coordinate out of range", ErrInvalidMove)
	}
	piece := strings.TrimSpace(req.Piece)
	if !board.IsPiece(piece) {
		return board.Move{}, board.Board{}, "", fmt.Errorf("%w: piece %q", ErrInvalidMove, req.Piece)
	}
	captured := strings.TrimSpace(req.CapturedPiece)
	if captured != "" && !board.IsPiece(captured) {
		return board.Move{}, board.Board{}, "", fmt.Errorf("%w: captured piece %q", ErrInvalidMove, req.CapturedPiece)
	}
	after, err := board.FromRows(req.Board)
	if err != nil {
		return board.Move{}, board.Board{}, "", fmt.Errorf("%w: %v", ErrInvalidMove, err)
	}
	status := domain.StatusInProgress
	if req.Status != "" {
		st, ok := domain.ParseStatus(req.Status)
		if !ok {
			return board.Move{}, board.Board{}, "", fmt.Errorf("%w: status %q", ErrInvalidMove, req.Status)
		}
		status = st
	}
	mv := board.Move{
		FromRow:    *req.FromRow,
		FromCol:    *req.FromCol,
		ToRow:      *req.ToRow,
		ToCol:      *req.ToCol,
		Piece:      piece,
		Captured:   captured,
		PromotedTo: strings.TrimSpace(req.PromotedTo),
		Castled:    req.Castled,
		EnPassant:  req.IsEnPassant,
		Promotion:  req.IsPromotion,
	}
	return mv, after, status, nil
}

func moveView(mv board.Move, rec domain.MoveRecord) matchdto.MoveView {
	return matchdto.MoveView{
		Ply:        rec.Ply,
		MoveNumber: rec.MoveNumber,
		Color:      string(rec.Color),
		FromRow:    mv.FromRow,
		FromCol:    mv.FromCol,
		ToRow:      mv.ToRow,
		ToCol:      mv.ToCol,
		Piece:      mv.Piece,
		Captured:   mv.Captured,
		PromotedTo: mv.PromotedTo,
		Castled:    mv.Castled,
		EnPassant:  mv.EnPassant,
		Promotion:  mv.Promotion,
		Code:       rec.Code,
		UCI:        rec.UCI,
		FENBefore:  rec.FENBefore,
		FENAfter:   rec.FENAfter,
	}
}

// historyView rebuilds coordinates from the stored UCI string.
func historyView(r *domain.MoveRecord) matchdto.MoveView {
	v := matchdto.MoveView{
		Ply:        r.Ply,
		MoveNumber: r.MoveNumber,
		Color:      string(r.Color),
		Code:       r.Code,
		UCI:        r.UCI,
		FENBefore:  r.FENBefore,
		FENAfter:   r.FENAfter,
	}
	if len(r.UCI) >= 4 {
		v.FromCol, v.FromRow = squareCoords(r.UCI[0:2])
		v.ToCol, v.ToRow = squareCoords(r.UCI[2:4])
		if len(r.UCI) > 4 {
			v.Promotion = true
			v.PromotedTo = r.UCI[4:5]
		}
	}
	v.Castled = strings.HasPrefix(r.Code, "O-O")
	return v
}

func squareCoords(sq string) (col, row int) {
	return int(sq[0] - 'a'), 8 - int(sq[1]-'0')
}
