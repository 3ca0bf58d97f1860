package session

import (
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Match-server/internal/board"
	"github.com/park285/Cheese-Match-server/internal/domain"
	"github.com/park285/Cheese-Match-server/internal/obslog"
)

// Session is the authoritative live state of a match. It is only touched while holding
// the owning entry's lock.
type Session struct {
	MatchID   string
	Board     board.Board
	Turn      board.Color
	Status    domain.Status
	Player1   string // white
	Player2   string // black
	Ply       int
	LastUCI   string
	Winner    string
	TimeLimit *int
	CreatedAt time.Time
	StartedAt time.Time

	seq        uint64
	lastActive time.Time
}

// newFromMatch seeds a session from a durable record. The stored position is used when it
// parses; otherwise the standard starting position.
func newFromMatch(m *domain.Match, now time.Time) *Session {
	s := &Session{
		MatchID:    m.ID,
		Board:      board.Start(),
		Turn:       board.White,
		Status:     m.Status,
		Player1:    m.Player1,
		Player2:    m.Player2,
		Ply:        m.Ply,
		LastUCI:    m.LastMoveUCI,
		Winner:     m.Winner,
		CreatedAt:  m.CreatedAt,
		StartedAt:  m.StartedAt,
		lastActive: now,
	}
	if m.TimeLimit != nil {
		v := *m.TimeLimit
		s.TimeLimit = &v
	}
	if s.Status == "" {
		s.Status = domain.StatusInProgress
	}
	if m.FEN != "" {
		b, turn, err := board.DecodeFEN(m.FEN)
		if err == nil {
			s.Board, s.Turn = b, turn
		} else {
			obslog.Match(m.ID).Warn("session_seed_bad_fen", zap.String("fen", m.FEN), zap.Error(err))
		}
	}
	return s
}

// ColorOf returns the side played by identity.
func (s *Session) ColorOf(identity string) (board.Color, bool) {
	switch identity {
	case s.Player1:
		return board.White, true
	case s.Player2:
		return board.Black, true
	}
	return "", false
}

// Mover is the identity expected to move next.
func (s *Session) Mover() string {
	if s.Turn == board.White {
		return s.Player1
	}
	return s.Player2
}

// Opponent returns the other participant.
func (s *Session) Opponent(identity string) string {
	if identity == s.Player1 {
		return s.Player2
	}
	return s.Player1
}

func (s *Session) nextSeq() uint64 {
	s.seq++
	return s.seq
}

// Snapshot is a copy of a session for reads outside the lock.
type Snapshot struct {
	MatchID   string
	Board     board.Board
	Turn      board.Color
	Status    domain.Status
	Player1   string
	Player2   string
	Ply       int
	LastUCI   string
	Winner    string
	TimeLimit *int
	CreatedAt time.Time
	StartedAt time.Time
}

func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		MatchID:   s.MatchID,
		Board:     s.Board,
		Turn:      s.Turn,
		Status:    s.Status,
		Player1:   s.Player1,
		Player2:   s.Player2,
		Ply:       s.Ply,
		LastUCI:   s.LastUCI,
		Winner:    s.Winner,
		CreatedAt: s.CreatedAt,
		StartedAt: s.StartedAt,
	}
	if s.TimeLimit != nil {
		v := *s.TimeLimit
		snap.TimeLimit = &v
	}
	return snap
}

// FEN encodes the snapshot position.
func (s Snapshot) FEN() string { return board.EncodeFEN(s.Board, s.Turn) }
