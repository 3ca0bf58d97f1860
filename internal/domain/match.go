package domain

import (
	"strings"
	"time"

	"github.com/park285/Cheese-Match-server/internal/board"
)

// Status is the lifecycle state of a match.
type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusFinished   Status = "FINISHED"
	StatusResigned   Status = "RESIGNED"
	StatusDraw       Status = "DRAW"
)

// Terminal reports whether no further moves are accepted.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusResigned || s == StatusDraw
}

// ParseStatus accepts any casing of the four status names.
func ParseStatus(s string) (Status, bool) {
	switch Status(strings.ToUpper(strings.TrimSpace(s))) {
	case StatusInProgress:
		return StatusInProgress, true
	case StatusFinished:
		return StatusFinished, true
	case StatusResigned:
		return StatusResigned, true
	case StatusDraw:
		return StatusDraw, true
	}
	return "", false
}

// Match origins.
const (
	SourceQuickMatch = "QUICK"
	SourceRoom       = "ROOM"
)

// Match is the durable summary of a game. Player1 plays white.
// It may lag the live session.
type Match struct {
	ID          string
	Player1     string
	Player2     string
	Status      Status
	FEN         string
	Ply         int
	LastMoveUCI string
	Winner      string
	TimeLimit   *int
	Source      string
	CreatedAt   time.Time
	StartedAt   time.Time
	FinishedAt  time.Time
	UpdatedAt   time.Time
}

// ColorOf returns the side played by identity.
func (m *Match) ColorOf(identity string) (board.Color, bool) {
	switch identity {
	case m.Player1:
		return board.White, true
	case m.Player2:
		return board.Black, true
	}
	return "", false
}

// Clone returns a copy safe to hand out of a store.
func (m *Match) Clone() *Match {
	if m == nil {
		return nil
	}
	c := *m
	if m.TimeLimit != nil {
		v := *m.TimeLimit
		c.TimeLimit = &v
	}
	return &c
}

// MoveRecord is one appended ply.
type MoveRecord struct {
	MatchID    string
	Ply        int
	MoveNumber int
	Color      board.Color
	UCI        string
	Code       string
	FENBefore  string
	FENAfter   string
	CreatedAt  time.Time
}

// MoveNumberFor maps a 1-based ply to its full-move number.
func MoveNumberFor(ply int) int { return (ply + 1) / 2 }

// ColorForPly returns the side that made the ply; white makes odd plies.
func ColorForPly(ply int) board.Color {
	if ply%2 == 1 {
		return board.White
	}
	return board.Black
}

// GameResult records a game played outside the live relay (e.g. against a bot).
type GameResult struct {
	ID       int64
	Player1  string
	Player2  string
	GameType string
	Status   Status
	Winner   string
	PlayedAt time.Time
}
