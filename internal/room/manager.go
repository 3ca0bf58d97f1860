package room

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Match-server/internal/board"
	"github.com/park285/Cheese-Match-server/internal/domain"
	"github.com/park285/Cheese-Match-server/internal/obslog"
	"github.com/park285/Cheese-Match-server/internal/persist"
	"github.com/park285/Cheese-Match-server/internal/roomcode"
)

// MatchWriter creates durable match records.
type MatchWriter interface {
	CreateMatch(ctx context.Context, m *domain.Match) error
}

// SessionSeeder installs the live session of a new match.
type SessionSeeder interface {
	Create(m *domain.Match)
}

// Finisher schedules the durable terminal write.
type Finisher interface {
	CloseMatch(t persist.CloseTask)
}

// Manager owns private rooms and the creation and close-out of matches.
type Manager struct {
	rooms    Store
	matches  MatchWriter
	sessions SessionSeeder
	finisher Finisher

	codeAttempts int
	claimTTL     time.Duration
	claimPoll    time.Duration
	now          func() time.Time
	newID        func() string
}

func NewManager(rooms Store, matches MatchWriter, sessions SessionSeeder, finisher Finisher) *Manager {
	return &Manager{
		rooms:        rooms,
		matches:      matches,
		sessions:     sessions,
		finisher:     finisher,
		codeAttempts: 8,
		claimTTL:     10 * time.Second,
		claimPoll:    25 * time.Millisecond,
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

// CreateRoom opens a room for host under a fresh code.
func (m *Manager) CreateRoom(ctx context.Context, host string, timeLimit *int) (*Room, error) {
	if strings.TrimSpace(host) == "" || (timeLimit != nil && *timeLimit < 0) {
		return nil, ErrInvalidArgs
	}
	for i := 0; i < m.codeAttempts; i++ {
		code, err := roomcode.Generate()
		if err != nil {
			return nil, fmt.Errorf("generate room code: %w", err)
		}
		r := &Room{
			Code:      code,
			Host:      host,
			Status:    StatusWaiting,
			CreatedAt: m.now(),
		}
		if timeLimit != nil {
			v := *timeLimit
			r.TimeLimit = &v
		}
		err = m.rooms.Insert(ctx, r)
		if errors.Is(err, ErrCodeTaken) {
			obslog.L().Debug("room_code_collision", zap.String("code", code), zap.Int("attempt", i+1))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("insert room: %w", err)
		}
		obslog.L().Info("room_created", zap.String("code", code), zap.String("host", host))
		return r, nil
	}
	return nil, ErrCodeExhausted
}

func normalize(code string) (string, error) {
	c := roomcode.Normalize(code)
	if !roomcode.Valid(c) {
		return "", ErrInvalidCode
	}
	return c, nil
}

// JoinRoom binds guest to the room. Joining again as the same guest is a no-op.
func (m *Manager) JoinRoom(ctx context.Context, code, guest string) (*Room, error) {
	if strings.TrimSpace(guest) == "" {
		return nil, ErrInvalidArgs
	}
	c, err := normalize(code)
	if err != nil {
		return nil, err
	}
	r, err := m.rooms.Update(ctx, c, func(r *Room) error {
		switch {
		case r.Host == guest:
			return ErrSelfJoin
		case r.Guest == guest:
			return nil
		case r.Guest != "":
			return ErrRoomFull
		}
		r.Guest = guest
		if r.Status == StatusWaiting {
			r.Status = StatusReady
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	obslog.L().Info("room_joined", zap.String("code", c), zap.String("guest", guest))
	return r, nil
}

// FinalizeSetup assigns colors and starts the room's match. A room already bound to a
// match returns that match.
//
// The caller first claims the room, then creates the match, then binds it. Until the bind
// the room still reads as READY with no match id; a second member arriving meanwhile waits
// for the bind (or for the claim to be released) instead of seeing an id that may never
// exist.
func (m *Manager) FinalizeSetup(ctx context.Context, code, caller, hostColor string) (string, error) {
	c, err := normalize(code)
	if err != nil {
		return "", err
	}
	color, ok := board.ParseColor(hostColor)
	if !ok {
		return "", ErrInvalidColor
	}

	for {
		matchID := m.newID()
		claimed := false
		r, err := m.rooms.Update(ctx, c, func(r *Room) error {
			claimed = false
			if !r.IsMember(caller) {
				return ErrNotRoomMember
			}
			if r.MatchID != "" {
				return nil
			}
			if r.Guest == "" {
				return ErrNoGuest
			}
			if r.Claim != "" && !m.claimStale(r) {
				return nil
			}
			at := m.now()
			r.Claim, r.ClaimedAt = matchID, &at
			claimed = true
			return nil
		})
		if err != nil {
			return "", err
		}
		if r.MatchID != "" {
			return r.MatchID, nil
		}
		if claimed {
			return m.bindNewMatch(ctx, r, matchID, color)
		}
		// 다른 멤버가 생성 중
		t := time.NewTimer(m.claimPoll)
		select {
		case <-ctx.Done():
			t.Stop()
			return "", ctx.Err()
		case <-t.C:
		}
	}
}

func (m *Manager) claimStale(r *Room) bool {
	return r.ClaimedAt == nil || m.now().Sub(*r.ClaimedAt) > m.claimTTL
}

// bindNewMatch creates the claimed match and publishes it on the room.
func (m *Manager) bindNewMatch(ctx context.Context, claimed *Room, matchID string, hostColor board.Color) (string, error) {
	c := claimed.Code
	white, black := claimed.Host, claimed.Guest
	if hostColor == board.Black {
		white, black = black, white
	}
	if _, err := m.startMatch(ctx, matchID, white, black, claimed.TimeLimit, domain.SourceRoom); err != nil {
		if _, rerr := m.rooms.Update(ctx, c, func(r *Room) error {
			if r.Claim == matchID {
				r.Claim, r.ClaimedAt = "", nil
			}
			return nil
		}); rerr != nil {
			obslog.L().Error("room_claim_release_failed", zap.String("code", c), zap.Error(rerr))
		}
		return "", err
	}

	_, err := m.rooms.Update(ctx, c, func(r *Room) error {
		if r.Claim != matchID || r.MatchID != "" {
			return ErrContention
		}
		at := m.now()
		r.Claim, r.ClaimedAt = "", nil
		r.MatchID = matchID
		r.Status = StatusInProgress
		r.PlayedAt = &at
		return nil
	})
	if err != nil {
		// 클레임을 잃었으면 이 매치는 어느 방에도 연결되지 않는다
		obslog.Match(matchID).Error("room_bind_failed", zap.String("code", c), zap.Error(err))
		return "", err
	}
	obslog.Match(matchID).Info("room_match_started", zap.String("code", c), zap.String("white", white), zap.String("black", black))
	return matchID, nil
}

// RoomStatus is a pure read.
func (m *Manager) RoomStatus(ctx context.Context, code string) (*Room, error) {
	c, err := normalize(code)
	if err != nil {
		return nil, err
	}
	return m.rooms.Get(ctx, c)
}

// StartMatch creates a quick match between two paired players.
func (m *Manager) StartMatch(ctx context.Context, white, black string) (string, error) {
	match, err := m.startMatch(ctx, m.newID(), white, black, nil, domain.SourceQuickMatch)
	if err != nil {
		return "", err
	}
	return match.ID, nil
}

func (m *Manager) startMatch(ctx context.Context, id, white, black string, timeLimit *int, source string) (*domain.Match, error) {
	now := m.now()
	match := &domain.Match{
		ID:        id,
		Player1:   white,
		Player2:   black,
		Status:    domain.StatusInProgress,
		FEN:       board.StartFEN,
		TimeLimit: timeLimit,
		Source:    source,
		CreatedAt: now,
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := m.matches.CreateMatch(ctx, match); err != nil {
		return nil, fmt.Errorf("create match: %w", err)
	}
	m.sessions.Create(match)
	return match, nil
}

// CloseMatch records a finished match on its room, if any, and schedules the durable
// close. Called outside any session lock.
func (m *Manager) CloseMatch(ctx context.Context, matchID string, status domain.Status, winner string) {
	at := m.now()
	code, err := m.rooms.CodeByMatch(ctx, matchID)
	switch {
	case errors.Is(err, ErrRoomNotFound):
	case err != nil:
		obslog.Match(matchID).Warn("room_lookup_failed", zap.Error(err))
	default:
		if _, err := m.rooms.Update(ctx, code, func(r *Room) error {
			if r.MatchID != matchID || r.Terminal() {
				return nil
			}
			r.Status = Status(status)
			r.WinnerName = winner
			return nil
		}); err != nil {
			obslog.Match(matchID).Warn("room_close_failed", zap.String("code", code), zap.Error(err))
		}
	}
	m.finisher.CloseMatch(persist.CloseTask{MatchID: matchID, Status: status, Winner: winner, At: at})
	obslog.Match(matchID).Info("match_closed", zap.String("status", string(status)), zap.String("winner", winner))
}
