package room

import (
	"time"

	"github.com/park285/Cheese-Match-server/internal/domain"
	"github.com/park285/Cheese-Match-server/pkg/matchdto"
)

// Status is the lifecycle of a private room.
type Status string

const (
	StatusWaiting    Status = "WAITING"
	StatusReady      Status = "READY"
	StatusInProgress Status = "IN_PROGRESS"
)

// Room is stored as JSON under room:<code>.
type Room struct {
	Code       string     `json:"code"`
	Host       string     `json:"host"`
	Guest      string     `json:"guest,omitempty"`
	MatchID    string     `json:"match_id,omitempty"`
	Status     Status     `json:"status"`
	WinnerName string     `json:"winner_name,omitempty"`
	TimeLimit  *int       `json:"time_limit,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	PlayedAt   *time.Time `json:"played_at,omitempty"`

	// Claim holds the match id being created by an in-flight setup. It is never part of
	// the public view.
	Claim     string     `json:"claim,omitempty"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
}

// Terminal reports whether the bound match has ended.
func (r *Room) Terminal() bool { return domain.Status(r.Status).Terminal() }

func (r *Room) IsMember(identity string) bool {
	return identity != "" && (identity == r.Host || identity == r.Guest)
}

func (r *Room) View() matchdto.RoomView {
	return matchdto.RoomView{
		Code:       r.Code,
		Host:       r.Host,
		Guest:      r.Guest,
		MatchID:    r.MatchID,
		Status:     string(r.Status),
		WinnerName: r.WinnerName,
		TimeLimit:  r.TimeLimit,
		CreatedAt:  r.CreatedAt,
		PlayedAt:   r.PlayedAt,
	}
}

func (r *Room) clone() *Room {
	cp := *r
	if r.TimeLimit != nil {
		v := *r.TimeLimit
		cp.TimeLimit = &v
	}
	if r.PlayedAt != nil {
		v := *r.PlayedAt
		cp.PlayedAt = &v
	}
	if r.ClaimedAt != nil {
		v := *r.ClaimedAt
		cp.ClaimedAt = &v
	}
	return &cp
}

// Errors
var (
	ErrInvalidArgs   = errf("invalid arguments")
	ErrInvalidCode   = errf("malformed room code")
	ErrInvalidColor  = errf("color must be white or black")
	ErrRoomNotFound  = errf("room not found or expired")
	ErrRoomFull      = errf("room already has a guest")
	ErrSelfJoin      = errf("host cannot join own room")
	ErrNoGuest       = errf("room has no guest")
	ErrNotRoomMember = errf("caller is not in the room")
	ErrCodeTaken     = errf("room code already in use")
	// 재시도 횟수 안에 빈 코드를 찾지 못함
	ErrCodeExhausted = errf("could not allocate a room code")
	ErrContention    = errf("room update kept conflicting")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }
