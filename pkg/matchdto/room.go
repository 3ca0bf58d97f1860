package matchdto

import "time"

// RoomView is the projection of a private room.
type RoomView struct {
	Code       string     `json:"roomCode"`
	Host       string     `json:"host"`
	Guest      string     `json:"guest,omitempty"`
	MatchID    string     `json:"matchId,omitempty"`
	Status     string     `json:"status"`
	WinnerName string     `json:"winnerName,omitempty"`
	TimeLimit  *int       `json:"timeLimit,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	PlayedAt   *time.Time `json:"playedAt,omitempty"`
}

type SetupRoomResponse struct {
	MatchID string `json:"matchId"`
}
