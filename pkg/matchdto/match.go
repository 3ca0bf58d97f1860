package matchdto

import "time"

// Matchmaking states.
const (
	MatchStateWaiting = "WAITING"
	MatchStateMatched = "MATCHED"
	MatchStateIdle    = "IDLE"
)

type MatchmakingResponse struct {
	State   string `json:"state"`
	MatchID string `json:"matchId,omitempty"`
}

type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// MatchDetails is the read projection returned by GET /game/{id}.
type MatchDetails struct {
	MatchID     string     `json:"matchId"`
	PlayerColor string     `json:"playerColor"`
	Opponent    string     `json:"opponent"`
	IsMyTurn    bool       `json:"isMyTurn"`
	Status      string     `json:"status"`
	Winner      string     `json:"winner,omitempty"`
	FEN         string     `json:"fen"`
	Board       [][]string `json:"board"`
	Ply         int        `json:"ply"`
	Moves       []MoveView `json:"moves"`
	TimeLimit   *int       `json:"timeLimit,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   time.Time  `json:"startedAt"`
	Live        bool       `json:"live"`
}

type SaveResultResponse struct {
	ID int64 `json:"id"`
}
