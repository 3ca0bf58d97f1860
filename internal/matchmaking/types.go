package matchmaking

import (
	"context"
	"errors"
	"time"

	"github.com/park285/Cheese-Match-server/pkg/matchdto"
)

var ErrInvalidIdentity = errors.New("identity required")

type State string

const (
	StateWaiting State = matchdto.MatchStateWaiting
	StateMatched State = matchdto.MatchStateMatched
	StateIdle    State = matchdto.MatchStateIdle
)

// Result is the outcome of a request or poll.
type Result struct {
	State   State
	MatchID string
}

func (r Result) DTO() matchdto.MatchmakingResponse {
	return matchdto.MatchmakingResponse{State: string(r.State), MatchID: r.MatchID}
}

// MatchCreator creates the durable match and its live session for a pairing.
// white is the player who waited longest.
type MatchCreator interface {
	StartMatch(ctx context.Context, white, black string) (matchID string, err error)
}

type pairing struct {
	matchID  string
	pairedAt time.Time
	// returned is set for the side that already got the matchId from RequestMatch.
	returned bool
}
