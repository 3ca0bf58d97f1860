package store

import (
	"context"
	"errors"
	"time"

	"github.com/park285/Cheese-Match-server/internal/domain"
)

var (
	ErrNotFound      = errors.New("match not found")
	ErrDuplicateID   = errors.New("match already exists")
	ErrDuplicateMove = errors.New("move already recorded for ply")
)

// Repository is the durable store for match summaries, move history and
// out-of-band game results.
type Repository interface {
	CreateMatch(ctx context.Context, m *domain.Match) error
	GetMatch(ctx context.Context, id string) (*domain.Match, error)
	// RecordMove appends the move and advances the match snapshot when mv.Ply is newer
	// than the stored ply.
	RecordMove(ctx context.Context, mv *domain.MoveRecord) error
	// CloseMatch moves an in-progress match to a terminal status. Closing an already
	// terminal match is a no-op.
	CloseMatch(ctx context.Context, id string, status domain.Status, winner string, at time.Time) error
	ListMoves(ctx context.Context, matchID string) ([]*domain.MoveRecord, error)
	SaveGameResult(ctx context.Context, r *domain.GameResult) (int64, error)
	Close() error
}
