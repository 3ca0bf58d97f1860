package legality

import (
	"context"
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/Cheese-Match-server/internal/board"
)

var (
	// ErrIllegal is returned when the move cannot be played from the position.
	ErrIllegal = errors.New("illegal move")
	// ErrResultMismatch is returned when the submitted board differs from the position the
	// move produces.
	ErrResultMismatch = errors.New("submitted board does not match move")
)

// ChessValidator checks moves with corentings/chess. The server keeps only piece placement
// and side to move, so castling rights and en passant squares are taken from the client's
// position hint when it parses.
type ChessValidator struct {
	// CompareResult also verifies the submitted board against the engine's result.
	CompareResult bool
}

func NewChessValidator() *ChessValidator {
	return &ChessValidator{CompareResult: true}
}

func (v *ChessValidator) ValidateMove(ctx context.Context, before board.Board, turn board.Color, mv board.Move, after board.Board, fenHint string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fen := positionFEN(before, turn, fenHint)
	opt, err := nchess.FEN(fen)
	if err != nil {
		return fmt.Errorf("%w: position: %v", ErrIllegal, err)
	}
	game := nchess.NewGame(opt)
	if err := game.PushNotationMove(mv.UCI(), nchess.UCINotation{}, nil); err != nil {
		return fmt.Errorf("%w: %s", ErrIllegal, mv.UCI())
	}
	if !v.CompareResult {
		return nil
	}
	got := strings.Fields(game.FEN())
	if len(got) == 0 || got[0] != after.Placement() {
		return ErrResultMismatch
	}
	return nil
}

// positionFEN combines the server's placement and turn with the hint's castling and
// en passant fields.
func positionFEN(b board.Board, turn board.Color, hint string) string {
	side := "w"
	if turn == board.Black {
		side = "b"
	}
	castling, ep := "KQkq", "-"
	if f := strings.Fields(hint); len(f) >= 4 {
		if validCastling(f[2]) {
			castling = f[2]
		}
		if validEnPassant(f[3]) {
			ep = f[3]
		}
	}
	return fmt.Sprintf("%s %s %s %s 0 1", b.Placement(), side, castling, ep)
}

func validCastling(s string) bool {
	if s == "-" {
		return true
	}
	if s == "" || len(s) > 4 {
		return false
	}
	return strings.Trim(s, "KQkq") == ""
}

func validEnPassant(s string) bool {
	if s == "-" {
		return true
	}
	return len(s) == 2 && s[0] >= 'a' && s[0] <= 'h' && (s[1] == '3' || s[1] == '6')
}
