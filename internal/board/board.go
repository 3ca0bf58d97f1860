package board

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Color identifies a side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Opposite returns the other side.
func (c Color) Opposite() Color {
	if c == White {
		return Black
	}
	return White
}

// ParseColor accepts "white"/"black" and the FEN letters, case-insensitively.
func ParseColor(s string) (Color, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "w":
		return White, true
	case "black", "b":
		return Black, true
	}
	return "", false
}

// Board is an 8x8 grid of piece codes. Row 0 is rank 8, column 0 is file a.
// White pieces are upper-case (KQRBNP), black lower-case, empty squares "".
type Board [8][8]string

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

var (
	ErrShape = errors.New("board must be 8x8")
	ErrPiece = errors.New("unknown piece code")
)

// Start returns the standard starting position.
func Start() Board {
	var b Board
	back := [8]string{"r", "n", "b", "q", "k", "b", "n", "r"}
	for c := 0; c < 8; c++ {
		b[0][c] = back[c]
		b[1][c] = "p"
		b[6][c] = "P"
		b[7][c] = strings.ToUpper(back[c])
	}
	return b
}

// IsPiece reports whether s is a known piece code.
func IsPiece(s string) bool {
	return len(s) == 1 && strings.ContainsAny(s, "KQRBNPkqrbnp")
}

// PieceColor returns the owner of a piece code.
func PieceColor(p string) (Color, bool) {
	if !IsPiece(p) {
		return "", false
	}
	if strings.ToUpper(p) == p {
		return White, true
	}
	return Black, true
}

// FromRows converts a client-supplied grid. Blank cells and "." are empty squares.
func FromRows(rows [][]string) (Board, error) {
	var b Board
	if len(rows) != 8 {
		return b, ErrShape
	}
	for r, row := range rows {
		if len(row) != 8 {
			return b, ErrShape
		}
		for c, cell := range row {
			v := strings.TrimSpace(cell)
			if v == "." {
				v = ""
			}
			if v != "" && !IsPiece(v) {
				return b, fmt.Errorf("%w %q at %s", ErrPiece, v, Square(r, c))
			}
			b[r][c] = v
		}
	}
	return b, nil
}

// Rows returns the board as a slice grid for JSON payloads.
func (b Board) Rows() [][]string {
	out := make([][]string, 8)
	for r := 0; r < 8; r++ {
		out[r] = append([]string(nil), b[r][:]...)
	}
	return out
}

// Placement encodes the piece-placement field of a FEN string.
func (b Board) Placement() string {
	var sb strings.Builder
	for r := 0; r < 8; r++ {
		empty := 0
		for c := 0; c < 8; c++ {
			p := b[r][c]
			if p == "" {
				empty++
				continue
			}
			if empty > 0 {
				sb.WriteString(strconv.Itoa(empty))
				empty = 0
			}
			sb.WriteString(p)
		}
		if empty > 0 {
			sb.WriteString(strconv.Itoa(empty))
		}
		if r < 7 {
			sb.WriteByte('/')
		}
	}
	return sb.String()
}

// EncodeFEN renders the board with the side to move. Castling, en passant and the move
// counters are not tracked by the server and take their initial values.
func EncodeFEN(b Board, turn Color) string {
	side := "w"
	if turn == Black {
		side = "b"
	}
	return b.Placement() + " " + side + " KQkq - 0 1"
}

// DecodeFEN parses the placement and side-to-move fields.
func DecodeFEN(fen string) (Board, Color, error) {
	var b Board
	fields := strings.Fields(fen)
	if len(fields) == 0 {
		return b, "", errors.New("empty fen")
	}
	ranks := strings.Split(fields[0], "/")
	if len(ranks) != 8 {
		return b, "", fmt.Errorf("fen: want 8 ranks, got %d", len(ranks))
	}
	for r, rank := range ranks {
		c := 0
		for _, ch := range rank {
			switch {
			case ch >= '1' && ch <= '8':
				c += int(ch - '0')
			case IsPiece(string(ch)):
				if c > 7 {
					return b, "", fmt.Errorf("fen: rank %d overflows", 8-r)
				}
				b[r][c] = string(ch)
				c++
			default:
				return b, "", fmt.Errorf("fen: bad character %q", ch)
			}
		}
		if c != 8 {
			return b, "", fmt.Errorf("fen: rank %d has %d files", 8-r, c)
		}
	}
	turn := White
	if len(fields) > 1 {
		t, ok := ParseColor(fields[1])
		if !ok {
			return b, "", fmt.Errorf("fen: bad side to move %q", fields[1])
		}
		turn = t
	}
	return b, turn, nil
}

// Square names a coordinate in algebraic form ("e4").
func Square(row, col int) string {
	return string(rune('a'+col)) + strconv.Itoa(8-row)
}

// InRange reports whether both coordinates are on the board.
func InRange(row, col int) bool {
	return row >= 0 && row < 8 && col >= 0 && col < 8
}
