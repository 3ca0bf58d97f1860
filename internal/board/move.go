package board

import "strings"

// Move is a validated move description as reported by a client.
type Move struct {
	FromRow, FromCol int
	ToRow, ToCol     int
	Piece            string
	Captured         string
	PromotedTo       string
	Castled          bool
	EnPassant        bool
	Promotion        bool
}

// Code is the short move code stored with each move record: castling as O-O / O-O-O,
// otherwise piece letter (none for pawns), "x" on capture, target square and an optional
// "=Q" style promotion suffix. It is not disambiguated.
func (m Move) Code() string {
	if m.Castled {
		if m.ToCol == 6 {
			return "O-O"
		}
		return "O-O-O"
	}
	var sb strings.Builder
	if !strings.EqualFold(m.Piece, "p") {
		sb.WriteString(strings.ToUpper(m.Piece))
	}
	if m.Captured != "" {
		sb.WriteByte('x')
	}
	sb.WriteString(Square(m.ToRow, m.ToCol))
	if m.Promotion && m.PromotedTo != "" {
		sb.WriteByte('=')
		sb.WriteString(strings.ToUpper(m.PromotedTo))
	}
	return sb.String()
}

// UCI returns the long algebraic form, e.g. "e2e4" or "e7e8q".
func (m Move) UCI() string {
	s := Square(m.FromRow, m.FromCol) + Square(m.ToRow, m.ToCol)
	if m.Promotion {
		p := strings.ToLower(strings.TrimSpace(m.PromotedTo))
		if p == "" {
			p = "q"
		}
		s += p
	}
	return s
}
