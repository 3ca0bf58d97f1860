package matchdto

import "time"

// Event types.
const (
	EventMove         = "move"
	EventJoin         = "join"
	EventResign       = "resign"
	EventDrawOffer    = "draw-offer"
	EventDrawAccepted = "draw-accepted"
	EventDrawDeclined = "draw-declined"
	EventChat         = "chat"
	EventError        = "error"
)

// Event is an outbound relay message. Fields beyond the first four depend on Type.
type Event struct {
	Type      string    `json:"type"`
	MatchID   string    `json:"matchId"`
	Timestamp time.Time `json:"timestamp"`
	Seq       uint64    `json:"seq,omitempty"`

	Player      string     `json:"player,omitempty"`
	PlayerColor string     `json:"playerColor,omitempty"`
	Board       [][]string `json:"board,omitempty"`
	FEN         string     `json:"fen,omitempty"`
	IsWhiteTurn *bool      `json:"isWhiteTurn,omitempty"`
	Move        *MoveView  `json:"move,omitempty"`
	Status      string     `json:"status,omitempty"`
	Winner      string     `json:"winner,omitempty"`
	To          string     `json:"to,omitempty"`
	Message     string     `json:"message,omitempty"`

	Error *DomainError `json:"error,omitempty"`
	Ref   string       `json:"ref,omitempty"`
}

// MoveView is the move part of a move event and of the move history.
type MoveView struct {
	Ply        int    `json:"ply"`
	MoveNumber int    `json:"moveNumber"`
	Color      string `json:"color"`
	FromRow    int    `json:"fromRow"`
	FromCol    int    `json:"fromCol"`
	ToRow      int    `json:"toRow"`
	ToCol      int    `json:"toCol"`
	Piece      string `json:"piece,omitempty"`
	Captured   string `json:"capturedPiece,omitempty"`
	PromotedTo string `json:"promotedTo,omitempty"`
	Castled    bool   `json:"castled,omitempty"`
	EnPassant  bool   `json:"isEnPassant,omitempty"`
	Promotion  bool   `json:"isPromotion,omitempty"`
	Code       string `json:"moveNotation"`
	UCI        string `json:"uci"`
	FENBefore  string `json:"fenBefore,omitempty"`
	FENAfter   string `json:"fenAfter,omitempty"`
}
