package matchdto

// MoveRequest is a move as submitted by a client. Pointer fields distinguish an absent
// coordinate from zero.
type MoveRequest struct {
	FromRow       *int       `json:"fromRow"`
	FromCol       *int       `json:"fromCol"`
	ToRow         *int       `json:"toRow"`
	ToCol         *int       `json:"toCol"`
	Piece         string     `json:"piece"`
	CapturedPiece string     `json:"capturedPiece,omitempty"`
	PromotedTo    string     `json:"promotedTo,omitempty"`
	Castled       bool       `json:"castled,omitempty"`
	IsEnPassant   bool       `json:"isEnPassant,omitempty"`
	IsPromotion   bool       `json:"isPromotion,omitempty"`
	PlayerColor   string     `json:"playerColor"`
	Board         [][]string `json:"board"`
	Status        string     `json:"status,omitempty"`
	FenBefore     string     `json:"fenBefore,omitempty"`
	FenAfter      string     `json:"fenAfter,omitempty"`
}

// Command types accepted on the streaming connection.
const (
	CmdJoin        = "join"
	CmdMove        = "move"
	CmdResign      = "resign"
	CmdDrawOffer   = "draw-offer"
	CmdDrawAccept  = "draw-accept"
	CmdDrawDecline = "draw-decline"
	CmdChat        = "chat"
)

// Command is one client frame on the streaming connection.
type Command struct {
	Type    string       `json:"type"`
	MatchID string       `json:"matchId"`
	Move    *MoveRequest `json:"move,omitempty"`
	Message string       `json:"message,omitempty"`
	// Ref is echoed back on error replies so clients can correlate them.
	Ref string `json:"ref,omitempty"`
}

type CreateRoomRequest struct {
	TimeLimit *int `json:"timeLimit,omitempty"`
}

type JoinRoomRequest struct {
	Code string `json:"code"`
}

type SetupRoomRequest struct {
	Code  string `json:"code"`
	Color string `json:"color"`
}

// BotResultRequest records a finished game against a computer opponent.
type BotResultRequest struct {
	Status       string `json:"status"`
	Winner       string `json:"winner,omitempty"`
	GameType     string `json:"gameType,omitempty"`
	OpponentName string `json:"opponentName,omitempty"`
}
