package session

import "errors"

// Code is a rejection reason surfaced to the caller. Codes are errors themselves and may
// be wrapped with detail.
type Code string

func (c Code) Error() string { return string(c) }

const (
	ErrMatchNotActive Code = "match-not-active"
	ErrNotYourTurn    Code = "not-your-turn"
	ErrColorMismatch  Code = "color-mismatch"
	ErrInvalidMove    Code = "invalid-move-payload"
	ErrIllegalMove    Code = "illegal-move"
	ErrNotParticipant Code = "not-a-participant"
	ErrNotFound       Code = "not-found"
	ErrInvalidChat    Code = "invalid-chat"
)

// CodeOf extracts the rejection code from err.
func CodeOf(err error) (Code, bool) {
	var c Code
	if errors.As(err, &c) {
		return c, true
	}
	return "", false
}
