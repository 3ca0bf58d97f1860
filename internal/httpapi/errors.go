package httpapi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Match-server/internal/identity"
	"github.com/park285/Cheese-Match-server/internal/matchmaking"
	"github.com/park285/Cheese-Match-server/internal/obslog"
	"github.com/park285/Cheese-Match-server/internal/room"
	"github.com/park285/Cheese-Match-server/internal/roomcode"
	"github.com/park285/Cheese-Match-server/internal/session"
	"github.com/park285/Cheese-Match-server/pkg/matchdto"
)

var (
	errBadRequest    = errors.New("bad request")
	errRouteNotFound = errors.New("route not found")
)

// failure is a transport-level rendering of an error.
type failure struct {
	status    int
	code      string
	retryable bool
	data      any
}

func classify(err error) failure {
	if code, ok := session.CodeOf(err); ok {
		f := failure{status: http.StatusBadRequest, code: string(code)}
		switch code {
		case session.ErrNotParticipant:
			f.status = http.StatusForbidden
		case session.ErrNotFound:
			f.status = http.StatusNotFound
		case session.ErrMatchNotActive:
			f.status = http.StatusConflict
		case session.ErrInvalidChat:
			f.data = map[string]int{"Max": session.MaxChatRunes}
		}
		return f
	}

	switch {
	case isUnauthenticated(err):
		return failure{status: http.StatusUnauthorized, code: "unauthenticated"}
	case errors.Is(err, errBadRequest), errors.Is(err, room.ErrInvalidArgs), errors.Is(err, matchmaking.ErrInvalidIdentity):
		return failure{status: http.StatusBadRequest, code: "bad-request"}
	case errors.Is(err, errRouteNotFound):
		return failure{status: http.StatusNotFound, code: "not-found"}
	case errors.Is(err, room.ErrInvalidCode):
		return failure{status: http.StatusBadRequest, code: "invalid-code", data: map[string]int{"Length": roomcode.Length}}
	case errors.Is(err, room.ErrInvalidColor):
		return failure{status: http.StatusBadRequest, code: "invalid-color"}
	case errors.Is(err, room.ErrRoomNotFound):
		return failure{status: http.StatusNotFound, code: "room-not-found"}
	case errors.Is(err, room.ErrRoomFull):
		return failure{status: http.StatusConflict, code: "room-full"}
	case errors.Is(err, room.ErrSelfJoin):
		return failure{status: http.StatusConflict, code: "self-join"}
	case errors.Is(err, room.ErrNoGuest):
		return failure{status: http.StatusConflict, code: "no-guest"}
	case errors.Is(err, room.ErrNotRoomMember):
		return failure{status: http.StatusForbidden, code: "not-room-member"}
	case errors.Is(err, errMatchStart):
		return failure{status: http.StatusServiceUnavailable, code: "matchmaking-failed", retryable: true}
	case errors.Is(err, room.ErrCodeExhausted), errors.Is(err, room.ErrContention):
		return failure{status: http.StatusServiceUnavailable, code: "internal", retryable: true}
	}
	return failure{status: http.StatusInternalServerError, code: "internal", retryable: true}
}

func isUnauthenticated(err error) bool { return errors.Is(err, identity.ErrUnauthenticated) }

// domainError renders err with catalog text. Unclassified errors are logged here since the
// caller only ever sees the generic message.
func (s *Server) domainError(err error) (int, matchdto.DomainError) {
	f := classify(err)
	if f.status >= http.StatusInternalServerError {
		obslog.L().Error("http_internal_error", zap.Error(err))
	}
	return f.status, matchdto.DomainError{
		Code:      f.code,
		Message:   s.deps.Messages.Text("errors."+f.code, f.data),
		Retryable: f.retryable,
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, de := s.domainError(err)
	writeJSON(w, status, matchdto.ErrorResponse{Error: de})
}
