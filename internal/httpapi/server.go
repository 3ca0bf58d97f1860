// Package httpapi exposes the match server over REST and a websocket command stream.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Match-server/internal/board"
	"github.com/park285/Cheese-Match-server/internal/domain"
	"github.com/park285/Cheese-Match-server/internal/identity"
	"github.com/park285/Cheese-Match-server/internal/matchmaking"
	"github.com/park285/Cheese-Match-server/internal/msgcat"
	"github.com/park285/Cheese-Match-server/internal/obslog"
	"github.com/park285/Cheese-Match-server/internal/relay"
	"github.com/park285/Cheese-Match-server/internal/room"
	"github.com/park285/Cheese-Match-server/internal/session"
	"github.com/park285/Cheese-Match-server/pkg/matchdto"
)

type Matchmaker interface {
	RequestMatch(ctx context.Context, identity string) (matchmaking.Result, error)
	PollMatch(identity string) matchmaking.Result
	CancelWaiting(identity string) bool
}

type Rooms interface {
	CreateRoom(ctx context.Context, host string, timeLimit *int) (*room.Room, error)
	JoinRoom(ctx context.Context, code, guest string) (*room.Room, error)
	FinalizeSetup(ctx context.Context, code, caller, hostColor string) (string, error)
	RoomStatus(ctx context.Context, code string) (*room.Room, error)
}

// Games is the gameplay surface of session.Coordinator.
type Games interface {
	Join(ctx context.Context, matchID, caller string) (session.Snapshot, error)
	ApplyMove(ctx context.Context, matchID, caller string, req matchdto.MoveRequest) (*session.MoveResult, error)
	Resign(ctx context.Context, matchID, caller string) error
	OfferDraw(ctx context.Context, matchID, caller string) error
	AcceptDraw(ctx context.Context, matchID, caller string) error
	DeclineDraw(ctx context.Context, matchID, caller string) error
	Chat(ctx context.Context, matchID, caller, message string) error
	Position(ctx context.Context, matchID, caller string) (session.Snapshot, board.Color, error)
	History(ctx context.Context, matchID, caller string) ([]matchdto.MoveView, error)
	Details(ctx context.Context, matchID, caller string) (*matchdto.MatchDetails, error)
}

type ResultSaver interface {
	SaveGameResult(ctx context.Context, r *domain.GameResult) (int64, error)
}

// Deps are the collaborators the server dispatches to.
type Deps struct {
	Pool     Matchmaker
	Rooms    Rooms
	Games    Games
	Results  ResultSaver
	Hub      *relay.Hub
	Verifier identity.Verifier
	Messages *msgcat.Catalog
}

type Server struct {
	r    *chi.Mux
	deps Deps
	now  func() time.Time

	// 0이면 websocket keepalive 없음
	pingInterval   time.Duration
	originPatterns []string

	streamsMu sync.Mutex
	streams   map[*stream]struct{}
	draining  bool
	live      sync.WaitGroup
}

type Option func(*Server)

// WithPingInterval enables websocket pings on idle connections.
func WithPingInterval(d time.Duration) Option {
	return func(s *Server) { s.pingInterval = d }
}

// WithOriginPatterns allows cross-origin websocket upgrades from matching hosts.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.originPatterns = patterns }
}

func New(deps Deps, opts ...Option) *Server {
	if deps.Messages == nil {
		deps.Messages = msgcat.MustDefault()
	}
	s := &Server{
		r:            chi.NewRouter(),
		deps:         deps,
		now:          time.Now,
		pingInterval: 30 * time.Second,
		streams:      make(map[*stream]struct{}),
	}
	for _, o := range opts {
		o(s)
	}

	s.r.Use(chimw.RequestID)
	s.r.Use(chimw.RealIP)
	s.r.Use(accessLog)
	s.r.Use(chimw.Recoverer)

	s.r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})

	s.r.Group(func(r chi.Router) {
		r.Use(s.requireIdentity)
		r.Get("/ws", s.handleStream)

		r.Route("/game", func(r chi.Router) {
			r.Use(chimw.Timeout(15 * time.Second))
			r.Post("/", s.handleRequestMatch)
			r.Get("/check-match", s.handlePollMatch)
			r.Post("/cancel-waiting", s.handleCancelWaiting)
			r.Post("/bot/save", s.handleSaveBotResult)

			r.Route("/online", func(r chi.Router) {
				r.Post("/create", s.handleCreateRoom)
				r.Post("/join", s.handleJoinRoom)
				r.Post("/setup", s.handleSetupRoom)
				r.Get("/status/{code}", s.handleRoomStatus)
			})

			r.Get("/{matchId}", s.handleMatchDetails)
			r.Get("/{matchId}/moves", s.handleMoveHistory)
			r.Get("/{matchId}/board.png", s.handleBoardImage)
		})
	})

	s.r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, errRouteNotFound)
	})
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.r }

func (s *Server) requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.deps.Verifier.Verify(r.Context(), r)
		if err != nil || id == "" {
			if err != nil && !isUnauthenticated(err) {
				obslog.L().Warn("http_identity_check_failed", zap.String("path", r.URL.Path), zap.Error(err))
			}
			s.writeError(w, r, identity.ErrUnauthenticated)
			return
		}
		next.ServeHTTP(w, r.WithContext(identity.WithIdentity(r.Context(), id)))
	})
}

func caller(r *http.Request) string {
	id, _ := identity.FromContext(r.Context())
	return id
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		obslog.L().Debug("http_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", chimw.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		obslog.L().Debug("http_write_failed", zap.Error(err))
	}
}

// decode reads a JSON body. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return errBadRequest
	}
	return nil
}
