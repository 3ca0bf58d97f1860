package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Match-server/internal/board"
	"github.com/park285/Cheese-Match-server/internal/domain"
	"github.com/park285/Cheese-Match-server/internal/matchmaking"
	"github.com/park285/Cheese-Match-server/internal/obslog"
	"github.com/park285/Cheese-Match-server/internal/render"
	"github.com/park285/Cheese-Match-server/pkg/matchdto"
)

var errMatchStart = errors.New("match start failed")

func (s *Server) handleRequestMatch(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Pool.RequestMatch(r.Context(), caller(r))
	if err != nil {
		if !errors.Is(err, matchmaking.ErrInvalidIdentity) {
			err = errors.Join(errMatchStart, err)
		}
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res.DTO())
}

func (s *Server) handlePollMatch(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Pool.PollMatch(caller(r)).DTO())
}

func (s *Server) handleCancelWaiting(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, matchdto.CancelResponse{Cancelled: s.deps.Pool.CancelWaiting(caller(r))})
}

func (s *Server) handleMatchDetails(w http.ResponseWriter, r *http.Request) {
	d, err := s.deps.Games.Details(r.Context(), chi.URLParam(r, "matchId"), caller(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleMoveHistory(w http.ResponseWriter, r *http.Request) {
	moves, err := s.deps.Games.History(r.Context(), chi.URLParam(r, "matchId"), caller(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, moves)
}

func (s *Server) handleBoardImage(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchId")
	snap, color, err := s.deps.Games.Position(r.Context(), matchID, caller(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	opts := render.Options{
		Perspective: color,
		Header:      fmt.Sprintf("%s vs %s", snap.Player1, snap.Player2),
		Turn:        turnLabel(snap.Status, snap.Turn),
	}
	if h, ok := render.HighlightFromUCI(snap.LastUCI); ok {
		opts.Highlight = h
	}
	img, err := render.PNG(r.Context(), snap.Board, opts)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("render %s: %w", matchID, err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img)
}

func turnLabel(status domain.Status, turn board.Color) string {
	if status.Terminal() {
		return string(status)
	}
	if turn == board.Black {
		return "Black to move"
	}
	return "White to move"
}

func (s *Server) handleSaveBotResult(w http.ResponseWriter, r *http.Request) {
	var req matchdto.BotResultRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res := botResult(caller(r), req)
	res.PlayedAt = s.now()
	id, err := s.deps.Results.SaveGameResult(r.Context(), res)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("save bot result: %w", err))
		return
	}
	obslog.L().Info("bot_result_saved", zap.Int64("id", id), zap.String("player", res.Player1), zap.String("status", string(res.Status)))
	writeJSON(w, http.StatusOK, matchdto.SaveResultResponse{ID: id})
}

// botResult maps a client's free-text outcome onto a stored result.
func botResult(player string, req matchdto.BotResultRequest) *domain.GameResult {
	opponent := strings.TrimSpace(req.OpponentName)
	if opponent == "" {
		opponent = "Computer"
	}
	gameType := strings.ToUpper(strings.TrimSpace(req.GameType))
	if gameType == "" {
		gameType = "BOT"
	}
	status := botStatus(req.Status)
	winner := strings.TrimSpace(req.Winner)
	if status == domain.StatusDraw {
		winner = ""
	}
	return &domain.GameResult{
		Player1:  player,
		Player2:  opponent,
		GameType: gameType,
		Status:   status,
		Winner:   winner,
	}
}

func botStatus(raw string) domain.Status {
	s := strings.ToLower(raw)
	switch {
	case strings.Contains(s, "checkmate"):
		return domain.StatusFinished
	case strings.Contains(s, "resign"):
		return domain.StatusResigned
	case strings.Contains(s, "draw"), strings.Contains(s, "stalemate"):
		return domain.StatusDraw
	}
	return domain.StatusFinished
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req matchdto.CreateRoomRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rm, err := s.deps.Rooms.CreateRoom(r.Context(), caller(r), req.TimeLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rm.View())
}

func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	var req matchdto.JoinRoomRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rm, err := s.deps.Rooms.JoinRoom(r.Context(), req.Code, caller(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rm.View())
}

func (s *Server) handleSetupRoom(w http.ResponseWriter, r *http.Request) {
	var req matchdto.SetupRoomRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := s.deps.Rooms.FinalizeSetup(r.Context(), req.Code, caller(r), req.Color)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, matchdto.SetupRoomResponse{MatchID: id})
}

func (s *Server) handleRoomStatus(w http.ResponseWriter, r *http.Request) {
	rm, err := s.deps.Rooms.RoomStatus(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rm.View())
}
