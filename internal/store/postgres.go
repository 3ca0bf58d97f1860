package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/park285/Cheese-Match-server/internal/board"
	"github.com/park285/Cheese-Match-server/internal/domain"
)

const uniqueViolation = "23505"

type Postgres struct {
	db *sql.DB
}

// OpenPostgres opens and pings a lib/pq pool.
func OpenPostgres(databaseURL string) (*Postgres, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

// NewPostgres wraps an existing pool.
func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *Postgres) CreateMatch(ctx context.Context, m *domain.Match) error {
	if m == nil {
		return fmt.Errorf("nil match")
	}
	const q = `
		INSERT INTO matches (
			id, player1, player2, status, fen_current, current_ply, last_move_uci,
			winner, time_limit, source, created_at, started_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,NULLIF($8,''),$9,$10,$11,$12,$13)`
	var limit sql.NullInt64
	if m.TimeLimit != nil {
		limit = sql.NullInt64{Int64: int64(*m.TimeLimit), Valid: true}
	}
	_, err := p.db.ExecContext(ctx, q,
		m.ID, m.Player1, m.Player2, string(m.Status), m.FEN, m.Ply, m.LastMoveUCI,
		m.Winner, limit, m.Source, m.CreatedAt, m.StartedAt, m.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateID
	}
	if err != nil {
		return fmt.Errorf("insert match: %w", err)
	}
	return nil
}

func (p *Postgres) GetMatch(ctx context.Context, id string) (*domain.Match, error) {
	const q = `
		SELECT id, player1, player2, status, fen_current, current_ply, last_move_uci,
		       COALESCE(winner, ''), time_limit, source, created_at, started_at, finished_at, updated_at
		FROM matches WHERE id = $1`
	var (
		m        domain.Match
		status   string
		limit    sql.NullInt64
		finished sql.NullTime
	)
	err := p.db.QueryRowContext(ctx, q, id).Scan(
		&m.ID, &m.Player1, &m.Player2, &status, &m.FEN, &m.Ply, &m.LastMoveUCI,
		&m.Winner, &limit, &m.Source, &m.CreatedAt, &m.StartedAt, &finished, &m.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select match: %w", err)
	}
	m.Status = domain.Status(status)
	if limit.Valid {
		v := int(limit.Int64)
		m.TimeLimit = &v
	}
	if finished.Valid {
		m.FinishedAt = finished.Time
	}
	return &m, nil
}

func (p *Postgres) RecordMove(ctx context.Context, mv *domain.MoveRecord) error {
	if mv == nil {
		return fmt.Errorf("nil move")
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const ins = `
		INSERT INTO moves (match_id, ply, move_number, color, uci, code, fen_before, fen_after, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (match_id, ply) DO NOTHING`
	res, err := tx.ExecContext(ctx, ins,
		mv.MatchID, mv.Ply, mv.MoveNumber, string(mv.Color), mv.UCI, mv.Code,
		mv.FENBefore, mv.FENAfter, mv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert move: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDuplicateMove
	}

	// 늦게 도착한 이전 ply 쓰기가 스냅샷을 되돌리지 않도록 한다.
	const upd = `
		UPDATE matches
		SET current_ply = $2, fen_current = $3, last_move_uci = $4, updated_at = $5
		WHERE id = $1 AND current_ply < $2`
	if _, err := tx.ExecContext(ctx, upd, mv.MatchID, mv.Ply, mv.FENAfter, mv.UCI, mv.CreatedAt); err != nil {
		return fmt.Errorf("advance match: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit move: %w", err)
	}
	return nil
}

func (p *Postgres) CloseMatch(ctx context.Context, id string, status domain.Status, winner string, at time.Time) error {
	const q = `
		UPDATE matches
		SET status = $2, winner = NULLIF($3,''), finished_at = $4, updated_at = $4
		WHERE id = $1 AND status = 'IN_PROGRESS'`
	res, err := p.db.ExecContext(ctx, q, id, string(status), winner, at)
	if err != nil {
		return fmt.Errorf("close match: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var exists bool
	if err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM matches WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("close match lookup: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListMoves(ctx context.Context, matchID string) ([]*domain.MoveRecord, error) {
	const q = `
		SELECT match_id, ply, move_number, color, uci, code, fen_before, fen_after, created_at
		FROM moves WHERE match_id = $1 ORDER BY ply`
	rows, err := p.db.QueryContext(ctx, q, matchID)
	if err != nil {
		return nil, fmt.Errorf("select moves: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.MoveRecord, 0, 32)
	for rows.Next() {
		var (
			mv    domain.MoveRecord
			color string
		)
		if err := rows.Scan(&mv.MatchID, &mv.Ply, &mv.MoveNumber, &color, &mv.UCI, &mv.Code,
			&mv.FENBefore, &mv.FENAfter, &mv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan move: %w", err)
		}
		mv.Color = board.Color(color)
		out = append(out, &mv)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveGameResult(ctx context.Context, r *domain.GameResult) (int64, error) {
	if r == nil {
		return 0, fmt.Errorf("nil game result")
	}
	const q = `
		INSERT INTO game_results (player1_name, player2_name, game_type, status, winner_name, played_at)
		VALUES ($1,$2,$3,$4,NULLIF($5,''),$6)
		RETURNING id`
	var id int64
	if err := p.db.QueryRowContext(ctx, q, r.Player1, r.Player2, r.GameType, string(r.Status), r.Winner, r.PlayedAt).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert game result: %w", err)
	}
	return id, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}
