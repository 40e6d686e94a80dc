package scorestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/park285/scorekeeper/internal/breakrule"
	"github.com/park285/scorekeeper/internal/livegame"
)

// Queries use $n placeholders in order of first appearance and no driver-specific
// casts, so the same text runs on lib/pq and go-sqlite3.

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

// Open opens and pings a database for driver "postgres" or "sqlite3".
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite3" {
		// in-memory sqlite lives and dies with a single connection
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(16)
		db.SetMaxIdleConns(8)
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

const scoreColumns = `
			s.id,
			s.public_id,
			s.game_kind,
			s.creator_id,
			s.opponent_id,
			s.opponent_name,
			s.score_a,
			s.score_b,
			s.date,
			s.created_at,
			s.live_game_id,
			p.break_rule,
			p.first_breaker_side,
			p.current_breaker_side,
			p.last_rack_winner_side`

const scoreFrom = `
		FROM scores s
		LEFT JOIN pool_settings p ON p.score_id = s.id`

func (r *repository) InsertScore(ctx context.Context, s *Score) (int64, error) {
	if err := validateScore(s); err != nil {
		return 0, err
	}
	const query = `
		INSERT INTO scores (
			public_id,
			game_kind,
			creator_id,
			opponent_id,
			opponent_name,
			score_a,
			score_b,
			date,
			created_at,
			live_game_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (live_game_id) DO NOTHING
		RETURNING id`

	created := s.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	var id sql.NullInt64
	err := r.db.QueryRowContext(ctx, query,
		s.PublicID,
		string(s.Kind),
		s.CreatorID,
		nullString(s.OpponentID),
		s.OpponentName,
		s.Score.A,
		s.Score.B,
		s.Date.UTC(),
		created.UTC(),
		nullString(s.LiveGameID),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !id.Valid) || isUniqueViolation(err) {
		return 0, ErrDuplicateScore
	}
	if err != nil {
		return 0, fmt.Errorf("insert score: %w", err)
	}
	s.ID = id.Int64
	return id.Int64, nil
}

func (r *repository) ScoreByLiveGame(ctx context.Context, liveGameID string) (*Score, error) {
	query := `SELECT` + scoreColumns + scoreFrom + `
		WHERE s.live_game_id = $1`
	return r.one(ctx, query, strings.TrimSpace(liveGameID))
}

func (r *repository) AttachPool(ctx context.Context, scoreID int64, liveGameID string, ps livegame.PoolState) error {
	if err := validatePool(ps); err != nil {
		return err
	}
	const query = `
		INSERT INTO pool_settings (
			score_id,
			live_game_id,
			break_rule,
			first_breaker_side,
			current_breaker_side,
			last_rack_winner_side
		)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (score_id) DO UPDATE SET
			live_game_id = excluded.live_game_id,
			break_rule = excluded.break_rule,
			first_breaker_side = excluded.first_breaker_side,
			current_breaker_side = excluded.current_breaker_side,
			last_rack_winner_side = excluded.last_rack_winner_side`

	var exists int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM scores WHERE id = $1`, scoreID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup score: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query,
		scoreID,
		nullString(liveGameID),
		string(ps.BreakRule),
		string(ps.FirstBreaker),
		string(ps.CurrentBreaker),
		nullString(string(ps.LastRackWinner)),
	); err != nil {
		return fmt.Errorf("attach pool settings: %w", err)
	}
	return nil
}

func (r *repository) GetScore(ctx context.Context, id int64) (*Score, error) {
	query := `SELECT` + scoreColumns + scoreFrom + `
		WHERE s.id = $1`
	return r.one(ctx, query, id)
}

func (r *repository) RecentScores(ctx context.Context, userID string, limit int) ([]*Score, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `SELECT` + scoreColumns + scoreFrom + `
		WHERE s.creator_id = $1 OR s.opponent_id = $1
		ORDER BY s.date DESC, s.id DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, strings.TrimSpace(userID), limit)
	if err != nil {
		return nil, fmt.Errorf("select scores: %w", err)
	}
	defer rows.Close()

	out := make([]*Score, 0, limit)
	for rows.Next() {
		s, err := scanScore(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scores: %w", err)
	}
	return out, nil
}

func (r *repository) UpdateScore(ctx context.Context, id int64, ownerID string, e Edit) (*Score, error) {
	cur, err := r.owned(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if err := applyEdit(cur, e); err != nil {
		return nil, err
	}
	const query = `
		UPDATE scores
		SET score_a = $1, score_b = $2, date = $3
		WHERE id = $4 AND creator_id = $5`
	if _, err := r.db.ExecContext(ctx, query, cur.Score.A, cur.Score.B, cur.Date.UTC(), id, cur.CreatorID); err != nil {
		return nil, fmt.Errorf("update score: %w", err)
	}
	return cur, nil
}

func (r *repository) DeleteScore(ctx context.Context, id int64, ownerID string) error {
	if _, err := r.owned(ctx, id, ownerID); err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM pool_settings WHERE score_id = $1`, id); err != nil {
		return fmt.Errorf("delete pool settings: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM scores WHERE id = $1 AND creator_id = $2`, id, strings.TrimSpace(ownerID)); err != nil {
		return fmt.Errorf("delete score: %w", err)
	}
	return tx.Commit()
}

func (r *repository) owned(ctx context.Context, id int64, ownerID string) (*Score, error) {
	cur, err := r.GetScore(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.CreatorID != strings.TrimSpace(ownerID) {
		return nil, ErrNotOwner
	}
	return cur, nil
}

func (r *repository) one(ctx context.Context, query string, arg any) (*Score, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("select score: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return scanScore(rows)
}

func scanScore(rows *sql.Rows) (*Score, error) {
	var (
		s          Score
		kind       string
		opponentID sql.NullString
		liveGameID sql.NullString
		rule       sql.NullString
		first      sql.NullString
		current    sql.NullString
		lastWinner sql.NullString
	)
	if err := rows.Scan(
		&s.ID,
		&s.PublicID,
		&kind,
		&s.CreatorID,
		&opponentID,
		&s.OpponentName,
		&s.Score.A,
		&s.Score.B,
		&s.Date,
		&s.CreatedAt,
		&liveGameID,
		&rule,
		&first,
		&current,
		&lastWinner,
	); err != nil {
		return nil, fmt.Errorf("scan score: %w", err)
	}
	s.Kind = livegame.GameKind(kind)
	s.OpponentID = opponentID.String
	s.LiveGameID = liveGameID.String
	if rule.Valid {
		s.Pool = &livegame.PoolState{
			BreakRule:      breakrule.Rule(rule.String),
			FirstBreaker:   breakrule.Side(first.String),
			CurrentBreaker: breakrule.Side(current.String),
			LastRackWinner: breakrule.Side(lastWinner.String),
		}
	}
	return &s, nil
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		return sqErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
