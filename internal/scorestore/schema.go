package scorestore

import (
	"context"
	"database/sql"
	"fmt"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS scores (
		id BIGSERIAL PRIMARY KEY,
		public_id TEXT NOT NULL UNIQUE,
		game_kind TEXT NOT NULL,
		creator_id TEXT NOT NULL,
		opponent_id TEXT,
		opponent_name TEXT NOT NULL DEFAULT '',
		score_a INTEGER NOT NULL CHECK (score_a >= 0),
		score_b INTEGER NOT NULL CHECK (score_b >= 0),
		date TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		live_game_id TEXT UNIQUE
	)`,
	`CREATE INDEX IF NOT EXISTS scores_creator_date_idx ON scores (creator_id, date DESC)`,
	`CREATE INDEX IF NOT EXISTS scores_opponent_date_idx ON scores (opponent_id, date DESC)`,
	`CREATE TABLE IF NOT EXISTS pool_settings (
		id BIGSERIAL PRIMARY KEY,
		score_id BIGINT UNIQUE REFERENCES scores (id) ON DELETE CASCADE,
		live_game_id TEXT,
		break_rule TEXT NOT NULL CHECK (break_rule IN ('alternate', 'winner_stays')),
		first_breaker_side TEXT NOT NULL CHECK (first_breaker_side IN ('side1', 'side2')),
		current_breaker_side TEXT NOT NULL CHECK (current_breaker_side IN ('side1', 'side2')),
		last_rack_winner_side TEXT CHECK (last_rack_winner_side IN ('side1', 'side2'))
	)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS scores (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		public_id TEXT NOT NULL UNIQUE,
		game_kind TEXT NOT NULL,
		creator_id TEXT NOT NULL,
		opponent_id TEXT,
		opponent_name TEXT NOT NULL DEFAULT '',
		score_a INTEGER NOT NULL CHECK (score_a >= 0),
		score_b INTEGER NOT NULL CHECK (score_b >= 0),
		date TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL,
		live_game_id TEXT UNIQUE
	)`,
	`CREATE INDEX IF NOT EXISTS scores_creator_date_idx ON scores (creator_id, date DESC)`,
	`CREATE INDEX IF NOT EXISTS scores_opponent_date_idx ON scores (opponent_id, date DESC)`,
	`CREATE TABLE IF NOT EXISTS pool_settings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		score_id INTEGER UNIQUE REFERENCES scores (id) ON DELETE CASCADE,
		live_game_id TEXT,
		break_rule TEXT NOT NULL CHECK (break_rule IN ('alternate', 'winner_stays')),
		first_breaker_side TEXT NOT NULL CHECK (first_breaker_side IN ('side1', 'side2')),
		current_breaker_side TEXT NOT NULL CHECK (current_breaker_side IN ('side1', 'side2')),
		last_rack_winner_side TEXT CHECK (last_rack_winner_side IN ('side1', 'side2'))
	)`,
}

// Migrate creates the score tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	stmts := postgresSchema
	if driver == "sqlite3" {
		stmts = sqliteSchema
	}
	for i, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
