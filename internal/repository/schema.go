package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// DBTX общий интерфейс *sql.DB и *sql.Tx.
// Позволяет выполнять методы репозиториев внутри транзакции.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

var (
	_ DBTX = (*sql.DB)(nil)
	_ DBTX = (*sql.Tx)(nil)
)

// schemaStatements создают таблицы игры, если их еще нет
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS players (
		id VARCHAR(64) PRIMARY KEY,
		username VARCHAR(64) NOT NULL,
		balance DECIMAL(20, 8) NOT NULL DEFAULT 0,
		total_pnl DECIMAL(20, 8) NOT NULL DEFAULT 0,
		games_played INT NOT NULL DEFAULT 0,
		games_won INT NOT NULL DEFAULT 0,
		games_lost INT NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS rounds (
		id SERIAL PRIMARY KEY,
		pair VARCHAR(20) NOT NULL,
		entry_price DECIMAL(30, 12) NOT NULL,
		exit_price DECIMAL(30, 12),
		leverage DECIMAL(10, 2) NOT NULL,
		duration_seconds DECIMAL(10, 2) NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'active',
		end_reason VARCHAR(32) NOT NULL DEFAULT '',
		started_at TIMESTAMP NOT NULL,
		ended_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS positions (
		round_id INT NOT NULL REFERENCES rounds(id) ON DELETE CASCADE,
		player_id VARCHAR(64) NOT NULL REFERENCES players(id),
		side VARCHAR(5) NOT NULL,
		entry_amount DECIMAL(20, 8) NOT NULL,
		entry_price DECIMAL(30, 12) NOT NULL,
		exit_price DECIMAL(30, 12),
		pnl DECIMAL(20, 8),
		liquidated BOOLEAN NOT NULL DEFAULT false,
		did_shoot BOOLEAN NOT NULL DEFAULT false,
		shot_at TIMESTAMP,
		PRIMARY KEY (round_id, player_id)
	)`,
	`CREATE TABLE IF NOT EXISTS lobby_entries (
		id UUID PRIMARY KEY,
		player_id VARCHAR(64) NOT NULL REFERENCES players(id),
		bet_amount DECIMAL(20, 8) NOT NULL,
		joined_at TIMESTAMP NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rounds_started_at ON rounds(started_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_positions_player ON positions(player_id)`,
}

// Migrate создает схему БД (идемпотентно)
func Migrate(ctx context.Context, db DBTX) error {
	for i, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i+1, err)
		}
	}
	return nil
}
