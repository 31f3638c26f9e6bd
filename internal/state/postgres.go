package state

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v4/stdlib" // registers the pgx database/sql driver
)

const armStatsSchema = `
CREATE TABLE IF NOT EXISTS runner_arm_stats (
	runner_key     text PRIMARY KEY,
	pulls          bigint NOT NULL DEFAULT 0,
	total_reward   double precision NOT NULL DEFAULT 0,
	successes      bigint NOT NULL DEFAULT 0,
	failures       bigint NOT NULL DEFAULT 0,
	total_duration double precision NOT NULL DEFAULT 0
)`

// PostgresBackend persists the document in a single Postgres table, one row
// per runner arm. The whole document is rewritten in a transaction on save,
// matching the backend contract's last-writer-wins model.
type PostgresBackend struct {
	db *sql.DB
}

// NewPostgresBackend opens a connection pool against dsn and ensures the
// schema exists.
func NewPostgresBackend(ctx context.Context, dsn string) (*PostgresBackend, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if _, err := db.ExecContext(ctx, armStatsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure arm stats schema: %w", err)
	}
	return &PostgresBackend{db: db}, nil
}

// Close releases the connection pool.
func (b *PostgresBackend) Close() error {
	return b.db.Close()
}

// Load reads every arm row. TotalPulls is derived from the rows.
func (b *PostgresBackend) Load(ctx context.Context) (Document, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT runner_key, pulls, total_reward, successes, failures, total_duration FROM runner_arm_stats`)
	if err != nil {
		return NewDocument(), fmt.Errorf("failed to query arm stats: %w", err)
	}
	defer rows.Close()

	doc := NewDocument()
	for rows.Next() {
		var key string
		var rec ArmRecord
		if err := rows.Scan(&key, &rec.Pulls, &rec.TotalReward, &rec.Successes, &rec.Failures, &rec.TotalDuration); err != nil {
			return NewDocument(), fmt.Errorf("failed to scan arm stats row: %w", err)
		}
		doc.Runners[key] = rec
		doc.TotalPulls += rec.Pulls
	}
	if err := rows.Err(); err != nil {
		return NewDocument(), fmt.Errorf("failed to read arm stats rows: %w", err)
	}
	return doc, nil
}

// Save rewrites the table to match doc inside one transaction.
func (b *PostgresBackend) Save(ctx context.Context, doc Document) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin state transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM runner_arm_stats`); err != nil {
		return fmt.Errorf("failed to clear arm stats: %w", err)
	}
	for key, rec := range doc.Runners {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO runner_arm_stats (runner_key, pulls, total_reward, successes, failures, total_duration)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			key, rec.Pulls, rec.TotalReward, rec.Successes, rec.Failures, rec.TotalDuration); err != nil {
			return fmt.Errorf("failed to write arm stats for %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit state transaction: %w", err)
	}
	return nil
}
