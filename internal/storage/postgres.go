package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS executions (
	id            TEXT PRIMARY KEY,
	kind          TEXT NOT NULL,
	code_hash     TEXT NOT NULL,
	success       BOOLEAN NOT NULL,
	output        TEXT NOT NULL DEFAULT '',
	error         TEXT NOT NULL DEFAULT '',
	rows_affected BIGINT NOT NULL DEFAULT 0,
	duration_ms   BIGINT NOT NULL DEFAULT 0,
	status        TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	completed_at  TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS attempts (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	exercise_id  TEXT NOT NULL,
	passed       BOOLEAN NOT NULL,
	score        INTEGER NOT NULL,
	attempt_data JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS attempts_user_exercise_idx ON attempts (user_id, exercise_id);
CREATE TABLE IF NOT EXISTS user_progress (
	user_id TEXT PRIMARY KEY,
	xp      INTEGER NOT NULL DEFAULT 0,
	level   INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS hint_usages (
	user_id TEXT NOT NULL,
	hint_id TEXT NOT NULL,
	used_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, hint_id)
);`

// DB wraps a PostgreSQL connection pool for attempts and audit logging.
type DB struct {
	pool *pgxpool.Pool
}

// PoolOptions sizes the connection pool. Zero values keep the defaults.
type PoolOptions struct {
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
}

// New creates a new database connection pool.
func New(ctx context.Context, dsn string, opts PoolOptions) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database DSN: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute
	if opts.MaxConns > 0 {
		config.MaxConns = int32(opts.MaxConns)
	}
	if opts.MinConns > 0 {
		config.MinConns = int32(min(opts.MinConns, int(config.MaxConns)))
	}
	if opts.MaxConnLifetime > 0 {
		config.MaxConnLifetime = opts.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log.Info().Msg("connected to PostgreSQL")
	return &DB{pool: pool}, nil
}

// Migrate creates the tables if they do not exist.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Healthy checks database connectivity.
func (db *DB) Healthy(ctx context.Context) bool {
	return db.pool.Ping(ctx) == nil
}

// RecordAttempt inserts the attempt and updates user progress in one
// transaction. The progress row is locked so two concurrent first passes
// cannot both earn XP.
func (db *DB) RecordAttempt(ctx context.Context, a *Attempt, xpReward int) (AttemptOutcome, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(a.Data)
	if err != nil {
		return AttemptOutcome{}, fmt.Errorf("encoding attempt data: %w", err)
	}

	var out AttemptOutcome
	err = pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO user_progress (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
			a.UserID,
		); err != nil {
			return fmt.Errorf("ensuring progress row: %w", err)
		}

		var xp, level int
		if err := tx.QueryRow(ctx,
			`SELECT xp, level FROM user_progress WHERE user_id = $1 FOR UPDATE`,
			a.UserID,
		).Scan(&xp, &level); err != nil {
			return fmt.Errorf("locking progress: %w", err)
		}

		var alreadyPassed bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM attempts WHERE user_id = $1 AND exercise_id = $2 AND passed)`,
			a.UserID, a.ExerciseID,
		).Scan(&alreadyPassed); err != nil {
			return fmt.Errorf("checking previous attempts: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO attempts (id, user_id, exercise_id, passed, score, attempt_data, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			a.ID, a.UserID, a.ExerciseID, a.Passed, a.Score, data, a.CreatedAt,
		); err != nil {
			return fmt.Errorf("inserting attempt: %w", err)
		}

		if a.Passed && !alreadyPassed && xpReward > 0 {
			xp += xpReward
			out.XPAwarded = xpReward
		}
		level = max(level, LevelForXP(xp))
		out.TotalXP, out.Level = xp, level

		if _, err := tx.Exec(ctx,
			`UPDATE user_progress SET xp = $2, level = $3 WHERE user_id = $1`,
			a.UserID, xp, level,
		); err != nil {
			return fmt.Errorf("updating progress: %w", err)
		}
		return nil
	})
	if err != nil {
		return AttemptOutcome{}, err
	}
	return out, nil
}

// UseHint records a hint reveal and deducts its cost in one transaction.
// The usage row's primary key makes a repeat reveal free.
func (db *DB) UseHint(ctx context.Context, userID, hintID string, xpCost int) (HintOutcome, error) {
	var out HintOutcome
	err := pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO user_progress (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
			userID,
		); err != nil {
			return fmt.Errorf("ensuring progress row: %w", err)
		}

		var xp int
		if err := tx.QueryRow(ctx,
			`SELECT xp FROM user_progress WHERE user_id = $1 FOR UPDATE`,
			userID,
		).Scan(&xp); err != nil {
			return fmt.Errorf("locking progress: %w", err)
		}

		tag, err := tx.Exec(ctx,
			`INSERT INTO hint_usages (user_id, hint_id, used_at) VALUES ($1, $2, $3)
			ON CONFLICT (user_id, hint_id) DO NOTHING`,
			userID, hintID, time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("recording hint usage: %w", err)
		}
		if tag.RowsAffected() == 0 {
			out = HintOutcome{AlreadyUsed: true, RemainingXP: xp}
			return nil
		}

		if xpCost > 0 {
			xp = max(0, xp-xpCost)
			if _, err := tx.Exec(ctx,
				`UPDATE user_progress SET xp = $2 WHERE user_id = $1`,
				userID, xp,
			); err != nil {
				return fmt.Errorf("updating progress: %w", err)
			}
		}
		out = HintOutcome{XPCost: xpCost, RemainingXP: xp}
		return nil
	})
	if err != nil {
		return HintOutcome{}, err
	}
	return out, nil
}

// ListAttempts queries attempts with optional filters.
func (db *DB) ListAttempts(ctx context.Context, filter AttemptFilter) ([]Attempt, error) {
	query := `
		SELECT id, user_id, exercise_id, passed, score, attempt_data, created_at
		FROM attempts
		WHERE ($1 = '' OR user_id = $1)
		  AND ($2 = '' OR exercise_id = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`

	rows, err := db.pool.Query(ctx, query,
		filter.UserID, filter.ExerciseID, clampLimit(filter.Limit), filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying attempts: %w", err)
	}
	defer rows.Close()

	results := []Attempt{}
	for rows.Next() {
		var (
			a    Attempt
			data []byte
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.ExerciseID, &a.Passed, &a.Score, &data, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning attempt row: %w", err)
		}
		if err := json.Unmarshal(data, &a.Data); err != nil {
			return nil, fmt.Errorf("decoding attempt %s data: %w", a.ID, err)
		}
		results = append(results, a)
	}

	return results, rows.Err()
}

// LogExecution inserts an execution record into the audit log.
func (db *DB) LogExecution(ctx context.Context, exec *Execution) error {
	query := `
		INSERT INTO executions (id, kind, code_hash, success, output, error,
			rows_affected, duration_ms, status, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := db.pool.Exec(ctx, query,
		exec.ID, exec.Kind, exec.CodeHash, exec.Success,
		truncateForDB(exec.Output, 65535),
		truncateForDB(exec.Error, 65535),
		exec.RowsAffected, exec.DurationMS, exec.Status,
		exec.CreatedAt, exec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting execution: %w", err)
	}
	return nil
}

// GetExecution retrieves a single execution by ID.
func (db *DB) GetExecution(ctx context.Context, id string) (*Execution, error) {
	query := `
		SELECT id, kind, code_hash, success, output, error,
			rows_affected, duration_ms, status, created_at, completed_at
		FROM executions WHERE id = $1`

	var exec Execution
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&exec.ID, &exec.Kind, &exec.CodeHash, &exec.Success,
		&exec.Output, &exec.Error,
		&exec.RowsAffected, &exec.DurationMS, &exec.Status,
		&exec.CreatedAt, &exec.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying execution %s: %w", id, err)
	}
	return &exec, nil
}

// ListExecutions queries executions with optional filters.
func (db *DB) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]Execution, error) {
	query := `
		SELECT id, kind, code_hash, success, rows_affected, duration_ms,
			status, created_at, completed_at
		FROM executions
		WHERE ($1 = '' OR kind = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`

	rows, err := db.pool.Query(ctx, query,
		filter.Kind, filter.Status, clampLimit(filter.Limit), filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close()

	results := []Execution{}
	for rows.Next() {
		var exec Execution
		if err := rows.Scan(
			&exec.ID, &exec.Kind, &exec.CodeHash, &exec.Success,
			&exec.RowsAffected, &exec.DurationMS, &exec.Status,
			&exec.CreatedAt, &exec.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning execution row: %w", err)
		}
		results = append(results, exec)
	}

	return results, rows.Err()
}

// truncateForDB cuts s to at most maxLen bytes without splitting a rune.
func truncateForDB(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen]
}
