package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/park285/hpl-runner/pkg/gamedto"
)

const schema = `CREATE TABLE IF NOT EXISTS hpl_attempts (
    attempt_id   TEXT PRIMARY KEY,
    guest_id     TEXT NOT NULL DEFAULT '',
    session_id   TEXT NOT NULL DEFAULT '',
    minigame_id  TEXT NOT NULL,
    won          BOOLEAN NOT NULL,
    score        INTEGER NOT NULL,
    remaining    INTEGER NOT NULL,
    elapsed_ms   BIGINT NOT NULL,
    answer_count INTEGER NOT NULL,
    offline      BOOLEAN NOT NULL DEFAULT FALSE,
    submitted    BOOLEAN NOT NULL DEFAULT FALSE,
    submit_error TEXT NOT NULL DEFAULT '',
    started_at   TIMESTAMPTZ,
    finished_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS hpl_attempts_guest_idx ON hpl_attempts (guest_id, finished_at DESC);`

const upsertSQL = `INSERT INTO hpl_attempts (
    attempt_id, guest_id, session_id, minigame_id, won, score, remaining,
    elapsed_ms, answer_count, offline, submitted, submit_error, started_at, finished_at
  ) VALUES (
    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
  ) ON CONFLICT (attempt_id) DO UPDATE SET
    guest_id=EXCLUDED.guest_id,
    session_id=EXCLUDED.session_id,
    minigame_id=EXCLUDED.minigame_id,
    won=EXCLUDED.won,
    score=EXCLUDED.score,
    remaining=EXCLUDED.remaining,
    elapsed_ms=EXCLUDED.elapsed_ms,
    answer_count=EXCLUDED.answer_count,
    offline=EXCLUDED.offline,
    submitted=EXCLUDED.submitted,
    submit_error=EXCLUDED.submit_error,
    started_at=EXCLUDED.started_at,
    finished_at=EXCLUDED.finished_at`

const recentSQL = `SELECT attempt_id, guest_id, session_id, minigame_id, won, score, remaining,
    elapsed_ms, answer_count, offline, submitted, submit_error, started_at, finished_at
  FROM hpl_attempts
  WHERE ($1 = '' OR guest_id = $1)
  ORDER BY finished_at DESC
  LIMIT $2`

type Postgres struct {
	db *sql.DB
}

func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	p := &Postgres{db: db}
	if err := p.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure hpl_attempts: %w", err)
	}
	return nil
}

// Record upserts the attempt keyed by attempt id.
func (p *Postgres) Record(ctx context.Context, r gamedto.GameResult) error {
	if r.AttemptID == "" {
		return ErrMissingAttemptID
	}
	_, err := p.db.ExecContext(ctx, upsertSQL, upsertArgs(r)...)
	if err != nil {
		return fmt.Errorf("upsert attempt %s: %w", r.AttemptID, err)
	}
	return nil
}

func upsertArgs(r gamedto.GameResult) []any {
	var started sql.NullTime
	if !r.StartedAt.IsZero() {
		started = sql.NullTime{Time: r.StartedAt.UTC(), Valid: true}
	}
	finished := r.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	return []any{
		r.AttemptID, r.GuestID, r.SessionID, r.MinigameID, r.Won, r.Score, r.Remaining,
		r.ElapsedMs, r.AnswerCount, r.Offline, r.Submitted, r.SubmitError, started, finished.UTC(),
	}
}

func (p *Postgres) Recent(ctx context.Context, guestID string, limit int) ([]gamedto.GameResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := p.db.QueryContext(ctx, recentSQL, guestID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []gamedto.GameResult
	for rows.Next() {
		var r gamedto.GameResult
		var started sql.NullTime
		if err := rows.Scan(&r.AttemptID, &r.GuestID, &r.SessionID, &r.MinigameID, &r.Won, &r.Score, &r.Remaining,
			&r.ElapsedMs, &r.AnswerCount, &r.Offline, &r.Submitted, &r.SubmitError, &started, &r.FinishedAt); err != nil {
			return nil, err
		}
		if started.Valid {
			r.StartedAt = started.Time
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
