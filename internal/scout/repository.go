package scout

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Repository persists findings to Postgres. It is an optional sink:
// runs without DATABASE_URL never construct one.
type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("database url is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	r := &Repository{db: db}
	if err := r.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repository) ensureSchema(ctx context.Context) error {
	const q = `CREATE TABLE IF NOT EXISTS scout_findings (
		run_id      TEXT        NOT NULL,
		seq         INTEGER     NOT NULL,
		fen         TEXT        NOT NULL,
		score       TEXT        NOT NULL,
		duration_ms BIGINT      NOT NULL,
		found_at    TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (run_id, seq)
	)`
	_, err := r.db.ExecContext(ctx, q)
	return err
}

// Record upserts one finding keyed by (run_id, seq).
func (r *Repository) Record(ctx context.Context, f *Finding) error {
	if r == nil || r.db == nil || f == nil {
		return nil
	}
	const q = `INSERT INTO scout_findings (run_id, seq, fen, score, duration_ms, found_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (run_id, seq) DO UPDATE SET
			fen=EXCLUDED.fen,
			score=EXCLUDED.score,
			duration_ms=EXCLUDED.duration_ms,
			found_at=EXCLUDED.found_at`
	_, err := r.db.ExecContext(ctx, q,
		f.RunID, f.Seq, f.FEN, f.Score, f.Duration.Milliseconds(), f.FoundAt)
	return err
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}
