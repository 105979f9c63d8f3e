package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"bird-quiz-kiosk/internal/domain"
)

// ResultRecorder persists finished attempts in the quiz_results table.
type ResultRecorder struct {
	pool *pgxpool.Pool
}

func NewResultRecorder(pool *pgxpool.Pool) *ResultRecorder {
	return &ResultRecorder{pool: pool}
}

// RecordAttempt inserts one finished attempt.
func (r *ResultRecorder) RecordAttempt(ctx context.Context, player domain.Player, snapshot domain.FinalSnapshot) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO quiz_results (id, first_name, email, category, score, total_questions, duration_seconds, finish_reason)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.NewString(), player.FirstName, player.Email, snapshot.Category,
		snapshot.Score, snapshot.Total, snapshot.DurationSeconds, string(snapshot.Reason))
	if err != nil {
		return fmt.Errorf("%w: record attempt: %v", domain.ErrDataSource, err)
	}
	return nil
}

// FetchBest returns the best attempt for a category: highest score first,
// ties broken by the fastest run.
func (r *ResultRecorder) FetchBest(ctx context.Context, category string) (*domain.BestEntry, error) {
	var entry domain.BestEntry
	err := r.pool.QueryRow(ctx,
		`SELECT score, total_questions, duration_seconds FROM quiz_results
		 WHERE category=$1
		 ORDER BY score DESC, duration_seconds ASC
		 LIMIT 1`, category).
		Scan(&entry.Score, &entry.Total, &entry.DurationSeconds)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: fetch best: %v", domain.ErrDataSource, err)
	}
	return &entry, nil
}
