package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"bird-quiz-kiosk/internal/domain"
)

// BirdSource loads the bird collection from Postgres.
type BirdSource struct {
	pool *pgxpool.Pool
}

func NewBirdSource(pool *pgxpool.Pool) *BirdSource {
	return &BirdSource{pool: pool}
}

// ListBirds returns every bird of the category.
func (s *BirdSource) ListBirds(ctx context.Context, category string) ([]domain.Bird, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, image_ref, category FROM birds WHERE category=$1`, category)
	if err != nil {
		return nil, fmt.Errorf("%w: list birds: %v", domain.ErrDataSource, err)
	}
	defer rows.Close()

	var birds []domain.Bird
	for rows.Next() {
		var b domain.Bird
		if err := rows.Scan(&b.Name, &b.ImageRef, &b.Category); err != nil {
			return nil, fmt.Errorf("%w: scan bird: %v", domain.ErrDataSource, err)
		}
		birds = append(birds, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list birds: %v", domain.ErrDataSource, err)
	}
	return birds, nil
}
