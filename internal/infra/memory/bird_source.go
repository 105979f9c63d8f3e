package memory

import (
	"context"

	"bird-quiz-kiosk/internal/domain"
)

// StaticBirdSource serves a fixed bird list (useful for tests/demos).
type StaticBirdSource struct {
	birds []domain.Bird
}

func NewStaticBirdSource(birds []domain.Bird) *StaticBirdSource {
	return &StaticBirdSource{birds: birds}
}

// ListBirds returns the birds of one category.
func (s *StaticBirdSource) ListBirds(_ context.Context, category string) ([]domain.Bird, error) {
	matched := make([]domain.Bird, 0, len(s.birds))
	for _, b := range s.birds {
		if b.Category == category {
			matched = append(matched, b)
		}
	}
	return matched, nil
}
