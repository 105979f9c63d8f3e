package memory

import (
	"context"
	"sync"

	"bird-quiz-kiosk/internal/domain"
)

// ResultRecorder is an in-memory implementation of app.ResultRecorder.
type ResultRecorder struct {
	mu       sync.Mutex
	attempts []recordedAttempt
	best     map[string]domain.BestEntry
}

type recordedAttempt struct {
	player   domain.Player
	snapshot domain.FinalSnapshot
}

func NewResultRecorder() *ResultRecorder {
	return &ResultRecorder{
		best: make(map[string]domain.BestEntry),
	}
}

// RecordAttempt stores the attempt and updates the per-category best.
func (r *ResultRecorder) RecordAttempt(_ context.Context, player domain.Player, snapshot domain.FinalSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.attempts = append(r.attempts, recordedAttempt{player: player, snapshot: snapshot})

	entry := domain.BestEntry{
		Score:           snapshot.Score,
		Total:           snapshot.Total,
		DurationSeconds: snapshot.DurationSeconds,
	}
	if current, ok := r.best[snapshot.Category]; !ok || current.BeatenBy(snapshot) {
		r.best[snapshot.Category] = entry
	}
	return nil
}

// FetchBest returns the best recorded attempt for a category, or nil.
func (r *ResultRecorder) FetchBest(_ context.Context, category string) (*domain.BestEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.best[category]; ok {
		copied := entry
		return &copied, nil
	}
	return nil, nil
}

// AttemptCount reports how many attempts have been recorded (test helper).
func (r *ResultRecorder) AttemptCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attempts)
}
