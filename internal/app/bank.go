package app

import (
	"context"
	"math/rand"

	"bird-quiz-kiosk/internal/domain"
)

// BirdSource supplies candidate birds for a category (DB-backed in
// production, static in tests).
type BirdSource interface {
	ListBirds(ctx context.Context, category string) ([]domain.Bird, error)
}

// BuildBatch assembles count questions from the candidate birds.
//
// Candidates are shuffled, then each becomes the correct answer of a
// question in turn: distractors are drawn from same-category birds first,
// topped up from the remaining pool. A candidate with fewer than two valid
// distractors is skipped. Partial batches are never returned; when the pool
// cannot fill the batch the whole build fails with ErrInsufficientQuestions.
func BuildBatch(birds []domain.Bird, count int, rnd *rand.Rand) ([]domain.Question, error) {
	pool := append([]domain.Bird(nil), birds...)
	rnd.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})

	questions := make([]domain.Question, 0, count)
	for _, bird := range pool {
		if len(questions) >= count {
			break
		}
		options := distractorsFor(bird, pool, rnd)
		if len(options) < domain.OptionsPerQuestion {
			continue
		}
		rnd.Shuffle(len(options), func(i, j int) {
			options[i], options[j] = options[j], options[i]
		})
		questions = append(questions, domain.Question{
			CorrectAnswer: bird.Name,
			ImageRef:      bird.ImageRef,
			Options:       options,
		})
	}

	if len(questions) < count {
		return nil, domain.ErrInsufficientQuestions
	}
	return questions, nil
}

// distractorsFor returns the correct name plus up to two distinct distractor
// names, same-category birds preferred.
func distractorsFor(correct domain.Bird, pool []domain.Bird, rnd *rand.Rand) []string {
	seen := map[string]bool{correct.Name: true}
	options := []string{correct.Name}

	sameCategory := make([]domain.Bird, 0, len(pool))
	for _, b := range pool {
		if b.Category == correct.Category && b.Name != correct.Name {
			sameCategory = append(sameCategory, b)
		}
	}
	rnd.Shuffle(len(sameCategory), func(i, j int) {
		sameCategory[i], sameCategory[j] = sameCategory[j], sameCategory[i]
	})
	for _, b := range sameCategory {
		if len(options) >= domain.OptionsPerQuestion {
			break
		}
		if !seen[b.Name] {
			seen[b.Name] = true
			options = append(options, b.Name)
		}
	}

	for _, b := range pool {
		if len(options) >= domain.OptionsPerQuestion {
			break
		}
		if !seen[b.Name] {
			seen[b.Name] = true
			options = append(options, b.Name)
		}
	}
	return options
}
