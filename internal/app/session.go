package app

import (
	"errors"
	"math/rand"
	"time"

	"bird-quiz-kiosk/internal/domain"
)

// errSubmitIgnored marks a submit swallowed by the cooldown or delivered
// outside InProgress. It is silent: no feedback, no notice.
var errSubmitIgnored = errors.New("submit ignored")

const noSelection = -1

// Session is the quiz state machine. It is not safe for concurrent use; the
// engine applies every transition on a single goroutine. A finished session
// is terminal and must be replaced wholesale to play again.
type Session struct {
	category       string
	questions      []domain.Question
	requiredCount  int
	timeLimit      int
	submitCooldown time.Duration

	status       domain.Status
	reason       domain.FinishReason
	currentIndex int
	score        int
	answered     int
	selected     int
	remaining    int
	startedAt    time.Time
	lastSubmit   time.Time

	now func() time.Time
	rnd *rand.Rand
}

// NewSession builds a NotStarted session for a category.
func NewSession(category string, requiredCount, timeLimitSeconds int, submitCooldown time.Duration) *Session {
	return NewSessionWithClock(category, requiredCount, timeLimitSeconds, submitCooldown, time.Now)
}

// NewSessionWithClock is test-only for deterministic timing.
func NewSessionWithClock(category string, requiredCount, timeLimitSeconds int, submitCooldown time.Duration, now func() time.Time) *Session {
	return &Session{
		category:       category,
		requiredCount:  requiredCount,
		timeLimit:      timeLimitSeconds,
		submitCooldown: submitCooldown,
		status:         domain.StatusNotStarted,
		selected:       noSelection,
		remaining:      timeLimitSeconds,
		now:            now,
		rnd:            rand.New(rand.NewSource(now().UnixNano())),
	}
}

// Start transitions NotStarted -> InProgress with a full question batch.
// The session stays NotStarted when the batch is short.
func (s *Session) Start(questions []domain.Question) error {
	if s.status == domain.StatusFinished {
		return domain.ErrSessionFinished
	}
	if s.status != domain.StatusNotStarted {
		return domain.ErrSessionActive
	}
	if len(questions) < s.requiredCount {
		return domain.ErrInsufficientQuestions
	}
	s.questions = questions
	s.currentIndex = 0
	s.score = 0
	s.answered = 0
	s.selected = noSelection
	s.remaining = s.timeLimit
	s.startedAt = s.now()
	s.lastSubmit = time.Time{}
	s.status = domain.StatusInProgress
	return nil
}

// SelectOption records the highlighted option for the active question. It
// neither advances nor scores. Out-of-range indices are ignored: devices
// occasionally send stale indices after a question change.
func (s *Session) SelectOption(index int) {
	if s.status != domain.StatusInProgress {
		return
	}
	if index < 0 || index >= len(s.current().Options) {
		return
	}
	s.selected = index
}

// Submit scores the selected option against the active question.
// ErrNothingSelected is feedback for the presentation layer; errSubmitIgnored
// covers cooldown spam and submits outside InProgress.
func (s *Session) Submit() (domain.SubmitResult, error) {
	if s.status != domain.StatusInProgress {
		return domain.SubmitResult{}, errSubmitIgnored
	}
	now := s.now()
	if !s.lastSubmit.IsZero() && now.Sub(s.lastSubmit) < s.submitCooldown {
		return domain.SubmitResult{}, errSubmitIgnored
	}
	if s.selected == noSelection {
		return domain.SubmitResult{}, domain.ErrNothingSelected
	}
	s.lastSubmit = now

	question := s.current()
	picked := question.Options[s.selected]
	result := domain.SubmitResult{
		WasCorrect:    picked == question.CorrectAnswer,
		CorrectAnswer: question.CorrectAnswer,
	}

	s.answered++
	if result.WasCorrect {
		s.score++
	}
	s.selected = noSelection

	if s.answered < len(s.questions) {
		s.currentIndex++
	} else {
		s.finish(domain.FinishCompleted)
	}
	return result, nil
}

// Tick decrements the countdown by one second. Reaching zero forces Finished
// with reason TimedOut regardless of progress; the returned bool reports
// whether this tick ended the session.
func (s *Session) Tick() bool {
	if s.status != domain.StatusInProgress {
		return false
	}
	s.remaining--
	if s.remaining > 0 {
		return false
	}
	s.remaining = 0
	s.finish(domain.FinishTimedOut)
	return true
}

// Advance reshuffles the display order of the active question's options.
// The physical "next" button re-deals the current question rather than
// skipping it.
func (s *Session) Advance() {
	if s.status != domain.StatusInProgress {
		return
	}
	options := s.current().Options
	s.rnd.Shuffle(len(options), func(i, j int) {
		options[i], options[j] = options[j], options[i]
	})
	s.selected = noSelection
}

func (s *Session) finish(reason domain.FinishReason) {
	s.status = domain.StatusFinished
	s.reason = reason
}

func (s *Session) current() domain.Question {
	return s.questions[s.currentIndex]
}

// Finished reports whether the session reached its terminal state.
func (s *Session) Finished() bool {
	return s.status == domain.StatusFinished
}

// Final returns the persistable outcome, or nil while the session is live.
func (s *Session) Final() *domain.FinalSnapshot {
	if s.status != domain.StatusFinished {
		return nil
	}
	elapsed := int(s.now().Sub(s.startedAt) / time.Second)
	if elapsed > s.timeLimit {
		elapsed = s.timeLimit
	}
	return &domain.FinalSnapshot{
		Category:        s.category,
		Score:           s.score,
		Answered:        s.answered,
		Total:           len(s.questions),
		DurationSeconds: elapsed,
		IsPerfectScore:  s.score == len(s.questions),
		Reason:          s.reason,
	}
}

// Snapshot renders the observable state for the presentation layer. The
// engine enriches it with serial status, best entry, and notices.
func (s *Session) Snapshot() domain.SessionState {
	total := len(s.questions)
	if total == 0 {
		// Idle screen: show the configured round length before a batch loads.
		total = s.requiredCount
	}
	state := domain.SessionState{
		Status:           s.status,
		Category:         s.category,
		CurrentIndex:     s.currentIndex,
		Score:            s.score,
		Answered:         s.answered,
		TotalQuestions:   total,
		RemainingSeconds: s.remaining,
		SelectedOption:   s.selected,
	}
	if s.status == domain.StatusInProgress {
		question := s.current()
		view := domain.QuestionView{
			ImageRef: question.ImageRef,
			Options:  append([]string(nil), question.Options...),
		}
		state.Question = &view
	}
	state.Final = s.Final()
	return state
}
