package domain

// OptionsPerQuestion is the number of answer choices shown for every question.
// The physical panel has a fourth (white) button reserved for a future option
// slot; its tokens are accepted but ignored.
const OptionsPerQuestion = 3

// Bird is a source record used only while building a question batch.
type Bird struct {
	Name     string
	ImageRef string
	Category string
}

// Question is an immutable multiple-choice question. Options always contains
// CorrectAnswer exactly once; its order is the display order.
type Question struct {
	CorrectAnswer string   `json:"correctAnswer"`
	ImageRef      string   `json:"imageRef"`
	Options       []string `json:"options"`
}

// QuestionView is what the presentation layer sees for the active question.
// It deliberately omits the correct answer.
type QuestionView struct {
	ImageRef string   `json:"imageRef"`
	Options  []string `json:"options"`
}

// Status is the lifecycle state of a quiz session.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusFinished   Status = "finished"
)

// FinishReason distinguishes how a session reached Finished.
type FinishReason string

const (
	FinishCompleted FinishReason = "completed"
	FinishTimedOut  FinishReason = "timed_out"
)

// SubmitResult is the feedback value returned from an accepted submission.
type SubmitResult struct {
	WasCorrect    bool   `json:"wasCorrect"`
	CorrectAnswer string `json:"correctAnswer"`
}

// FinalSnapshot is the persistable outcome of a finished session.
type FinalSnapshot struct {
	Category        string       `json:"category"`
	Score           int          `json:"score"`
	Answered        int          `json:"answered"`
	Total           int          `json:"total"`
	DurationSeconds int          `json:"durationSeconds"`
	IsPerfectScore  bool         `json:"isPerfectScore"`
	Reason          FinishReason `json:"reason"`
}

// BestEntry is the previous best recorded attempt for a category.
type BestEntry struct {
	Score           int `json:"score"`
	Total           int `json:"total"`
	DurationSeconds int `json:"durationSeconds"`
}

// BeatenBy reports whether snapshot sets a new record against b.
// Higher score wins; an equal score is broken by lower duration.
func (b BestEntry) BeatenBy(snapshot FinalSnapshot) bool {
	if snapshot.Score != b.Score {
		return snapshot.Score > b.Score
	}
	return snapshot.DurationSeconds < b.DurationSeconds
}

// Player identifies who is taking the quiz. Passed explicitly to whatever
// constructs a session; there is no process-wide identity.
type Player struct {
	FirstName string `json:"firstName"`
	Email     string `json:"email"`
}

// SessionState is the observable snapshot streamed to the presentation layer.
type SessionState struct {
	Status           Status         `json:"status"`
	Category         string         `json:"category"`
	CurrentIndex     int            `json:"currentIndex"`
	Score            int            `json:"score"`
	Answered         int            `json:"answered"`
	TotalQuestions   int            `json:"totalQuestions"`
	RemainingSeconds int            `json:"remainingSeconds"`
	SelectedOption   int            `json:"selectedOption"` // -1 when nothing selected
	Question         *QuestionView  `json:"question,omitempty"`
	LastResult       *SubmitResult  `json:"lastResult,omitempty"`
	Final            *FinalSnapshot `json:"final,omitempty"`
	Best             *BestEntry     `json:"best,omitempty"`
	IsNewRecord      bool           `json:"isNewRecord"`
	Notice           string         `json:"notice,omitempty"`
	SerialStatus     string         `json:"serialStatus"`
}
