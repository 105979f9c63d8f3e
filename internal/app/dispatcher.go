package app

import "bird-quiz-kiosk/internal/domain"

// ActionKind enumerates the quiz-domain actions an input source can request.
type ActionKind int

const (
	ActionSelectOption ActionKind = iota
	ActionSubmit
	ActionAdvance
	ActionRestart
	ActionAbandon
	ActionReconnect

	// Internal completions posted back onto the queue by async work.
	actionBatchReady
	actionRecordDone
	actionSerialStatus
)

// Action is a single unit of work for the engine loop. Actions derived from
// serial tokens and from direct UI interaction travel through the same queue
// and are applied atomically to the session.
type Action struct {
	Kind        ActionKind
	OptionIndex int
	Category    string

	batch        []domain.Question
	best         *domain.BestEntry
	err          error
	serialStatus string
}

// TokenToAction maps a deduplicated serial token to a quiz action. The
// mapping is total and side-effect-free; unknown tokens report ok=false and
// are dropped by the caller.
func TokenToAction(token string) (Action, bool) {
	switch token {
	case "blue":
		return Action{Kind: ActionSelectOption, OptionIndex: 0}, true
	case "green":
		return Action{Kind: ActionSelectOption, OptionIndex: 1}, true
	case "yellow":
		return Action{Kind: ActionSelectOption, OptionIndex: 2}, true
	case "white":
		// Reserved fourth option; selecting it is a no-op while questions
		// carry three choices.
		return Action{Kind: ActionSelectOption, OptionIndex: 3}, true
	case "submit", "enter", "ok":
		return Action{Kind: ActionSubmit}, true
	case "next":
		return Action{Kind: ActionAdvance}, true
	case "reconnect":
		return Action{Kind: ActionReconnect}, true
	default:
		return Action{}, false
	}
}
