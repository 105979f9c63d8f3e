package app

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"bird-quiz-kiosk/internal/domain"
)

// ResultRecorder persists finished attempts and serves the previous best for
// the "to beat" comparison. FetchBest returns (nil, nil) when no attempt has
// been recorded yet.
type ResultRecorder interface {
	RecordAttempt(ctx context.Context, player domain.Player, snapshot domain.FinalSnapshot) error
	FetchBest(ctx context.Context, category string) (*domain.BestEntry, error)
}

// DeviceNotifier pushes best-effort feedback tokens (correct, wrong,
// ledSequence) back to the button panel. Implementations must never block.
type DeviceNotifier interface {
	Notify(token string)
}

// Config carries the tunables of a quiz run.
type Config struct {
	QuestionCount    int
	TimeLimitSeconds int
	SubmitCooldown   time.Duration
	DefaultCategory  string
}

// Engine ties the inputs (serial tokens, UI actions) to the session state
// machine. A single goroutine started by Run drains the action queue and is
// the only mutator of the session; everything else talks to the engine
// through Dispatch and Subscribe.
type Engine struct {
	cfg      Config
	player   domain.Player
	birds    BirdSource
	recorder ResultRecorder
	device   DeviceNotifier

	actions chan Action
	now     func() time.Time
	rnd     *rand.Rand

	// Loop-goroutine state. Never touched from outside the loop.
	session      *Session
	best         *domain.BestEntry
	lastResult   *domain.SubmitResult
	isNewRecord  bool
	notice       string
	serialStatus string
	fetching     bool
	ticker       *time.Ticker
	tickC        <-chan time.Time

	reconnectMu sync.Mutex
	reconnect   func()

	mu          sync.Mutex
	lastState   domain.SessionState
	subscribers map[chan domain.SessionState]struct{}
}

// NewEngine builds an engine with the real clock. device may be nil when no
// panel is attached.
func NewEngine(cfg Config, player domain.Player, birds BirdSource, recorder ResultRecorder, device DeviceNotifier) *Engine {
	return NewEngineWithClock(cfg, player, birds, recorder, device, time.Now)
}

// NewEngineWithClock is test-only for deterministic timing.
func NewEngineWithClock(cfg Config, player domain.Player, birds BirdSource, recorder ResultRecorder, device DeviceNotifier, now func() time.Time) *Engine {
	e := &Engine{
		cfg:          cfg,
		player:       player,
		birds:        birds,
		recorder:     recorder,
		device:       device,
		actions:      make(chan Action, 64),
		now:          now,
		rnd:          rand.New(rand.NewSource(now().UnixNano())),
		serialStatus: "closed",
		subscribers:  make(map[chan domain.SessionState]struct{}),
	}
	e.session = NewSessionWithClock(cfg.DefaultCategory, cfg.QuestionCount, cfg.TimeLimitSeconds, cfg.SubmitCooldown, now)
	e.mu.Lock()
	e.lastState = e.renderState()
	e.mu.Unlock()
	return e
}

// SetReconnectFunc wires the serial watchdog's forced-reconnect hook.
func (e *Engine) SetReconnectFunc(fn func()) {
	e.reconnectMu.Lock()
	e.reconnect = fn
	e.reconnectMu.Unlock()
}

// Dispatch enqueues an action without blocking. The queue is bounded; under
// pathological input the newest action is dropped and logged.
func (e *Engine) Dispatch(action Action) {
	select {
	case e.actions <- action:
	default:
		log.Warn().Int("kind", int(action.Kind)).Msg("action queue full, dropping action")
	}
}

// HandleToken converts a serial token to an action and enqueues it. Safe to
// call from the serial reader goroutine.
func (e *Engine) HandleToken(token string) {
	action, ok := TokenToAction(token)
	if !ok {
		log.Debug().Str("token", token).Msg("unknown serial token")
		return
	}
	e.Dispatch(action)
}

// SetSerialStatus posts a connection-state change for display. Safe to call
// from any goroutine.
func (e *Engine) SetSerialStatus(status string) {
	e.Dispatch(Action{Kind: actionSerialStatus, serialStatus: status})
}

// Subscribe returns a channel of state snapshots, primed with the current
// one. The caller must invoke the cancel function to avoid leaks.
func (e *Engine) Subscribe() (<-chan domain.SessionState, func()) {
	ch := make(chan domain.SessionState, 8)

	e.mu.Lock()
	e.subscribers[ch] = struct{}{}
	initial := e.lastState
	e.mu.Unlock()

	ch <- initial

	cancel := func() {
		e.mu.Lock()
		if _, ok := e.subscribers[ch]; ok {
			delete(e.subscribers, ch)
			close(ch)
		}
		e.mu.Unlock()
	}
	return ch, cancel
}

// Run drains the action queue until ctx is canceled. It owns the countdown
// ticker and the session; call it exactly once.
func (e *Engine) Run(ctx context.Context) {
	defer e.stopCountdown()
	for {
		select {
		case <-ctx.Done():
			return
		case action := <-e.actions:
			e.apply(ctx, action)
		case <-e.tickC:
			if e.session.Tick() {
				e.finishSession(ctx)
			}
			e.broadcast()
		}
	}
}

func (e *Engine) apply(ctx context.Context, action Action) {
	e.notice = ""
	switch action.Kind {
	case ActionSelectOption:
		e.session.SelectOption(action.OptionIndex)
		e.broadcast()

	case ActionSubmit:
		result, err := e.session.Submit()
		switch {
		case err == nil:
			e.lastResult = &result
			e.notifyDevice(result)
			if e.session.Finished() {
				e.finishSession(ctx)
			}
			e.broadcast()
		case errors.Is(err, domain.ErrNothingSelected):
			e.notice = "select an answer before submitting"
			e.broadcast()
		default:
			// Cooldown spam or a stale submit after finish: silent.
		}

	case ActionAdvance:
		e.session.Advance()
		e.broadcast()

	case ActionRestart:
		e.startRestart(ctx, action.Category)

	case ActionAbandon:
		e.stopCountdown()
		e.resetSession(e.session.category)
		e.broadcast()

	case ActionReconnect:
		e.reconnectMu.Lock()
		fn := e.reconnect
		e.reconnectMu.Unlock()
		if fn != nil {
			go fn()
		}

	case actionBatchReady:
		e.fetching = false
		if action.err != nil {
			e.notice = noticeForBatchError(action.err)
			e.broadcast()
			return
		}
		e.best = action.best
		if err := e.session.Start(action.batch); err != nil {
			e.notice = noticeForBatchError(err)
			e.broadcast()
			return
		}
		e.startCountdown()
		e.broadcast()

	case actionRecordDone:
		if action.err != nil {
			log.Error().Err(action.err).Msg("recording attempt failed")
			e.notice = "result could not be saved"
			e.broadcast()
		}

	case actionSerialStatus:
		e.serialStatus = action.serialStatus
		e.broadcast()
	}
}

// startRestart discards the current session and fetches a fresh batch plus
// the previous best off the loop goroutine. Completion is posted back onto
// the queue so the loop stays the sole session mutator.
func (e *Engine) startRestart(ctx context.Context, category string) {
	if e.fetching {
		return
	}
	if category == "" {
		category = e.cfg.DefaultCategory
	}
	e.stopCountdown()
	e.resetSession(category)
	e.fetching = true
	e.broadcast()

	go func() {
		fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		birds, err := e.birds.ListBirds(fetchCtx, category)
		if err != nil {
			e.Dispatch(Action{Kind: actionBatchReady, err: err})
			return
		}
		rnd := rand.New(rand.NewSource(e.now().UnixNano()))
		batch, err := BuildBatch(birds, e.cfg.QuestionCount, rnd)
		if err != nil {
			e.Dispatch(Action{Kind: actionBatchReady, err: err})
			return
		}
		best, err := e.recorder.FetchBest(fetchCtx, category)
		if err != nil {
			// Non-fatal: the quiz runs without a "to beat" line.
			log.Warn().Err(err).Str("category", category).Msg("fetching best entry failed")
			best = nil
		}
		e.Dispatch(Action{Kind: actionBatchReady, batch: batch, best: best})
	}()
}

func (e *Engine) resetSession(category string) {
	e.session = NewSessionWithClock(category, e.cfg.QuestionCount, e.cfg.TimeLimitSeconds, e.cfg.SubmitCooldown, e.now)
	e.lastResult = nil
	e.isNewRecord = false
}

func (e *Engine) finishSession(ctx context.Context) {
	e.stopCountdown()
	final := e.session.Final()
	if final == nil {
		return
	}
	e.isNewRecord = e.best == nil || e.best.BeatenBy(*final)
	if final.IsPerfectScore && e.device != nil {
		e.device.Notify("ledSequence")
	}

	snapshot := *final
	go func() {
		recordCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		err := e.recorder.RecordAttempt(recordCtx, e.player, snapshot)
		e.Dispatch(Action{Kind: actionRecordDone, err: err})
	}()
}

func (e *Engine) notifyDevice(result domain.SubmitResult) {
	if e.device == nil {
		return
	}
	if result.WasCorrect {
		e.device.Notify("correct")
	} else {
		e.device.Notify("wrong")
	}
}

func (e *Engine) startCountdown() {
	if e.ticker != nil {
		return
	}
	e.ticker = time.NewTicker(time.Second)
	e.tickC = e.ticker.C
}

// stopCountdown is idempotent; a nil tick channel blocks the select branch.
func (e *Engine) stopCountdown() {
	if e.ticker == nil {
		return
	}
	e.ticker.Stop()
	e.ticker = nil
	e.tickC = nil
}

func (e *Engine) renderState() domain.SessionState {
	state := e.session.Snapshot()
	state.LastResult = e.lastResult
	state.Best = e.best
	state.IsNewRecord = e.isNewRecord
	state.Notice = e.notice
	state.SerialStatus = e.serialStatus
	return state
}

func (e *Engine) broadcast() {
	state := e.renderState()

	e.mu.Lock()
	e.lastState = state
	for ch := range e.subscribers {
		select {
		case ch <- state:
		default:
			// Drop the oldest pending snapshot so slow consumers never
			// stall the loop.
			select {
			case <-ch:
			default:
			}
			ch <- state
		}
	}
	e.mu.Unlock()
}

func noticeForBatchError(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientQuestions):
		return "not enough questions available for this category"
	default:
		return "could not load questions"
	}
}
