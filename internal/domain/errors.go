package domain

import "errors"

var (
	// ErrPortUnavailable is returned when the serial device cannot be acquired.
	ErrPortUnavailable = errors.New("serial port unavailable")
	// ErrInsufficientQuestions is returned when a full question batch cannot be built.
	ErrInsufficientQuestions = errors.New("not enough questions available")
	// ErrDataSource wraps failures of the backing bird/result store.
	ErrDataSource = errors.New("data source error")
	// ErrNothingSelected signals a submit with no option chosen. It is user
	// input validation surfaced as a transient warning, not a system error.
	ErrNothingSelected = errors.New("no option selected")
	// ErrSessionFinished is returned for transitions attempted after Finished.
	ErrSessionFinished = errors.New("session already finished")
	// ErrSessionActive is returned when Start is called on a session that
	// already left NotStarted.
	ErrSessionActive = errors.New("session already started")
)
