package serialio

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	watchdogInterval = 3 * time.Second
	// reconnectGap throttles attempts so a flapping device is not hammered.
	reconnectGap = time.Second
)

// Watchdog reopens the serial link when it drops. The reader itself never
// retries; this is the single place reconnect policy lives.
type Watchdog struct {
	reader   *LineReader
	portName string
	interval time.Duration
	gap      time.Duration
	now      func() time.Time

	mu          sync.Mutex
	lastAttempt time.Time
}

// NewWatchdog builds a watchdog for the configured port identifier.
func NewWatchdog(reader *LineReader, portName string) *Watchdog {
	return &Watchdog{
		reader:   reader,
		portName: portName,
		interval: watchdogInterval,
		gap:      reconnectGap,
		now:      time.Now,
	}
}

// Run polls the connection until ctx is canceled.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.reader.Connected() {
				continue
			}
			w.attempt(false)
		}
	}
}

// RequestReconnect forces a close-and-reopen cycle, subject to the same
// attempt throttle as the background poll.
func (w *Watchdog) RequestReconnect() {
	w.attempt(true)
}

func (w *Watchdog) attempt(closeFirst bool) {
	w.mu.Lock()
	now := w.now()
	if now.Sub(w.lastAttempt) < w.gap {
		w.mu.Unlock()
		return
	}
	w.lastAttempt = now
	w.mu.Unlock()

	if closeFirst {
		w.reader.Close()
	}
	if err := w.reader.Open(w.portName); err != nil {
		log.Debug().Err(err).Str("port", w.portName).Msg("reconnect attempt failed")
	}
}
