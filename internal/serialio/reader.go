package serialio

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial"

	"bird-quiz-kiosk/internal/domain"
)

// ConnState is the observable state of the serial link.
type ConnState string

const (
	StateClosed ConnState = "closed"
	StateOpen   ConnState = "open"
	StateError  ConnState = "error"
)

// PortAuto asks Open to take the first serial port the OS reports.
const PortAuto = "auto"

const (
	baudRate    = 115200
	readTimeout = 100 * time.Millisecond
	// closeGrace lets in-flight bytes drain before the port is released, so
	// the next open does not start mid-token.
	closeGrace = 150 * time.Millisecond
	// bufferCap bounds the line buffer against a device that never sends a
	// newline; overflow keeps only the newest bufferKeep bytes.
	bufferCap  = 4096
	bufferKeep = 1024

	debounceWindow = 200 * time.Millisecond
)

// TokenHandler receives each deduplicated lowercase line token. It runs on
// the reader goroutine and must not block.
type TokenHandler func(token string)

// StatusHandler receives connection-state changes. err is non-nil only for
// StateError.
type StatusHandler func(state ConnState, err error)

// OpenFunc and ListFunc mirror go.bug.st/serial's package functions; tests
// substitute fakes.
type (
	OpenFunc func(name string, mode *serial.Mode) (serial.Port, error)
	ListFunc func() ([]string, error)
)

// LineReader turns the byte stream of a button-panel device into trimmed,
// lowercased, debounced line tokens. It owns the port handle, the line
// buffer, and the debounce map exclusively; only tokens and status values
// cross to other goroutines.
type LineReader struct {
	tokens   TokenHandler
	status   StatusHandler
	open     OpenFunc
	list     ListFunc
	debounce time.Duration
	now      func() time.Time

	mu       sync.Mutex
	port     serial.Port
	portName string
	closing  bool
	done     chan struct{}
}

// NewLineReader builds a reader delivering tokens and status changes to the
// given handlers. status may be nil.
func NewLineReader(tokens TokenHandler, status StatusHandler) *LineReader {
	return &LineReader{
		tokens:   tokens,
		status:   status,
		open:     serial.Open,
		list:     serial.GetPortsList,
		debounce: debounceWindow,
		now:      time.Now,
	}
}

// newLineReaderForTest wires fake port plumbing and a fake clock.
func newLineReaderForTest(tokens TokenHandler, status StatusHandler, open OpenFunc, list ListFunc, now func() time.Time) *LineReader {
	r := NewLineReader(tokens, status)
	r.open = open
	r.list = list
	r.now = now
	return r
}

// Open acquires the named port (or the first available one for PortAuto) at
// 115200 8-N-1 and starts the reader goroutine. An already-open reader is
// closed first; the device handle is exclusive.
func (r *LineReader) Open(portName string) error {
	r.Close()

	resolved, err := r.resolvePort(portName)
	if err != nil {
		r.reportStatus(StateError, err)
		return err
	}

	port, err := r.open(resolved, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		wrapped := fmt.Errorf("%w: open %s: %v", domain.ErrPortUnavailable, resolved, err)
		r.reportStatus(StateError, wrapped)
		return wrapped
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		_ = port.Close()
		wrapped := fmt.Errorf("%w: set read timeout on %s: %v", domain.ErrPortUnavailable, resolved, err)
		r.reportStatus(StateError, wrapped)
		return wrapped
	}

	done := make(chan struct{})
	r.mu.Lock()
	r.port = port
	r.portName = resolved
	r.closing = false
	r.done = done
	r.mu.Unlock()

	go r.readLoop(port, done)

	log.Info().Str("port", resolved).Msg("serial link open")
	r.reportStatus(StateOpen, nil)
	return nil
}

func (r *LineReader) resolvePort(portName string) (string, error) {
	if portName != PortAuto {
		return portName, nil
	}
	ports, err := r.list()
	if err != nil {
		return "", fmt.Errorf("%w: list ports: %v", domain.ErrPortUnavailable, err)
	}
	if len(ports) == 0 {
		return "", fmt.Errorf("%w: no serial ports found", domain.ErrPortUnavailable)
	}
	return ports[0], nil
}

// Close stops the reader and releases the port after a short drain grace.
// It is idempotent and safe to call on a reader that was never opened.
func (r *LineReader) Close() {
	r.mu.Lock()
	port := r.port
	done := r.done
	if port == nil {
		r.mu.Unlock()
		return
	}
	r.closing = true
	r.port = nil
	r.mu.Unlock()

	time.Sleep(closeGrace)
	if err := port.Close(); err != nil {
		log.Debug().Err(err).Msg("closing serial port")
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(time.Second):
			log.Warn().Msg("serial read loop did not stop in time")
		}
	}

	log.Info().Str("port", r.PortName()).Msg("serial link closed")
	r.reportStatus(StateClosed, nil)
}

// Connected reports whether a port is currently held open.
func (r *LineReader) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.port != nil
}

// PortName returns the resolved name of the last opened port.
func (r *LineReader) PortName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.portName
}

// Send writes a newline-terminated token to the device. Write errors are
// logged and reported via the status handler, never propagated as a failure
// of the quiz itself.
func (r *LineReader) Send(token string) error {
	r.mu.Lock()
	port := r.port
	r.mu.Unlock()
	if port == nil {
		return domain.ErrPortUnavailable
	}
	if _, err := port.Write([]byte(token + "\n")); err != nil {
		log.Warn().Err(err).Str("token", token).Msg("serial write failed")
		if isDisconnectionError(err) {
			r.markBroken(err)
		}
		return err
	}
	return nil
}

// Notify implements the engine's DeviceNotifier without blocking its loop.
func (r *LineReader) Notify(token string) {
	go func() {
		_ = r.Send(token)
	}()
}

// readLoop owns the line buffer and debounce map for one connection. It
// exits when the port errors out or is closed underneath it.
func (r *LineReader) readLoop(port serial.Port, done chan struct{}) {
	defer close(done)

	buf := make([]byte, 0, 512)
	lastSeen := make(map[string]time.Time)
	chunk := make([]byte, 256)

	for {
		n, err := port.Read(chunk)
		if err != nil {
			r.mu.Lock()
			closing := r.closing
			r.mu.Unlock()
			if closing {
				return
			}
			log.Warn().Err(err).Msg("serial read failed")
			r.markBroken(err)
			return
		}
		if n == 0 {
			// Read timeout; lets Close take effect promptly.
			continue
		}

		for _, b := range chunk[:n] {
			if b == '\r' {
				b = '\n'
			}
			buf = append(buf, b)
		}
		buf = r.drainLines(buf, lastSeen)
		if len(buf) > bufferCap {
			buf = append(buf[:0], buf[len(buf)-bufferKeep:]...)
		}
	}
}

// drainLines extracts every complete line from buf and returns the remainder.
func (r *LineReader) drainLines(buf []byte, lastSeen map[string]time.Time) []byte {
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			return buf
		}
		line := strings.ToLower(strings.TrimSpace(string(buf[:i])))
		buf = append(buf[:0], buf[i+1:]...)
		r.handleLine(line, lastSeen)
	}
}

func (r *LineReader) handleLine(line string, lastSeen map[string]time.Time) {
	if line == "" {
		return
	}
	// Firmware diagnostics, not commands.
	if strings.HasPrefix(line, "button pressed:") || strings.HasPrefix(line, "button released:") {
		return
	}
	now := r.now()
	if last, ok := lastSeen[line]; ok && now.Sub(last) < r.debounce {
		return
	}
	lastSeen[line] = now
	r.tokens(line)
}

// markBroken flips the reader into the error state after a mid-stream
// failure. The watchdog drives reconnection; the reader never retries.
func (r *LineReader) markBroken(err error) {
	r.mu.Lock()
	port := r.port
	r.port = nil
	r.mu.Unlock()
	if port != nil {
		_ = port.Close()
	}
	r.reportStatus(StateError, err)
}

func (r *LineReader) reportStatus(state ConnState, err error) {
	if r.status != nil {
		r.status(state, err)
	}
}

// isDisconnectionError classifies write/read failures that mean the device
// went away, as opposed to configuration or permission problems.
func isDisconnectionError(err error) bool {
	if err == nil {
		return false
	}
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortNotFound, serial.PortClosed, serial.InvalidSerialPort:
			return true
		default:
			return false
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "device not configured") ||
		strings.Contains(msg, "input/output error") ||
		strings.Contains(msg, "no such device") ||
		strings.Contains(msg, "broken pipe")
}
