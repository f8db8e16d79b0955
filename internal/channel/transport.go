// Package channel owns the push channel: one live WebSocket connection to
// the todo service, with bounded exponential backoff on loss.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultBaseDelay is the first reconnect delay; each retry doubles it.
	DefaultBaseDelay = time.Second

	// DefaultMaxAttempts bounds consecutive reconnect attempts.
	DefaultMaxAttempts = 5

	// MaxDelay caps a single reconnect delay.
	MaxDelay = 5 * time.Minute

	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
)

// ErrNotConnected is returned by Send when there is no open channel.
var ErrNotConnected = errors.New("channel: not connected")

// State is the transport's own connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Status is the connectivity signal offered to presentation. It adds
// StatusUnavailable, reported once reconnect attempts are exhausted.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusUnavailable  Status = "unavailable"
)

// Dialer opens WebSocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// AfterFunc schedules f to run once after d and returns a best-effort stop
// function. It is called with the transport lock held, so f must run on
// another goroutine.
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

// Options configures a Transport.
type Options struct {
	URL         string
	Header      http.Header
	BaseDelay   time.Duration
	MaxAttempts int

	// Dialer defaults to a websocket.Dialer with a handshake timeout.
	Dialer Dialer

	// AfterFunc defaults to time.AfterFunc.
	AfterFunc AfterFunc

	// OnFrame receives every inbound frame, one at a time, in arrival order.
	OnFrame func(frame []byte)

	// OnStatus is told about connectivity changes. It always receives the
	// latest status, so intermediate values may be skipped.
	OnStatus func(Status)

	Logger *slog.Logger
}

// Transport is a reconnecting push channel client.
type Transport struct {
	url         string
	header      http.Header
	dialer      Dialer
	afterFunc   AfterFunc
	baseDelay   time.Duration
	maxAttempts int
	onFrame     func([]byte)
	onStatus    func(Status)
	log         *slog.Logger

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	attempts  int
	exhausted bool

	// gen identifies the current dial/read loop; Disconnect bumps it so
	// late results from an older connection are discarded.
	gen uint64

	// timerSeq identifies the outstanding reconnect timer, if any. A
	// firing whose sequence no longer matches does nothing.
	timerSeq     uint64
	timerPending bool
	stopTimer    func() bool

	writeMu sync.Mutex

	statusMu   sync.Mutex
	lastStatus Status
}

// New creates a disconnected transport.
func New(opts Options) *Transport {
	t := &Transport{
		url:         opts.URL,
		header:      opts.Header,
		dialer:      opts.Dialer,
		afterFunc:   opts.AfterFunc,
		baseDelay:   opts.BaseDelay,
		maxAttempts: opts.MaxAttempts,
		onFrame:     opts.OnFrame,
		onStatus:    opts.OnStatus,
		log:         opts.Logger,
		lastStatus:  StatusDisconnected,
	}
	if t.dialer == nil {
		t.dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		}
	}
	if t.afterFunc == nil {
		t.afterFunc = func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		}
	}
	if t.baseDelay <= 0 {
		t.baseDelay = DefaultBaseDelay
	}
	if t.maxAttempts <= 0 {
		t.maxAttempts = DefaultMaxAttempts
	}
	if t.log == nil {
		t.log = slog.New(slog.DiscardHandler)
	}
	t.log = t.log.With("component", "channel")
	return t
}

// Backoff returns the delay before reconnect attempt n (1-based):
// base, 2*base, 4*base, ... capped at MaxDelay.
func Backoff(base time.Duration, attempt int) time.Duration {
	d := min(base, MaxDelay)
	for i := 1; i < attempt; i++ {
		if d >= MaxDelay/2 {
			return MaxDelay
		}
		d *= 2
	}
	return d
}

// State returns the current connection state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Attempts returns the reconnect counter.
func (t *Transport) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

// Status returns the connectivity signal.
func (t *Transport) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statusLocked()
}

func (t *Transport) statusLocked() Status {
	switch t.state {
	case Connecting:
		return StatusConnecting
	case Connected:
		return StatusConnected
	}
	if t.exhausted {
		return StatusUnavailable
	}
	return StatusDisconnected
}

// Connect opens the channel in the background. It is a no-op while a
// connection is being established or is open. After the transport has
// given up (StatusUnavailable) a Connect starts the backoff sequence over.
func (t *Transport) Connect() {
	t.connect(true)
}

func (t *Transport) connect(manual bool) {
	t.mu.Lock()
	if t.state != Disconnected {
		t.mu.Unlock()
		t.log.Debug("connect skipped", "state", t.State())
		return
	}
	if manual {
		// A manual connect supersedes a scheduled one.
		t.cancelTimerLocked()
		if t.exhausted {
			t.exhausted = false
			t.attempts = 0
		}
	}
	t.state = Connecting
	t.gen++
	gen := t.gen
	t.mu.Unlock()

	t.emitStatus()
	go t.dial(gen)
}

func (t *Transport) dial(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
	conn, resp, err := t.dialer.DialContext(ctx, t.url, t.header)
	cancel()
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	t.mu.Lock()
	if gen != t.gen {
		// Disconnected while dialing.
		t.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		t.state = Disconnected
		t.log.Warn("connect failed", "url", t.url, "err", err)
		t.scheduleReconnectLocked()
		t.mu.Unlock()
		t.emitStatus()
		return
	}
	t.conn = conn
	t.state = Connected
	t.attempts = 0
	t.exhausted = false
	t.mu.Unlock()

	t.log.Info("connected", "url", t.url)
	t.emitStatus()
	t.readLoop(gen, conn)
}

// readLoop delivers frames until the connection fails. Frames are handed
// to OnFrame synchronously, so each one is processed to completion before
// the next is read.
func (t *Transport) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.handleClosed(gen, conn, err)
			return
		}
		if !t.current(gen) {
			return
		}
		if t.onFrame != nil {
			t.onFrame(data)
		}
	}
}

func (t *Transport) current(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return gen == t.gen
}

func (t *Transport) handleClosed(gen uint64, conn *websocket.Conn, err error) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	conn.Close()
	t.conn = nil
	t.state = Disconnected
	t.log.Warn("connection lost", "err", err)
	t.scheduleReconnectLocked()
	t.mu.Unlock()
	t.emitStatus()
}

// scheduleReconnectLocked arms the single reconnect timer, or marks the
// transport unavailable once the counter has reached the limit.
func (t *Transport) scheduleReconnectLocked() {
	if t.timerPending {
		return
	}
	if t.attempts >= t.maxAttempts {
		if !t.exhausted {
			t.exhausted = true
			t.log.Error("real-time updates unavailable", "attempts", t.attempts)
		}
		return
	}
	t.attempts++
	delay := Backoff(t.baseDelay, t.attempts)

	t.timerSeq++
	seq := t.timerSeq
	t.timerPending = true
	t.log.Info("reconnect scheduled", "attempt", t.attempts, "delay", delay)
	t.stopTimer = t.afterFunc(delay, func() { t.fireReconnect(seq) })
}

func (t *Transport) fireReconnect(seq uint64) {
	t.mu.Lock()
	if !t.timerPending || seq != t.timerSeq {
		t.mu.Unlock()
		return
	}
	t.timerPending = false
	t.stopTimer = nil
	t.mu.Unlock()

	t.connect(false)
}

func (t *Transport) cancelTimerLocked() {
	if !t.timerPending {
		return
	}
	t.timerSeq++
	t.timerPending = false
	if t.stopTimer != nil {
		t.stopTimer()
		t.stopTimer = nil
	}
}

// Send writes payload as JSON. It only delivers on an open channel;
// otherwise it reports ErrNotConnected. Nothing is queued or retried.
func (t *Transport) Send(payload any) error {
	t.mu.Lock()
	conn := t.conn
	connected := t.state == Connected
	t.mu.Unlock()

	if !connected || conn == nil {
		t.log.Warn("send dropped", "err", ErrNotConnected)
		return ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(payload); err != nil {
		t.log.Warn("send failed", "err", err)
		return fmt.Errorf("channel: send: %w", err)
	}
	return nil
}

// Disconnect closes the channel and cancels any pending reconnect. It also
// resets the reconnect counter. Safe to call when already disconnected.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.gen++
	t.cancelTimerLocked()
	conn := t.conn
	t.conn = nil
	t.state = Disconnected
	t.attempts = 0
	t.exhausted = false
	t.mu.Unlock()

	if conn != nil {
		t.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		t.writeMu.Unlock()
		conn.Close()
		t.log.Info("disconnected")
	}
	t.emitStatus()
}

// emitStatus reports the current status if it changed since the last
// report. Reading the status at emit time keeps the last report accurate
// even when emits from different goroutines interleave.
func (t *Transport) emitStatus() {
	if t.onStatus == nil {
		return
	}
	t.statusMu.Lock()
	defer t.statusMu.Unlock()
	st := t.Status()
	if st == t.lastStatus {
		return
	}
	t.lastStatus = st
	t.onStatus(st)
}
