package channel_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tasksync/internal/channel"
	"tasksync/internal/testutil"
)

const waitTimeout = 2 * time.Second

// fakeScheduler records reconnect timers instead of running them.
type fakeScheduler struct {
	mu     sync.Mutex
	delays []time.Duration
	fns    []func()
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) func() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	s.fns = append(s.fns, f)
	return func() bool { return true }
}

func (s *fakeScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fns)
}

func (s *fakeScheduler) fire(t *testing.T, i int) {
	t.Helper()
	s.mu.Lock()
	f := s.fns[i]
	s.mu.Unlock()
	f()
}

func (s *fakeScheduler) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.delays))
	copy(out, s.delays)
	return out
}

// refusingDialer fails every dial.
type refusingDialer struct {
	mu    sync.Mutex
	calls int
}

func (d *refusingDialer) DialContext(ctx context.Context, url string, h http.Header) (*websocket.Conn, *http.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return nil, nil, errors.New("connection refused")
}

func (d *refusingDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type frameRecorder struct {
	mu     sync.Mutex
	frames []string
}

func (r *frameRecorder) record(frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, string(frame))
}

func (r *frameRecorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.frames))
	copy(out, r.frames)
	return out
}

func TestBackoff_Sequence(t *testing.T) {
	want := []time.Duration{1000, 2000, 4000, 8000, 16000}
	for i, w := range want {
		got := channel.Backoff(time.Second, i+1)
		if got != w*time.Millisecond {
			t.Errorf("attempt %d: expected %v, got %v", i+1, w*time.Millisecond, got)
		}
	}
}

func TestBackoff_Capped(t *testing.T) {
	tests := []struct {
		base    time.Duration
		attempt int
		want    time.Duration
	}{
		{time.Second, 0, time.Second},
		{time.Second, 8, 128 * time.Second},
		{time.Second, 9, 256 * time.Second},
		{time.Second, 10, channel.MaxDelay},
		{time.Second, 35, channel.MaxDelay},
		{time.Second, 64, channel.MaxDelay},
		{time.Second, 1000, channel.MaxDelay},
		{time.Hour, 1, channel.MaxDelay},
	}
	for _, tt := range tests {
		if got := channel.Backoff(tt.base, tt.attempt); got != tt.want {
			t.Errorf("Backoff(%v, %d): expected %v, got %v", tt.base, tt.attempt, tt.want, got)
		}
	}
}

func TestConnect_DeliversFramesInOrder(t *testing.T) {
	srv := testutil.NewPushServer()
	defer srv.Close()

	rec := &frameRecorder{}
	tr := channel.New(channel.Options{URL: srv.WSURL(), OnFrame: rec.record})
	defer tr.Disconnect()

	tr.Connect()
	testutil.WaitFor(t, waitTimeout, "connected", func() bool { return tr.State() == channel.Connected })
	testutil.WaitFor(t, waitTimeout, "server client", func() bool { return srv.Clients() == 1 })

	srv.Broadcast([]byte(`{"type":"a"}`))
	srv.Broadcast([]byte(`{"type":"b"}`))
	srv.Broadcast([]byte(`{"type":"c"}`))

	testutil.WaitFor(t, waitTimeout, "three frames", func() bool { return len(rec.get()) == 3 })
	got := rec.get()
	if got[0] != `{"type":"a"}` || got[1] != `{"type":"b"}` || got[2] != `{"type":"c"}` {
		t.Errorf("frames out of order: %v", got)
	}
	if tr.Status() != channel.StatusConnected {
		t.Errorf("expected connected status, got %s", tr.Status())
	}
}

func TestConnect_IsIdempotent(t *testing.T) {
	srv := testutil.NewPushServer()
	defer srv.Close()

	tr := channel.New(channel.Options{URL: srv.WSURL()})
	defer tr.Disconnect()

	tr.Connect()
	tr.Connect()
	testutil.WaitFor(t, waitTimeout, "connected", func() bool { return tr.State() == channel.Connected })
	tr.Connect()

	time.Sleep(50 * time.Millisecond)
	if n := srv.Accepted(); n != 1 {
		t.Errorf("expected exactly one channel, server accepted %d", n)
	}
}

func TestReconnect_BackoffUntilUnavailable(t *testing.T) {
	sched := &fakeScheduler{}
	dialer := &refusingDialer{}

	var statusMu sync.Mutex
	var statuses []channel.Status
	tr := channel.New(channel.Options{
		URL:       "ws://unused/ws",
		Dialer:    dialer,
		AfterFunc: sched.AfterFunc,
		OnStatus: func(s channel.Status) {
			statusMu.Lock()
			statuses = append(statuses, s)
			statusMu.Unlock()
		},
	})

	tr.Connect()
	for i := 0; i < channel.DefaultMaxAttempts; i++ {
		testutil.WaitFor(t, waitTimeout, "reconnect scheduled", func() bool { return sched.count() == i+1 })
		if got := tr.Attempts(); got != i+1 {
			t.Fatalf("expected counter %d, got %d", i+1, got)
		}
		sched.fire(t, i)
	}

	testutil.WaitFor(t, waitTimeout, "unavailable", func() bool { return tr.Status() == channel.StatusUnavailable })
	time.Sleep(20 * time.Millisecond)

	if n := sched.count(); n != channel.DefaultMaxAttempts {
		t.Errorf("expected %d scheduled reconnects, got %d", channel.DefaultMaxAttempts, n)
	}
	// The initial dial plus one per scheduled reconnect.
	if n := dialer.count(); n != channel.DefaultMaxAttempts+1 {
		t.Errorf("expected %d dials, got %d", channel.DefaultMaxAttempts+1, n)
	}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	got := sched.recorded()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delay %d: expected %v, got %v", i+1, want[i], got[i])
		}
	}

	statusMu.Lock()
	last := statuses[len(statuses)-1]
	statusMu.Unlock()
	if last != channel.StatusUnavailable {
		t.Errorf("expected last reported status unavailable, got %s", last)
	}
}

func TestConnect_AfterUnavailableRestartsBackoff(t *testing.T) {
	sched := &fakeScheduler{}
	dialer := &refusingDialer{}
	tr := channel.New(channel.Options{
		URL:         "ws://unused/ws",
		Dialer:      dialer,
		AfterFunc:   sched.AfterFunc,
		MaxAttempts: 2,
	})

	tr.Connect()
	testutil.WaitFor(t, waitTimeout, "first retry", func() bool { return sched.count() == 1 })
	sched.fire(t, 0)
	testutil.WaitFor(t, waitTimeout, "second retry", func() bool { return sched.count() == 2 })
	sched.fire(t, 1)
	testutil.WaitFor(t, waitTimeout, "unavailable", func() bool { return tr.Status() == channel.StatusUnavailable })

	tr.Connect()
	testutil.WaitFor(t, waitTimeout, "retry after manual connect", func() bool { return sched.count() == 3 })
	if got := tr.Attempts(); got != 1 {
		t.Errorf("expected counter 1 after manual connect, got %d", got)
	}
	if d := sched.recorded()[2]; d != time.Second {
		t.Errorf("expected backoff to restart at 1s, got %v", d)
	}
}

func TestReconnect_AfterServerDrop(t *testing.T) {
	srv := testutil.NewPushServer()
	defer srv.Close()

	sched := &fakeScheduler{}
	tr := channel.New(channel.Options{URL: srv.WSURL(), AfterFunc: sched.AfterFunc})
	defer tr.Disconnect()

	tr.Connect()
	testutil.WaitFor(t, waitTimeout, "connected", func() bool { return tr.State() == channel.Connected })

	srv.DropAll()
	testutil.WaitFor(t, waitTimeout, "reconnect scheduled", func() bool { return sched.count() == 1 })
	if tr.State() != channel.Disconnected {
		t.Errorf("expected disconnected after drop, got %s", tr.State())
	}
	if d := sched.recorded()[0]; d != time.Second {
		t.Errorf("expected 1s delay, got %v", d)
	}

	sched.fire(t, 0)
	testutil.WaitFor(t, waitTimeout, "reconnected", func() bool { return tr.State() == channel.Connected })
	if got := tr.Attempts(); got != 0 {
		t.Errorf("expected counter reset to 0, got %d", got)
	}
	if n := srv.Accepted(); n != 2 {
		t.Errorf("expected 2 accepted connections, got %d", n)
	}
}

func TestSend(t *testing.T) {
	srv := testutil.NewPushServer()
	defer srv.Close()

	tr := channel.New(channel.Options{URL: srv.WSURL()})
	defer tr.Disconnect()

	if err := tr.Send(map[string]string{"type": "ping"}); !errors.Is(err, channel.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected before connect, got %v", err)
	}

	tr.Connect()
	testutil.WaitFor(t, waitTimeout, "connected", func() bool { return tr.State() == channel.Connected })

	if err := tr.Send(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.WaitFor(t, waitTimeout, "frame received", func() bool { return len(srv.Received()) == 1 })
	if got := string(srv.Received()[0]); got != `{"type":"ping"}` {
		t.Errorf("unexpected frame %q", got)
	}
}

func TestDisconnect_Idempotent(t *testing.T) {
	srv := testutil.NewPushServer()
	defer srv.Close()

	tr := channel.New(channel.Options{URL: srv.WSURL()})
	tr.Disconnect()

	tr.Connect()
	testutil.WaitFor(t, waitTimeout, "connected", func() bool { return tr.State() == channel.Connected })

	tr.Disconnect()
	tr.Disconnect()
	if tr.State() != channel.Disconnected {
		t.Errorf("expected disconnected, got %s", tr.State())
	}
	testutil.WaitFor(t, waitTimeout, "server sees close", func() bool { return srv.Clients() == 0 })
	if err := tr.Send("x"); !errors.Is(err, channel.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected after disconnect, got %v", err)
	}
}

func TestDisconnect_MakesPendingReconnectInert(t *testing.T) {
	sched := &fakeScheduler{}
	dialer := &refusingDialer{}
	tr := channel.New(channel.Options{URL: "ws://unused/ws", Dialer: dialer, AfterFunc: sched.AfterFunc})

	tr.Connect()
	testutil.WaitFor(t, waitTimeout, "reconnect scheduled", func() bool { return sched.count() == 1 })

	tr.Disconnect()
	sched.fire(t, 0)

	time.Sleep(20 * time.Millisecond)
	if n := dialer.count(); n != 1 {
		t.Errorf("expected late timer to be inert, dialer called %d times", n)
	}
	if tr.State() != channel.Disconnected {
		t.Errorf("expected disconnected, got %s", tr.State())
	}
}

func TestDisconnect_DuringDialDiscardsConnection(t *testing.T) {
	srv := testutil.NewPushServer()
	defer srv.Close()

	release := make(chan struct{})
	dialer := dialerFunc(func(ctx context.Context, url string, h http.Header) (*websocket.Conn, *http.Response, error) {
		<-release
		return websocket.DefaultDialer.DialContext(ctx, url, h)
	})
	tr := channel.New(channel.Options{URL: srv.WSURL(), Dialer: dialer})

	tr.Connect()
	tr.Disconnect()
	close(release)

	testutil.WaitFor(t, waitTimeout, "late dial accepted", func() bool { return srv.Accepted() == 1 })
	testutil.WaitFor(t, waitTimeout, "late connection closed", func() bool { return srv.Clients() == 0 })
	if tr.State() != channel.Disconnected {
		t.Errorf("expected disconnected, got %s", tr.State())
	}
}

type dialerFunc func(ctx context.Context, url string, h http.Header) (*websocket.Conn, *http.Response, error)

func (f dialerFunc) DialContext(ctx context.Context, url string, h http.Header) (*websocket.Conn, *http.Response, error) {
	return f(ctx, url, h)
}

func TestReconnect_AfterRejectedHandshake(t *testing.T) {
	srv := testutil.NewPushServer()
	defer srv.Close()
	srv.Reject(true)

	sched := &fakeScheduler{}
	tr := channel.New(channel.Options{URL: srv.WSURL(), AfterFunc: sched.AfterFunc})
	defer tr.Disconnect()

	tr.Connect()
	testutil.WaitFor(t, waitTimeout, "reconnect scheduled", func() bool { return sched.count() == 1 })
	if tr.Status() != channel.StatusDisconnected {
		t.Errorf("expected disconnected while retrying, got %s", tr.Status())
	}

	srv.Reject(false)
	sched.fire(t, 0)
	testutil.WaitFor(t, waitTimeout, "connected", func() bool { return tr.State() == channel.Connected })
	if n := srv.Accepted(); n != 1 {
		t.Errorf("expected 1 accepted connection, got %d", n)
	}
}
