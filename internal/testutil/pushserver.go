package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// PushServer is an httptest server speaking the todo service's push
// protocol on /ws. It answers {"type":"ping"} with {"type":"pong"}.
type PushServer struct {
	*httptest.Server

	mu       sync.Mutex
	conns    []*websocket.Conn
	accepted int
	received [][]byte
	reject   bool
}

// NewPushServer starts a push server. Callers must Close it.
func NewPushServer() *PushServer {
	s := &PushServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	s.Server = httptest.NewServer(mux)
	return s
}

// WSURL returns the ws:// endpoint.
func (s *PushServer) WSURL() string {
	return "ws" + strings.TrimPrefix(s.Server.URL, "http") + "/ws"
}

// Reject makes the server refuse (or accept again) new upgrades.
func (s *PushServer) Reject(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = reject
}

func (s *PushServer) handleWS(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	reject := s.reject
	s.mu.Unlock()
	if reject {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.accepted++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		for i, c := range s.conns {
			if c == conn {
				s.conns = append(s.conns[:i], s.conns[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg struct {
			Type string `json:"type"`
		}
		s.mu.Lock()
		s.received = append(s.received, data)
		if json.Unmarshal(data, &msg) == nil && msg.Type == "ping" {
			_ = conn.WriteJSON(map[string]string{"type": "pong"})
		}
		s.mu.Unlock()
	}
}

// Broadcast writes a raw frame to every connected client.
func (s *PushServer) Broadcast(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.WriteMessage(websocket.TextMessage, frame)
	}
}

// BroadcastEvent writes a {type, payload} frame to every connected client.
func (s *PushServer) BroadcastEvent(kind string, payload any) {
	frame, err := json.Marshal(map[string]any{"type": kind, "payload": payload})
	if err != nil {
		panic(err)
	}
	s.Broadcast(frame)
}

// DropAll closes every client connection without a close handshake.
func (s *PushServer) DropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
}

// Clients returns the number of open client connections.
func (s *PushServer) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Accepted returns the number of upgrades accepted so far.
func (s *PushServer) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Received returns copies of the frames clients sent.
func (s *PushServer) Received() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.received))
	copy(out, s.received)
	return out
}

// Close drops all clients and shuts the server down.
func (s *PushServer) Close() {
	s.DropAll()
	s.Server.Close()
}

// WaitFor polls cond until it holds or the timeout elapses.
func WaitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
