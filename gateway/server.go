// Package gateway accepts persistent websocket connections from bridges and
// correlates the requests sent to them with the acks they return.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"observatory/dispatch"
	"observatory/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxMessage = 16 << 20
)

// ErrSessionClosed is returned to callers whose bridge disconnected before
// acking. It matches dispatch.ErrNotConnected.
var ErrSessionClosed = fmt.Errorf("bridge disconnected: %w", dispatch.ErrNotConnected)

// Verifier checks a bridge's name and shared secret.
type Verifier interface {
	Verify(name, secret string) bool
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(name, secret string) bool

// Verify calls f.
func (f VerifierFunc) Verify(name, secret string) bool { return f(name, secret) }

// Server is the core end of the bridge channel. It implements dispatch.Caller.
type Server struct {
	verifier Verifier
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]*session
	closed   bool
	wg       sync.WaitGroup

	logFn        func(string, ...interface{})
	onConnect    func(name, remote string)
	onDisconnect func(name string)
}

// NewServer creates a gateway that admits bridges accepted by v.
func NewServer(v Verifier) *Server {
	return &Server{
		verifier: v,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		sessions:     make(map[string]*session),
		logFn:        func(string, ...interface{}) {},
		onConnect:    func(string, string) {},
		onDisconnect: func(string) {},
	}
}

// SetLogFunc sets the operator log callback.
func (s *Server) SetLogFunc(fn func(string, ...interface{})) {
	s.logFn = fn
}

// SetOnConnect registers a callback run after a bridge session is established.
func (s *Server) SetOnConnect(fn func(name, remote string)) {
	s.onConnect = fn
}

// SetOnDisconnect registers a callback run after a bridge session ends.
func (s *Server) SetOnDisconnect(fn func(name string)) {
	s.onDisconnect = fn
}

// ServeHTTP authenticates the bridge with basic auth and upgrades the
// connection. A second connection under the same name replaces the first.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name, secret, ok := r.BasicAuth()
	if !ok || name == "" || !s.verifier.Verify(name, secret) {
		logging.DebugLog("gateway", "rejected bridge %q from %s", name, r.RemoteAddr)
		w.Header().Set("WWW-Authenticate", `Basic realm="observatory"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.DebugError("gateway", "upgrade "+name, err)
		return
	}

	sess := newSession(name, conn)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	old := s.sessions[name]
	s.sessions[name] = sess
	s.wg.Add(2)
	s.mu.Unlock()

	if old != nil {
		s.logFn("Bridge %s reconnected, replacing previous session", name)
		old.close()
	}
	s.logFn("Bridge connected: %s (%s)", name, r.RemoteAddr)
	logging.DebugConnect("gateway", name+"@"+r.RemoteAddr)
	s.onConnect(name, r.RemoteAddr)

	go s.pingLoop(sess)
	go s.readLoop(sess)
}

// readLoop routes acks to their waiting callers until the connection drops.
func (s *Server) readLoop(sess *session) {
	defer s.wg.Done()
	defer s.remove(sess)

	sess.conn.SetReadLimit(maxMessage)
	sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		return sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var ack dispatch.Ack
		if err := sess.conn.ReadJSON(&ack); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.DebugLog("gateway", "%s: read: %v", sess.name, err)
			}
			return
		}
		if !sess.deliver(&ack) {
			logging.DebugLog("gateway", "%s: ack for unknown request %s", sess.name, ack.ID)
		}
	}
}

func (s *Server) pingLoop(sess *session) {
	defer s.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-sess.done:
			return
		case <-ticker.C:
			if err := sess.ping(); err != nil {
				sess.close()
				return
			}
		}
	}
}

func (s *Server) remove(sess *session) {
	sess.close()
	s.mu.Lock()
	current := s.sessions[sess.name] == sess
	if current {
		delete(s.sessions, sess.name)
	}
	s.mu.Unlock()

	if current {
		s.logFn("Bridge disconnected: %s", sess.name)
		logging.DebugDisconnect("gateway", sess.name, "session ended")
		s.onDisconnect(sess.name)
	}
}

// Call sends req to bridge and waits for the matching ack.
func (s *Server) Call(ctx context.Context, bridge string, req *dispatch.Request) (*dispatch.Ack, error) {
	s.mu.RLock()
	sess := s.sessions[bridge]
	s.mu.RUnlock()
	if sess == nil {
		return nil, dispatch.ErrNotConnected
	}
	return sess.call(ctx, req)
}

// Connected reports whether bridge has a live session.
func (s *Server) Connected(bridge string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[bridge]
	return ok
}

// Bridges returns the names of connected bridges, sorted.
func (s *Server) Bridges() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.sessions))
	for name := range s.sessions {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Close disconnects every bridge and fails their pending calls.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.close()
	}
	s.wg.Wait()
}
