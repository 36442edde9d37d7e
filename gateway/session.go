package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"observatory/dispatch"
	"observatory/logging"
)

// session is one bridge connection. Writes are serialised; any number of
// calls may be in flight, each waiting on its own channel in pending.
type session struct {
	name string
	conn *websocket.Conn

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan *dispatch.Ack

	done      chan struct{}
	closeOnce sync.Once
}

func newSession(name string, conn *websocket.Conn) *session {
	return &session{
		name:    name,
		conn:    conn,
		pending: make(map[string]chan *dispatch.Ack),
		done:    make(chan struct{}),
	}
}

func (s *session) call(ctx context.Context, req *dispatch.Request) (*dispatch.Ack, error) {
	ch := make(chan *dispatch.Ack, 1)

	s.pendingMu.Lock()
	select {
	case <-s.done:
		s.pendingMu.Unlock()
		return nil, ErrSessionClosed
	default:
	}
	s.pending[req.ID] = ch
	s.pendingMu.Unlock()

	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, req.ID)
		s.pendingMu.Unlock()
	}()

	if err := s.write(req); err != nil {
		s.close()
		return nil, fmt.Errorf("%w: %v", ErrSessionClosed, err)
	}
	logging.DebugLog("gateway", "%s <- %s %s", s.name, req.Command, req.ID)

	select {
	case ack := <-ch:
		return ack, nil
	case <-s.done:
		return nil, ErrSessionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// deliver hands an ack to its waiting caller. It reports false when no call
// is waiting for the ack's id.
func (s *session) deliver(ack *dispatch.Ack) bool {
	s.pendingMu.Lock()
	ch, ok := s.pending[ack.ID]
	s.pendingMu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- ack:
	default:
	}
	return true
}

func (s *session) write(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

func (s *session) ping() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		s.pendingMu.Lock()
		close(s.done)
		s.pendingMu.Unlock()

		s.writeMu.Lock()
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
		s.writeMu.Unlock()
		s.conn.Close()
	})
}
