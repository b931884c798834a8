package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentic-research/cominavi/internal/syncer"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Local tool; any origin may watch sync progress.
	CheckOrigin: func(*http.Request) bool { return true },
}

// latest holds the newest undelivered value; intermediate progress updates
// are dropped when the client is slower than the sync.
type latest struct {
	mu     sync.Mutex
	value  syncer.Readiness
	fresh  bool
	notify chan struct{}
}

func (l *latest) set(r syncer.Readiness) {
	l.mu.Lock()
	l.value, l.fresh = r, true
	l.mu.Unlock()
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

func (l *latest) take() (syncer.Readiness, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.value, l.fresh
	l.fresh = false
	return v, ok
}

// handleReadinessStream sends every readiness change as a JSON text message.
// The stream closes with a normal closure after a terminal state.
func (s *Server) handleReadinessStream(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("http: websocket upgrade", "err", err)
		return
	}
	defer func() { _ = ws.Close() }()
	s.log.Debug("http: readiness stream opened", "remote", r.RemoteAddr)

	l := &latest{notify: make(chan struct{}, 1)}
	cancel := s.backend.Subscribe(l.set)
	defer cancel()

	// Reader goroutine only notices the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-l.notify:
		}
		v, ok := l.take()
		if !ok {
			continue
		}
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ws.WriteJSON(v); err != nil {
			s.log.Debug("http: readiness stream write", "err", err)
			return
		}
		if v.Terminal() {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, v.State.String())
			_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}
