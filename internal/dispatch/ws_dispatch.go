package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/sabayta-booking/internal/events"
	"github.com/example/sabayta-booking/internal/observability"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 16
)

var errSlowWatcher = errors.New("watch session send buffer full")

// Conn is the part of *websocket.Conn a session needs.
type Conn interface {
	WriteJSON(v any) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Session is one websocket client watching one booking. Frames are queued
// by Send and written by the goroutine running Serve.
type Session struct {
	conn  Conn
	queue chan any
}

// Send queues v without blocking. It fails when the client has fallen
// sendBuffer frames behind.
func (s *Session) Send(v any) error {
	select {
	case s.queue <- v:
		return nil
	default:
		return errSlowWatcher
	}
}

func (s *Session) write(v any) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

func (s *Session) ping() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Hub holds the watch sessions of every booking and pushes booking events to
// them. It implements events.Handler.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*Session]struct{}
	logger   *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{sessions: make(map[string]map[*Session]struct{}), logger: logger}
}

func (h *Hub) Add(bookingID string, conn Conn) *Session {
	s := &Session{conn: conn, queue: make(chan any, sendBuffer)}
	h.mu.Lock()
	set, ok := h.sessions[bookingID]
	if !ok {
		set = make(map[*Session]struct{})
		h.sessions[bookingID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()
	observability.WatchSessions.Inc()
	return s
}

func (h *Hub) Remove(bookingID string, s *Session) {
	h.mu.Lock()
	set, ok := h.sessions[bookingID]
	if ok {
		if _, present := set[s]; present {
			delete(set, s)
			observability.WatchSessions.Dec()
		}
		if len(set) == 0 {
			delete(h.sessions, bookingID)
		}
	}
	h.mu.Unlock()
	_ = s.conn.Close()
}

// Watchers returns the number of sessions open on bookingID.
func (h *Hub) Watchers(bookingID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[bookingID])
}

// Handle queues ev for every watcher of its booking and never waits on the
// network. Sessions whose queue is full are dropped; the client reconnects
// or falls back to polling.
func (h *Hub) Handle(_ context.Context, ev events.Event) error {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions[ev.BookingID]))
	for s := range h.sessions[ev.BookingID] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	var errs []error
	for _, s := range targets {
		if err := s.Send(ev); err != nil {
			h.logger.Debug("watch session dropped", "booking_id", ev.BookingID, "error", err)
			h.Remove(ev.BookingID, s)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Serve writes queued frames to s until the client goes away, a write fails
// or ctx is done. Clients only listen; anything they send is discarded.
func (h *Hub) Serve(ctx context.Context, bookingID string, s *Session) {
	defer h.Remove(bookingID, s)

	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := s.conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case v := <-s.queue:
			if err := s.write(v); err != nil {
				h.logger.Debug("watch session write failed", "booking_id", bookingID, "error", err)
				return
			}
		case <-ticker.C:
			if err := s.ping(); err != nil {
				return
			}
		}
	}
}
