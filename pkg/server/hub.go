package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/astromechza/chatsync/pkg/chat"
	"github.com/astromechza/chatsync/pkg/transport"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxFrameSize   = 64 * 1024
	sendBufferSize = 64
)

// Hub fans pushed messages out to the sockets that joined each conversation.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*socket]struct{}
}

type socket struct {
	id   uuid.UUID
	user string
	conn *websocket.Conn
	send chan []byte

	mu    sync.Mutex
	rooms map[string]struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*socket]struct{}),
	}
}

// Serve upgrades the request and pumps frames until the socket closes.
func (h *Hub) Serve(writer http.ResponseWriter, request *http.Request, user string) {
	conn, err := h.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade", "err", err)
		return
	}
	s := &socket{
		id:    uuid.New(),
		user:  user,
		conn:  conn,
		send:  make(chan []byte, sendBufferSize),
		rooms: make(map[string]struct{}),
	}
	h.register(s)

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writePump(h.logger)
	}()
	s.readPump(h.logger)
	_ = conn.Close()
	h.unregister(s)
	wg.Wait()
}

// Deliver queues m to every socket in its conversation room, the sender's own included.
func (h *Hub) Deliver(m chat.Message) {
	payload, err := json.Marshal(transport.Frame{Type: transport.FrameMessage, ConversationID: m.ConversationID, Message: &m})
	if err != nil {
		h.logger.Error("failed to marshal frame", "err", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.clients {
		if !s.joined(m.ConversationID) {
			continue
		}
		select {
		case s.send <- payload:
			pushesDelivered.Inc()
		default:
			pushesDropped.Inc()
			h.logger.Warn("dropping push for slow socket", "socket", s.id, "user", s.user)
		}
	}
}

// Len returns the number of open sockets.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Members returns the number of sockets joined to a conversation.
func (h *Hub) Members(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for s := range h.clients {
		if s.joined(conversationID) {
			n++
		}
	}
	return n
}

// Close closes every open socket.
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.clients {
		_ = s.conn.Close()
	}
}

func (h *Hub) register(s *socket) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[s] = struct{}{}
	socketsOpen.Inc()
	h.logger.Info("socket opened", "socket", s.id, "user", s.user)
}

func (h *Hub) unregister(s *socket) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[s]; !ok {
		return
	}
	delete(h.clients, s)
	close(s.send)
	socketsOpen.Dec()
	h.logger.Info("socket closed", "socket", s.id, "user", s.user)
}

func (s *socket) joined(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[conversationID]
	return ok
}

func (s *socket) readPump(logger *slog.Logger) {
	s.conn.SetReadLimit(maxFrameSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var f transport.Frame
		if err := s.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("socket read failed", "socket", s.id, "err", err)
			}
			return
		}
		if f.ConversationID == "" {
			continue
		}
		s.mu.Lock()
		switch f.Type {
		case transport.FrameJoin:
			s.rooms[f.ConversationID] = struct{}{}
		case transport.FrameLeave:
			delete(s.rooms, f.ConversationID)
		default:
		}
		s.mu.Unlock()
	}
}

func (s *socket) writePump(logger *slog.Logger) {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	defer s.conn.Close()
	for {
		select {
		case payload, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Debug("socket write failed", "socket", s.id, "err", err)
				return
			}
		case <-t.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
