// Package transport maintains the persistent push connection a client session uses to receive
// new messages for the conversations it has joined.
//
// Push is a latency optimisation only. A lost connection is never reported to callers; the
// adapter quietly redials and rejoins its rooms, and anything missed in between is caught up by
// the next authoritative fetch.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/astromechza/chatsync/pkg/chat"
)

const writeWait = 10 * time.Second

// Handler receives each pushed message. It runs on the adapter's read goroutine.
type Handler func(chat.Message)

type Adapter struct {
	url     string
	header  http.Header
	dialer  *websocket.Dialer
	logger  *slog.Logger
	limiter *rate.Limiter

	// mu guards the connection state and is held across frame writes so join/leave frames hit the
	// wire in the same order as the reference counts change.
	mu      sync.Mutex
	conn    *websocket.Conn
	running bool
	cancel  context.CancelFunc
	rooms   map[string]int

	// hmu guards the handlers apart from mu, so dispatch never waits on a frame write.
	hmu      sync.Mutex
	handlers map[uint64]Handler
	nextID   uint64

	wg sync.WaitGroup
}

type Option func(*Adapter)

// WithHeader sets headers sent on every dial, typically the session credentials.
func WithHeader(h http.Header) Option {
	return func(a *Adapter) {
		a.header = h.Clone()
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) {
		a.logger = l
	}
}

func WithDialer(d *websocket.Dialer) Option {
	return func(a *Adapter) {
		a.dialer = d
	}
}

// WithReconnectLimit paces redial attempts after the connection drops.
func WithReconnectLimit(every time.Duration, burst int) Option {
	return func(a *Adapter) {
		a.limiter = rate.NewLimiter(rate.Every(every), burst)
	}
}

// New returns a disconnected adapter for the websocket endpoint at wsURL.
func New(wsURL string, opts ...Option) *Adapter {
	a := &Adapter{
		url:      wsURL,
		header:   http.Header{},
		dialer:   websocket.DefaultDialer,
		logger:   slog.Default(),
		limiter:  rate.NewLimiter(rate.Every(time.Second), 1),
		rooms:    make(map[string]int),
		handlers: make(map[uint64]Handler),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// EndpointFromBase maps an http(s) service base url onto its push endpoint.
func EndpointFromBase(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("failed to parse base url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return u.JoinPath("ws").String(), nil
}

// Connect dials the push endpoint and starts receiving. It is a no-op when already connected.
// Only the first dial is reported; later drops are handled silently.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	running := a.running
	a.mu.Unlock()
	if running {
		return nil
	}

	conn, err := a.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		_ = conn.Close()
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	a.running = true
	a.cancel = cancel
	a.conn = conn
	a.rejoinLocked()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.run(loopCtx, conn)
	}()
	a.logger.Debug("push connected", "url", a.url)
	return nil
}

// Disconnect closes the connection and stops reconnecting. Room memberships are kept so a later
// Connect resumes them. It is a no-op when not connected.
func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.cancel()
	conn := a.conn
	a.conn = nil
	if conn != nil {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
	}
	a.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	a.wg.Wait()
	a.logger.Debug("push disconnected", "url", a.url)
	if err != nil {
		return fmt.Errorf("failed to close: %w", err)
	}
	return nil
}

// Connected reports whether a socket is currently open.
func (a *Adapter) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn != nil
}

// Join subscribes to pushes for a conversation. Joins are counted per id and only the first one
// reaches the server. Without a connection the join is remembered and sent on the next connect.
func (a *Adapter) Join(conversationID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rooms[conversationID]++
	if a.rooms[conversationID] == 1 {
		a.writeLocked(Frame{Type: FrameJoin, ConversationID: conversationID})
	}
}

// Leave releases one Join. The leave frame is sent when the last holder leaves.
func (a *Adapter) Leave(conversationID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n, ok := a.rooms[conversationID]
	if !ok {
		return
	}
	if n > 1 {
		a.rooms[conversationID] = n - 1
		return
	}
	delete(a.rooms, conversationID)
	a.writeLocked(Frame{Type: FrameLeave, ConversationID: conversationID})
}

// Joined returns the number of outstanding joins for a conversation.
func (a *Adapter) Joined(conversationID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rooms[conversationID]
}

// OnMessage registers h for every pushed message of every joined conversation. Filtering by
// conversation id is up to h. The returned func unregisters it.
func (a *Adapter) OnMessage(h Handler) func() {
	a.hmu.Lock()
	defer a.hmu.Unlock()
	id := a.nextID
	a.nextID++
	a.handlers[id] = h
	return func() {
		a.hmu.Lock()
		defer a.hmu.Unlock()
		delete(a.handlers, id)
	}
}

func (a *Adapter) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := a.dialer.DialContext(ctx, a.url, a.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}
	return conn, nil
}

func (a *Adapter) run(ctx context.Context, conn *websocket.Conn) {
	for {
		err := a.receive(conn)
		if ctx.Err() != nil {
			return
		}
		a.logger.Debug("push connection lost", "err", err)

		a.mu.Lock()
		if a.conn == conn {
			a.conn = nil
		}
		a.mu.Unlock()
		_ = conn.Close()

		if conn = a.redial(ctx); conn == nil {
			return
		}
	}
}

func (a *Adapter) redial(ctx context.Context) *websocket.Conn {
	for {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil
		}
		conn, err := a.dial(ctx)
		if err != nil {
			a.logger.Debug("push redial failed", "err", err)
			continue
		}

		a.mu.Lock()
		if ctx.Err() != nil {
			a.mu.Unlock()
			_ = conn.Close()
			return nil
		}
		a.conn = conn
		a.rejoinLocked()
		a.mu.Unlock()
		a.logger.Debug("push reconnected", "url", a.url)
		return conn
	}
}

func (a *Adapter) receive(conn *websocket.Conn) error {
	for {
		mt, p, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed to read message: %w", err)
		}
		switch mt {
		case websocket.TextMessage:
			var f Frame
			if err := json.Unmarshal(p, &f); err != nil {
				a.logger.Debug("dropping malformed frame", "err", err)
				continue
			}
			if f.Type == FrameMessage && f.Message != nil {
				a.dispatch(*f.Message)
			}
		default:
		}
	}
}

func (a *Adapter) dispatch(m chat.Message) {
	a.hmu.Lock()
	handlers := make([]Handler, 0, len(a.handlers))
	for _, h := range a.handlers {
		handlers = append(handlers, h)
	}
	a.hmu.Unlock()

	for _, h := range handlers {
		h(m)
	}
}

func (a *Adapter) rejoinLocked() {
	for id := range a.rooms {
		a.writeLocked(Frame{Type: FrameJoin, ConversationID: id})
	}
}

func (a *Adapter) writeLocked(f Frame) {
	if a.conn == nil {
		return
	}
	_ = a.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := a.conn.WriteJSON(f); err != nil {
		a.logger.Debug("failed to write frame", "type", f.Type, "conversation", f.ConversationID, "err", err)
	}
}
