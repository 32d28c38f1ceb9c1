// Package store holds the client's in-memory state for each open conversation and is the only
// place that state is mutated.
//
// Every change (authoritative fetch, pushed message, optimistic send, rollback) goes through the
// reconcile package as one serialized step per conversation, so each merge sees the result of the
// previous one. Views observe the state through Subscribe.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/astromechza/chatsync/pkg/chat"
	"github.com/astromechza/chatsync/pkg/reconcile"
	"github.com/astromechza/chatsync/pkg/transport"
)

var ErrClosed = errors.New("conversation closed")

// Fetcher returns the authoritative conversation resource.
type Fetcher interface {
	FetchConversation(ctx context.Context, conversationID string) (chat.Conversation, error)
}

// Sender posts a message. Only success or failure is used.
type Sender interface {
	SendMessage(ctx context.Context, conversationID, content string) error
}

// PushChannel is the subset of the transport adapter the store depends on.
type PushChannel interface {
	Join(conversationID string)
	Leave(conversationID string)
	OnMessage(h transport.Handler) func()
}

// Listener receives a snapshot of the conversation after changes. Notifications are delivered in
// order from a single goroutine per conversation, and bursts coalesce to the latest state.
type Listener func(chat.Conversation)

type Store struct {
	identity string
	fetcher  Fetcher
	sender   Sender
	push     PushChannel
	logger   *slog.Logger
	now      func() time.Time

	mu         sync.Mutex
	entries    map[string]*entry
	closed     bool
	unregister func()

	// roomMu keeps Join/Leave in entry order while mu is released around them. Acquire it with mu
	// held, never the reverse.
	roomMu sync.Mutex
}

type Option func(*Store)

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithClock overrides the clock used to timestamp optimistic messages.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a store for one signed-in identity and subscribes it to the push channel.
func New(identity string, fetcher Fetcher, sender Sender, push PushChannel, opts ...Option) *Store {
	s := &Store{
		identity: identity,
		fetcher:  fetcher,
		sender:   sender,
		push:     push,
		logger:   slog.Default(),
		now:      time.Now,
		entries:  make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.unregister = push.OnMessage(s.handlePush)
	return s
}

func (s *Store) Identity() string {
	return s.identity
}

// Open mounts a view of a conversation: it joins the push room and starts the authoritative fetch.
// Views of the same id share one entry, which lives until the last of them is closed.
func (s *Store) Open(conversationID string) (*View, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}

	e, ok := s.entries[conversationID]
	if ok {
		e.refs++
		s.mu.Unlock()
		return &View{store: s, entry: e}, nil
	}
	e = newEntry(conversationID)
	e.refs++
	s.entries[conversationID] = e
	s.roomMu.Lock()
	s.mu.Unlock()
	s.push.Join(conversationID)
	s.roomMu.Unlock()

	go e.dispatch()
	go s.load(e)
	return &View{store: s, entry: e}, nil
}

// Len returns the number of open conversations.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close tears down every open conversation and detaches from the push channel.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	entries := s.entries
	s.entries = make(map[string]*entry)
	s.roomMu.Lock()
	s.mu.Unlock()
	for id := range entries {
		s.push.Leave(id)
	}
	s.roomMu.Unlock()

	s.unregister()
	for _, e := range entries {
		e.close()
	}
}

func (s *Store) release(e *entry) {
	s.mu.Lock()
	e.refs--
	if e.refs > 0 || s.entries[e.id] != e {
		s.mu.Unlock()
		return
	}
	delete(s.entries, e.id)
	s.roomMu.Lock()
	s.mu.Unlock()
	s.push.Leave(e.id)
	s.roomMu.Unlock()
	e.close()
}

func (s *Store) handlePush(m chat.Message) {
	s.mu.Lock()
	e := s.entries[m.ConversationID]
	s.mu.Unlock()
	if e == nil {
		s.logger.Debug("ignoring push for conversation not open", "conversation", m.ConversationID)
		return
	}
	_ = e.mutate(func(c *chat.Conversation) {
		c.Messages = reconcile.ApplyPushed(c.Messages, m)
	})
}

func (s *Store) load(e *entry) {
	defer e.readyOnce.Do(func() { close(e.ready) })
	if err := s.refresh(e.ctx, e); err != nil && !errors.Is(err, ErrClosed) {
		s.logger.Debug("initial fetch failed", "conversation", e.id, "err", err)
	}
}

func (s *Store) refresh(ctx context.Context, e *entry) error {
	seq := e.startFetch()
	fetched, err := s.fetcher.FetchConversation(ctx, e.id)
	if e.ctx.Err() != nil {
		return ErrClosed
	}
	e.recordFetch(seq, err)
	if err != nil {
		return fmt.Errorf("failed to fetch conversation: %w", err)
	}
	return e.mutate(func(c *chat.Conversation) {
		merged := reconcile.MergeAuthoritative(c.Messages, fetched.Messages)
		*c = fetched.Clone()
		c.ID = e.id
		c.Messages = merged
	})
}

func (s *Store) send(ctx context.Context, e *entry, content string) error {
	// the server echoes valid UTF-8, so the optimistic key must match it
	content = strings.ToValidUTF8(content, "\uFFFD")
	optimistic := chat.Message{
		Author:         s.identity,
		Content:        content,
		Timestamp:      s.now().UnixMilli(),
		ConversationID: e.id,
	}
	if err := e.mutate(func(c *chat.Conversation) {
		c.Messages = reconcile.Append(c.Messages, optimistic)
	}); err != nil {
		return err
	}

	if err := s.sender.SendMessage(ctx, e.id, content); err != nil {
		_ = e.mutate(func(c *chat.Conversation) {
			c.Messages = reconcile.Remove(c.Messages, optimistic.Timestamp, optimistic.Key())
		})
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

type entry struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	refs   int

	ready     chan struct{}
	readyOnce sync.Once
	notify    chan struct{}
	done      chan struct{}

	mu           sync.Mutex
	closed       bool
	conv         chat.Conversation
	err          error
	fetchSeq     uint64
	recordedSeq  uint64
	listeners    map[uint64]Listener
	nextListener uint64
}

func newEntry(id string) *entry {
	ctx, cancel := context.WithCancel(context.Background())
	return &entry{
		id:        id,
		ctx:       ctx,
		cancel:    cancel,
		ready:     make(chan struct{}),
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
		conv:      chat.Conversation{ID: id, Messages: []chat.Message{}},
		listeners: make(map[uint64]Listener),
	}
}

// mutate applies fn as one atomic step against the latest state.
func (e *entry) mutate(fn func(*chat.Conversation)) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	fn(&e.conv)
	e.mu.Unlock()
	e.signal()
	return nil
}

func (e *entry) signal() {
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

func (e *entry) dispatch() {
	for {
		select {
		case <-e.notify:
		case <-e.done:
			return
		}

		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return
		}
		snapshot := e.conv.Clone()
		listeners := make([]Listener, 0, len(e.listeners))
		for _, l := range e.listeners {
			listeners = append(listeners, l)
		}
		e.mu.Unlock()

		for _, l := range listeners {
			l(snapshot)
		}
	}
}

func (e *entry) snapshot() chat.Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conv.Clone()
}

func (e *entry) startFetch() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fetchSeq++
	return e.fetchSeq
}

// recordFetch keeps the outcome of fetch seq unless a later-started fetch already resolved.
func (e *entry) recordFetch(seq uint64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if seq < e.recordedSeq {
		return
	}
	e.recordedSeq = seq
	e.err = err
}

func (e *entry) close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.listeners = map[uint64]Listener{}
	e.mu.Unlock()
	e.cancel()
	close(e.done)
}
