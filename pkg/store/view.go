package store

import (
	"context"
	"sync"

	"github.com/astromechza/chatsync/pkg/chat"
)

// View is one consumer's handle on an open conversation.
type View struct {
	store     *Store
	entry     *entry
	closeOnce sync.Once
}

func (v *View) ID() string {
	return v.entry.id
}

// Ready is closed once the initial fetch has resolved, successfully or not.
func (v *View) Ready() <-chan struct{} {
	return v.entry.ready
}

// Err returns the error of the most recent fetch, or nil.
func (v *View) Err() error {
	v.entry.mu.Lock()
	defer v.entry.mu.Unlock()
	return v.entry.err
}

// Conversation returns a snapshot of the conversation including its reconciled messages.
func (v *View) Conversation() chat.Conversation {
	return v.entry.snapshot()
}

// Messages returns a snapshot of the reconciled message list.
func (v *View) Messages() []chat.Message {
	return v.entry.snapshot().Messages
}

// Subscribe registers l and schedules a notification with the current state. The returned func
// removes it.
func (v *View) Subscribe(l Listener) func() {
	e := v.entry
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return func() {}
	}
	id := e.nextListener
	e.nextListener++
	e.listeners[id] = l
	e.mu.Unlock()
	e.signal()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.listeners, id)
	}
}

// Refresh fetches the authoritative conversation and merges it into the local list. The fetch is
// abandoned if the conversation is closed meanwhile. Errors are returned and never retried.
func (v *View) Refresh(ctx context.Context) error {
	if v.entry.ctx.Err() != nil {
		return ErrClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(v.entry.ctx, cancel)
	defer stop()
	return v.store.refresh(ctx, v.entry)
}

// Send appends content optimistically as the session identity, then sends it. When the send fails
// the optimistic entry is removed before the error is returned.
func (v *View) Send(ctx context.Context, content string) error {
	return v.store.send(ctx, v.entry, content)
}

// Close unmounts this view. The last close for a conversation leaves its push room, abandons
// in-flight fetches and discards the state.
func (v *View) Close() {
	v.closeOnce.Do(func() {
		v.store.release(v.entry)
	})
}
