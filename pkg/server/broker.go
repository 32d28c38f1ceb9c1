package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/astromechza/chatsync/pkg/chat"
)

// Broker carries newly stored messages to every server instance's hub.
type Broker interface {
	Publish(ctx context.Context, m chat.Message) error
	Subscribe(fn func(chat.Message))
	Close() error
}

// LocalBroker delivers within this process only.
type LocalBroker struct {
	mu  sync.RWMutex
	fns []func(chat.Message)
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{}
}

func (b *LocalBroker) Publish(_ context.Context, m chat.Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, fn := range b.fns {
		fn(m)
	}
	return nil
}

func (b *LocalBroker) Subscribe(fn func(chat.Message)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fns = append(b.fns, fn)
}

func (b *LocalBroker) Close() error {
	return nil
}

// RedisBroker fans messages out through a redis pub/sub channel so that sockets held by other
// instances see them too. Delivery is at most once, like the push channel itself.
type RedisBroker struct {
	client  *redis.Client
	pubsub  *redis.PubSub
	channel string
	logger  *slog.Logger
	local   *LocalBroker
	wg      sync.WaitGroup
}

func NewRedisBroker(ctx context.Context, redisURL, channel string, logger *slog.Logger) (*RedisBroker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	pubsub := client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		_ = client.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	b := &RedisBroker{client: client, pubsub: pubsub, channel: channel, logger: logger, local: NewLocalBroker()}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.receive()
	}()
	return b, nil
}

func (b *RedisBroker) Publish(ctx context.Context, m chat.Message) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(fn func(chat.Message)) {
	b.local.Subscribe(fn)
}

func (b *RedisBroker) Close() error {
	err := b.pubsub.Close()
	b.wg.Wait()
	if cerr := b.client.Close(); err == nil {
		err = cerr
	}
	return err
}

func (b *RedisBroker) receive() {
	for msg := range b.pubsub.Channel() {
		var m chat.Message
		if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
			b.logger.Warn("dropping malformed broker payload", "err", err)
			continue
		}
		_ = b.local.Publish(context.Background(), m)
	}
}
