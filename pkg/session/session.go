// Package session ties one signed-in identity to its api client, push adapter and conversation store.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/astromechza/chatsync/pkg/api"
	"github.com/astromechza/chatsync/pkg/config"
	"github.com/astromechza/chatsync/pkg/store"
	"github.com/astromechza/chatsync/pkg/transport"
)

var (
	ErrSignedOut = errors.New("not signed in")
	ErrSignedIn  = errors.New("already signed in")
)

type Session struct {
	cfg    config.Client
	logger *slog.Logger

	mu       sync.Mutex
	identity string
	client   *api.Client
	adapter  *transport.Adapter
	store    *store.Store
}

type Option func(*Session)

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

func New(cfg config.Client, opts ...Option) *Session {
	s := &Session{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SignIn connects the push channel for identity and makes a fresh store available. A failed first
// connect is returned and leaves the session signed out.
func (s *Session) SignIn(ctx context.Context, identity string) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return errors.New("identity is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store != nil {
		return ErrSignedIn
	}

	client, err := api.NewClient(s.cfg.ServerURL, identity)
	if err != nil {
		return err
	}
	if s.cfg.RequestTimeout > 0 {
		client.HTTPClient.Timeout = s.cfg.RequestTimeout
	}
	endpoint, err := transport.EndpointFromBase(s.cfg.ServerURL)
	if err != nil {
		return err
	}
	header := http.Header{}
	header.Set(api.UserHeader, identity)
	logger := s.logger.With("user", identity)

	opts := []transport.Option{transport.WithHeader(header), transport.WithLogger(logger)}
	if s.cfg.ReconnectInterval > 0 {
		opts = append(opts, transport.WithReconnectLimit(s.cfg.ReconnectInterval, 1))
	}
	adapter := transport.New(endpoint, opts...)
	if err := adapter.Connect(ctx); err != nil {
		return fmt.Errorf("failed to sign in: %w", err)
	}

	s.identity = identity
	s.client = client
	s.adapter = adapter
	s.store = store.New(identity, client, client, adapter, store.WithLogger(logger))
	logger.Info("signed in", "server", s.cfg.ServerURL)
	return nil
}

// SignOut closes every open conversation and the push connection. It is a no-op when signed out.
func (s *Session) SignOut() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return nil
	}
	s.store.Close()
	err := s.adapter.Disconnect()
	s.logger.Info("signed out", "user", s.identity)
	s.identity, s.client, s.adapter, s.store = "", nil, nil, nil
	return err
}

// Store returns the signed-in identity's conversation store.
func (s *Session) Store() (*store.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return nil, ErrSignedOut
	}
	return s.store, nil
}

// API returns the request/response client of the signed-in identity.
func (s *Session) API() (*api.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil, ErrSignedOut
	}
	return s.client, nil
}

func (s *Session) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Connected reports whether the push socket is currently open.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adapter != nil && s.adapter.Connected()
}
