// Package server is the reference chat service behind the client sync core. It serves the
// authoritative conversation fetch, the send call and the push socket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/astromechza/chatsync/pkg/api"
	"github.com/astromechza/chatsync/pkg/chat"
)

type Server struct {
	repo     *Repository
	hub      *Hub
	broker   Broker
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithClock overrides the clock used to stamp stored messages.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

func New(repo *Repository, broker Broker, opts ...Option) *Server {
	s := &Server{
		repo:     repo,
		broker:   broker,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = NewHub(s.logger)
	broker.Subscribe(s.hub.Deliver)
	return s
}

func (s *Server) Hub() *Hub {
	return s.hub
}

// Close drops every push socket. The repository and broker belong to the caller.
func (s *Server) Close() {
	s.hub.Close()
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.instrument)

	r.Methods(http.MethodGet).Path("/healthz").HandlerFunc(s.health)
	r.Methods(http.MethodGet).Path("/metrics").Handler(promhttp.Handler())
	r.Methods(http.MethodGet).Path("/ws").HandlerFunc(s.serveSocket)
	r.Methods(http.MethodPut).Path("/conversations/{conversation}").HandlerFunc(s.putConversation)
	r.Methods(http.MethodGet).Path("/conversations/{conversation}").HandlerFunc(s.getConversation)
	r.Methods(http.MethodPost).Path("/conversations/{conversation}/messages").HandlerFunc(s.postMessage)
	r.Methods(http.MethodPost).Path("/conversations/{conversation}/events").HandlerFunc(s.postSystemMessage)
	return r
}

func (s *Server) instrument(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		m := httpsnoop.CaptureMetrics(handler, writer, request)
		httpRequestsTotal.WithLabelValues(request.Method, strconv.Itoa(m.Code)).Inc()
		httpRequestDuration.WithLabelValues(request.Method).Observe(m.Duration.Seconds())
		s.logger.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
	})
}

type putConversationRequest struct {
	Participants []chat.Participant   `json:"participants" validate:"dive"`
	Title        string               `json:"title" validate:"max=200"`
	Linked       *chat.LinkedResource `json:"linked"`
}

type systemMessageRequest struct {
	Content string `json:"content" validate:"required,max=4000"`
}

func (s *Server) health(writer http.ResponseWriter, _ *http.Request) {
	writeJSON(writer, http.StatusOK, map[string]any{"status": "ok", "sockets": s.hub.Len()})
}

func (s *Server) serveSocket(writer http.ResponseWriter, request *http.Request) {
	user, ok := requireUser(writer, request)
	if !ok {
		return
	}
	s.hub.Serve(writer, request, user)
}

func (s *Server) putConversation(writer http.ResponseWriter, request *http.Request) {
	var body putConversationRequest
	if !s.decode(writer, request, &body) {
		return
	}
	if err := body.Linked.Validate(); err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}
	if body.Linked != nil && *body.Linked == (chat.LinkedResource{}) {
		body.Linked = nil
	}
	conv := chat.Conversation{
		ID:           mux.Vars(request)["conversation"],
		Participants: body.Participants,
		Title:        body.Title,
		Linked:       body.Linked,
	}
	created, err := s.repo.PutConversation(request.Context(), conv)
	if err != nil {
		s.internalError(writer, "failed to store conversation", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(writer, status, conv)
}

func (s *Server) getConversation(writer http.ResponseWriter, request *http.Request) {
	conv, ok := s.loadConversation(writer, request)
	if !ok {
		return
	}
	writeJSON(writer, http.StatusOK, conv)
}

func (s *Server) postMessage(writer http.ResponseWriter, request *http.Request) {
	user, ok := requireUser(writer, request)
	if !ok {
		return
	}
	var body api.SendRequest
	if !s.decode(writer, request, &body) {
		return
	}
	conv, ok := s.loadConversation(writer, request)
	if !ok {
		return
	}
	if len(conv.Participants) > 0 && !slices.ContainsFunc(conv.Participants, func(p chat.Participant) bool { return p.ID == user }) {
		http.Error(writer, "not a participant", http.StatusForbidden)
		return
	}
	m, err := s.store(request.Context(), conv.ID, user, body.Content)
	if err != nil {
		s.internalError(writer, "failed to store message", err)
		return
	}
	messagesPosted.WithLabelValues("user").Inc()
	writeJSON(writer, http.StatusCreated, m)
}

// postSystemMessage records a message with no author, such as an order status change.
func (s *Server) postSystemMessage(writer http.ResponseWriter, request *http.Request) {
	var body systemMessageRequest
	if !s.decode(writer, request, &body) {
		return
	}
	conv, ok := s.loadConversation(writer, request)
	if !ok {
		return
	}
	m, err := s.store(request.Context(), conv.ID, "", body.Content)
	if err != nil {
		s.internalError(writer, "failed to store message", err)
		return
	}
	messagesPosted.WithLabelValues("system").Inc()
	writeJSON(writer, http.StatusCreated, m)
}

func (s *Server) store(ctx context.Context, conversationID, author, content string) (chat.Message, error) {
	m := chat.Message{
		ID:             ulid.Make().String(),
		Author:         author,
		Content:        content,
		Timestamp:      s.now().UnixMilli(),
		ConversationID: conversationID,
	}
	if err := s.repo.AddMessage(ctx, m); err != nil {
		return m, err
	}
	if err := s.broker.Publish(ctx, m); err != nil {
		// stored already; clients catch up on their next fetch
		s.logger.Warn("failed to publish message", "conversation", conversationID, "err", err)
	}
	return m, nil
}

func (s *Server) loadConversation(writer http.ResponseWriter, request *http.Request) (chat.Conversation, bool) {
	conv, err := s.repo.GetConversation(request.Context(), mux.Vars(request)["conversation"])
	if errors.Is(err, ErrNotFound) {
		http.Error(writer, err.Error(), http.StatusNotFound)
		return conv, false
	} else if err != nil {
		s.internalError(writer, "failed to load conversation", err)
		return conv, false
	}
	return conv, true
}

func (s *Server) decode(writer http.ResponseWriter, request *http.Request, out any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(writer, request.Body, 1<<20)).Decode(out); err != nil {
		http.Error(writer, "invalid json body", http.StatusBadRequest)
		return false
	}
	if err := s.validate.Struct(out); err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) internalError(writer http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, "err", err)
	writer.WriteHeader(http.StatusInternalServerError)
}

func requireUser(writer http.ResponseWriter, request *http.Request) (string, bool) {
	user := strings.TrimSpace(request.Header.Get(api.UserHeader))
	if user == "" {
		http.Error(writer, "missing "+api.UserHeader, http.StatusUnauthorized)
		return "", false
	}
	return user, true
}

func writeJSON(writer http.ResponseWriter, status int, v any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	if err := json.NewEncoder(writer).Encode(v); err != nil {
		slog.Error("failed to write out", "err", err)
	}
}
