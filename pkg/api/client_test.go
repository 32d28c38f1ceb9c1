package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/chatsync/pkg/chat"
)

func TestClient_FetchConversation(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /conversations/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "alice", r.Header.Get(UserHeader))
		if r.PathValue("id") != "c1" {
			http.Error(w, "no such conversation", http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(chat.Conversation{
			ID:       "c1",
			Title:    "Order #7",
			Linked:   &chat.LinkedResource{OrderID: "7"},
			Messages: []chat.Message{{ID: "01", Author: "bob", Content: "yo", Timestamp: 3, ConversationID: "c1"}},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := NewClient(srv.URL, "alice")
	require.NoError(t, err)

	conv, err := c.FetchConversation(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "Order #7", conv.Title)
	assert.Equal(t, "7", conv.Linked.OrderID)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, "yo", conv.Messages[0].Content)

	_, err = c.FetchConversation(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "no such conversation", se.Body)
}

func TestClient_FetchConversation_EmptyMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"c2","participants":[]}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "alice")
	require.NoError(t, err)
	conv, err := c.FetchConversation(context.Background(), "c2")
	require.NoError(t, err)
	assert.NotNil(t, conv.Messages)
	assert.Empty(t, conv.Messages)
}

func TestClient_SendMessage(t *testing.T) {
	var got SendRequest
	mux := http.NewServeMux()
	mux.HandleFunc("POST /conversations/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		if got.Content == "fail" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := NewClient(srv.URL, "alice")
	require.NoError(t, err)

	require.NoError(t, c.SendMessage(context.Background(), "c1", "hello"))
	assert.Equal(t, "hello", got.Content)

	err = c.SendMessage(context.Background(), "c1", "fail")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.Code)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestClient_TransportError(t *testing.T) {
	c, err := NewClient("http://127.0.0.1:1", "alice")
	require.NoError(t, err)
	assert.Error(t, c.SendMessage(context.Background(), "c1", "hi"))
}
