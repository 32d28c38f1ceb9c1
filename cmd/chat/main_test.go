package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/chatsync/pkg/chat"
)

func TestParseParticipant(t *testing.T) {
	p, err := parseParticipant("alice")
	require.NoError(t, err)
	assert.Equal(t, chat.Participant{ID: "alice", Kind: chat.Individual}, p)

	p, err = parseParticipant("acme:organization:ACME Ltd")
	require.NoError(t, err)
	assert.Equal(t, chat.Participant{ID: "acme", Kind: chat.Organization, Handle: "ACME Ltd"}, p)

	_, err = parseParticipant(":individual")
	assert.Error(t, err)
	_, err = parseParticipant("bob:robot")
	assert.Error(t, err)
}

func TestFormatMessage(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local).UnixMilli()
	assert.Equal(t, "03:04:05 * Order shipped", formatMessage(chat.Message{ID: "1", Content: "Order shipped", Timestamp: ts}, "alice"))
	assert.Equal(t, "03:04:05 alice: hi (sending)", formatMessage(chat.Message{Author: "alice", Content: "hi", Timestamp: ts}, "alice"))
	assert.Equal(t, "03:04:05 me: hi", formatMessage(chat.Message{ID: "2", Author: "alice", Content: "hi", Timestamp: ts}, "alice"))
	assert.Equal(t, "03:04:05 bob: yo", formatMessage(chat.Message{ID: "3", Author: "bob", Content: "yo", Timestamp: ts}, "alice"))
}

func TestFormatConversation(t *testing.T) {
	out := formatConversation(chat.Conversation{
		ID:           "c1",
		Participants: []chat.Participant{{ID: "alice"}, {ID: "bob", Handle: "@bob"}},
		Linked:       &chat.LinkedResource{OrderID: "o-1"},
	}, "alice")
	assert.Equal(t, "--- @bob (0 messages)\n    order o-1\n", out)
}

func TestSendLines(t *testing.T) {
	var sent []string
	sendLines(context.Background(), strings.NewReader("hello\n\n  there  \nfail\n"), func(_ context.Context, s string) error {
		sent = append(sent, s)
		if s == "fail" {
			return errors.New("boom")
		}
		return nil
	})
	assert.Equal(t, []string{"hello", "there", "fail"}, sent)
}
