package session

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/chatsync/pkg/api"
	"github.com/astromechza/chatsync/pkg/chat"
	"github.com/astromechza/chatsync/pkg/config"
	"github.com/astromechza/chatsync/pkg/server"
	"github.com/astromechza/chatsync/pkg/store"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func startServer(t *testing.T) (*httptest.Server, *server.Server) {
	t.Helper()
	repo, err := server.OpenRepository(":memory:")
	require.NoError(t, err)
	srv := server.New(repo, server.NewLocalBroker(), server.WithLogger(quiet))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
		_ = repo.Close()
	})
	return ts, srv
}

func clientConfig(url string) config.Client {
	cfg := config.DefaultClient()
	cfg.ServerURL = url
	cfg.ReconnectInterval = 10 * time.Millisecond
	return cfg
}

func signIn(t *testing.T, url, identity string) *Session {
	t.Helper()
	s := New(clientConfig(url), WithLogger(quiet))
	require.NoError(t, s.SignIn(context.Background(), identity))
	t.Cleanup(func() { _ = s.SignOut() })
	return s
}

func openReady(t *testing.T, s *Session, id string) *store.View {
	t.Helper()
	st, err := s.Store()
	require.NoError(t, err)
	v, err := st.Open(id)
	require.NoError(t, err)
	select {
	case <-v.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("view never became ready")
	}
	require.NoError(t, v.Err())
	return v
}

func TestSignInOut(t *testing.T) {
	ts, _ := startServer(t)
	s := New(clientConfig(ts.URL), WithLogger(quiet))

	_, err := s.Store()
	assert.ErrorIs(t, err, ErrSignedOut)
	_, err = s.API()
	assert.ErrorIs(t, err, ErrSignedOut)
	assert.Error(t, s.SignIn(context.Background(), "  "))

	require.NoError(t, s.SignIn(context.Background(), "alice"))
	assert.ErrorIs(t, s.SignIn(context.Background(), "alice"), ErrSignedIn)
	assert.Equal(t, "alice", s.Identity())
	assert.True(t, s.Connected())

	st, err := s.Store()
	require.NoError(t, err)
	assert.Equal(t, "alice", st.Identity())
	v, err := st.Open("c1")
	require.NoError(t, err)

	require.NoError(t, s.SignOut())
	require.NoError(t, s.SignOut())
	assert.False(t, s.Connected())
	assert.Equal(t, "", s.Identity())
	_, err = s.Store()
	assert.ErrorIs(t, err, ErrSignedOut)
	assert.ErrorIs(t, v.Send(context.Background(), "too late"), store.ErrClosed)
	_, err = st.Open("c1")
	assert.ErrorIs(t, err, store.ErrClosed)

	require.NoError(t, s.SignIn(context.Background(), "bob"))
	assert.Equal(t, "bob", s.Identity())
	require.NoError(t, s.SignOut())
}

func TestSignIn_Unreachable(t *testing.T) {
	ts, _ := startServer(t)
	url := ts.URL
	ts.Close()

	s := New(clientConfig(url), WithLogger(quiet))
	assert.Error(t, s.SignIn(context.Background(), "alice"))
	_, err := s.Store()
	assert.ErrorIs(t, err, ErrSignedOut)
}

func TestSendIsConfirmedByPush(t *testing.T) {
	ts, srv := startServer(t)
	alice := signIn(t, ts.URL, "alice")
	bob := signIn(t, ts.URL, "bob")

	client, err := alice.API()
	require.NoError(t, err)
	require.NoError(t, client.PutConversation(context.Background(), chat.Conversation{
		ID: "c1",
		Participants: []chat.Participant{
			{ID: "alice", Kind: chat.Individual},
			{ID: "bob", Kind: chat.Individual},
		},
	}))

	av := openReady(t, alice, "c1")
	bv := openReady(t, bob, "c1")
	require.Eventually(t, func() bool { return srv.Hub().Members("c1") == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, av.Send(context.Background(), "hello bob"))

	confirmed := func(v *store.View) func() bool {
		return func() bool {
			ms := v.Messages()
			return len(ms) == 1 && ms[0].ID != ""
		}
	}
	require.Eventually(t, confirmed(av), 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, confirmed(bv), 2*time.Second, 10*time.Millisecond)

	am, bm := av.Messages()[0], bv.Messages()[0]
	assert.Equal(t, am.ID, bm.ID)
	assert.Equal(t, "alice", bm.Author)
	assert.Equal(t, "hello bob", bm.Content)

	// the authoritative list agrees and merging it changes nothing
	require.NoError(t, av.Refresh(context.Background()))
	assert.Equal(t, []chat.Message{bm}, av.Messages())
}

func TestSendRejectedRollsBack(t *testing.T) {
	ts, _ := startServer(t)
	owner := signIn(t, ts.URL, "alice")
	mallory := signIn(t, ts.URL, "mallory")

	client, err := owner.API()
	require.NoError(t, err)
	require.NoError(t, client.PutConversation(context.Background(), chat.Conversation{
		ID:           "c1",
		Participants: []chat.Participant{{ID: "alice", Kind: chat.Individual}},
	}))

	v := openReady(t, mallory, "c1")
	err = v.Send(context.Background(), "let me in")
	require.Error(t, err)
	var status *api.StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, 403, status.Code)
	assert.Empty(t, v.Messages())
}

func TestSendInvalidUTF8LeavesOneEntry(t *testing.T) {
	ts, srv := startServer(t)
	alice := signIn(t, ts.URL, "alice")

	client, err := alice.API()
	require.NoError(t, err)
	require.NoError(t, client.PutConversation(context.Background(), chat.Conversation{ID: "c1"}))

	v := openReady(t, alice, "c1")
	require.Eventually(t, func() bool { return srv.Hub().Members("c1") == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, v.Send(context.Background(), "caf\xe9"))
	require.Eventually(t, func() bool {
		ms := v.Messages()
		return len(ms) == 1 && ms[0].ID != ""
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, v.Refresh(context.Background()))
	ms := v.Messages()
	require.Len(t, ms, 1)
	assert.Equal(t, "caf�", ms[0].Content)
	assert.NotEmpty(t, ms[0].ID)
}
