package reconcile

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/chatsync/pkg/chat"
)

func msg(author, content string, ts int64) chat.Message {
	return chat.Message{Author: author, Content: content, Timestamp: ts, ConversationID: "c1"}
}

// randomLists builds a local and an authoritative list drawn from a small vocabulary so keys collide often.
// Authoritative keys are unique, matching what the server returns for distinct messages.
func randomLists(r *rand.Rand) (local, authoritative []chat.Message) {
	authors := []string{"alice", "bob", ""}
	seen := map[chat.Key]bool{}
	n := r.Intn(6)
	for i := 0; i < n; i++ {
		m := msg(authors[r.Intn(len(authors))], fmt.Sprintf("m%d", r.Intn(5)), int64(r.Intn(20)))
		m.ID = fmt.Sprintf("srv-%d", i)
		if seen[m.Key()] {
			continue
		}
		seen[m.Key()] = true
		authoritative = append(authoritative, m)
	}
	n = r.Intn(6)
	for i := 0; i < n; i++ {
		local = append(local, msg(authors[r.Intn(len(authors))], fmt.Sprintf("m%d", r.Intn(5)), int64(r.Intn(20))))
	}
	return local, authoritative
}

func TestMergeAuthoritative_Properties(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		local, authoritative := randomLists(r)
		merged := MergeAuthoritative(local, authoritative)

		require.True(t, chat.IsSorted(merged), "sorted: %v", merged)
		require.Equal(t, merged, MergeAuthoritative(merged, authoritative), "idempotent for local=%v auth=%v", local, authoritative)

		for _, a := range authoritative {
			count := 0
			for _, m := range merged {
				if m.Key() == a.Key() {
					count++
					assert.Equal(t, a, m)
				}
			}
			require.Equal(t, 1, count, "key %v appears once", a.Key())
		}
	}
}

func TestMergeAuthoritative_RetainsUnconfirmedLocal(t *testing.T) {
	local := []chat.Message{msg("alice", "hi", 10)}
	merged := MergeAuthoritative(local, nil)
	assert.Equal(t, local, merged)
}

func TestMergeAuthoritative_PrefersAuthoritativeFields(t *testing.T) {
	local := []chat.Message{msg("alice", "hi", 10), msg("bob", "yo", 5)}
	confirmed := msg("alice", "hi", 12)
	confirmed.ID = "01H"

	merged := MergeAuthoritative(local, []chat.Message{confirmed})
	assert.Equal(t, []chat.Message{msg("bob", "yo", 5), confirmed}, merged)
}

func TestMergeAuthoritative_DoesNotModifyInputs(t *testing.T) {
	local := []chat.Message{msg("bob", "b", 9), msg("alice", "a", 1)}
	authoritative := []chat.Message{msg("carol", "c", 5), msg("dave", "d", 2)}
	localCopy := append([]chat.Message(nil), local...)
	authCopy := append([]chat.Message(nil), authoritative...)

	_ = MergeAuthoritative(local, authoritative)
	assert.Equal(t, localCopy, local)
	assert.Equal(t, authCopy, authoritative)
}

func TestMergeAuthoritative_KeepsAuthoritativeDuplicates(t *testing.T) {
	authoritative := []chat.Message{msg("alice", "ok", 1), msg("alice", "ok", 2)}
	merged := MergeAuthoritative([]chat.Message{msg("alice", "ok", 3)}, authoritative)
	assert.Equal(t, authoritative, merged)
}

func TestApplyPushed_UpgradesInPlace(t *testing.T) {
	local := []chat.Message{msg("bob", "yo", 1), msg("alice", "hi", 100)}
	pushed := msg("alice", "hi", 105)
	pushed.ID = "01J"

	out := ApplyPushed(local, pushed)
	require.Len(t, out, len(local))
	assert.Equal(t, pushed, out[1])
	assert.Equal(t, int64(100), local[1].Timestamp, "input untouched")
}

func TestApplyPushed_AppendsAndSorts(t *testing.T) {
	local := []chat.Message{msg("bob", "yo", 10)}
	out := ApplyPushed(local, msg("alice", "early", 3))
	assert.Equal(t, []chat.Message{msg("alice", "early", 3), msg("bob", "yo", 10)}, out)
}

func TestApplyPushed_PrefersPlaceholder(t *testing.T) {
	confirmed := msg("alice", "again", 1)
	confirmed.ID = "01A"
	placeholder := msg("alice", "again", 50)
	pushed := msg("alice", "again", 52)
	pushed.ID = "01B"

	out := ApplyPushed([]chat.Message{confirmed, placeholder}, pushed)
	assert.Equal(t, []chat.Message{confirmed, pushed}, out)
}

func TestApplyPushed_SortInvariant(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		local, _ := randomLists(r)
		local = MergeAuthoritative(local, nil)
		out := ApplyPushed(local, msg("alice", fmt.Sprintf("m%d", r.Intn(5)), int64(r.Intn(20))))
		require.True(t, chat.IsSorted(out))
		require.LessOrEqual(t, len(out), len(local)+1)
	}
}

func TestRemove(t *testing.T) {
	base := []chat.Message{msg("bob", "yo", 10)}
	sent := msg("alice", "bye", 20)
	withSend := append(append([]chat.Message(nil), base...), sent)

	assert.Equal(t, base, Remove(withSend, sent.Timestamp, sent.Key()))
	assert.Equal(t, withSend, Remove(withSend, 21, sent.Key()), "other attempt untouched")
}

func TestScenario_ConcurrentFetchAndPush(t *testing.T) {
	local := []chat.Message{msg("alice", "hi", 100)}

	local = MergeAuthoritative(local, []chat.Message{})
	require.Equal(t, []chat.Message{msg("alice", "hi", 100)}, local)

	local = ApplyPushed(local, msg("alice", "hi", 101))
	require.Len(t, local, 1)
	assert.Equal(t, int64(101), local[0].Timestamp)
}

func TestAppend_KeepsEarlierConfirmedEntry(t *testing.T) {
	confirmed := msg("alice", "ok", 1)
	confirmed.ID = "01A"
	out := Append([]chat.Message{confirmed}, msg("alice", "ok", 9))
	assert.Equal(t, []chat.Message{confirmed, msg("alice", "ok", 9)}, out)
	assert.Equal(t, []chat.Message{confirmed}, Remove(out, 9, chat.Key{Author: "alice", Content: "ok"}))
}
