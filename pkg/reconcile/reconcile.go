// Package reconcile merges message lists arriving from the optimistic, pushed and fetched paths
// into one ordered list without duplicates.
//
// Messages are matched by chat.Key (author and content). Every function here is pure: inputs are
// never modified and the result is always a freshly allocated slice sorted ascending by timestamp.
package reconcile

import (
	"github.com/astromechza/chatsync/pkg/chat"
)

// MergeAuthoritative combines the locally held list with a freshly fetched authoritative list.
// Every authoritative entry is kept exactly as fetched. A local entry survives only when no
// authoritative entry shares its key, which covers in-flight sends and pushes the fetch predates.
func MergeAuthoritative(local, authoritative []chat.Message) []chat.Message {
	known := make(map[chat.Key]struct{}, len(authoritative))
	for _, m := range authoritative {
		known[m.Key()] = struct{}{}
	}

	out := make([]chat.Message, 0, len(authoritative)+len(local))
	out = append(out, authoritative...)
	for _, m := range local {
		if _, ok := known[m.Key()]; ok {
			continue
		}
		out = append(out, m)
	}
	chat.SortMessages(out)
	return out
}

// ApplyPushed folds a single pushed message into the local list. A local entry with the same key
// is upgraded in place to the pushed fields, otherwise the pushed message is appended.
func ApplyPushed(local []chat.Message, pushed chat.Message) []chat.Message {
	out := make([]chat.Message, 0, len(local)+1)
	out = append(out, local...)

	if i := indexOf(out, pushed.Key()); i >= 0 {
		out[i] = pushed
	} else {
		out = append(out, pushed)
	}
	chat.SortMessages(out)
	return out
}

// Append adds a locally composed message without matching it against existing entries, so a
// repeated send of the same text never overwrites an earlier confirmed one.
func Append(local []chat.Message, m chat.Message) []chat.Message {
	out := make([]chat.Message, 0, len(local)+1)
	out = append(out, local...)
	out = append(out, m)
	chat.SortMessages(out)
	return out
}

// Remove drops the entry appended by one send attempt, identified by the client timestamp it was
// given and its key. The list is returned unchanged (as a copy) when no such entry exists, for
// example because a push already upgraded it.
func Remove(local []chat.Message, timestamp int64, key chat.Key) []chat.Message {
	out := make([]chat.Message, 0, len(local))
	removed := false
	for _, m := range local {
		if !removed && m.Timestamp == timestamp && m.Key() == key {
			removed = true
			continue
		}
		out = append(out, m)
	}
	chat.SortMessages(out)
	return out
}

// indexOf returns the entry to upgrade for key. Unconfirmed entries (no server id) win over
// confirmed ones so a push lands on the placeholder it confirms.
func indexOf(messages []chat.Message, key chat.Key) int {
	found := -1
	for i, m := range messages {
		if m.Key() != key {
			continue
		}
		if m.ID == "" {
			return i
		}
		if found < 0 {
			found = i
		}
	}
	return found
}
