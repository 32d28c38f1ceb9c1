// Package chat holds the conversation data model shared by the client sync core and the reference server.
package chat

import (
	"errors"
	"sort"
	"strings"
)

// ParticipantKind distinguishes an individual account from an organization.
type ParticipantKind string

const (
	Individual   ParticipantKind = "individual"
	Organization ParticipantKind = "organization"
)

type Participant struct {
	ID     string          `json:"id" validate:"required"`
	Kind   ParticipantKind `json:"kind" validate:"required,oneof=individual organization"`
	Handle string          `json:"handle"`
	Avatar string          `json:"avatar,omitempty"`
}

// LinkedResource attaches a conversation to an order or to an offer, never both.
type LinkedResource struct {
	OrderID string `json:"orderId,omitempty"`
	OfferID string `json:"offerId,omitempty"`
}

var ErrAmbiguousLink = errors.New("linked resource may reference an order or an offer, not both")

func (l *LinkedResource) Validate() error {
	if l == nil {
		return nil
	}
	if l.OrderID != "" && l.OfferID != "" {
		return ErrAmbiguousLink
	}
	return nil
}

// Message is a single entry in a conversation. An empty Author denotes a system message.
// ID is assigned by the server and is empty for optimistic entries.
type Message struct {
	ID             string `json:"id,omitempty"`
	Author         string `json:"author,omitempty"`
	Content        string `json:"content"`
	Timestamp      int64  `json:"timestamp"`
	ConversationID string `json:"conversationId"`
}

// Key is the identity used to match the same logical message across the optimistic,
// pushed and fetched paths. Timestamps differ between those paths so they are not part of it.
type Key struct {
	Author  string
	Content string
}

func (m Message) Key() Key {
	return Key{Author: m.Author, Content: m.Content}
}

func (m Message) IsSystem() bool {
	return m.Author == ""
}

type Conversation struct {
	ID           string          `json:"id"`
	Participants []Participant   `json:"participants"`
	Title        string          `json:"title,omitempty"`
	Linked       *LinkedResource `json:"linked,omitempty"`
	Messages     []Message       `json:"messages"`
}

// Label returns the title, or the handles of every participant other than self.
func (c Conversation) Label(self string) string {
	if c.Title != "" {
		return c.Title
	}
	handles := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p.ID == self {
			continue
		}
		h := p.Handle
		if h == "" {
			h = p.ID
		}
		handles = append(handles, h)
	}
	if len(handles) == 0 {
		return c.ID
	}
	return strings.Join(handles, ", ")
}

// SortMessages orders messages ascending by timestamp in place, keeping the relative order of ties.
func SortMessages(messages []Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp < messages[j].Timestamp
	})
}

// IsSorted reports whether messages are ascending by timestamp.
func IsSorted(messages []Message) bool {
	return sort.SliceIsSorted(messages, func(i, j int) bool {
		return messages[i].Timestamp < messages[j].Timestamp
	})
}

// Clone returns a copy of the conversation that shares no slices with c.
func (c Conversation) Clone() Conversation {
	out := c
	out.Participants = append([]Participant(nil), c.Participants...)
	out.Messages = append([]Message(nil), c.Messages...)
	if c.Linked != nil {
		l := *c.Linked
		out.Linked = &l
	}
	return out
}
