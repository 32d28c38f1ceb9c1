package transport

import (
	"github.com/astromechza/chatsync/pkg/chat"
)

// FrameType names a frame on the push socket.
type FrameType string

const (
	// FrameJoin and FrameLeave are sent by clients to subscribe to a conversation room.
	FrameJoin  FrameType = "join"
	FrameLeave FrameType = "leave"
	// FrameMessage is sent by the server with one message for a joined room.
	FrameMessage FrameType = "message"
)

// Frame is the JSON envelope of every websocket text message in either direction.
type Frame struct {
	Type           FrameType     `json:"type"`
	ConversationID string        `json:"conversationId,omitempty"`
	Message        *chat.Message `json:"message,omitempty"`
}
