package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/astromechza/chatsync/pkg/chat"
)

var ErrNotFound = errors.New("conversation not found")

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id text not null primary key,
	title text not null default '',
	participants text not null default '[]',
	order_id text not null default '',
	offer_id text not null default ''
);

CREATE TABLE IF NOT EXISTS messages (
	id text not null primary key,
	conversation_id text not null,
	author text not null default '',
	content text not null,
	timestamp integer not null
);

CREATE INDEX IF NOT EXISTS messages_by_conversation ON messages (conversation_id, timestamp);
`

// Repository persists conversations and their messages in sqlite.
type Repository struct {
	database *sql.DB
}

func OpenRepository(path string) (*Repository, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps ":memory:" databases coherent and serializes writes
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return &Repository{database: db}, nil
}

func (r *Repository) Close() error {
	return r.database.Close()
}

// PutConversation creates the conversation or replaces its metadata. Messages are untouched.
func (r *Repository) PutConversation(ctx context.Context, conv chat.Conversation) (created bool, err error) {
	participants := conv.Participants
	if participants == nil {
		participants = []chat.Participant{}
	}
	rawParticipants, err := json.Marshal(participants)
	if err != nil {
		return false, fmt.Errorf("failed to marshal participants: %w", err)
	}
	var orderID, offerID string
	if conv.Linked != nil {
		orderID, offerID = conv.Linked.OrderID, conv.Linked.OfferID
	}

	var exists int
	if err := r.database.QueryRowContext(ctx, `SELECT count(*) FROM conversations WHERE id = ?`, conv.ID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to query: %w", err)
	}
	if _, err := r.database.ExecContext(
		ctx, `INSERT INTO conversations (id, title, participants, order_id, offer_id) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET title = excluded.title, participants = excluded.participants,
		order_id = excluded.order_id, offer_id = excluded.offer_id`,
		conv.ID, conv.Title, string(rawParticipants), orderID, offerID,
	); err != nil {
		return false, fmt.Errorf("failed to upsert conversation: %w", err)
	}
	return exists == 0, nil
}

// GetConversation returns the conversation with every message ordered by timestamp.
func (r *Repository) GetConversation(ctx context.Context, id string) (chat.Conversation, error) {
	conv := chat.Conversation{ID: id, Messages: []chat.Message{}}
	var rawParticipants, orderID, offerID string
	err := r.database.QueryRowContext(
		ctx, `SELECT title, participants, order_id, offer_id FROM conversations WHERE id = ?`, id,
	).Scan(&conv.Title, &rawParticipants, &orderID, &offerID)
	if errors.Is(err, sql.ErrNoRows) {
		return conv, ErrNotFound
	} else if err != nil {
		return conv, fmt.Errorf("failed to query conversation: %w", err)
	}
	if err := json.Unmarshal([]byte(rawParticipants), &conv.Participants); err != nil {
		return conv, fmt.Errorf("failed to decode participants: %w", err)
	}
	if orderID != "" || offerID != "" {
		conv.Linked = &chat.LinkedResource{OrderID: orderID, OfferID: offerID}
	}

	rows, err := r.database.QueryContext(
		ctx, `SELECT id, author, content, timestamp FROM messages WHERE conversation_id = ? ORDER BY timestamp, id`, id,
	)
	if err != nil {
		return conv, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		m := chat.Message{ConversationID: id}
		if err := rows.Scan(&m.ID, &m.Author, &m.Content, &m.Timestamp); err != nil {
			return conv, fmt.Errorf("failed to scan: %w", err)
		}
		conv.Messages = append(conv.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return conv, fmt.Errorf("failed to read messages: %w", err)
	}
	return conv, nil
}

func (r *Repository) AddMessage(ctx context.Context, m chat.Message) error {
	if _, err := r.database.ExecContext(
		ctx, `INSERT INTO messages (id, conversation_id, author, content, timestamp) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Author, m.Content, m.Timestamp,
	); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}
