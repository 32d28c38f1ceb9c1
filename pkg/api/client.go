// Package api is the request/response channel to the chat service: authoritative conversation
// fetches and message sends. It is independent of the push connection.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/astromechza/chatsync/pkg/chat"
)

// UserHeader carries the session identity on every request.
const UserHeader = "X-Chat-User"

var ErrNotFound = errors.New("not found")

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status code: %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: unexpected status code: %d: %s", e.Op, e.Code, e.Body)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

// SendRequest is the body of a send call.
type SendRequest struct {
	Content string `json:"content" validate:"required,max=4000"`
}

type Client struct {
	BaseURL    *url.URL
	HTTPClient *http.Client
	Identity   string
}

func NewClient(baseURL string, identity string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base url: %w", err)
	}
	return &Client{
		BaseURL:    u,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Identity:   identity,
	}, nil
}

// FetchConversation returns the full authoritative conversation resource.
func (c *Client) FetchConversation(ctx context.Context, conversationID string) (chat.Conversation, error) {
	var out chat.Conversation
	req, err := c.newRequest(ctx, http.MethodGet, nil, "conversations", conversationID)
	if err != nil {
		return out, err
	}
	if err := c.do(req, "fetch conversation", &out); err != nil {
		return out, err
	}
	if out.Messages == nil {
		out.Messages = []chat.Message{}
	}
	return out, nil
}

// SendMessage posts content as the client identity. Only success or failure matters to callers.
func (c *Client) SendMessage(ctx context.Context, conversationID, content string) error {
	body, err := json.Marshal(SendRequest{Content: content})
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, body, "conversations", conversationID, "messages")
	if err != nil {
		return err
	}
	return c.do(req, "send message", nil)
}

// PutConversation creates or replaces the conversation metadata. Messages in conv are ignored.
func (c *Client) PutConversation(ctx context.Context, conv chat.Conversation) error {
	conv.Messages = nil
	body, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPut, body, "conversations", conv.ID)
	if err != nil {
		return err
	}
	return c.do(req, "put conversation", nil)
}

func (c *Client) newRequest(ctx context.Context, method string, body []byte, path ...string) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL.JoinPath(path...).String(), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Identity != "" {
		req.Header.Set(UserHeader, c.Identity)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Op: op, Code: resp.StatusCode, Body: string(bytes.TrimSpace(raw))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}
