package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/fieldgoal/pickem/go/clients"
	"github.com/fieldgoal/pickem/go/internal/models"
)

// Client is the request/response fallback API of the chat backend. It is
// used for presence snapshots, history resync and secondary message
// delivery when the live transport is unavailable.
type Client struct {
	*clients.BaseClient
}

// NewClient creates a chat API client authenticated with a bearer token
func NewClient(baseURL, token string) *Client {
	client := &Client{
		BaseClient: clients.NewBaseClient(baseURL),
	}

	client.SetHeader(ContentTypeHeader, ContentTypeJSON)
	client.SetToken(token)

	return client
}

// SetToken replaces the bearer credential, e.g. after a token rotation
func (c *Client) SetToken(token string) {
	c.SetHeader(AuthorizationHeader, "Bearer "+token)
}

type messagesResponse struct {
	Messages []models.ChatMessage `json:"messages"`
	// Truncated reports that history older than the retention horizon was
	// requested and could not be returned in full.
	Truncated bool `json:"truncated"`
}

// FetchMessages returns the room's messages created strictly after since,
// in ascending creation order. The truncated flag reports an unrecoverable
// gap before the backend's retention horizon.
func (c *Client) FetchMessages(ctx context.Context, roomID string, since time.Time, limit int) ([]models.ChatMessage, bool, error) {
	if limit <= 0 {
		limit = DefaultFetchLimit
	}

	q := url.Values{}
	q.Set("limit", fmt.Sprintf("%d", limit))
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339Nano))
	}

	endpoint := fmt.Sprintf(MessagesEndpoint, url.PathEscape(roomID)) + "?" + q.Encode()
	body, err := c.Get(ctx, endpoint)
	if err != nil {
		return nil, false, fmt.Errorf("failed to fetch messages: %w", err)
	}

	var response messagesResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal messages response: %w", err)
	}

	return response.Messages, response.Truncated, nil
}

type onlineUsersResponse struct {
	Users []models.PresenceEntry `json:"users"`
}

// FetchOnlineUsers returns a one-shot snapshot of the room's online participants
func (c *Client) FetchOnlineUsers(ctx context.Context, roomID string) ([]models.PresenceEntry, error) {
	endpoint := fmt.Sprintf(OnlineUsersEndpoint, url.PathEscape(roomID))
	body, err := c.Get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch online users: %w", err)
	}

	var response onlineUsersResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal online users response: %w", err)
	}

	return response.Users, nil
}

// MarkRead advances the caller's read cursor for the room
func (c *Client) MarkRead(ctx context.Context, roomID string) error {
	endpoint := fmt.Sprintf(MarkReadEndpoint, url.PathEscape(roomID))
	if _, err := c.Post(ctx, endpoint, nil); err != nil {
		return fmt.Errorf("failed to mark room read: %w", err)
	}
	return nil
}

type sendMessageRequest struct {
	Text      string `json:"text"`
	ChannelID string `json:"channel_id,omitempty"`
	TempID    string `json:"temp_id,omitempty"`
}

// SendMessage delivers a message over the request/response path. Unlike a
// live send it reports a definitive result synchronously; the returned
// message carries the server-assigned id.
func (c *Client) SendMessage(ctx context.Context, roomID, channelID, text, tempID string) (*models.ChatMessage, error) {
	payload, err := json.Marshal(sendMessageRequest{Text: text, ChannelID: channelID, TempID: tempID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal send request: %w", err)
	}

	endpoint := fmt.Sprintf(MessagesEndpoint, url.PathEscape(roomID))
	body, err := c.Post(ctx, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	var message models.ChatMessage
	if err := json.Unmarshal(body, &message); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sent message: %w", err)
	}

	return &message, nil
}
