package models

import (
	"time"
)

// OutboundStatus represents the delivery state of a user-authored message
type OutboundStatus string

const (
	OutboundStatusQueued  OutboundStatus = "QUEUED"
	OutboundStatusSending OutboundStatus = "SENDING"
	OutboundStatusSent    OutboundStatus = "SENT"
	OutboundStatusFailed  OutboundStatus = "FAILED"
)

// ChatMessage represents a message delivered by the chat backend,
// either over the live stream or through the history fallback.
type ChatMessage struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	ChannelID string    `json:"channel_id,omitempty"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	TempID    string    `json:"temp_id,omitempty"` // echo of the client-generated id, if any
	CreatedAt time.Time `json:"created_at"`
}

// OutboundMessage represents one user send attempt. It is owned by the
// dispatcher until it reaches a final status.
type OutboundMessage struct {
	TempID     string         `json:"temp_id"`
	RoomID     string         `json:"room_id"`
	ChannelID  string         `json:"channel_id,omitempty"`
	Text       string         `json:"text"`
	Status     OutboundStatus `json:"status"`
	Attempts   int            `json:"attempts"`
	CreatedAt  time.Time      `json:"created_at"`
}

// RoomSubscription tracks one joined room. Subscriptions survive reconnects;
// they are re-asserted to the server, not recreated.
type RoomSubscription struct {
	RoomID       string    `json:"room_id"`
	JoinedAt     time.Time `json:"joined_at"`
	LastSyncedAt time.Time `json:"last_synced_at"` // resync cursor
}

// PresenceEntry represents one participant's online status within a room.
// Presence is room-scoped; entries are never shared across rooms.
type PresenceEntry struct {
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	IsOnline  bool      `json:"is_online"`
	LastSeen  time.Time `json:"last_seen"`
}
