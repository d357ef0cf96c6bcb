package frames

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fieldgoal/pickem/go/internal/models"
)

// FrameType represents the discriminant of a chat protocol frame
type FrameType string

const (
	// Inbound frame types
	FrameTypeAuthenticated FrameType = "authenticated"
	FrameTypeRoomJoined    FrameType = "room_joined"
	FrameTypeRoomLeft      FrameType = "room_left"
	FrameTypeNewMessage    FrameType = "new_message"
	FrameTypeUserJoined    FrameType = "user_joined"
	FrameTypeUserLeft      FrameType = "user_left"
	FrameTypeError         FrameType = "error"
	FrameTypeHeartbeatAck  FrameType = "heartbeat_ack"

	// Outbound frame types
	FrameTypeJoinRoom         FrameType = "join_room"
	FrameTypeLeaveRoom        FrameType = "leave_room"
	FrameTypeSendMessage      FrameType = "send_message"
	FrameTypeUserStatusUpdate FrameType = "user_status_update"
)

// Envelope is the wire shape shared by every frame: a type discriminant
// plus a type-specific payload.
type Envelope struct {
	Type    FrameType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound is the closed set of frames the backend can deliver. Every
// variant is a concrete struct; the router switches over them exhaustively.
type Inbound interface {
	frameType() FrameType
}

// Authenticated confirms the session credential, optionally carrying a
// rotated bearer token the client must use from now on.
type Authenticated struct {
	UserID string `json:"user_id"`
	Token  string `json:"token,omitempty"`
}

// RoomJoined acknowledges a join and seeds presence with a snapshot of
// the users currently online in the room.
type RoomJoined struct {
	RoomID      string                 `json:"room_id"`
	OnlineUsers []models.PresenceEntry `json:"online_users"`
}

// RoomLeft acknowledges a leave.
type RoomLeft struct {
	RoomID string `json:"room_id"`
}

// NewMessage carries one chat message broadcast to the room. TempID is
// echoed back when the message originated from this client.
type NewMessage struct {
	Message models.ChatMessage `json:"message"`
}

// UserJoined reports a participant coming online in a room.
type UserJoined struct {
	RoomID string               `json:"room_id"`
	User   models.PresenceEntry `json:"user"`
}

// UserLeft reports a participant going offline in a room.
type UserLeft struct {
	RoomID string    `json:"room_id"`
	UserID string    `json:"user_id"`
	LeftAt time.Time `json:"left_at"`
}

// Error reports a server-side protocol or authorization error.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	RoomID  string `json:"room_id,omitempty"`
}

// HeartbeatAck acknowledges a keepalive.
type HeartbeatAck struct {
	ServerTime time.Time `json:"server_time"`
}

func (Authenticated) frameType() FrameType { return FrameTypeAuthenticated }
func (RoomJoined) frameType() FrameType    { return FrameTypeRoomJoined }
func (RoomLeft) frameType() FrameType      { return FrameTypeRoomLeft }
func (NewMessage) frameType() FrameType    { return FrameTypeNewMessage }
func (UserJoined) frameType() FrameType    { return FrameTypeUserJoined }
func (UserLeft) frameType() FrameType      { return FrameTypeUserLeft }
func (Error) frameType() FrameType         { return FrameTypeError }
func (HeartbeatAck) frameType() FrameType  { return FrameTypeHeartbeatAck }

// ErrUnknownType is returned by Decode for discriminants outside the closed set.
type ErrUnknownType struct {
	Type FrameType
}

func (e *ErrUnknownType) Error() string {
	return fmt.Sprintf("unknown frame type: %s", e.Type)
}

// Decode parses raw bytes into one of the closed inbound variants.
// Malformed JSON, unknown discriminants and bad payloads all return an
// error; Decode never panics, whatever the payload.
func Decode(data []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal frame envelope: %w", err)
	}
	if len(env.Payload) == 0 {
		env.Payload = []byte("{}")
	}

	switch env.Type {
	case FrameTypeAuthenticated:
		var f Authenticated
		if err := json.Unmarshal(env.Payload, &f); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", env.Type, err)
		}
		return &f, nil

	case FrameTypeRoomJoined:
		var f RoomJoined
		if err := json.Unmarshal(env.Payload, &f); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", env.Type, err)
		}
		return &f, nil

	case FrameTypeRoomLeft:
		var f RoomLeft
		if err := json.Unmarshal(env.Payload, &f); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", env.Type, err)
		}
		return &f, nil

	case FrameTypeNewMessage:
		var f NewMessage
		if err := json.Unmarshal(env.Payload, &f); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", env.Type, err)
		}
		return &f, nil

	case FrameTypeUserJoined:
		var f UserJoined
		if err := json.Unmarshal(env.Payload, &f); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", env.Type, err)
		}
		return &f, nil

	case FrameTypeUserLeft:
		var f UserLeft
		if err := json.Unmarshal(env.Payload, &f); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", env.Type, err)
		}
		return &f, nil

	case FrameTypeError:
		var f Error
		if err := json.Unmarshal(env.Payload, &f); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", env.Type, err)
		}
		return &f, nil

	case FrameTypeHeartbeatAck:
		var f HeartbeatAck
		if err := json.Unmarshal(env.Payload, &f); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", env.Type, err)
		}
		return &f, nil

	default:
		return nil, &ErrUnknownType{Type: env.Type}
	}
}

// JoinRoomPayload is the payload for a join_room frame
type JoinRoomPayload struct {
	RoomID string `json:"room_id"`
}

// LeaveRoomPayload is the payload for a leave_room frame
type LeaveRoomPayload struct {
	RoomID string `json:"room_id"`
}

// SendMessagePayload is the payload for a send_message frame. TempID is the
// client-generated id the server echoes back on the broadcast.
type SendMessagePayload struct {
	RoomID    string `json:"room_id"`
	ChannelID string `json:"channel_id,omitempty"`
	Text      string `json:"text"`
	TempID    string `json:"temp_id"`
}

// UserStatusUpdatePayload is the payload for a user_status_update keepalive
type UserStatusUpdatePayload struct {
	Status string    `json:"status"`
	SentAt time.Time `json:"sent_at"`
}

// Encode wraps a payload in an envelope and marshals it for the wire.
func Encode(frameType FrameType, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", frameType, err)
	}
	data, err := json.Marshal(Envelope{Type: frameType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", frameType, err)
	}
	return data, nil
}
