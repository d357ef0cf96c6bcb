package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fieldgoal/pickem/go/internal/chat/frames"
)

// route is the single entry point for all transport-originated state
// changes. It is total over arbitrary byte payloads: malformed JSON,
// unknown discriminants and bad fields all degrade to a logged no-op.
func (e *Engine) route(ctx context.Context, session int, data []byte) {
	frame, err := frames.Decode(data)
	if err != nil {
		var unknown *frames.ErrUnknownType
		if errors.As(err, &unknown) {
			log.Warn().
				Str("frame_type", string(unknown.Type)).
				Msg("dropping frame with unknown type")
		} else {
			log.Warn().Err(err).Msg("dropping malformed frame")
		}
		return
	}

	switch f := frame.(type) {
	case *frames.Authenticated:
		e.handleAuthenticated(f)

	case *frames.RoomJoined:
		e.applyPresenceSnapshot(f.RoomID, f.OnlineUsers)

	case *frames.RoomLeft:
		log.Debug().Str("room_id", f.RoomID).Msg("room leave acknowledged")

	case *frames.NewMessage:
		e.deliverMessage(f.Message)

	case *frames.UserJoined:
		e.presenceUserJoined(f.RoomID, f.User)

	case *frames.UserLeft:
		e.presenceUserLeft(f.RoomID, f.UserID, f.LeftAt)

	case *frames.Error:
		log.Warn().
			Str("code", f.Code).
			Str("room_id", f.RoomID).
			Str("message", f.Message).
			Msg("server error frame")
		e.emitError(fmt.Errorf("chat: server error %s: %s", f.Code, f.Message))

	case *frames.HeartbeatAck:
		e.mu.Lock()
		if session == e.session {
			e.lastHeartbeatAck = e.clock.Now()
		}
		e.mu.Unlock()

	default:
		// Unreachable while frames.Inbound stays closed; a new variant
		// lands here until the switch above learns about it.
		log.Warn().Msgf("no handler for frame %T", f)
	}
}

// handleAuthenticated stores a rotated credential delivered mid-session.
// The server validated the new token on this very session, so no
// reconnect cycle is forced — the token simply takes effect on the next
// dial and on fallback API calls.
func (e *Engine) handleAuthenticated(f *frames.Authenticated) {
	if f.Token == "" {
		log.Debug().Str("user_id", f.UserID).Msg("session authenticated")
		return
	}

	e.mu.Lock()
	e.token = f.Token
	e.mu.Unlock()
	e.api.SetToken(f.Token)

	log.Info().Str("user_id", f.UserID).Msg("bearer token rotated by server")
}
