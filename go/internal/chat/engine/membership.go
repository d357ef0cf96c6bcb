package engine

import (
	"context"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/fieldgoal/pickem/go/internal/chat/frames"
	"github.com/fieldgoal/pickem/go/internal/models"
)

// Join subscribes to a room. Idempotent: joining an already-tracked room
// reuses the subscription and its resync cursor. While disconnected the
// join is deferred and replayed automatically on the next connect.
func (e *Engine) Join(ctx context.Context, roomID string) {
	e.mu.Lock()
	sub, exists := e.subs[roomID]
	if !exists {
		sub = &models.RoomSubscription{
			RoomID:   roomID,
			JoinedAt: e.clock.Now(),
		}
		e.subs[roomID] = sub
	}
	connected := e.state == StateConnected && e.conn != nil
	conn := e.conn
	e.mu.Unlock()

	log.Debug().
		Str("room_id", roomID).
		Bool("deferred", !connected).
		Bool("rejoined", exists).
		Msg("room join tracked")

	if !connected {
		return
	}

	data, err := frames.Encode(frames.FrameTypeJoinRoom, frames.JoinRoomPayload{RoomID: roomID})
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to encode join frame")
		return
	}
	if err := conn.Send(data); err != nil {
		// The reconnect cycle replays the join
		log.Warn().Err(err).Str("room_id", roomID).Msg("join frame send failed")
		return
	}

	e.seedPresenceSnapshot(ctx, roomID)
}

// Leave drops the subscription. Local state goes away even while
// disconnected so a later reconnect does not resubscribe.
func (e *Engine) Leave(roomID string) {
	e.mu.Lock()
	_, exists := e.subs[roomID]
	delete(e.subs, roomID)
	delete(e.presence, roomID)
	connected := e.state == StateConnected && e.conn != nil
	conn := e.conn
	e.mu.Unlock()

	if !exists {
		return
	}

	log.Debug().Str("room_id", roomID).Msg("room left")

	if !connected {
		return
	}

	data, err := frames.Encode(frames.FrameTypeLeaveRoom, frames.LeaveRoomPayload{RoomID: roomID})
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to encode leave frame")
		return
	}
	if err := conn.Send(data); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("leave frame send failed")
	}
}

// Rooms returns the tracked room ids in stable order
func (e *Engine) Rooms() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.roomIDsLocked()
}

func (e *Engine) roomIDsLocked() []string {
	rooms := make([]string, 0, len(e.subs))
	for roomID := range e.subs {
		rooms = append(rooms, roomID)
	}
	sort.Strings(rooms)
	return rooms
}

// rejoinRooms replays join frames for every tracked subscription after a
// successful (re)connect, converging the server's view to the local set.
func (e *Engine) rejoinRooms(ctx context.Context, session int, rooms []string) {
	for _, roomID := range rooms {
		e.mu.Lock()
		if session != e.session || e.conn == nil {
			e.mu.Unlock()
			return
		}
		conn := e.conn
		e.mu.Unlock()

		data, err := frames.Encode(frames.FrameTypeJoinRoom, frames.JoinRoomPayload{RoomID: roomID})
		if err != nil {
			log.Error().Err(err).Str("room_id", roomID).Msg("failed to encode rejoin frame")
			continue
		}
		if err := conn.Send(data); err != nil {
			log.Warn().Err(err).Str("room_id", roomID).Msg("rejoin frame send failed")
			continue
		}

		e.seedPresenceSnapshot(ctx, roomID)
	}

	if len(rooms) > 0 {
		log.Info().
			Str("instance", e.instanceID).
			Int("rooms", len(rooms)).
			Msg("room subscriptions replayed")
	}
}
