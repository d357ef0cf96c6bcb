package engine

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fieldgoal/pickem/go/internal/models"
)

// seedPresenceSnapshot populates a room's presence from a one-shot
// request/response fetch so the UI is never empty while waiting for live
// events. Failures are logged; the room_joined frame seeds presence too.
func (e *Engine) seedPresenceSnapshot(ctx context.Context, roomID string) {
	users, err := e.api.FetchOnlineUsers(ctx, roomID)
	if err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("presence snapshot fetch failed")
		return
	}
	e.applyPresenceSnapshot(roomID, users)
}

// applyPresenceSnapshot reconciles a room's presence set against an
// authoritative snapshot: listed users come online, tracked users missing
// from the snapshot go offline. LastSeen knowledge is preserved both ways.
func (e *Engine) applyPresenceSnapshot(roomID string, users []models.PresenceEntry) {
	changes := make([]PresenceChange, 0, len(users))

	e.mu.Lock()
	if _, tracked := e.subs[roomID]; !tracked {
		e.mu.Unlock()
		return
	}
	room := e.presence[roomID]
	if room == nil {
		room = make(map[string]*models.PresenceEntry)
		e.presence[roomID] = room
	}
	listed := make(map[string]bool, len(users))
	for _, user := range users {
		entry := user
		entry.IsOnline = true
		if entry.LastSeen.IsZero() {
			if prev, ok := room[entry.UserID]; ok {
				entry.LastSeen = prev.LastSeen
			} else {
				entry.LastSeen = e.clock.Now()
			}
		}
		room[entry.UserID] = &entry
		listed[entry.UserID] = true
		changes = append(changes, PresenceChange{RoomID: roomID, Entry: entry})
	}
	// Users who left while no session was up never produce a user_left
	// frame; the snapshot is the only signal they are gone.
	for userID, entry := range room {
		if listed[userID] || !entry.IsOnline {
			continue
		}
		entry.IsOnline = false
		changes = append(changes, PresenceChange{RoomID: roomID, Entry: *entry})
	}
	e.mu.Unlock()

	for _, change := range changes {
		e.events.emitPresence(change)
	}

	log.Debug().Str("room_id", roomID).Int("online", len(users)).Msg("presence snapshot applied")
}

// presenceUserJoined upserts an entry on a user_joined frame
func (e *Engine) presenceUserJoined(roomID string, user models.PresenceEntry) {
	e.mu.Lock()
	if _, tracked := e.subs[roomID]; !tracked {
		e.mu.Unlock()
		return
	}
	room := e.presence[roomID]
	if room == nil {
		room = make(map[string]*models.PresenceEntry)
		e.presence[roomID] = room
	}
	entry := user
	entry.IsOnline = true
	if entry.LastSeen.IsZero() {
		entry.LastSeen = e.clock.Now()
	}
	room[entry.UserID] = &entry
	snapshot := entry
	e.mu.Unlock()

	e.events.emitPresence(PresenceChange{RoomID: roomID, Entry: snapshot})
}

// presenceUserLeft marks an entry offline on a user_left frame without
// discarding what is known about the user.
func (e *Engine) presenceUserLeft(roomID, userID string, leftAt time.Time) {
	e.mu.Lock()
	room := e.presence[roomID]
	entry, ok := room[userID]
	if !ok {
		e.mu.Unlock()
		return
	}
	entry.IsOnline = false
	if leftAt.IsZero() {
		leftAt = e.clock.Now()
	}
	entry.LastSeen = leftAt
	snapshot := *entry
	e.mu.Unlock()

	e.events.emitPresence(PresenceChange{RoomID: roomID, Entry: snapshot})
}

// OnlineUsers returns the room's currently-online participants, ordered by
// user id for stable iteration.
func (e *Engine) OnlineUsers(roomID string) []models.PresenceEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	room := e.presence[roomID]
	users := make([]models.PresenceEntry, 0, len(room))
	for _, entry := range room {
		if entry.IsOnline {
			users = append(users, *entry)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users
}
