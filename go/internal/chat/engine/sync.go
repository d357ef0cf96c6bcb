package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fieldgoal/pickem/go/internal/models"
)

// resyncRoom pulls every message created after the room's cursor through
// the request/response fallback and delivers them in ascending timestamp
// order, advancing the cursor as it goes. Pull-based reconciliation: gaps
// older than the backend's retention horizon are reported, not retried.
//
// Idempotent by construction — each delivered message advances the cursor,
// so a second pass with an unchanged cursor requests nothing already seen.
func (e *Engine) resyncRoom(ctx context.Context, roomID string) {
	e.mu.Lock()
	sub, tracked := e.subs[roomID]
	if !tracked || e.syncing[roomID] {
		e.mu.Unlock()
		return
	}
	e.syncing[roomID] = true
	since := sub.LastSyncedAt
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.syncing, roomID)
		e.mu.Unlock()
	}()

	delivered := 0
	fetchFrom := since
	// ids already delivered at exactly the cursor timestamp, so boundary
	// runs refetched across pages are not delivered twice
	seen := make(map[string]bool)
	for {
		messages, truncated, err := e.api.FetchMessages(ctx, roomID, fetchFrom, e.config.ResyncPageLimit)
		if err != nil {
			log.Warn().Err(err).Str("room_id", roomID).Msg("resync fetch failed")
			e.emitError(fmt.Errorf("%w: resync room %s: %v", ErrTransport, roomID, err))
			return
		}

		if truncated {
			e.emitError(fmt.Errorf("%w: room %s", ErrResyncGap, roomID))
		}

		sort.SliceStable(messages, func(i, j int) bool {
			return messages[i].CreatedAt.Before(messages[j].CreatedAt)
		})

		progressed := false
		for _, message := range messages {
			if message.CreatedAt.Before(since) {
				continue
			}
			if message.CreatedAt.Equal(since) {
				// Equal timestamps only arrive on a deliberate refetch of
				// the boundary run; anything else is already delivered.
				if seen[message.ID] || !fetchFrom.Before(since) {
					continue
				}
				seen[message.ID] = true
				e.deliverMessage(message)
				delivered++
				progressed = true
				continue
			}
			e.deliverMessage(message)
			since = message.CreatedAt
			seen = map[string]bool{message.ID: true}
			delivered++
			progressed = true
		}

		if len(messages) < e.config.ResyncPageLimit {
			break
		}
		if !progressed {
			if fetchFrom.Before(since) {
				// The boundary run is fully delivered; page strictly past it
				fetchFrom = since
				continue
			}
			// A full page that advances nothing cannot be paged past with a
			// timestamp cursor
			e.emitError(fmt.Errorf("%w: room %s", ErrResyncGap, roomID))
			break
		}
		// A full page may split a run of equal timestamps across the
		// boundary; back the fetch bound off one tick so the rest of the
		// run is returned on the next page.
		fetchFrom = since.Add(-time.Nanosecond)
	}

	if delivered > 0 {
		log.Info().
			Str("room_id", roomID).
			Int("messages", delivered).
			Msg("resync delivered missed messages")
	}
}

// deliverMessage is the delivery path for messages that arrived through
// the room's ordered stream, live or resynced: it reconciles outbound
// echoes, advances the room's cursor and fans the message out.
func (e *Engine) deliverMessage(message models.ChatMessage) {
	e.mu.Lock()
	e.reconcileEchoLocked(message)
	if sub, tracked := e.subs[message.RoomID]; tracked {
		if message.CreatedAt.After(sub.LastSyncedAt) {
			sub.LastSyncedAt = message.CreatedAt
		}
	}
	e.mu.Unlock()

	e.events.emitMessage(message)
}

// deliverOutOfBand fans out a message that bypassed the room's ordered
// stream. The resync cursor is left alone: a fallback-delivered message
// postdates anything others posted during the outage, and advancing the
// cursor past it would skip their messages on the next resync.
func (e *Engine) deliverOutOfBand(message models.ChatMessage) {
	e.mu.Lock()
	e.reconcileEchoLocked(message)
	e.mu.Unlock()

	e.events.emitMessage(message)
}

func (e *Engine) reconcileEchoLocked(message models.ChatMessage) {
	if message.TempID == "" {
		return
	}
	if pending, ok := e.pending[message.TempID]; ok {
		pending.Status = models.OutboundStatusSent
		delete(e.pending, message.TempID)
		log.Debug().
			Str("temp_id", message.TempID).
			Str("message_id", message.ID).
			Msg("outbound message confirmed")
	}
}

// LastSyncedAt returns the room's resync cursor; zero when untracked
func (e *Engine) LastSyncedAt(roomID string) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sub, tracked := e.subs[roomID]
	if !tracked {
		return time.Time{}, false
	}
	return sub.LastSyncedAt, true
}
