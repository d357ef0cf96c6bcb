package engine

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fieldgoal/pickem/go/internal/chat/frames"
	"github.com/fieldgoal/pickem/go/internal/models"
)

// Send submits a user-authored message. Connected, it is dispatched
// immediately and confirmed later by the room's live stream echoing the
// temp id; disconnected, it is queued and flushed on the next connect.
// The returned handle is a snapshot — later transitions are reported
// through the message and error event streams.
func (e *Engine) Send(roomID, text, channelID string) models.OutboundMessage {
	e.mu.Lock()
	message := &models.OutboundMessage{
		TempID:    uuid.New().String(),
		RoomID:    roomID,
		ChannelID: channelID,
		Text:      text,
		Status:    models.OutboundStatusQueued,
		CreatedAt: e.clock.Now(),
	}

	if e.state != StateConnected || e.conn == nil {
		e.queue = append(e.queue, message)
		depth := len(e.queue)
		snapshot := *message
		e.mu.Unlock()

		log.Debug().
			Str("temp_id", message.TempID).
			Str("room_id", roomID).
			Int("queue_depth", depth).
			Msg("message queued offline")
		return snapshot
	}

	conn := e.conn
	message.Status = models.OutboundStatusSending
	message.Attempts = 1
	e.pending[message.TempID] = message
	snapshot := *message
	e.mu.Unlock()

	data, err := frames.Encode(frames.FrameTypeSendMessage, frames.SendMessagePayload{
		RoomID:    roomID,
		ChannelID: channelID,
		Text:      text,
		TempID:    message.TempID,
	})
	if err == nil {
		err = conn.Send(data)
	}
	if err != nil {
		// Synchronous rejection: back to the queue, never dropped
		log.Warn().Err(err).Str("temp_id", message.TempID).Msg("live send failed, requeueing")
		e.mu.Lock()
		message.Status = models.OutboundStatusQueued
		delete(e.pending, message.TempID)
		e.queue = append(e.queue, message)
		snapshot = *message
		e.mu.Unlock()
	}

	return snapshot
}

// SendFallback delivers a message over the request/response path when no
// live transport is available. Unlike Send it reports a definitive result
// synchronously and does not participate in live-stream confirmation.
func (e *Engine) SendFallback(ctx context.Context, roomID, text, channelID string) (models.OutboundMessage, error) {
	message := models.OutboundMessage{
		TempID:    uuid.New().String(),
		RoomID:    roomID,
		ChannelID: channelID,
		Text:      text,
		Status:    models.OutboundStatusSending,
		Attempts:  1,
		CreatedAt: e.clock.Now(),
	}

	sent, err := e.api.SendMessage(ctx, roomID, channelID, text, message.TempID)
	if err != nil {
		message.Status = models.OutboundStatusFailed
		deliveryErr := &DeliveryError{TempID: message.TempID, RoomID: roomID, Err: err}
		e.emitError(deliveryErr)
		return message, deliveryErr
	}

	message.Status = models.OutboundStatusSent
	if sent != nil {
		e.deliverOutOfBand(*sent)
	}
	return message, nil
}

// flushQueue drains the offline queue in FIFO order after a successful
// (re)connect. Each entry is attempted exactly once per reconnect cycle;
// synchronous failures are requeued until the per-message attempt cap,
// then marked failed and reported.
func (e *Engine) flushQueue(session int) {
	e.mu.Lock()
	if session != e.session || e.conn == nil || len(e.queue) == 0 {
		e.mu.Unlock()
		return
	}
	conn := e.conn
	batch := e.queue
	e.queue = nil
	e.mu.Unlock()

	log.Info().
		Str("instance", e.instanceID).
		Int("messages", len(batch)).
		Msg("flushing offline queue")

	var requeue []*models.OutboundMessage
	var failed []*DeliveryError

	for _, message := range batch {
		message.Attempts++

		data, err := frames.Encode(frames.FrameTypeSendMessage, frames.SendMessagePayload{
			RoomID:    message.RoomID,
			ChannelID: message.ChannelID,
			Text:      message.Text,
			TempID:    message.TempID,
		})
		if err == nil {
			err = conn.Send(data)
		}

		if err != nil {
			if message.Attempts >= e.config.MaxSendAttempts {
				message.Status = models.OutboundStatusFailed
				failed = append(failed, &DeliveryError{TempID: message.TempID, RoomID: message.RoomID, Err: err})
				log.Error().
					Err(err).
					Str("temp_id", message.TempID).
					Int("attempts", message.Attempts).
					Msg("message failed permanently")
				continue
			}
			message.Status = models.OutboundStatusQueued
			requeue = append(requeue, message)
			continue
		}

		message.Status = models.OutboundStatusSending
		e.mu.Lock()
		e.pending[message.TempID] = message
		e.mu.Unlock()
	}

	if len(requeue) > 0 {
		e.mu.Lock()
		// Requeued entries keep their place ahead of anything submitted
		// while the flush ran
		e.queue = append(requeue, e.queue...)
		e.mu.Unlock()
	}

	for _, deliveryErr := range failed {
		e.emitError(deliveryErr)
	}
}

// requeuePendingLocked returns unconfirmed in-flight sends to the front of
// the queue when the session drops. Their broadcast echo may still arrive
// after reconnect; the temp id lets UI state collapse any duplicate.
func (e *Engine) requeuePendingLocked() {
	if len(e.pending) == 0 {
		return
	}

	unconfirmed := make([]*models.OutboundMessage, 0, len(e.pending))
	for _, message := range e.pending {
		message.Status = models.OutboundStatusQueued
		unconfirmed = append(unconfirmed, message)
	}
	e.pending = make(map[string]*models.OutboundMessage)

	// Oldest first so the flush preserves original submission order
	sort.SliceStable(unconfirmed, func(i, j int) bool {
		return unconfirmed[i].CreatedAt.Before(unconfirmed[j].CreatedAt)
	})
	e.queue = append(unconfirmed, e.queue...)

	log.Debug().
		Int("requeued", len(unconfirmed)).
		Msg("unconfirmed sends returned to queue")
}

// QueuedMessages returns snapshots of the offline queue in FIFO order
func (e *Engine) QueuedMessages() []models.OutboundMessage {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]models.OutboundMessage, 0, len(e.queue))
	for _, message := range e.queue {
		out = append(out, *message)
	}
	return out
}
