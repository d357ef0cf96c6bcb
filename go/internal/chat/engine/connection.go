package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/fieldgoal/pickem/go/internal/chat/frames"
	"github.com/fieldgoal/pickem/go/internal/chat/transport"
	"github.com/fieldgoal/pickem/go/internal/models"
)

// ConnState represents the connection state machine
type ConnState string

const (
	StateDisconnected ConnState = "DISCONNECTED"
	StateConnecting   ConnState = "CONNECTING"
	StateConnected    ConnState = "CONNECTED"
	StateReconnecting ConnState = "RECONNECTING"
	StateClosing      ConnState = "CLOSING"
)

// Connect establishes the live session. No-op when already connecting or
// connected. Requires a bearer token; fails fast with ErrUnauthenticated
// otherwise. A failed handshake schedules a backoff retry and returns the
// dial error.
func (e *Engine) Connect(ctx context.Context) error {
	e.mu.Lock()
	switch e.state {
	case StateConnecting, StateConnected:
		e.mu.Unlock()
		return nil
	}
	if e.token == "" {
		e.mu.Unlock()
		return ErrUnauthenticated
	}

	// An explicit Connect supersedes any pending automatic retry
	e.cancelReconnectTimerLocked()
	if e.runCancel != nil {
		e.runCancel()
	}
	e.attempt = 0
	e.runCtx, e.runCancel = context.WithCancel(ctx)
	change := e.setStateLocked(StateConnecting)
	runCtx := e.runCtx
	e.mu.Unlock()
	e.emitState(change)

	return e.dialAndRun(runCtx)
}

// Disconnect tears the session down deliberately. Pending reconnect timers
// are cancelled and presence state is cleared; room subscriptions and the
// outbound queue are retained so a later Connect can re-assert them.
func (e *Engine) Disconnect() {
	e.mu.Lock()
	if e.state == StateDisconnected {
		e.mu.Unlock()
		return
	}

	closing := e.setStateLocked(StateClosing)
	e.cancelReconnectTimerLocked()
	e.attempt = 0
	conn := e.conn
	e.conn = nil
	e.session++
	e.presence = make(map[string]map[string]*models.PresenceEntry)
	if e.runCancel != nil {
		e.runCancel()
		e.runCancel = nil
	}
	done := e.setStateLocked(StateDisconnected)
	e.mu.Unlock()

	e.emitState(closing)
	if conn != nil {
		conn.Close()
	}
	e.emitState(done)

	log.Info().Str("instance", e.instanceID).Msg("chat engine disconnected")
}

// UpdateToken replaces the bearer credential. When connected, the session
// is cycled so the backend re-validates the new token.
func (e *Engine) UpdateToken(ctx context.Context, token string) error {
	e.mu.Lock()
	e.token = token
	e.api.SetToken(token)
	connected := e.state == StateConnected
	conn := e.conn
	if connected {
		e.conn = nil
		e.session++
		change := e.setStateLocked(StateConnecting)
		runCtx := e.runCtx
		e.mu.Unlock()
		e.emitState(change)
		if conn != nil {
			conn.Close()
		}
		log.Info().Str("instance", e.instanceID).Msg("token rotated, cycling session")
		return e.dialAndRun(runCtx)
	}
	e.mu.Unlock()
	return nil
}

// dialAndRun performs one connection attempt. On success it replays the
// room set, resyncs missed history and flushes the outbound queue before
// live frame processing begins; on failure it schedules a backoff retry.
func (e *Engine) dialAndRun(ctx context.Context) error {
	e.mu.Lock()
	token := e.token
	e.mu.Unlock()

	conn, err := e.dialer.Dial(ctx, token)
	if err != nil {
		log.Warn().
			Err(err).
			Str("instance", e.instanceID).
			Msg("chat backend dial failed")

		e.mu.Lock()
		e.scheduleReconnectLocked(ctx)
		e.mu.Unlock()
		return fmt.Errorf("dial chat backend: %w", err)
	}

	e.mu.Lock()
	if e.state != StateConnecting && e.state != StateReconnecting {
		// Disconnect raced the handshake; discard the fresh session
		e.mu.Unlock()
		conn.Close()
		return nil
	}
	e.conn = conn
	e.session++
	session := e.session
	e.attempt = 0
	e.lastHeartbeatAck = e.clock.Now()
	change := e.setStateLocked(StateConnected)
	rooms := e.roomIDsLocked()
	e.mu.Unlock()

	log.Info().
		Str("instance", e.instanceID).
		Int("rooms", len(rooms)).
		Msg("chat session connected")
	e.emitState(change)

	// Rejoin and resync must complete before live frames are processed so
	// resynced history precedes live delivery for every room.
	e.rejoinRooms(ctx, session, rooms)
	for _, roomID := range rooms {
		e.resyncRoom(ctx, roomID)
	}
	e.flushQueue(session)

	go e.readLoop(ctx, session, conn)
	go e.heartbeatLoop(ctx, session)

	return nil
}

// readLoop consumes inbound frames until the session ends
func (e *Engine) readLoop(ctx context.Context, session int, conn transport.Conn) {
	for {
		select {
		case <-ctx.Done():
			return

		case err := <-conn.Errors():
			e.handleTransportFailure(ctx, session, err)
			return

		case data, ok := <-conn.Messages():
			if !ok {
				e.handleTransportFailure(ctx, session, errors.New("connection closed"))
				return
			}
			e.route(ctx, session, data)
		}
	}
}

// handleTransportFailure reacts to an unexpected session loss. Stale
// sessions and deliberate teardowns are ignored; anything else moves
// in-flight sends back to the queue and schedules a backoff reconnect.
func (e *Engine) handleTransportFailure(ctx context.Context, session int, err error) {
	e.mu.Lock()
	if session != e.session || e.state == StateClosing || e.state == StateDisconnected {
		e.mu.Unlock()
		return
	}

	log.Warn().
		Err(err).
		Str("instance", e.instanceID).
		Msg("chat session lost")

	e.conn = nil
	e.requeuePendingLocked()
	e.scheduleReconnectLocked(ctx)
	e.mu.Unlock()

	e.emitError(fmt.Errorf("%w: %v", ErrTransport, err))
}

// scheduleReconnectLocked arms the backoff timer for the next attempt.
// Delay before attempt k is InitialReconnectDelay * 2^(k-1). Past the
// attempt cap the engine settles into a terminal disconnected state.
func (e *Engine) scheduleReconnectLocked(ctx context.Context) {
	if e.reconnectTimer != nil {
		return
	}

	e.attempt++
	if e.attempt > e.config.MaxReconnectAttempts {
		log.Error().
			Str("instance", e.instanceID).
			Int("attempts", e.attempt-1).
			Msg("giving up on reconnect")
		change := e.setStateLocked(StateDisconnected)
		go func() {
			e.emitState(change)
			e.emitError(ErrReconnectExhausted)
		}()
		return
	}

	delay := e.config.InitialReconnectDelay * (1 << (e.attempt - 1))
	change := e.setStateLocked(StateReconnecting)

	timer := e.clock.NewTimer(delay)
	e.reconnectTimer = timer

	log.Info().
		Str("instance", e.instanceID).
		Int("attempt", e.attempt).
		Dur("delay", delay).
		Msg("reconnect scheduled")

	go func() {
		e.emitState(change)
		select {
		case <-timer.Chan():
			e.mu.Lock()
			if e.reconnectTimer != timer || e.state != StateReconnecting {
				e.mu.Unlock()
				return
			}
			e.reconnectTimer = nil
			e.mu.Unlock()
			e.dialAndRun(ctx)

		case <-ctx.Done():
			stopAndDrainTimer(timer)
			e.mu.Lock()
			if e.reconnectTimer == timer {
				e.reconnectTimer = nil
			}
			e.mu.Unlock()
		}
	}()
}

func (e *Engine) cancelReconnectTimerLocked() {
	if e.reconnectTimer != nil {
		stopAndDrainTimer(e.reconnectTimer)
		e.reconnectTimer = nil
	}
}

// stopAndDrainTimer safely stops a timer and drains its channel, following
// the pattern recommended in the time.Timer.Stop documentation.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}

// setStateLocked records a transition and returns the change to emit once
// the lock is released.
func (e *Engine) setStateLocked(state ConnState) StateChange {
	e.state = state
	return StateChange{State: state, Attempt: e.attempt}
}

func (e *Engine) emitState(change StateChange) {
	e.events.emitState(change)
}

func (e *Engine) emitError(err error) {
	e.events.emitError(err)
}

// heartbeatLoop sends keepalives while the session is live and tears the
// session down when acks stop arriving.
func (e *Engine) heartbeatLoop(ctx context.Context, session int) {
	if e.config.HeartbeatInterval <= 0 {
		return
	}

	ticker := e.clock.NewTicker(e.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}

		e.mu.Lock()
		if session != e.session || e.conn == nil {
			e.mu.Unlock()
			return
		}
		conn := e.conn
		lastAck := e.lastHeartbeatAck
		e.mu.Unlock()

		if e.clock.Now().Sub(lastAck) > 3*e.config.HeartbeatInterval {
			log.Warn().
				Str("instance", e.instanceID).
				Time("last_ack", lastAck).
				Msg("heartbeat acks stopped, closing session")
			conn.Close()
			return
		}

		data, err := frames.Encode(frames.FrameTypeUserStatusUpdate, frames.UserStatusUpdatePayload{
			Status: "online",
			SentAt: e.clock.Now(),
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to encode keepalive")
			continue
		}
		if err := conn.Send(data); err != nil {
			log.Warn().Err(err).Str("instance", e.instanceID).Msg("keepalive send failed")
			return
		}
	}
}
