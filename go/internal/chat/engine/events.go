package engine

import (
	"sync"

	"github.com/fieldgoal/pickem/go/internal/models"
)

// StateChange is delivered to connection-state subscribers on every
// transition of the connection state machine.
type StateChange struct {
	State   ConnState
	Attempt int // reconnect attempt counter at the time of the transition
}

// PresenceChange is delivered to presence subscribers when a participant's
// online status changes in a room.
type PresenceChange struct {
	RoomID string
	Entry  models.PresenceEntry
}

// EventBus fans engine events out to any number of independent subscribers
// per event kind. Subscribers are invoked synchronously, in registration
// order, from the goroutine that produced the event; handlers must not block.
type EventBus struct {
	mu           sync.RWMutex
	messageSubs  []func(models.ChatMessage)
	presenceSubs []func(PresenceChange)
	stateSubs    []func(StateChange)
	errorSubs    []func(error)
}

// NewEventBus creates an empty event bus
func NewEventBus() *EventBus {
	return &EventBus{}
}

// OnMessage registers a subscriber for delivered chat messages, both live
// and resynced.
func (b *EventBus) OnMessage(fn func(models.ChatMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messageSubs = append(b.messageSubs, fn)
}

// OnPresence registers a subscriber for presence changes
func (b *EventBus) OnPresence(fn func(PresenceChange)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.presenceSubs = append(b.presenceSubs, fn)
}

// OnConnectionState registers a subscriber for connection state transitions
func (b *EventBus) OnConnectionState(fn func(StateChange)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stateSubs = append(b.stateSubs, fn)
}

// OnError registers a subscriber for engine errors: delivery failures,
// resync gaps, transport errors and protocol errors.
func (b *EventBus) OnError(fn func(error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errorSubs = append(b.errorSubs, fn)
}

func (b *EventBus) emitMessage(msg models.ChatMessage) {
	b.mu.RLock()
	subs := b.messageSubs
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(msg)
	}
}

func (b *EventBus) emitPresence(change PresenceChange) {
	b.mu.RLock()
	subs := b.presenceSubs
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(change)
	}
}

func (b *EventBus) emitState(change StateChange) {
	b.mu.RLock()
	subs := b.stateSubs
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(change)
	}
}

func (b *EventBus) emitError(err error) {
	b.mu.RLock()
	subs := b.errorSubs
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(err)
	}
}
