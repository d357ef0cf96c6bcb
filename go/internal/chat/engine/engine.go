package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/fieldgoal/pickem/go/internal/chat/transport"
	"github.com/fieldgoal/pickem/go/internal/models"
)

// FallbackAPI defines what the engine needs from the request/response
// chat API: presence snapshots, history resync and secondary delivery.
type FallbackAPI interface {
	FetchMessages(ctx context.Context, roomID string, since time.Time, limit int) ([]models.ChatMessage, bool, error)
	FetchOnlineUsers(ctx context.Context, roomID string) ([]models.PresenceEntry, error)
	MarkRead(ctx context.Context, roomID string) error
	SendMessage(ctx context.Context, roomID, channelID, text, tempID string) (*models.ChatMessage, error)
	SetToken(token string)
}

// Config holds engine policy knobs
type Config struct {
	InitialReconnectDelay time.Duration // delay before reconnect attempt 1; doubles each attempt
	MaxReconnectAttempts  int           // give up after this many consecutive failures
	MaxSendAttempts       int           // per-message cap before it is marked failed
	ResyncPageLimit       int           // history page size during resync
	HeartbeatInterval     time.Duration // keepalive cadence while connected
}

// DefaultConfig returns the default engine policy
func DefaultConfig() Config {
	return Config{
		InitialReconnectDelay: time.Second,
		MaxReconnectAttempts:  10,
		MaxSendAttempts:       5,
		ResyncPageLimit:       200,
		HeartbeatInterval:     25 * time.Second,
	}
}

// Engine is the client-side chat synchronization agent. It owns the single
// live session to the chat backend, tracks room membership and presence,
// resynchronizes missed history after reconnects and guarantees queued
// outbound messages are delivered or explicitly failed.
//
// One mutex serializes connection state, the subscription set and the
// outbound queue; event subscribers run outside the lock.
type Engine struct {
	config Config
	dialer transport.Dialer
	api    FallbackAPI
	clock  clockwork.Clock
	events *EventBus

	instanceID string

	mu      sync.Mutex
	state   ConnState
	token   string
	conn    transport.Conn
	session int // generation counter; loops from torn-down sessions are ignored

	attempt        int
	reconnectTimer clockwork.Timer

	runCtx    context.Context
	runCancel context.CancelFunc

	subs     map[string]*models.RoomSubscription
	presence map[string]map[string]*models.PresenceEntry
	syncing  map[string]bool

	queue   []*models.OutboundMessage
	pending map[string]*models.OutboundMessage

	lastHeartbeatAck time.Time
}

// Option customizes engine construction
type Option func(*Engine)

// WithClock substitutes the clock, e.g. a fake clock in tests
func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// New creates an engine. The token may be empty; Connect fails with
// ErrUnauthenticated until UpdateToken supplies one.
func New(config Config, dialer transport.Dialer, api FallbackAPI, token string, opts ...Option) *Engine {
	e := &Engine{
		config:     config,
		dialer:     dialer,
		api:        api,
		clock:      clockwork.NewRealClock(),
		events:     NewEventBus(),
		instanceID: uuid.New().String()[:8],
		state:      StateDisconnected,
		token:      token,
		subs:       make(map[string]*models.RoomSubscription),
		presence:   make(map[string]map[string]*models.PresenceEntry),
		syncing:    make(map[string]bool),
		pending:    make(map[string]*models.OutboundMessage),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Events returns the engine's event bus for subscription registration
func (e *Engine) Events() *EventBus {
	return e.events
}

// State returns the current connection state
func (e *Engine) State() ConnState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Stats is a point-in-time snapshot of engine internals
type Stats struct {
	State            ConnState `json:"state"`
	ReconnectAttempt int       `json:"reconnect_attempt"`
	JoinedRooms      int       `json:"joined_rooms"`
	QueuedMessages   int       `json:"queued_messages"`
	PendingMessages  int       `json:"pending_messages"`
}

// GetStats returns statistics about the engine's current state
func (e *Engine) GetStats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Stats{
		State:            e.state,
		ReconnectAttempt: e.attempt,
		JoinedRooms:      len(e.subs),
		QueuedMessages:   len(e.queue),
		PendingMessages:  len(e.pending),
	}
}

// MarkRead advances the caller's read cursor for a room on the backend
func (e *Engine) MarkRead(ctx context.Context, roomID string) error {
	return e.api.MarkRead(ctx, roomID)
}
