package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/fieldgoal/pickem/go/internal/chat/frames"
	"github.com/fieldgoal/pickem/go/internal/chat/transport"
	"github.com/fieldgoal/pickem/go/internal/models"
)

func testConfig() Config {
	return Config{
		InitialReconnectDelay: time.Second,
		MaxReconnectAttempts:  10,
		MaxSendAttempts:       5,
		ResyncPageLimit:       100,
		HeartbeatInterval:     0, // keepalives off so fake-clock tests only see the backoff timer
	}
}

// fakeConn is a scriptable in-memory transport session
type fakeConn struct {
	mu      sync.Mutex
	sent    [][]byte
	closed  bool
	sendErr error

	messages chan []byte
	errs     chan error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		messages: make(chan []byte, 64),
		errs:     make(chan error, 1),
	}
}

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	if c.closed {
		return transport.ErrClosed
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Messages() <-chan []byte { return c.messages }
func (c *fakeConn) Errors() <-chan error    { return c.errs }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.messages)
	}
	return nil
}

func (c *fakeConn) setSendErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// deliver pushes an inbound frame as the backend would
func (c *fakeConn) deliver(t *testing.T, frameType frames.FrameType, payload interface{}) {
	t.Helper()
	data, err := frames.Encode(frameType, payload)
	require.NoError(t, err)
	c.messages <- data
}

func (c *fakeConn) deliverRaw(data []byte) {
	c.messages <- data
}

// fail simulates an unexpected session loss
func (c *fakeConn) fail(err error) {
	c.errs <- err
}

// sentEnvelopes decodes every frame written to the connection
func (c *fakeConn) sentEnvelopes(t *testing.T) []frames.Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]frames.Envelope, 0, len(c.sent))
	for _, data := range c.sent {
		var env frames.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		out = append(out, env)
	}
	return out
}

// sentOfType returns the decoded payloads of every sent frame of one type
func (c *fakeConn) sentOfType(t *testing.T, frameType frames.FrameType) []json.RawMessage {
	t.Helper()
	var out []json.RawMessage
	for _, env := range c.sentEnvelopes(t) {
		if env.Type == frameType {
			out = append(out, env.Payload)
		}
	}
	return out
}

func (c *fakeConn) joinedRooms(t *testing.T) []string {
	t.Helper()
	var rooms []string
	for _, raw := range c.sentOfType(t, frames.FrameTypeJoinRoom) {
		var payload frames.JoinRoomPayload
		require.NoError(t, json.Unmarshal(raw, &payload))
		rooms = append(rooms, payload.RoomID)
	}
	return rooms
}

func (c *fakeConn) sentTexts(t *testing.T) []string {
	t.Helper()
	var texts []string
	for _, raw := range c.sentOfType(t, frames.FrameTypeSendMessage) {
		var payload frames.SendMessagePayload
		require.NoError(t, json.Unmarshal(raw, &payload))
		texts = append(texts, payload.Text)
	}
	return texts
}

var errDialRefused = errors.New("dial refused")

// fakeDialer hands out fakeConns and can be scripted to fail specific
// dial attempts (1-based). Every attempt is signalled on dialCh, nil for
// failures.
type fakeDialer struct {
	mu       sync.Mutex
	failAll  bool
	failPlan map[int]bool
	sendErr  error // pre-set on every conn handed out
	tokens   []string
	conns    []*fakeConn

	dialCh chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		failPlan: make(map[int]bool),
		dialCh:   make(chan *fakeConn, 32),
	}
}

func (d *fakeDialer) Dial(ctx context.Context, token string) (transport.Conn, error) {
	d.mu.Lock()
	d.tokens = append(d.tokens, token)
	n := len(d.tokens)
	fail := d.failAll || d.failPlan[n]
	var conn *fakeConn
	if !fail {
		conn = newFakeConn()
		conn.sendErr = d.sendErr
		d.conns = append(d.conns, conn)
	}
	d.mu.Unlock()

	if fail {
		d.dialCh <- nil
		return nil, errDialRefused
	}
	d.dialCh <- conn
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tokens)
}

func (d *fakeDialer) lastToken() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.tokens) == 0 {
		return ""
	}
	return d.tokens[len(d.tokens)-1]
}

// waitDial blocks until the next dial attempt and returns its conn (nil
// when the attempt was scripted to fail).
func (d *fakeDialer) waitDial(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case conn := <-d.dialCh:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial attempt")
		return nil
	}
}

// expectNoDial asserts no dial attempt arrives within the grace window
func (d *fakeDialer) expectNoDial(t *testing.T) {
	t.Helper()
	select {
	case <-d.dialCh:
		t.Fatal("unexpected dial attempt")
	case <-time.After(50 * time.Millisecond):
	}
}

type fetchCall struct {
	roomID string
	since  time.Time
	limit  int
}

// fakeAPI is an in-memory stand-in for the request/response chat API
type fakeAPI struct {
	mu        sync.Mutex
	token     string
	history   map[string][]models.ChatMessage
	online    map[string][]models.PresenceEntry
	truncated map[string]bool
	fetches   []fetchCall
	sendErr   error
	sendCount int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		history:   make(map[string][]models.ChatMessage),
		online:    make(map[string][]models.PresenceEntry),
		truncated: make(map[string]bool),
	}
}

func (a *fakeAPI) addHistory(msgs ...models.ChatMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, m := range msgs {
		a.history[m.RoomID] = append(a.history[m.RoomID], m)
	}
}

func (a *fakeAPI) FetchMessages(ctx context.Context, roomID string, since time.Time, limit int) ([]models.ChatMessage, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fetches = append(a.fetches, fetchCall{roomID: roomID, since: since, limit: limit})

	var out []models.ChatMessage
	for _, m := range a.history[roomID] {
		if m.CreatedAt.After(since) {
			out = append(out, m)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, a.truncated[roomID], nil
}

func (a *fakeAPI) FetchOnlineUsers(ctx context.Context, roomID string) ([]models.PresenceEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.online[roomID], nil
}

func (a *fakeAPI) MarkRead(ctx context.Context, roomID string) error { return nil }

func (a *fakeAPI) SendMessage(ctx context.Context, roomID, channelID, text, tempID string) (*models.ChatMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sendCount++
	if a.sendErr != nil {
		return nil, a.sendErr
	}
	return &models.ChatMessage{
		ID:        "srv-" + tempID,
		RoomID:    roomID,
		ChannelID: channelID,
		Text:      text,
		TempID:    tempID,
		CreatedAt: time.Now(),
	}, nil
}

func (a *fakeAPI) SetToken(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = token
}

func (a *fakeAPI) lastToken() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token
}

func (a *fakeAPI) fetchCalls() []fetchCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]fetchCall(nil), a.fetches...)
}

// recorder collects engine events for assertions
type recorder struct {
	mu       sync.Mutex
	messages []models.ChatMessage
	states   []StateChange
	errors   []error
	presence []PresenceChange
}

func newRecorder(e *Engine) *recorder {
	r := &recorder{}
	e.Events().OnMessage(func(m models.ChatMessage) {
		r.mu.Lock()
		r.messages = append(r.messages, m)
		r.mu.Unlock()
	})
	e.Events().OnConnectionState(func(s StateChange) {
		r.mu.Lock()
		r.states = append(r.states, s)
		r.mu.Unlock()
	})
	e.Events().OnError(func(err error) {
		r.mu.Lock()
		r.errors = append(r.errors, err)
		r.mu.Unlock()
	})
	e.Events().OnPresence(func(p PresenceChange) {
		r.mu.Lock()
		r.presence = append(r.presence, p)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) messageTexts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	texts := make([]string, 0, len(r.messages))
	for _, m := range r.messages {
		texts = append(texts, m.Text)
	}
	return texts
}

func (r *recorder) snapshotMessages() []models.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ChatMessage(nil), r.messages...)
}

func (r *recorder) snapshotErrors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errors...)
}

func (r *recorder) hasError(target error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, err := range r.errors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (r *recorder) presenceCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.presence)
}

// newTestEngine wires an engine with fakes and a fake clock
func newTestEngine(t *testing.T, config Config) (*Engine, *fakeDialer, *fakeAPI, *clockwork.FakeClock, *recorder) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	dialer := newFakeDialer()
	api := newFakeAPI()
	eng := New(config, dialer, api, "test-token", WithClock(clock))
	rec := newRecorder(eng)
	return eng, dialer, api, clock, rec
}

func waitState(t *testing.T, e *Engine, want ConnState) {
	t.Helper()
	require.Eventually(t, func() bool {
		return e.State() == want
	}, 2*time.Second, 5*time.Millisecond, "engine never reached state %s", want)
}
