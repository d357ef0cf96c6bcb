package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WebsocketConfig holds configuration for the websocket transport
type WebsocketConfig struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	PingInterval     time.Duration
	MaxMessageSize   int64
	SendBufferSize   int
}

// DefaultWebsocketConfig returns default websocket transport configuration
func DefaultWebsocketConfig(url string) WebsocketConfig {
	return WebsocketConfig{
		URL:              url,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadTimeout:      60 * time.Second,
		PingInterval:     30 * time.Second,
		MaxMessageSize:   64 * 1024,
		SendBufferSize:   256,
	}
}

// WebsocketDialer dials the chat backend over a websocket, authenticating
// with a bearer token.
type WebsocketDialer struct {
	config WebsocketConfig
}

// NewWebsocketDialer creates a dialer for the configured endpoint
func NewWebsocketDialer(config WebsocketConfig) *WebsocketDialer {
	return &WebsocketDialer{config: config}
}

// Dial opens a session and starts its read and write pumps.
func (d *WebsocketDialer) Dial(ctx context.Context, token string) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.config.HandshakeTimeout,
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, resp, err := dialer.DialContext(ctx, d.config.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", d.config.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", d.config.URL, err)
	}

	c := &wsConn{
		ws:       ws,
		config:   d.config,
		send:     make(chan []byte, d.config.SendBufferSize),
		messages: make(chan []byte, d.config.SendBufferSize),
		errs:     make(chan error, 1),
		done:     make(chan struct{}),
	}

	go c.writePump()
	go c.readPump()

	log.Debug().Str("url", d.config.URL).Msg("websocket session established")
	return c, nil
}

type wsConn struct {
	ws     *websocket.Conn
	config WebsocketConfig

	send     chan []byte
	messages chan []byte
	errs     chan error

	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsConn) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case <-c.done:
		return ErrClosed
	case c.send <- data:
		return nil
	}
}

func (c *wsConn) Messages() <-chan []byte {
	return c.messages
}

func (c *wsConn) Errors() <-chan error {
	return c.errs
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
	return nil
}

// fail reports the first fatal error and tears the session down
func (c *wsConn) fail(err error) {
	select {
	case c.errs <- err:
	default:
	}
	c.Close()
}

// writePump handles sending frames to the websocket connection
func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Msg("failed to write frame to websocket")
				c.fail(fmt.Errorf("write frame: %w", err))
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Msg("failed to send ping")
				c.fail(fmt.Errorf("write ping: %w", err))
				return
			}
		}
	}
}

// readPump handles reading frames from the websocket connection
func (c *wsConn) readPump() {
	defer func() {
		c.Close()
		close(c.messages)
	}()

	c.ws.SetReadLimit(c.config.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				// Explicit Close; not an error
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Error().Err(err).Msg("unexpected websocket close")
				}
				c.fail(fmt.Errorf("read frame: %w", err))
			}
			return
		}

		select {
		case c.messages <- data:
		case <-c.done:
			return
		}
	}
}
