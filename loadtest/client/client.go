// Package client provides a reusable WebSocket load test client for the
// voicematch backend. It connects using gobwas/ws (the same library the
// production client uses), announces presence immediately, and tracks
// per-connection performance metrics. It deliberately carries no state
// machine; test scenarios script the raw event flow directly.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// ---------------------------------------------------------------------------
// Protocol message types (local equivalents of internal/protocol constants)
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeUserOnline  = "user:online"
	TypeMatchStart  = "match:start"
	TypeMatchCancel = "match:cancel"
	TypeMatchLeave  = "match:leave"
)

// Server -> Client message types.
const (
	TypeMatchSearching    = "match:searching"
	TypeMatchFound        = "match:found"
	TypeMatchCancelled    = "match:cancelled"
	TypeMatchTimerSync    = "match:timer_sync"
	TypeMatchTimerWarning = "match:timer_warning"
	TypeMatchTimerEnd     = "match:timer_end"
	TypeMatchPartnerLeft  = "match:partner_left"
	TypeMatchError        = "match:error"
)

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

// Metrics tracks per-connection performance data.
type Metrics struct {
	ConnectLatency   time.Duration
	MessagesReceived int
	MessagesSent     int
	Errors           int
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Client represents a single simulated user connection to the voicematch
// backend. It manages the WebSocket lifecycle and dispatches incoming events
// to registered handlers.
type Client struct {
	conn      net.Conn
	mu        sync.Mutex
	metrics   Metrics
	handlers  map[string]func(json.RawMessage)
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a load test client connected to the given WebSocket URL with
// the given bearer token and device id. The connection is established
// immediately, presence is announced, and a background goroutine begins
// reading events.
func New(ctx context.Context, url, token, deviceID string) (*Client, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	if deviceID != "" {
		header.Set("X-Device-ID", deviceID)
	}
	dialer := ws.Dialer{Header: ws.HandshakeHeaderHTTP(header)}

	start := time.Now()
	conn, _, _, err := dialer.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		conn:     conn,
		handlers: make(map[string]func(json.RawMessage)),
		done:     make(chan struct{}),
	}
	c.metrics.ConnectLatency = time.Since(start)

	if err := c.Send(map[string]string{"type": TypeUserOnline}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("announce online: %w", err)
	}

	// Start reading events in background.
	go c.readLoop()

	return c, nil
}

// Send sends a JSON message to the server. It is goroutine-safe.
func (c *Client) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.MessagesSent++
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// StartMatch sends the match:start intent with the given interest tags.
func (c *Client) StartMatch(interests []string) error {
	if interests == nil {
		interests = []string{}
	}
	return c.Send(map[string]interface{}{
		"type":      TypeMatchStart,
		"interests": interests,
	})
}

// On registers a handler for a specific server event type. The handler
// receives the full raw JSON of the event for flexible decoding. Handlers are
// invoked from the read loop goroutine so they should not block for extended
// periods. Only one handler per event type is supported; registering a second
// handler for the same type replaces the first.
func (c *Client) On(msgType string, handler func(json.RawMessage)) {
	c.handlers[msgType] = handler
}

// Close closes the connection and stops the read loop. It is safe to call
// multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// GetMetrics returns a copy of the client's metrics.
func (c *Client) GetMetrics() Metrics {
	return c.metrics
}

// readLoop continuously reads WebSocket frames from the server and dispatches
// them to registered handlers. It runs until the connection is closed or an
// unrecoverable error occurs.
func (c *Client) readLoop() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			select {
			case <-c.done:
				// Connection was intentionally closed; do not count as error.
				return
			default:
			}
			c.metrics.Errors++
			return
		}

		c.metrics.MessagesReceived++

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		// Dispatch to registered handler if one exists.
		if handler, ok := c.handlers[envelope.Type]; ok {
			handler(json.RawMessage(data))
		}
	}
}
