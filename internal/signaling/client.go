// Package signaling owns the single live connection to the matching
// backend's realtime channel. It authenticates with the current session
// token, translates the fixed event vocabulary into match store mutations,
// and exposes the three outbound intents (start, cancel, leave).
//
// One Client serves one access token. A token change means tearing the
// client down and building a new one; the transport is never re-keyed in
// place.
package signaling

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
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/tenmb/voicematch/internal/match"
	"github.com/tenmb/voicematch/internal/metrics"
	"github.com/tenmb/voicematch/internal/protocol"
)

// Config holds connection parameters. The reconnection policy mirrors the
// bounded client-side defaults: a handful of attempts with a growing delay.
type Config struct {
	URL      string // ws:// or wss:// endpoint
	Token    string // bearer token attached at connect time
	DeviceID string // stable device id, sent as X-Device-ID

	MaxReconnectAttempts int           // default 5
	ReconnectDelay       time.Duration // base delay, default 1s
	ReconnectDelayMax    time.Duration // delay cap, default 5s
}

func (c *Config) applyDefaults() {
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = time.Second
	}
	if c.ReconnectDelayMax == 0 {
		c.ReconnectDelayMax = 5 * time.Second
	}
}

// Status describes the connection as surfaced to the presentation layer.
type Status struct {
	Connected bool
	Terminal  bool   // reconnect budget exhausted; the client will not retry
	Error     string // last connection or server-reported error, if any
}

// Client is the signaling connection. Inbound events mutate the match store
// directly per the protocol contract; registered observers additionally
// receive the raw payloads for side effects like triggering a voice join.
type Client struct {
	config Config
	store  *match.Store
	clock  clockwork.Clock
	log    zerolog.Logger

	mu        sync.Mutex // guards conn, status, handlers, onStatus
	conn      net.Conn
	connected bool
	terminal  bool
	lastErr   string
	handlers  map[string]func(json.RawMessage)
	onStatus  func(Status)

	writeMu   sync.Mutex // serializes outbound frames
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a client. Connect must be called before any intent is emitted.
func New(config Config, store *match.Store, clock clockwork.Clock, log zerolog.Logger) *Client {
	config.applyDefaults()
	return &Client{
		config:   config,
		store:    store,
		clock:    clock,
		log:      log.With().Str("component", "signaling").Logger(),
		handlers: make(map[string]func(json.RawMessage)),
		done:     make(chan struct{}),
	}
}

// On registers an observer for a server event type, receiving the raw JSON
// after the store mutation has been applied. Observers are invoked from the
// read loop goroutine and must not block. Only one observer per event type is
// supported; registering a second replaces the first.
func (c *Client) On(msgType string, fn func(json.RawMessage)) {
	c.mu.Lock()
	c.handlers[msgType] = fn
	c.mu.Unlock()
}

// OnStatus registers the connection status observer.
func (c *Client) OnStatus(fn func(Status)) {
	c.mu.Lock()
	c.onStatus = fn
	c.mu.Unlock()
}

// Connect dials the backend, announces presence, and starts the read loop.
// A dial failure is surfaced to the status observer and returned; the caller
// decides whether to retry.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		c.setStatus(false, err.Error())
		return fmt.Errorf("signaling: connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setStatus(true, "")

	if err := c.announceOnline(); err != nil {
		c.log.Warn().Err(err).Msg("presence announcement failed")
	}

	go c.readLoop(conn)
	c.log.Info().Str("url", c.config.URL).Msg("signaling connected")
	return nil
}

// Close tears the connection down. Safe to call multiple times; no listener
// or goroutine survives it.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()
		if conn != nil {
			err = conn.Close()
		}
		c.setStatus(false, "")
	})
	return err
}

// Status returns the current connection status.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{Connected: c.connected, Terminal: c.terminal, Error: c.lastErr}
}

// ---------------------------------------------------------------------------
// Outbound intents. Fire-and-forget; the resulting state change arrives
// asynchronously as inbound events.
// ---------------------------------------------------------------------------

// StartMatch asks the backend to enqueue the user with the given interests.
func (c *Client) StartMatch(interests []string) error {
	return c.emit(protocol.TypeMatchStart, protocol.MatchStartMsg{Interests: interests})
}

// CancelMatch asks the backend to drop the user from the queue.
func (c *Client) CancelMatch() error {
	return c.emit(protocol.TypeMatchCancel, protocol.MatchCancelMsg{})
}

// LeaveMatch tells the backend the user is leaving the current call.
func (c *Client) LeaveMatch() error {
	return c.emit(protocol.TypeMatchLeave, protocol.MatchLeaveMsg{})
}

func (c *Client) announceOnline() error {
	return c.emit(protocol.TypeUserOnline, protocol.UserOnlineMsg{})
}

func (c *Client) emit(msgType string, payload interface{}) error {
	data, err := protocol.NewClientEvent(msgType, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("signaling: not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wsutil.WriteClientMessage(conn, ws.OpText, data); err != nil {
		return fmt.Errorf("signaling: emit %s: %w", msgType, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Inbound
// ---------------------------------------------------------------------------

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	header := http.Header{}
	if c.config.Token != "" {
		header.Set("Authorization", "Bearer "+c.config.Token)
	}
	if c.config.DeviceID != "" {
		header.Set("X-Device-ID", c.config.DeviceID)
	}
	dialer := ws.Dialer{Header: ws.HandshakeHeaderHTTP(header)}
	conn, _, _, err := dialer.Dial(ctx, c.config.URL)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// readLoop reads frames until the connection fails or the client is closed.
// On failure it hands over to the bounded reconnect loop.
func (c *Client) readLoop(conn net.Conn) {
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			// Connection dropped. The in-flight match state is deliberately
			// left untouched: a reconnect must not silently cancel it.
			c.log.Warn().Err(err).Msg("signaling read failed")
			c.setStatus(false, "")
			c.reconnect()
			return
		}
		c.dispatch(data)
	}
}

// reconnect retries the dial with a growing delay until it succeeds or the
// attempt budget is spent. Business-level state is not auto-recovered across
// a reconnect.
func (c *Client) reconnect() {
	for attempt := 1; attempt <= c.config.MaxReconnectAttempts; attempt++ {
		delay := time.Duration(attempt) * c.config.ReconnectDelay
		if delay > c.config.ReconnectDelayMax {
			delay = c.config.ReconnectDelayMax
		}

		timer := c.clock.NewTimer(delay)
		select {
		case <-c.done:
			timer.Stop()
			return
		case <-timer.Chan():
		}

		metrics.SignalingReconnectsTotal.Inc()
		conn, err := c.dial(context.Background())
		if err != nil {
			c.log.Warn().Err(err).
				Int("attempt", attempt).Int("max_attempts", c.config.MaxReconnectAttempts).
				Msg("signaling reconnect failed")
			c.setStatus(false, err.Error())
			continue
		}

		// Close may have raced the dial. Installing the conn now would leak
		// the socket and revive a closed client.
		select {
		case <-c.done:
			conn.Close()
			return
		default:
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.setStatus(true, "")
		if err := c.announceOnline(); err != nil {
			c.log.Warn().Err(err).Msg("presence announcement failed")
		}
		c.log.Info().Int("attempt", attempt).Msg("signaling reconnected")
		go c.readLoop(conn)
		return
	}
	c.log.Error().Msg("signaling reconnect attempts exhausted")
	c.mu.Lock()
	c.terminal = true
	c.mu.Unlock()
	c.setStatus(false, "signaling: reconnect attempts exhausted")
}

// dispatch applies the authoritative event -> store mapping, then forwards
// the raw payload to the registered observer.
func (c *Client) dispatch(data []byte) {
	msgType, msg, err := protocol.ParseServerEvent(data)
	if err != nil {
		c.log.Warn().Err(err).Msg("unparseable server event")
		return
	}

	switch m := msg.(type) {
	case protocol.MatchSearchingMsg:
		c.store.SetWaitingCount(m.WaitingCount)
	case protocol.MatchFoundMsg:
		c.store.SetMatchFound(match.Found{
			SessionID: m.SessionID,
			PartnerID: m.PartnerID,
			Partner: match.Partner{
				Nickname:  m.Partner.Nickname,
				Interests: m.Partner.Interests,
			},
			CommonInterests: m.CommonInterests,
			ChannelID:       m.ChannelID,
			ChannelToken:    m.ChannelToken,
		})
	case protocol.MatchCancelledMsg:
		c.store.Reset()
	case protocol.MatchTimerSyncMsg:
		c.store.SetRemainingSeconds(m.RemainingSeconds)
	case protocol.MatchTimerWarningMsg:
		c.log.Debug().Msg("two minutes remaining")
	case protocol.MatchTimerEndMsg:
		c.store.SetEnded(match.EndReasonTimer)
	case protocol.MatchPartnerLeftMsg:
		c.store.SetEnded(match.EndReasonPartnerLeft)
	case protocol.MatchErrorMsg:
		// A server-reported matching error unconditionally aborts the
		// attempt; the server has already invalidated it.
		c.log.Warn().Str("message", m.Message).Msg("server matching error")
		c.surfaceError(m.Message)
		c.store.Reset()
	}

	c.mu.Lock()
	handler := c.handlers[msgType]
	c.mu.Unlock()
	if handler != nil {
		handler(json.RawMessage(data))
	}
}

func (c *Client) setStatus(connected bool, errMsg string) {
	c.mu.Lock()
	c.connected = connected
	if connected {
		c.terminal = false
	}
	c.lastErr = errMsg
	fn := c.onStatus
	status := Status{Connected: connected, Terminal: c.terminal, Error: errMsg}
	c.mu.Unlock()

	if connected {
		metrics.SignalingConnected.Set(1)
	} else {
		metrics.SignalingConnected.Set(0)
	}
	if fn != nil {
		fn(status)
	}
}

// surfaceError records a server-reported error without touching the
// connected flag.
func (c *Client) surfaceError(msg string) {
	c.mu.Lock()
	c.lastErr = msg
	fn := c.onStatus
	status := Status{Connected: c.connected, Terminal: c.terminal, Error: msg}
	c.mu.Unlock()
	if fn != nil {
		fn(status)
	}
}
