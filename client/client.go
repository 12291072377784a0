// Package client implements the realtime coordination layer of the patient
// portal: one duplex event channel per signed-in user carrying presence,
// conversation messages, typing and read events, video-call signaling and
// meeting updates. Conversation history and meeting records themselves are
// owned by the backing REST services; this layer only coordinates.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ConnState is the lifecycle state of the event channel.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Transport abstracts the underlying duplex connection for testability.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v interface{}) error
	Close() error
}

// Dialer establishes a Transport using the bearer credential.
type Dialer func(ctx context.Context, wsURL, credential string) (Transport, error)

// Handler consumes the raw payload of one inbound event. A non-nil error is
// treated as a protocol error: logged and dropped without affecting other
// handlers.
type Handler func(data json.RawMessage) error

type subscription struct {
	id int
	fn Handler
}

const (
	defaultMaxRetries = 5
	defaultRetryDelay = time.Second
)

// Config configures a Client. Zero values fall back to production defaults.
type Config struct {
	// BaseURL is the REST root of the portal backend, e.g. "https://api.clinic.example/v1".
	BaseURL string
	// WSURL is the event channel endpoint, e.g. "wss://api.clinic.example/v1/ws".
	WSURL string
	// UserID is the signed-in user the credential was issued for.
	UserID string

	Logger     zerolog.Logger
	Dialer     Dialer
	Timers     TimerFactory
	HTTPClient *http.Client

	MaxRetries int
	RetryDelay time.Duration
}

// Client owns the event channel for one signed-in user: connect, bounded
// reconnect, typed event dispatch and the presence set.
type Client struct {
	log    zerolog.Logger
	wsURL  string
	userID string
	dial   Dialer
	timers TimerFactory

	maxRetries int
	retryDelay time.Duration

	mu           sync.Mutex
	state        ConnState
	tr           Transport
	credential   string
	gen          int
	closed       bool
	handlers     map[EventName][]subscription
	nextSub      int
	onDisconnect []func()
	onReconnect  []func()

	presence *Presence
}

// New creates a disconnected Client.
func New(cfg Config) *Client {
	c := &Client{
		log:        cfg.Logger,
		wsURL:      cfg.WSURL,
		userID:     cfg.UserID,
		dial:       cfg.Dialer,
		timers:     cfg.Timers,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		handlers:   make(map[EventName][]subscription),
		presence:   newPresence(),
	}
	if c.dial == nil {
		c.dial = DialWebSocket
	}
	if c.timers == nil {
		c.timers = stdTimers
	}
	if c.maxRetries == 0 {
		c.maxRetries = defaultMaxRetries
	}
	if c.retryDelay == 0 {
		c.retryDelay = defaultRetryDelay
	}
	c.registerPresenceHandlers()
	return c
}

// UserID returns the local user this client was created for.
func (c *Client) UserID() string { return c.userID }

// Presence exposes the online-user set.
func (c *Client) Presence() *Presence { return c.presence }

// State returns the current connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the most recent transport event left the
// channel live.
func (c *Client) IsConnected() bool { return c.State() == StateConnected }

// Connect establishes the event channel with the given credential. A missing
// or rejected credential fails immediately with *AuthError. Transport
// failures are retried with a fixed backoff up to the configured bound and
// then surfaced as *NetworkError with the client left Disconnected.
func (c *Client) Connect(ctx context.Context, credential string) error {
	if credential == "" {
		return &AuthError{Reason: "missing credential"}
	}

	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.credential = credential
	c.closed = false
	c.mu.Unlock()

	tr, err := c.dialWithRetry(ctx, credential)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return err
	}

	c.attach(tr)
	return nil
}

// Close tears the channel down and disables reconnection. Ephemeral state in
// owning components is invalidated through the disconnect hooks.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed && c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.gen++
	tr := c.tr
	c.tr = nil
	wasConnected := c.state == StateConnected
	c.state = StateDisconnected
	hooks := append([]func(){}, c.onDisconnect...)
	c.mu.Unlock()

	if tr != nil {
		tr.Close()
	}
	c.presence.clear()
	if wasConnected {
		for _, h := range hooks {
			h()
		}
	}
}

// Emit sends an outbound event. While disconnected it is a no-op with a
// logged warning: it never blocks and never returns an error to the caller.
func (c *Client) Emit(event EventName, payload interface{}) {
	c.mu.Lock()
	tr := c.tr
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || tr == nil {
		c.log.Warn().Str("event", string(event)).Msg("emit while disconnected, dropping")
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		c.log.Warn().Str("event", string(event)).Err(err).Msg("emit payload marshal failed, dropping")
		return
	}
	if err := tr.WriteJSON(&Envelope{Event: event, Data: data}); err != nil {
		c.log.Warn().Str("event", string(event)).Err(err).Msg("emit write failed")
	}
}

// Subscribe registers a handler for an inbound event and returns a token for
// Unsubscribe. Handlers for the same event run in registration order.
func (c *Client) Subscribe(event EventName, h Handler) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSub++
	c.handlers[event] = append(c.handlers[event], subscription{id: c.nextSub, fn: h})
	return c.nextSub
}

// Unsubscribe removes a previously registered handler.
func (c *Client) Unsubscribe(event EventName, token int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	subs := c.handlers[event]
	for i, s := range subs {
		if s.id == token {
			c.handlers[event] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// OnDisconnect registers a hook invoked whenever a live connection is lost or
// closed. Components owning ephemeral state (typing indicators, a pending
// ring) invalidate it here.
func (c *Client) OnDisconnect(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = append(c.onDisconnect, f)
}

// OnReconnect registers a hook invoked after an automatic reconnect
// succeeds. Cached call/meeting state is stale at that point; hooks should
// re-query the authoritative services.
func (c *Client) OnReconnect(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReconnect = append(c.onReconnect, f)
}

func (c *Client) dialWithRetry(ctx context.Context, credential string) (Transport, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		tr, err := c.dial(ctx, c.wsURL, credential)
		if err == nil {
			return tr, nil
		}
		var authErr *AuthError
		if errors.As(err, &authErr) {
			return nil, err
		}
		lastErr = err
		c.log.Warn().Int("attempt", attempt).Int("max", c.maxRetries).Err(err).Msg("dial failed")
		if attempt == c.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, &NetworkError{Op: "dial", Err: ctx.Err()}
		case <-time.After(c.retryDelay):
		}
	}
	if _, ok := lastErr.(*NetworkError); ok {
		return nil, lastErr
	}
	return nil, &NetworkError{Op: "dial", Err: lastErr}
}

func (c *Client) attach(tr Transport) {
	c.mu.Lock()
	c.tr = tr
	c.state = StateConnected
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	go c.readLoop(tr, gen)
}

func (c *Client) readLoop(tr Transport, gen int) {
	for {
		data, err := tr.ReadMessage()
		if err != nil {
			c.lostConnection(gen, err)
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Error().Err(&ProtocolError{Event: "envelope", Err: err}).Msg("dropping malformed frame")
			continue
		}
		c.dispatch(&env)
	}
}

// dispatch runs the handler chain for one inbound event. One misbehaving
// handler must not stop delivery to the others.
func (c *Client) dispatch(env *Envelope) {
	c.mu.Lock()
	subs := append([]subscription{}, c.handlers[env.Event]...)
	c.mu.Unlock()

	for _, s := range subs {
		c.invoke(env, s)
	}
}

func (c *Client) invoke(env *Envelope, s subscription) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Str("event", string(env.Event)).Interface("panic", r).Msg("handler panicked")
		}
	}()
	if err := s.fn(env.Data); err != nil {
		c.log.Error().Err(&ProtocolError{Event: string(env.Event), Err: err}).Msg("dropping event")
	}
}

func (c *Client) lostConnection(gen int, cause error) {
	c.mu.Lock()
	if c.gen != gen || c.closed {
		c.mu.Unlock()
		return
	}
	c.tr = nil
	c.state = StateDisconnected
	credential := c.credential
	hooks := append([]func(){}, c.onDisconnect...)
	c.mu.Unlock()

	c.log.Warn().Err(cause).Msg("connection lost")
	c.presence.clear()
	for _, h := range hooks {
		h()
	}

	go c.reconnect(credential)
}

func (c *Client) reconnect(credential string) {
	c.mu.Lock()
	if c.closed || c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()

	tr, err := c.dialWithRetry(context.Background(), credential)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		c.log.Error().Err(err).Msg("reconnect exhausted, staying disconnected")
		return
	}

	c.attach(tr)

	c.mu.Lock()
	hooks := append([]func(){}, c.onReconnect...)
	c.mu.Unlock()
	for _, h := range hooks {
		h()
	}
	c.log.Info().Msg("reconnected")
}

// wsTransport adapts a gorilla connection to Transport.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *wsTransport) WriteJSON(v interface{}) error { return t.conn.WriteJSON(v) }

func (t *wsTransport) Close() error { return t.conn.Close() }

// DialWebSocket is the production Dialer. The credential is presented both as
// a bearer header and a token query parameter so either server scheme works.
func DialWebSocket(ctx context.Context, wsURL, credential string) (Transport, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+credential)

	sep := "?"
	for _, r := range wsURL {
		if r == '?' {
			sep = "&"
			break
		}
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL+sep+"token="+credential, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &AuthError{Reason: resp.Status}
		}
		return nil, &NetworkError{Op: "dial", Err: err}
	}
	return &wsTransport{conn: conn}, nil
}
