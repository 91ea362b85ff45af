package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rvndrmann/mannmediaagency-sub005/config"
	"github.com/rvndrmann/mannmediaagency-sub005/internal/metrics"
	"github.com/rvndrmann/mannmediaagency-sub005/internal/tlsutil"
	"github.com/rvndrmann/mannmediaagency-sub005/types"
)

// State represents the connection state of a Client.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// ClientConfig configures the connection client.
type ClientConfig struct {
	Endpoint             string        // ws:// or wss:// URL of the tool-execution endpoint
	ProjectID            string        // Sent in set-context after every connect
	ClientID             string        // Defaults to a random UUID
	HeartbeatInterval    time.Duration // Application heartbeat period (default 30s, <0 disables)
	ReconnectInterval    time.Duration // Base reconnect delay, multiplied by the attempt number (default 5s)
	MaxReconnectAttempts int           // Attempts before giving up permanently (default 5)
	DialTimeout          time.Duration // Per-dial timeout (default 10s)
	EventBuffer          int           // Per-subscriber channel size (default 64)
	Subprotocols         []string
}

// DefaultClientConfig returns a ClientConfig with sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HeartbeatInterval:    30 * time.Second,
		ReconnectInterval:    5 * time.Second,
		MaxReconnectAttempts: 5,
		DialTimeout:          10 * time.Second,
		EventBuffer:          64,
	}
}

// ClientConfigFrom maps the connection section of the application config.
func ClientConfigFrom(cfg config.ConnectionConfig) ClientConfig {
	return ClientConfig{
		Endpoint:             cfg.Endpoint,
		ProjectID:            cfg.ProjectID,
		HeartbeatInterval:    cfg.HeartbeatInterval,
		ReconnectInterval:    cfg.ReconnectInterval,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		DialTimeout:          cfg.DialTimeout,
		EventBuffer:          cfg.EventBuffer,
	}
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithMetrics records connection state, reconnects and dropped events.
func WithMetrics(m *metrics.Collector) ClientOption {
	return func(c *Client) { c.metrics = m }
}

type callResult struct {
	env Envelope
	err error
}

// Client owns one persistent WebSocket connection to a tool-execution
// endpoint. It sends the project context on every connect, keeps an
// application heartbeat, and reconnects with a linearly growing delay after
// abnormal closures. Events are delivered to subscribers over channels.
type Client struct {
	config  ClientConfig
	logger  *zap.Logger
	metrics *metrics.Collector
	events  *eventBus

	// lifecycle context, cancelled by Close to abort in-flight dials
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu             sync.Mutex
	state          State
	conn           *websocket.Conn
	connCancel     context.CancelFunc
	gen            uint64
	projectID      string
	attempts       int
	exhausted      bool
	closed         bool
	reconnectTimer *time.Timer
	pending        map[string]chan callResult

	afterFunc func(time.Duration, func()) *time.Timer
}

// NewClient creates a disconnected client. Call Connect to dial.
func NewClient(cfg ClientConfig, logger *zap.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultClientConfig()
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = defaults.ReconnectInterval
	}
	if cfg.MaxReconnectAttempts < 0 {
		cfg.MaxReconnectAttempts = 0
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		config:    cfg,
		ctx:       ctx,
		cancel:    cancel,
		state:     StateDisconnected,
		projectID: cfg.ProjectID,
		pending:   make(map[string]chan callResult),
		afterFunc: time.AfterFunc,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logger.With(
		zap.String("component", "mcp_client"),
		zap.String("client_id", cfg.ClientID),
		zap.String("endpoint", cfg.Endpoint))
	c.events = newEventBus(cfg.EventBuffer, c.logger, c.metrics)
	return c
}

// ID returns the client id sent in every envelope.
func (c *Client) ID() string {
	return c.config.ClientID
}

// Subscribe returns a subscription for the given event types, or for all
// events when none are given.
func (c *Client) Subscribe(eventTypes ...EventType) *Subscription {
	return c.events.subscribe(eventTypes...)
}

// IsConnected returns true when the client has a live connection.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected && !c.closed
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ReconnectAttempts returns the number of reconnect attempts since the last
// successful connect.
func (c *Client) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Connect dials the endpoint. A failed explicit Connect returns an error and
// does not schedule reconnects; reconnection only follows a lost connection.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return types.NewConnectionError("client is closed", nil).WithRetryable(false)
	}
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.exhausted = false
	c.mu.Unlock()
	c.metrics.RecordConnectionState(c.config.Endpoint, string(StateConnecting))

	conn, err := c.dial(ctx)
	if err != nil {
		c.setDisconnected()
		c.events.publish(Event{Type: EventError, ClientID: c.config.ClientID, Err: err})
		return err
	}
	return c.establish(conn)
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.config.DialTimeout)
	defer cancel()

	c.logger.Info("connecting")
	conn, _, err := websocket.Dial(dialCtx, c.config.Endpoint, &websocket.DialOptions{
		Subprotocols: c.config.Subprotocols,
		HTTPClient:   tlsutil.WebSocketClient(),
	})
	if err != nil {
		return nil, types.NewConnectionError("websocket dial failed", err)
	}
	return conn, nil
}

// establish installs a freshly dialed connection, sends the project context
// and starts the read loop and heartbeat.
func (c *Client) establish(conn *websocket.Conn) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "client closed")
		return types.NewConnectionError("client is closed", nil).WithRetryable(false)
	}
	c.gen++
	gen := c.gen
	connCtx, connCancel := context.WithCancel(c.ctx)
	c.conn = conn
	c.connCancel = connCancel
	c.state = StateConnected
	c.attempts = 0
	c.wg.Add(2)
	c.mu.Unlock()

	c.metrics.RecordConnectionState(c.config.Endpoint, string(StateConnected))
	c.logger.Info("connected")

	go c.readLoop(connCtx, conn, gen)
	go c.heartbeat(connCtx, conn)

	if err := c.sendProjectContext(connCtx); err != nil {
		c.logger.Warn("failed to send project context", zap.Error(err))
	}
	c.events.publish(Event{Type: EventConnected, ClientID: c.config.ClientID})
	return nil
}

// Close shuts the connection with a normal closure. It is idempotent, stops
// every timer and goroutine and waits for them before returning.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	connCancel := c.connCancel
	c.conn = nil
	c.connCancel = nil
	c.state = StateDisconnected
	if c.reconnectTimer != nil && c.reconnectTimer.Stop() {
		// the callback will never run, release its slot
		c.wg.Done()
	}
	c.reconnectTimer = nil
	pending := c.takePendingLocked()
	c.mu.Unlock()

	failPending(pending, types.NewConnectionError("client closed", nil).WithRetryable(false))

	if conn != nil {
		if err := conn.Close(websocket.StatusNormalClosure, "client disconnected"); err != nil {
			c.logger.Debug("close handshake incomplete", zap.Error(err))
		}
	}
	if connCancel != nil {
		connCancel()
	}
	c.cancel()
	c.wg.Wait()

	c.events.close()
	c.metrics.RecordConnectionState(c.config.Endpoint, string(StateDisconnected))
	c.logger.Info("closed")
	return nil
}

// ExecuteTool sends an execute-tool envelope and returns its request id.
// Results arrive as tool-result events carrying the same id.
func (c *Client) ExecuteTool(ctx context.Context, name string, params any) (string, error) {
	if name == "" {
		return "", types.NewInvalidRequestError("tool name is required")
	}
	raw, err := marshalParams(params)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	projectID := c.projectID
	c.mu.Unlock()

	env := newEnvelope(TypeExecuteTool, c.config.ClientID)
	env.RequestID = uuid.NewString()
	env.ToolName = name
	env.Params = raw
	env.Context = &ProjectContext{ProjectID: projectID}

	if err := c.send(ctx, env); err != nil {
		c.events.publish(Event{Type: EventError, ClientID: c.config.ClientID, ToolName: name, Err: err})
		return "", err
	}
	return env.RequestID, nil
}

// Call sends an execute-tool envelope and waits for the matching tool-result.
// The call fails with a connection error when the connection drops first.
func (c *Client) Call(ctx context.Context, name string, params any) (json.RawMessage, error) {
	if name == "" {
		return nil, types.NewInvalidRequestError("tool name is required")
	}
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	env := newEnvelope(TypeExecuteTool, c.config.ClientID)
	env.RequestID = uuid.NewString()
	env.ToolName = name
	env.Params = raw

	ch := make(chan callResult, 1)
	c.mu.Lock()
	if c.state != StateConnected || c.closed {
		c.mu.Unlock()
		return nil, types.NewNotConnectedError()
	}
	env.Context = &ProjectContext{ProjectID: c.projectID}
	c.pending[env.RequestID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, env.RequestID)
		c.mu.Unlock()
	}()

	if err := c.send(ctx, env); err != nil {
		return nil, err
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		if res.env.Failed() {
			return nil, res.env.Err()
		}
		return res.env.Result, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, types.NewError(types.ErrTimeout, fmt.Sprintf("tool %s timed out", name)).
				WithCause(ctx.Err()).
				WithRetryable(true)
		}
		return nil, ctx.Err()
	}
}

// SetProjectContext re-scopes the connection. The new project id is sent
// immediately when connected and after every future connect.
func (c *Client) SetProjectContext(ctx context.Context, projectID string) error {
	c.mu.Lock()
	c.projectID = projectID
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected {
		return nil
	}
	return c.sendProjectContext(ctx)
}

func (c *Client) sendProjectContext(ctx context.Context) error {
	c.mu.Lock()
	projectID := c.projectID
	c.mu.Unlock()

	return c.send(ctx, Envelope{
		Type:     TypeSetContext,
		ClientID: c.config.ClientID,
		Context:  &ProjectContext{ProjectID: projectID},
	})
}

// send writes one envelope on the current connection.
func (c *Client) send(ctx context.Context, env Envelope) error {
	c.mu.Lock()
	conn := c.conn
	live := c.state == StateConnected && !c.closed
	c.mu.Unlock()
	if !live || conn == nil {
		return types.NewNotConnectedError()
	}
	return writeEnvelope(ctx, conn, env)
}

func writeEnvelope(ctx context.Context, conn *websocket.Conn, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return types.NewInvalidRequestError("envelope is not JSON encodable").WithCause(err)
	}
	if err := conn.Write(ctx, websocket.MessageText, body); err != nil {
		return types.NewConnectionError("websocket write failed", err)
	}
	return nil
}

// readLoop dispatches inbound frames until the connection fails.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, gen uint64) {
	defer c.wg.Done()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.handleDisconnect(gen, err)
			return
		}
		env, err := decodeEnvelope(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		c.dispatch(ctx, conn, env)
	}
}

func (c *Client) dispatch(ctx context.Context, conn *websocket.Conn, env Envelope) {
	switch env.Type {
	case TypePing:
		pong := newEnvelope(TypePong, c.config.ClientID)
		if err := writeEnvelope(ctx, conn, pong); err != nil {
			c.logger.Warn("failed to answer ping", zap.Error(err))
		}
	case TypeToolResult, TypeError:
		if env.RequestID != "" {
			c.mu.Lock()
			ch, ok := c.pending[env.RequestID]
			delete(c.pending, env.RequestID)
			c.mu.Unlock()
			if ok {
				ch <- callResult{env: env}
			}
		}
		evType := EventToolResult
		var evErr error
		if env.Type == TypeError {
			evType = EventError
			evErr = env.Err()
		}
		e := env
		c.events.publish(Event{
			Type:     evType,
			ClientID: c.config.ClientID,
			ToolName: env.ToolName,
			Envelope: &e,
			Err:      evErr,
		})
	case TypeStatusUpdate:
		e := env
		c.events.publish(Event{Type: EventStatusUpdate, ClientID: c.config.ClientID, Envelope: &e})
	case TypePong, TypeHeartbeat:
	default:
		c.logger.Debug("ignoring frame", zap.String("type", string(env.Type)))
	}
}

// heartbeat sends the application-level heartbeat until the connection ends.
// Inbound pings are answered by the read loop and do not reset this ticker.
func (c *Client) heartbeat(ctx context.Context, conn *websocket.Conn) {
	defer c.wg.Done()
	if c.config.HeartbeatInterval < 0 {
		return
	}

	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writeEnvelope(ctx, conn, newEnvelope(TypeHeartbeat, c.config.ClientID)); err != nil {
				c.logger.Warn("heartbeat failed", zap.Error(err))
			}
		}
	}
}

// handleDisconnect tears down connection gen. A normal closure ends the
// session; anything else schedules a reconnect.
func (c *Client) handleDisconnect(gen uint64, err error) {
	c.mu.Lock()
	if c.closed || gen != c.gen || c.conn == nil {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	if c.connCancel != nil {
		c.connCancel()
		c.connCancel = nil
	}
	c.state = StateDisconnected
	pending := c.takePendingLocked()
	c.mu.Unlock()

	code := websocket.CloseStatus(err)
	failPending(pending, types.NewConnectionError("connection lost", err))
	c.metrics.RecordConnectionState(c.config.Endpoint, string(StateDisconnected))
	c.events.publish(Event{Type: EventDisconnected, ClientID: c.config.ClientID, Code: int(code), Err: err})

	if code == websocket.StatusNormalClosure {
		c.logger.Info("connection closed normally by peer")
		return
	}
	c.logger.Warn("connection lost", zap.Int("code", int(code)), zap.Error(err))
	c.scheduleReconnect()
}

// scheduleReconnect arms the reconnect timer for the next attempt, or emits
// max-reconnect-attempts-reached once the budget is spent.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.attempts >= c.config.MaxReconnectAttempts {
		emit := !c.exhausted
		c.exhausted = true
		attempts := c.attempts
		c.mu.Unlock()
		if emit {
			c.logger.Error("max reconnect attempts reached", zap.Int("attempts", attempts))
			c.events.publish(Event{Type: EventMaxReconnectsReached, ClientID: c.config.ClientID})
		}
		return
	}
	c.attempts++
	attempt := c.attempts
	delay := c.config.ReconnectInterval * time.Duration(attempt)
	c.wg.Add(1)
	c.reconnectTimer = c.afterFunc(delay, c.reconnect)
	c.mu.Unlock()

	c.logger.Info("scheduling reconnect",
		zap.Int("attempt", attempt),
		zap.Int("max", c.config.MaxReconnectAttempts),
		zap.Duration("delay", delay))
}

// reconnect runs on the reconnect timer. A failed dial counts as an attempt.
func (c *Client) reconnect() {
	defer c.wg.Done()

	c.mu.Lock()
	c.reconnectTimer = nil
	if c.closed || c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	attempt := c.attempts
	c.mu.Unlock()

	c.metrics.RecordReconnectAttempt(c.config.Endpoint)
	c.metrics.RecordConnectionState(c.config.Endpoint, string(StateConnecting))
	c.logger.Info("attempting reconnect", zap.Int("attempt", attempt))

	conn, err := c.dial(c.ctx)
	if err != nil {
		c.setDisconnected()
		c.logger.Warn("reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
		c.events.publish(Event{Type: EventError, ClientID: c.config.ClientID, Err: err})
		c.scheduleReconnect()
		return
	}
	if err := c.establish(conn); err != nil {
		c.logger.Debug("discarding connection dialed during close")
	}
}

func (c *Client) setDisconnected() {
	c.mu.Lock()
	if c.state == StateConnecting {
		c.state = StateDisconnected
	}
	c.mu.Unlock()
	c.metrics.RecordConnectionState(c.config.Endpoint, string(StateDisconnected))
}

// takePendingLocked detaches every pending call. Caller must hold c.mu.
func (c *Client) takePendingLocked() map[string]chan callResult {
	pending := c.pending
	c.pending = make(map[string]chan callResult)
	return pending
}

func failPending(pending map[string]chan callResult, err error) {
	for _, ch := range pending {
		ch <- callResult{err: err}
	}
}
