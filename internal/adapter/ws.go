// ABOUTME: Streaming adapter: one persistent socket per bot with sync-id request correlation
// ABOUTME: Sniffs inbound frames into pushes, the connection ack, and correlated replies

package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/2389/pie-bridge/internal/message"
	"github.com/2389/pie-bridge/internal/metrics"
)

const writeTimeout = 10 * time.Second

// WSConfig configures the streaming adapter.
type WSConfig struct {
	URL            string // http(s):// or ws(s):// base of the gateway
	VerifyKey      string
	QQ             int64
	RequestTimeout time.Duration
	SettleDelay    time.Duration
	Dialer         *websocket.Dialer
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
}

// outboundFrame is a request sent over the socket.
type outboundFrame struct {
	SyncID     string `json:"syncId"`
	Command    string `json:"command"`
	SubCommand string `json:"subCommand,omitempty"`
	Content    any    `json:"content,omitempty"`
}

// wsConn is one socket and its read loop.
type wsConn struct {
	ws      *websocket.Conn
	done    chan struct{} // closed when the read loop exits
	acked   chan struct{} // closed on a successful connection ack
	ackOnce sync.Once
	err     error // why the read loop exited; valid after done is closed
	fatal   error // set by the read loop before it closes the socket itself

	writeMu sync.Mutex
}

func (c *wsConn) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteJSON(v)
}

// WSAdapter talks to the gateway over a single identity-scoped websocket.
type WSAdapter struct {
	*Client
	inbound

	cfg     WSConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
	ids     *syncIDPool
	pending *pendingTable

	connMu sync.Mutex
	conn   *wsConn

	sessionMu sync.Mutex
	session   string

	stopOnce sync.Once
	stopCh   chan struct{}
}

var _ Adapter = (*WSAdapter)(nil)

// NewWSAdapter creates a streaming adapter. The socket is opened lazily by the
// first Listen, Verify or request.
func NewWSAdapter(cfg WSConfig) *WSAdapter {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "adapter", "adapter", "ws")

	a := &WSAdapter{
		cfg:     cfg,
		logger:  logger,
		metrics: cfg.Metrics,
		ids:     newSyncIDPool(MaxSyncID),
		pending: newPendingTable(),
		stopCh:  make(chan struct{}),
	}
	a.inbound.logger = logger
	a.inbound.metrics = cfg.Metrics
	a.Client = &Client{caller: a, logger: logger}
	return a
}

// Session returns the session announced in the connection ack.
func (a *WSAdapter) Session() string {
	a.sessionMu.Lock()
	defer a.sessionMu.Unlock()
	return a.session
}

// Verify opens the socket if needed and waits for the connection ack.
func (a *WSAdapter) Verify(ctx context.Context) (string, error) {
	c, err := a.connect(ctx)
	if err != nil {
		return "", fmt.Errorf("verify: %w", err)
	}

	timer := time.NewTimer(a.cfg.RequestTimeout)
	defer timer.Stop()
	select {
	case <-c.acked:
		return a.Session(), nil
	case <-c.done:
		if c.fatal != nil {
			return "", c.fatal
		}
		return "", fmt.Errorf("%w: socket closed before ack", ErrAuth)
	case <-timer.C:
		return "", fmt.Errorf("%w: no connection ack within %s", ErrAuth, a.cfg.RequestTimeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Bind is a no-op: the socket is bound to the bot identity when it is opened.
func (a *WSAdapter) Bind(ctx context.Context, session string) error {
	return nil
}

// Release is a no-op for the same reason as Bind.
func (a *WSAdapter) Release(ctx context.Context, session string) error {
	return nil
}

// Listen opens the socket and blocks until the adapter is stopped, ctx ends, or
// the socket fails.
func (a *WSAdapter) Listen(ctx context.Context) error {
	c, err := a.connect(ctx)
	if err != nil {
		if errors.Is(err, ErrClosed) {
			return ErrClosed
		}
		a.logger.Error("opening socket failed", "error", err)
		return fmt.Errorf("%w: %w", ErrListenFailed, err)
	}

	select {
	case <-ctx.Done():
		a.Stop()
		return nil
	case <-a.stopCh:
		return nil
	case <-c.done:
		if a.isStopped() {
			return nil
		}
		return fmt.Errorf("%w: %w", ErrListenFailed, c.err)
	}
}

// Stop closes the socket. Safe to call repeatedly; in-flight requests see ErrClosed.
func (a *WSAdapter) Stop() {
	a.stopOnce.Do(func() {
		close(a.stopCh)

		a.connMu.Lock()
		c := a.conn
		a.conn = nil
		a.connMu.Unlock()

		if c != nil {
			c.ws.Close()
		}
		a.clearListening()
		a.logger.Info("adapter stopped")
	})
}

func (a *WSAdapter) isStopped() bool {
	select {
	case <-a.stopCh:
		return true
	default:
		return false
	}
}

// Request sends one command and waits for the reply carrying the same sync id.
// It returns ErrRequestTimeout when no reply arrives within the request budget.
func (a *WSAdapter) Request(ctx context.Context, command, subCommand string, content any) (json.RawMessage, error) {
	id, err := a.ids.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer a.ids.release(id)

	reply := a.pending.add(id)
	a.metrics.SetPending(a.pending.len())
	defer func() {
		a.pending.remove(id)
		a.metrics.SetPending(a.pending.len())
	}()

	c, err := a.connect(ctx)
	if err != nil {
		return nil, err
	}

	frame := outboundFrame{
		SyncID:     strconv.Itoa(id),
		Command:    command,
		SubCommand: subCommand,
		Content:    content,
	}
	if err := c.write(frame); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	timer := time.NewTimer(a.cfg.RequestTimeout)
	defer timer.Stop()
	select {
	case data := <-reply:
		return data, nil
	case <-timer.C:
		a.logger.Warn("request timed out",
			"command", command,
			"sub_command", subCommand,
			"sync_id", id,
			"timeout", a.cfg.RequestTimeout,
		)
		a.metrics.RequestTimeout()
		return nil, ErrRequestTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-a.stopCh:
		return nil, ErrClosed
	}
}

// call implements caller for the typed operations.
func (a *WSAdapter) call(ctx context.Context, ep endpoint, payload any) (json.RawMessage, error) {
	return a.Request(ctx, ep.command, ep.subCommand, payload)
}

// connect returns the open socket, dialing it first when there is none.
func (a *WSAdapter) connect(ctx context.Context) (*wsConn, error) {
	a.connMu.Lock()
	defer a.connMu.Unlock()

	if a.isStopped() {
		return nil, ErrClosed
	}
	if a.conn != nil {
		return a.conn, nil
	}

	target, err := a.dialURL()
	if err != nil {
		return nil, err
	}
	ws, _, err := a.cfg.Dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing gateway: %w", err)
	}

	c := &wsConn{
		ws:    ws,
		done:  make(chan struct{}),
		acked: make(chan struct{}),
	}
	a.conn = c
	go a.readLoop(c)
	a.logger.Info("socket opened", "qq", a.cfg.QQ)

	// Give the gateway a moment to acknowledge before the first send.
	timer := time.NewTimer(a.cfg.SettleDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-c.acked:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return c, nil
}

func (a *WSAdapter) dialURL() (string, error) {
	u, err := url.Parse(a.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parsing gateway url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/all"
	q := u.Query()
	q.Set("verifyKey", a.cfg.VerifyKey)
	q.Set("qq", strconv.FormatInt(a.cfg.QQ, 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (a *WSAdapter) readLoop(c *wsConn) {
	defer close(c.done)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.err = err
			if c.fatal != nil {
				c.err = c.fatal
			}
			a.dropConn(c)
			if !a.isStopped() && c.fatal == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				a.logger.Error("socket read failed", "error", err)
			}
			return
		}
		a.handleFrame(c, data)
	}
}

func (a *WSAdapter) dropConn(c *wsConn) {
	a.connMu.Lock()
	if a.conn == c {
		a.conn = nil
	}
	a.connMu.Unlock()
	a.clearListening()
}

// handleFrame sniffs one frame by structure:
//   - no syncId but a code: the gateway refused the connection
//   - empty syncId: the connection ack
//   - numeric syncId with a waiter: a correlated reply
//   - data with a message or event type tag: an unsolicited push
func (a *WSAdapter) handleFrame(c *wsConn, frame []byte) {
	if !gjson.ValidBytes(frame) {
		a.logger.Warn("dropping malformed frame", "frame", string(frame))
		a.metrics.Dropped("malformed")
		return
	}

	syncID := gjson.GetBytes(frame, "syncId")
	if !syncID.Exists() {
		if code := gjson.GetBytes(frame, "code"); code.Exists() {
			a.failConn(c, fmt.Errorf("%w: gateway code %d: %s", ErrListenFailed, code.Int(), gjson.GetBytes(frame, "msg").String()))
			return
		}
		a.logger.Warn("dropping frame without sync id", "frame", string(frame))
		a.metrics.Dropped("malformed")
		return
	}

	data := gjson.GetBytes(frame, "data")
	sid := syncID.String()

	if sid == "" {
		a.handleAck(c, data)
		return
	}

	id, numErr := strconv.Atoi(sid)
	if numErr == nil && id > 0 && a.pending.deliver(id, json.RawMessage(data.Raw)) {
		return
	}

	if typ := data.Get("type"); typ.Exists() && message.Classify(typ.String()) != message.KindUnknown {
		a.deliver(json.RawMessage(data.Raw))
		return
	}

	if numErr == nil && id > 0 {
		// The waiter already gave up, or the reply raced ahead of it.
		a.logger.Warn("dropping reply for unknown sync id", "sync_id", id)
		a.metrics.Dropped("unknown_sync_id")
		return
	}
	a.logger.Warn("dropping unrecognized frame", "sync_id", sid, "frame", string(frame))
	a.metrics.Dropped("unrecognized")
}

func (a *WSAdapter) handleAck(c *wsConn, data gjson.Result) {
	code := data.Get("code").Int()
	if code != CodeSuccess {
		a.failConn(c, fmt.Errorf("%w: connection ack code %d: %s", ErrAuth, code, data.Get("msg").String()))
		return
	}

	a.sessionMu.Lock()
	a.session = data.Get("session").String()
	a.sessionMu.Unlock()

	c.ackOnce.Do(func() { close(c.acked) })
	a.markListening()
}

// failConn logs a gateway refusal and closes the socket; the read loop then exits
// with err.
func (a *WSAdapter) failConn(c *wsConn, err error) {
	a.logger.Error("gateway refused connection", "error", err)
	c.fatal = err
	c.ws.Close()
}
