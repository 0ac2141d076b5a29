// ABOUTME: Polling adapter: stateless HTTP calls authenticated by a session header
// ABOUTME: Listen fetches bounded batches at a fixed interval and stops on transport failure

package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/2389/pie-bridge/internal/metrics"
)

// HTTPConfig configures the polling adapter.
type HTTPConfig struct {
	BaseURL      string
	VerifyKey    string
	QQ           int64
	PollInterval time.Duration
	FetchCount   int
	HTTPClient   *http.Client
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

// HTTPAdapter talks to the gateway's HTTP API and polls for inbound items.
type HTTPAdapter struct {
	*Client
	inbound

	cfg    HTTPConfig
	base   string
	client *http.Client
	logger *slog.Logger

	mu      sync.Mutex
	session string
	cancel  context.CancelFunc
	stopped bool
}

var _ Adapter = (*HTTPAdapter)(nil)

// NewHTTPAdapter creates a polling adapter. Zero durations and counts take defaults.
func NewHTTPAdapter(cfg HTTPConfig) *HTTPAdapter {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.FetchCount <= 0 {
		cfg.FetchCount = DefaultFetchCount
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "adapter", "adapter", "http")

	a := &HTTPAdapter{
		cfg:    cfg,
		base:   strings.TrimSuffix(cfg.BaseURL, "/"),
		client: cfg.HTTPClient,
		logger: logger,
	}
	a.inbound.logger = logger
	a.inbound.metrics = cfg.Metrics
	a.Client = &Client{caller: a, logger: logger}
	return a
}

// Session returns the current session key, or "" before verify.
func (a *HTTPAdapter) Session() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// Verify exchanges the verify key for a session key.
func (a *HTTPAdapter) Verify(ctx context.Context) (string, error) {
	body := struct {
		VerifyKey string `json:"verifyKey"`
	}{a.cfg.VerifyKey}

	var resp struct {
		Response
		Session string `json:"session"`
	}
	if err := a.postJSON(ctx, "/verify", "", body, &resp); err != nil {
		return "", fmt.Errorf("verify: %w", err)
	}
	if !resp.OK() {
		return "", fmt.Errorf("%w: verify returned code %d: %s", ErrAuth, resp.Code, resp.Msg)
	}
	return resp.Session, nil
}

// Bind attaches session to the configured bot and makes it the adapter's session.
func (a *HTTPAdapter) Bind(ctx context.Context, session string) error {
	var resp Response
	if err := a.postJSON(ctx, "/bind", "", a.sessionBody(session), &resp); err != nil {
		return fmt.Errorf("bind: %w", err)
	}
	if !resp.OK() {
		return fmt.Errorf("%w: bind returned code %d: %s", ErrAuth, resp.Code, resp.Msg)
	}

	a.mu.Lock()
	a.session = session
	a.mu.Unlock()
	a.logger.Info("session bound", "qq", a.cfg.QQ)
	return nil
}

// Release detaches session. The adapter forgets it even when the gateway complains.
func (a *HTTPAdapter) Release(ctx context.Context, session string) error {
	a.mu.Lock()
	if a.session == session {
		a.session = ""
	}
	a.mu.Unlock()

	var resp Response
	if err := a.postJSON(ctx, "/release", "", a.sessionBody(session), &resp); err != nil {
		return fmt.Errorf("release: %w", err)
	}
	if !resp.OK() {
		a.logger.Warn("release returned non-success code", "code", resp.Code, "msg", resp.Msg)
	}
	return nil
}

func (a *HTTPAdapter) sessionBody(session string) any {
	return struct {
		SessionKey string `json:"sessionKey"`
		QQ         int64  `json:"qq"`
	}{session, a.cfg.QQ}
}

// ensureSession runs verify and bind when no session is held.
func (a *HTTPAdapter) ensureSession(ctx context.Context) error {
	if a.Session() != "" {
		return nil
	}
	session, err := a.Verify(ctx)
	if err != nil {
		return err
	}
	return a.Bind(ctx, session)
}

// Listen polls fetchMessage until stopped. A transport failure ends the loop with
// an error; nothing is retried.
func (a *HTTPAdapter) Listen(ctx context.Context) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return ErrClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.mu.Unlock()
	defer cancel()
	defer a.clearListening()

	for {
		if err := a.ensureSession(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			a.logger.Error("session handshake failed", "error", err)
			return fmt.Errorf("%w: %w", ErrListenFailed, err)
		}

		items, ok, err := a.fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			a.logger.Error("fetching inbound items failed", "error", err)
			return fmt.Errorf("%w: %w", ErrListenFailed, err)
		}
		if ok {
			a.markListening()
		}

		for _, raw := range items {
			a.deliver(raw)
		}

		timer := time.NewTimer(a.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// fetch pulls one bounded batch; ok is false when the gateway answered with a
// non-success code. An invalidated session is dropped so the next iteration re-verifies.
func (a *HTTPAdapter) fetch(ctx context.Context) (items []json.RawMessage, ok bool, err error) {
	body := struct {
		Count int `json:"count"`
	}{a.cfg.FetchCount}

	raw, err := a.call(ctx, get("fetchMessage", ""), body)
	if err != nil {
		return nil, false, err
	}

	var resp ListResult[json.RawMessage]
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, false, fmt.Errorf("decoding fetchMessage: %w", err)
	}
	switch resp.Code {
	case CodeSuccess:
		return resp.Data, true, nil
	case CodeInvalidSession, CodeSessionInactive:
		a.logger.Warn("session rejected by gateway, renewing", "code", resp.Code, "msg", resp.Msg)
		a.mu.Lock()
		a.session = ""
		a.mu.Unlock()
		return nil, false, nil
	default:
		a.logger.Warn("fetchMessage returned non-success code", "code", resp.Code, "msg", resp.Msg)
		return nil, false, nil
	}
}

// Stop ends the polling loop. Safe to call repeatedly.
func (a *HTTPAdapter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	a.stopped = true
	if a.cancel != nil {
		a.cancel()
	}
	a.logger.Info("adapter stopped")
}

// call implements caller for the typed operations.
func (a *HTTPAdapter) call(ctx context.Context, ep endpoint, payload any) (json.RawMessage, error) {
	session := a.Session()
	if session == "" {
		return nil, ErrNoSession
	}
	if ep.method == http.MethodGet {
		return a.getQuery(ctx, ep.path(), session, payload)
	}
	var raw json.RawMessage
	if err := a.postJSON(ctx, ep.path(), session, payload, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (a *HTTPAdapter) postJSON(ctx context.Context, path, session string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	raw, err := a.send(req, session)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (a *HTTPAdapter) getQuery(ctx context.Context, path, session string, payload any) (json.RawMessage, error) {
	q, err := queryValues(payload)
	if err != nil {
		return nil, err
	}
	u := a.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	return a.send(req, session)
}

func (a *HTTPAdapter) send(req *http.Request, session string) (json.RawMessage, error) {
	if session != "" {
		req.Header.Set("sessionKey", session)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, string(raw))
	}
	return raw, nil
}

// queryValues flattens a request body's top-level fields into query parameters.
func queryValues(payload any) (url.Values, error) {
	q := url.Values{}
	if payload == nil {
		return q, nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling query: %w", err)
	}
	gjson.ParseBytes(body).ForEach(func(key, value gjson.Result) bool {
		switch value.Type {
		case gjson.Number:
			q.Set(key.String(), strconv.FormatInt(value.Int(), 10))
		default:
			q.Set(key.String(), value.String())
		}
		return true
	})
	return q, nil
}
