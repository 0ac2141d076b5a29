// ABOUTME: Protocol adapter contract shared by the polling and streaming gateway clients
// ABOUTME: Defines the Adapter interface, sentinel errors and inbound stream plumbing

package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/pie-bridge/internal/message"
	"github.com/2389/pie-bridge/internal/metrics"
)

// ErrNoSession indicates a polling call was made before verify and bind completed.
var ErrNoSession = errors.New("no session")

// ErrRequestTimeout indicates a streaming request never received its correlated reply.
var ErrRequestTimeout = errors.New("request timed out")

// ErrClosed indicates the adapter was stopped.
var ErrClosed = errors.New("adapter closed")

// ErrListenFailed indicates the inbound loop ended because of a transport or handshake failure.
var ErrListenFailed = errors.New("listen failed")

// ErrAuth indicates the gateway rejected the verify key or bot identity.
var ErrAuth = errors.New("gateway authentication failed")

// Defaults shared by both adapters.
const (
	DefaultPollInterval   = 500 * time.Millisecond
	DefaultFetchCount     = 10
	DefaultRequestTimeout = 2 * time.Second
	DefaultSettleDelay    = 100 * time.Millisecond

	// MaxSyncID bounds the correlation id space and therefore in-flight streaming requests.
	MaxSyncID = 99
)

// Adapter is a gateway client: the handshake, every remote operation, and the two
// inbound streams.
type Adapter interface {
	API

	// Verify authenticates with the verify key and returns the session.
	Verify(ctx context.Context) (string, error)
	// Bind attaches the session to the configured bot identity.
	Bind(ctx context.Context, session string) error
	// Release detaches the session.
	Release(ctx context.Context, session string) error

	// Listen delivers inbound items until ctx is done, Stop is called, or the
	// transport fails. It returns nil on a requested stop.
	Listen(ctx context.Context) error
	// Stop halts delivery. It is safe to call more than once.
	Stop()

	Messages() *Feed[message.ChatMessage]
	Events() *Feed[message.Event]
	// OnListen registers fn to run once each time the adapter starts listening.
	OnListen(fn func())
	// Listening reports whether inbound items are currently flowing.
	Listening() bool
}

// inbound is the receive-side state both adapters share.
type inbound struct {
	messages Feed[message.ChatMessage]
	events   Feed[message.Event]
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu        sync.Mutex
	listening bool
	onListen  []func()
}

func (in *inbound) Messages() *Feed[message.ChatMessage] { return &in.messages }

func (in *inbound) Events() *Feed[message.Event] { return &in.events }

func (in *inbound) OnListen(fn func()) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.onListen = append(in.onListen, fn)
}

func (in *inbound) Listening() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.listening
}

// markListening flips to listening and fires the notification on the transition only.
func (in *inbound) markListening() {
	in.mu.Lock()
	if in.listening {
		in.mu.Unlock()
		return
	}
	in.listening = true
	hooks := make([]func(), len(in.onListen))
	copy(hooks, in.onListen)
	in.mu.Unlock()

	in.logger.Info("listening for inbound items")
	for _, fn := range hooks {
		fn()
	}
}

func (in *inbound) clearListening() {
	in.mu.Lock()
	in.listening = false
	in.mu.Unlock()
}

// deliver classifies one raw item and publishes it on the matching feed.
func (in *inbound) deliver(raw json.RawMessage) {
	item, err := message.Decode(raw)
	if err != nil {
		in.logger.Warn("dropping inbound item", "error", err, "payload", string(raw))
		in.metrics.Dropped("undecodable")
		return
	}

	switch item.Kind {
	case message.KindMessage:
		in.metrics.Inbound("message")
		in.messages.Publish(*item.Message)
	case message.KindEvent:
		in.metrics.Inbound("event")
		in.events.Publish(*item.Event)
	}
}
