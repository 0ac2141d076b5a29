// ABOUTME: Routes inbound chat messages and events to enabled pies
// ABOUTME: Evaluates each pie's filters and runs matching handlers in their own goroutines

package dispatch

import (
	"bytes"
	"context"
	"log/slog"
	"sync"

	"github.com/2389/pie-bridge/internal/adapter"
	"github.com/2389/pie-bridge/internal/dedupe"
	"github.com/2389/pie-bridge/internal/message"
	"github.com/2389/pie-bridge/internal/metrics"
	"github.com/2389/pie-bridge/internal/pie"
	"github.com/2389/pie-bridge/internal/store"
)

// Source is an inbound stream pair, normally an adapter.
type Source interface {
	Messages() *adapter.Feed[message.ChatMessage]
	Events() *adapter.Feed[message.Event]
}

// Recorder persists inbound items.
type Recorder interface {
	SaveMessage(ctx context.Context, msg *store.Message) error
	SaveEvent(ctx context.Context, evt *store.Event) error
}

// Config wires a Router. Agent and API are required; the rest are optional.
type Config struct {
	Agent    *pie.Agent
	API      adapter.API
	Recorder Recorder
	Dedupe   *dedupe.Cache
	Metrics  *metrics.Metrics
	BotID    int64
	Logger   *slog.Logger
}

// Router fans inbound items out to pies. Handlers are never awaited by the
// dispatch path; Wait exists for draining at shutdown.
type Router struct {
	agent    *pie.Agent
	api      adapter.API
	recorder Recorder
	dedupe   *dedupe.Cache
	metrics  *metrics.Metrics
	botID    int64
	logger   *slog.Logger

	mu     sync.Mutex // guards closed and wg.Add
	closed bool
	wg     sync.WaitGroup
}

// NewRouter creates a Router.
func NewRouter(cfg Config) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		agent:    cfg.Agent,
		api:      cfg.API,
		recorder: cfg.Recorder,
		dedupe:   cfg.Dedupe,
		metrics:  cfg.Metrics,
		botID:    cfg.BotID,
		logger:   logger.With("component", "dispatch"),
	}
}

// Attach subscribes to src. Handlers inherit ctx's values but not its
// cancellation. The returned function unsubscribes.
func (r *Router) Attach(ctx context.Context, src Source) (detach func()) {
	stopMessages := src.Messages().Subscribe(func(msg message.ChatMessage) {
		r.HandleMessage(ctx, msg)
	})
	stopEvents := src.Events().Subscribe(func(evt message.Event) {
		r.HandleEvent(ctx, evt)
	})
	return func() {
		stopMessages()
		stopEvents()
	}
}

// HandleMessage dispatches one chat message to every enabled pie whose filters
// all match. Each pie gets its own copy of the chain.
func (r *Router) HandleMessage(ctx context.Context, msg message.ChatMessage) {
	if r.dedupe != nil && r.dedupe.SeenMessage(msg) {
		r.logger.Debug("dropping duplicate message", "type", msg.Type, "source_id", msg.Chain.SourceID())
		r.metrics.Dropped("duplicate")
		return
	}

	window := message.NewWindow(msg)
	r.recordMessage(ctx, msg, window)

	for _, inst := range r.agent.Enabled() {
		p := inst.Pie()
		if p.OnMessage == nil {
			continue
		}

		in := pie.Input{
			Window: window,
			Chain:  msg.Chain.Clone(),
			Pie:    inst,
			BotID:  r.botID,
		}
		ok, err := pie.MatchAll(p.Filters, in)
		if err != nil {
			r.logger.Warn("filter failed", "pie", inst.ID(), "error", err)
			r.metrics.Failure(inst.ID(), "filter")
			continue
		}
		if !ok {
			continue
		}

		logger := r.logger.With("pie", inst.ID())
		mc := &pie.MessageContext{
			Input:   in,
			Message: copyMessage(msg, in.Chain),
			API:     r.api,
			Logger:  logger,
		}
		r.spawn(ctx, inst.ID(), "message", func(ctx context.Context) error {
			return p.OnMessage(ctx, mc)
		})
	}
}

// HandleEvent delivers one event to every enabled pie with an event handler.
func (r *Router) HandleEvent(ctx context.Context, evt message.Event) {
	r.recordEvent(ctx, evt)

	for _, inst := range r.agent.Enabled() {
		p := inst.Pie()
		if p.OnEvent == nil {
			continue
		}
		ec := &pie.EventContext{
			Event:  message.Event{Type: evt.Type, Raw: bytes.Clone(evt.Raw)},
			Pie:    inst,
			API:    r.api,
			Logger: r.logger.With("pie", inst.ID()),
		}
		r.spawn(ctx, inst.ID(), "event", func(ctx context.Context) error {
			return p.OnEvent(ctx, ec)
		})
	}
}

// spawn runs fn in its own goroutine with a recovered error boundary.
func (r *Router) spawn(ctx context.Context, pieID, kind string, fn func(context.Context) error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.Debug("router closed, not starting handler", "pie", pieID, "kind", kind)
		r.metrics.Dropped("closed")
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	r.metrics.Dispatched(pieID, kind)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("handler panicked", "pie", pieID, "kind", kind, "panic", rec)
				r.metrics.Failure(pieID, "handler")
			}
		}()

		if err := fn(context.WithoutCancel(ctx)); err != nil {
			r.logger.Error("handler failed", "pie", pieID, "kind", kind, "error", err)
			r.metrics.Failure(pieID, "handler")
		}
	}()
}

// Close stops the router from starting handlers. Handlers already running are
// unaffected; call Wait or WaitContext afterwards to drain them.
func (r *Router) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// Wait blocks until every handler started so far has returned.
func (r *Router) Wait() {
	r.wg.Wait()
}

// WaitContext is Wait bounded by ctx.
func (r *Router) WaitContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Router) recordMessage(ctx context.Context, msg message.ChatMessage, w message.Window) {
	if r.recorder == nil {
		return
	}
	row := &store.Message{
		Type:       msg.Type,
		WindowKind: string(w.Kind),
		SubjectID:  w.SubjectID,
		SenderID:   w.SenderID,
		SourceID:   msg.Chain.SourceID(),
		Text:       msg.Chain.PlainText(),
		Raw:        msg.Raw,
	}
	if err := r.recorder.SaveMessage(ctx, row); err != nil {
		r.logger.Warn("saving message failed", "type", msg.Type, "error", err)
	}
}

func (r *Router) recordEvent(ctx context.Context, evt message.Event) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.SaveEvent(ctx, &store.Event{Type: evt.Type, Raw: evt.Raw}); err != nil {
		r.logger.Warn("saving event failed", "type", evt.Type, "error", err)
	}
}

func copyMessage(msg message.ChatMessage, chain message.Chain) message.ChatMessage {
	out := message.ChatMessage{
		Type:   msg.Type,
		Sender: msg.Sender,
		Chain:  chain,
		Raw:    bytes.Clone(msg.Raw),
	}
	if msg.Sender.Group != nil {
		g := *msg.Sender.Group
		out.Sender.Group = &g
	}
	return out
}
