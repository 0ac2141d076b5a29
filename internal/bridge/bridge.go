// ABOUTME: Bridge orchestrator that wires adapter, store, agent, dispatch and metrics together
// ABOUTME: Manages startup, the listen loop, config hot reload, health endpoints and shutdown

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"

	"github.com/2389/pie-bridge/internal/adapter"
	"github.com/2389/pie-bridge/internal/builtins"
	"github.com/2389/pie-bridge/internal/config"
	"github.com/2389/pie-bridge/internal/dedupe"
	"github.com/2389/pie-bridge/internal/dispatch"
	"github.com/2389/pie-bridge/internal/metrics"
	"github.com/2389/pie-bridge/internal/pie"
	"github.com/2389/pie-bridge/internal/store"
)

const shutdownTimeout = 5 * time.Second

// Bridge runs one bot: it keeps an adapter listening and routes what arrives to
// the installed pies.
type Bridge struct {
	config  *config.Config
	store   store.Store
	adapter adapter.Adapter
	agent   *pie.Agent
	router  *dispatch.Router
	dedupe  *dedupe.Cache
	metrics *metrics.Metrics
	watcher *pie.Watcher
	http    *echo.Echo
	logger  *slog.Logger

	// extra pies installed after the built-ins
	pies []*pie.Pie

	session string
}

// Option customizes a Bridge.
type Option func(*Bridge)

// WithPies installs additional pies next to the built-ins.
func WithPies(pies ...*pie.Pie) Option {
	return func(b *Bridge) { b.pies = append(b.pies, pies...) }
}

// WithStore replaces the SQLite store.
func WithStore(s store.Store) Option {
	return func(b *Bridge) { b.store = s }
}

// OpenStore opens the SQLite store the config names. PIE_BRIDGE_DB_PATH
// overrides database.path.
func OpenStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("PIE_BRIDGE_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	s, err := store.NewSQLiteStoreWithDriver(cfg.Database.Driver, dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// newAdapter builds the adapter kind the config names.
func newAdapter(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) adapter.Adapter {
	gw := cfg.Gateway
	if gw.Adapter == config.AdapterHTTP {
		return adapter.NewHTTPAdapter(adapter.HTTPConfig{
			BaseURL:      gw.URL,
			VerifyKey:    gw.VerifyKey,
			QQ:           gw.QQ,
			PollInterval: gw.PollInterval,
			FetchCount:   gw.FetchCount,
			Logger:       logger,
			Metrics:      m,
		})
	}
	return adapter.NewWSAdapter(adapter.WSConfig{
		URL:            gw.URL,
		VerifyKey:      gw.VerifyKey,
		QQ:             gw.QQ,
		RequestTimeout: gw.RequestTimeout,
		SettleDelay:    gw.SettleDelay,
		Logger:         logger,
		Metrics:        m,
	})
}

// New creates a Bridge from cfg. Nothing connects until Run.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Bridge, error) {
	b := &Bridge{
		config: cfg,
		logger: logger.With("component", "bridge"),
	}
	for _, opt := range opts {
		opt(b)
	}

	if b.store == nil {
		s, err := OpenStore(cfg)
		if err != nil {
			return nil, err
		}
		b.store = s
	}

	b.metrics = metrics.New()
	b.dedupe = dedupe.New(cfg.Dedupe.TTL, cfg.Dedupe.MaxSize)
	b.adapter = newAdapter(cfg, b.metrics, logger)
	b.agent = pie.NewAgent(b.store, logger)
	b.router = dispatch.NewRouter(dispatch.Config{
		Agent:    b.agent,
		API:      b.adapter,
		Recorder: b.store,
		Dedupe:   b.dedupe,
		Metrics:  b.metrics,
		BotID:    cfg.Gateway.QQ,
		Logger:   logger,
	})
	if cfg.Plugins.ConfigPath != "" {
		b.watcher = pie.NewWatcher(cfg.Plugins.ConfigPath, b.agent, logger)
	}

	b.http = echo.New()
	b.http.HideBanner = true
	b.http.HidePort = true
	b.http.GET("/health", b.handleHealth)
	b.http.GET("/health/ready", b.handleReady)
	if cfg.Metrics.Enabled {
		b.http.GET(cfg.Metrics.Path, echo.WrapHandler(b.metrics.Handler()))
	}

	return b, nil
}

// Agent returns the bridge's plugin manager.
func (b *Bridge) Agent() *pie.Agent { return b.agent }

// Adapter returns the gateway client.
func (b *Bridge) Adapter() adapter.Adapter { return b.adapter }

// Handler serves the health and metrics endpoints.
func (b *Bridge) Handler() http.Handler { return b.http }

// setup restores records, installs pies and applies plugin config values.
func (b *Bridge) setup(ctx context.Context) error {
	if err := b.agent.LoadRecords(ctx); err != nil {
		return fmt.Errorf("loading plugin records: %w", err)
	}

	pies := append(builtins.All(b.agent), b.pies...)
	if err := b.agent.InstallAll(ctx, pies, pie.WithoutEnableFor(b.config.Plugins.Disabled...)); err != nil {
		// A bad pie is logged and skipped; the rest are installed.
		b.logger.Error("installing pies", "error", err)
	}

	if b.watcher != nil {
		if err := b.watcher.Apply(ctx); err != nil {
			b.logger.Warn("applying plugin config", "path", b.config.Plugins.ConfigPath, "error", err)
		}
	}
	return nil
}

// connect runs the verify and bind handshake.
func (b *Bridge) connect(ctx context.Context) error {
	session, err := b.adapter.Verify(ctx)
	if err != nil {
		return fmt.Errorf("verifying with gateway: %w", err)
	}
	if err := b.adapter.Bind(ctx, session); err != nil {
		return fmt.Errorf("binding bot %d: %w", b.config.Gateway.QQ, err)
	}
	b.session = session
	b.logger.Info("connected to gateway", "url", b.config.Gateway.URL, "qq", b.config.Gateway.QQ)
	return nil
}

// Run connects and serves until ctx is done or the adapter fails.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.setup(ctx); err != nil {
		_ = b.gracefulShutdown()
		return err
	}

	// Attach first: the streaming socket delivers pushes as soon as it is verified.
	detach := b.router.Attach(ctx, b.adapter)

	if err := b.connect(ctx); err != nil {
		detach()
		_ = b.gracefulShutdown()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := b.adapter.Listen(gctx)
		if err == nil && ctx.Err() == nil {
			// Stopped without being asked to; bring the group down.
			return adapter.ErrClosed
		}
		return err
	})

	if b.watcher != nil && b.config.Plugins.Watch {
		g.Go(func() error {
			if err := b.watcher.Run(gctx); err != nil {
				b.logger.Warn("plugin config hot reload disabled", "error", err)
			}
			return nil
		})
	}

	if b.config.Metrics.Enabled {
		g.Go(func() error {
			b.logger.Info("serving metrics", "addr", b.config.Metrics.Addr, "path", b.config.Metrics.Path)
			if err := b.http.Start(b.config.Metrics.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return b.http.Shutdown(sctx)
		})
	}

	runErr := g.Wait()
	detach()
	shutdownErr := b.gracefulShutdown()

	if runErr != nil {
		return runErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (b *Bridge) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return b.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown releases the session, drains running handlers and closes the store.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.logger.Info("shutting down bridge")

	var errs []error
	if b.session != "" {
		errs = appendCloseError(errs, "release session", b.adapter.Release(ctx, b.session))
	}
	b.adapter.Stop()
	b.router.Close()
	errs = appendCloseError(errs, "drain handlers", b.router.WaitContext(ctx))
	b.close()
	errs = appendCloseError(errs, "store close", b.store.Close())

	return errors.Join(errs...)
}

// close stops components that own goroutines.
func (b *Bridge) close() {
	if b.dedupe != nil {
		b.dedupe.Close()
	}
}

// handleHealth returns 200 OK if the process is alive.
func (b *Bridge) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

// handleReady returns 200 OK while inbound items are flowing.
func (b *Bridge) handleReady(c echo.Context) error {
	if !b.adapter.Listening() {
		return c.String(http.StatusServiceUnavailable, "not listening")
	}
	return c.String(http.StatusOK, fmt.Sprintf("ready (%d pies enabled)", len(b.agent.Enabled())))
}
