// ABOUTME: Standalone fake chat gateway for local runs and E2E testing of pie-bridge
// ABOUTME: Usage: fake-gateway [--addr 127.0.0.1:8080] [--verify-key secret] [--qq 10000] [--demo 5s]
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/2389/pie-bridge/internal/fakegateway"
)

func main() {
	addr := pflag.String("addr", "127.0.0.1:8080", "listen address")
	verifyKey := pflag.String("verify-key", "secret", "verify key the bridge must present")
	qq := pflag.Int64("qq", 10000, "bot account the bridge binds to")
	demo := pflag.Duration("demo", 0, "push a demo /ping from a friend at this interval (0 disables)")
	debug := pflag.Bool("debug", false, "debug logging")
	pflag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(*addr, *verifyKey, *qq, *demo, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(addr, verifyKey string, qq int64, demo time.Duration, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	gw := fakegateway.New(verifyKey, qq, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("fake gateway listening", "addr", addr, "qq", qq)
		if err := gw.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if demo > 0 {
		go pushDemo(ctx, gw, demo, logger)
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return gw.Shutdown(shutdownCtx)
}

// pushDemo sends a /ping to socket clients and queues one for pollers on every tick.
func pushDemo(ctx context.Context, gw *fakegateway.Server, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	var id int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			id++
			msg := fakegateway.FriendMessage(id, 20001, "demo", "/ping")
			if gw.Connections() > 0 {
				if err := gw.Push(msg); err != nil {
					logger.Warn("push failed", "error", err)
				}
			} else {
				gw.Enqueue(msg)
			}
			logger.Debug("demo message sent", "id", id, "calls", len(gw.Calls()))
		}
	}
}
