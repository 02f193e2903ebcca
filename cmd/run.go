package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/zalouser/internal/bindings"
	"github.com/nextlevelbuilder/zalouser/internal/bus"
	"github.com/nextlevelbuilder/zalouser/internal/channels"
	"github.com/nextlevelbuilder/zalouser/internal/channels/zalouser"
	"github.com/nextlevelbuilder/zalouser/internal/gateway"
	"github.com/nextlevelbuilder/zalouser/internal/gateway/methods"
	"github.com/nextlevelbuilder/zalouser/internal/history"
	"github.com/nextlevelbuilder/zalouser/internal/msgcache"
	"github.com/nextlevelbuilder/zalouser/internal/outbound"
	"github.com/nextlevelbuilder/zalouser/internal/telemetry"
	"github.com/nextlevelbuilder/zalouser/pkg/protocol"
)

const shutdownTimeout = 10 * time.Second

func runBridge() error {
	setupLogging()

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("failed to set up telemetry", "error", err)
		return err
	}

	state, err := openBindingState(cfg)
	if err != nil {
		return err
	}
	state.store.Load(ctx)

	msgBus := bus.New()
	ch, err := zalouser.NewFromConfig(cfg.Channels.ZaloUser, msgBus, zalouser.Deps{
		Ledger:   outbound.NewLedger(outbound.WithRecentTTL(cfg.Dedupe.RecentTTLDuration())),
		Cache:    msgcache.New(),
		History:  history.New(),
		Bindings: state.store,
	})
	if err != nil {
		state.closer.Close()
		return fmt.Errorf("create channel: %w", err)
	}

	mgr := channels.NewManager(msgBus)
	mgr.RegisterChannel(ch.Name(), ch)
	if err := mgr.StartAll(ctx); err != nil {
		state.closer.Close()
		return err
	}

	srv := gateway.NewServer(os.Stdin, os.Stdout, msgBus)
	methods.NewChannelMethods(mgr, msgBus, ch.Name()).Register(srv.Router())
	methods.NewSubagentMethods(ch).Register(srv.Router())
	srv.SetHello(protocol.HelloPayload{
		Protocol: protocol.ProtocolVersion,
		Version:  Version,
		Channels: mgr.GetEnabledChannels(),
	})

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		// The host closing stdin ends the whole process.
		defer cancel()
		return srv.Serve(gctx)
	})
	if state.file != nil && cfg.State.Watch {
		w, err := bindings.NewWatcher(state.store, state.file)
		if err != nil {
			slog.Warn("bindings watcher disabled", "error", err)
		} else {
			g.Go(func() error { return w.Run(gctx) })
		}
	}

	runErr := g.Wait()
	cancel()
	slog.Info("shutting down")

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := mgr.StopAll(shutdownCtx); err != nil {
		slog.Warn("stop channels", "error", err)
	}
	if err := state.store.Flush(shutdownCtx); err != nil {
		slog.Warn("bindings flush incomplete", "error", err)
	}
	if err := state.closer.Close(); err != nil {
		slog.Warn("close binding state", "error", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown", "error", err)
	}
	return runErr
}
