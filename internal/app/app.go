// Package app owns the bot's process lifecycle. It wires the exchange
// clients, the bot and the optional journal, cache and archive backends from
// configuration and runs the commands the CLI exposes.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/stxbot/internal/cache/redis"
	"github.com/alanyoungcy/stxbot/internal/config"
	"github.com/alanyoungcy/stxbot/internal/domain"
	"github.com/alanyoungcy/stxbot/internal/server"
	"github.com/alanyoungcy/stxbot/internal/server/handler"
	"github.com/alanyoungcy/stxbot/internal/server/ws"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	opts    WireOptions
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger, opts WireOptions) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
		opts:   opts,
	}
}

func (a *App) wire(ctx context.Context) (*Dependencies, error) {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger, a.opts)
	if err != nil {
		return nil, fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	return deps, nil
}

// Run executes one bot run. With Redis enabled it first takes the account
// lock so that a second process cannot trade the same account, and keeps it
// refreshed while the bot runs. Losing the lock stops the run. The status
// server, when enabled, runs alongside the bot and stops with it.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting bot",
		slog.String("api_host", a.cfg.STX.APIHost),
		slog.Float64("band_pct", a.cfg.Bot.BandPct),
	)

	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}

	var lock domain.Lock
	if deps.LockManager != nil {
		lock, err = deps.LockManager.Acquire(ctx, "account:"+a.cfg.STX.Email, a.cfg.Bot.LockTTL.Duration)
		if err != nil {
			return fmt.Errorf("app: account lock: %w", err)
		}
		a.closers = append(a.closers, lock.Release)
	}

	g, gctx := errgroup.WithContext(ctx)
	botDone, stopServices := context.WithCancel(gctx)
	defer stopServices()

	if lock != nil {
		g.Go(func() error {
			return keepLock(botDone, lock, a.cfg.Bot.LockTTL.Duration, a.logger)
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(botDone, g, deps)
	}

	g.Go(func() error {
		defer stopServices()
		return deps.Controller.Run(gctx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// startHTTPServer adds the status server, and the websocket hub when a signal
// bus is wired, to the errgroup. Both stop when ctx is done.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(deps.Health),
		Status:  handler.NewStatusHandler(deps.Controller),
		Markets: handler.NewMarketHandler(deps.Catalog),
	}
	if deps.RunStore != nil {
		handlers.Runs = handler.NewRunHandler(deps.RunStore, deps.OrderStore, deps.AuditStore, a.logger)
	}
	if deps.SignalBus != nil {
		hub := ws.NewHub(deps.SignalBus,
			[]string{redis.ChannelOrders, redis.ChannelRuns},
			func() any { return deps.Controller.Status() },
			a.logger,
		)
		handlers.Hub = hub
		g.Go(func() error {
			if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	srv := server.NewServer(server.Config{
		Port:   a.cfg.Server.Port,
		APIKey: a.cfg.Server.APIKey,
	}, handlers, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
