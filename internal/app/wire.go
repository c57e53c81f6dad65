package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	s3blob "github.com/alanyoungcy/stxbot/internal/blob/s3"
	"github.com/alanyoungcy/stxbot/internal/bot"
	"github.com/alanyoungcy/stxbot/internal/cache/redis"
	"github.com/alanyoungcy/stxbot/internal/config"
	"github.com/alanyoungcy/stxbot/internal/domain"
	"github.com/alanyoungcy/stxbot/internal/notify"
	"github.com/alanyoungcy/stxbot/internal/platform/stx"
	"github.com/alanyoungcy/stxbot/internal/server/handler"
	"github.com/alanyoungcy/stxbot/internal/service"
	"github.com/alanyoungcy/stxbot/internal/store/postgres"
	"github.com/alanyoungcy/stxbot/internal/vault"
)

const logoutTimeout = 5 * time.Second

// Dependencies bundles everything a command needs. Optional backends are nil
// when disabled in the configuration. Wire builds it and the returned
// cleanup function releases it.
type Dependencies struct {
	// Exchange
	Client   *stx.Client
	Auth     *stx.Authenticator
	Channels *stx.ChannelClient

	// Bot
	Catalog    *bot.Catalog
	Controller *bot.Controller
	Journal    *service.Journal

	// Stores
	OrderStore domain.OrderStore
	AuditStore domain.AuditStore
	RunStore   domain.RunStore

	// Caches
	MarketCache domain.MarketCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	BlobReader domain.BlobReader
	Archiver   *s3blob.RunArchiver

	// Notifications
	Notifier *notify.Notifier

	// Health lists the backends the health endpoint pings.
	Health map[string]handler.Pinger
}

// WireOptions adjusts Wire for the calling command.
type WireOptions struct {
	// Prompt answers a 2FA challenge interactively. May be nil.
	Prompt stx.CodePrompt
	// SkipStores leaves Postgres and S3 unwired.
	SkipStores bool
	// SkipExchange wires only the backends, for commands that never talk
	// to the exchange.
	SkipExchange bool
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts WireOptions) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Health: make(map[string]handler.Pinger)}

	// --- PostgreSQL journal ---
	if cfg.Postgres.Enabled && !opts.SkipStores {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		stores := pgClient.Stores()
		deps.OrderStore = stores.Orders
		deps.AuditStore = stores.Audit
		deps.RunStore = stores.Runs
		deps.Health["postgres"] = pgClient
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.MarketCache = redis.NewMarketCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.STX.RateLimit, time.Second)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Health["redis"] = redisClient
	}

	// --- S3 run reports ---
	if cfg.S3.Enabled && !opts.SkipStores {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}

		deps.BlobReader = s3blob.NewReader(s3Client)
		var orders s3blob.OrderLister
		var audit s3blob.AuditLister
		if deps.OrderStore != nil {
			orders, audit = deps.OrderStore, deps.AuditStore
		}
		deps.Archiver = s3blob.NewRunArchiver(s3blob.NewWriter(s3Client), cfg.S3.Prefix, orders, audit, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	if opts.SkipExchange {
		return deps, cleanup, nil
	}

	// --- Exchange ---
	password, err := vault.ResolvePassword(vault.PasswordSource{
		Plain:         cfg.STX.Password,
		EncryptedPath: cfg.STX.EncryptedPasswordPath,
		Key:           cfg.STX.PasswordKey,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: stx password: %w", err))
	}

	clientOpts := []stx.Option{stx.WithLogger(logger)}
	if deps.RateLimiter != nil {
		clientOpts = append(clientOpts, stx.WithRateLimiter(deps.RateLimiter, "stx:"+cfg.STX.Email))
	}
	deps.Client = stx.NewClient(cfg.STX.APIHost, cfg.STX.Timeout.Duration, clientOpts...)
	closers = append(closers, func() { logout(deps.Client, logger) })
	deps.Auth = stx.NewAuthenticator(deps.Client, stx.Credentials{
		Email:         cfg.STX.Email,
		Password:      password,
		TwoFactorCode: cfg.STX.TwoFactorCode,
	}, opts.Prompt, logger)
	deps.Channels = stx.NewChannelClient(cfg.STX.WSHost, deps.Client, logger)

	// --- Bot ---
	var sink bot.CatalogSink
	if deps.MarketCache != nil {
		sink = deps.MarketCache
	}
	deps.Catalog = bot.NewCatalog(deps.Client, sink, logger)

	deps.Journal = service.NewJournal(service.JournalDeps{
		Orders:        deps.OrderStore,
		Audit:         deps.AuditStore,
		Runs:          deps.RunStore,
		Bus:           deps.SignalBus,
		Notifier:      deps.Notifier,
		Archiver:      archiverOrNil(deps.Archiver),
		OrdersChannel: redis.ChannelOrders,
		RunsChannel:   redis.ChannelRuns,
	}, logger)

	rng := newRand(cfg.Bot.Seed)
	deps.Controller = bot.NewController(
		bot.ControllerConfig{Band: cfg.Bot.BandPct / 100},
		bot.ControllerDeps{
			Auth:     deps.Auth,
			Catalog:  deps.Catalog,
			Selector: bot.NewSelector(rng),
			Pricer: bot.NewPricer(bot.PricingConfig{
				ProbabilityCapMax: cfg.Bot.ProbabilityCapMax,
				QuantityMin:       cfg.Bot.QuantityMin,
				QuantityMax:       cfg.Bot.QuantityMax,
			}, rng),
			Orders:         deps.Client,
			Stream:         deps.Channels,
			OrderObservers: []bot.OrderObserver{deps.Journal},
			RunObservers:   []bot.RunObserver{deps.Journal},
		},
		logger,
	)

	return deps, cleanup, nil
}

// logout ends the exchange session opened by a command, if any. It runs on
// its own deadline because the command's context is usually done by now.
func logout(c *stx.Client, logger *slog.Logger) {
	if c.Token() == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), logoutTimeout)
	defer cancel()
	if err := c.Logout(ctx); err != nil {
		logger.Warn("logout failed", slog.String("error", err.Error()))
		return
	}
	logger.Debug("logged out")
}

// archiverOrNil keeps a nil *RunArchiver from becoming a non-nil interface.
func archiverOrNil(a *s3blob.RunArchiver) service.Archiver {
	if a == nil {
		return nil
	}
	return a
}

// newRand returns the bot's random source. A zero seed draws from the clock.
func newRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
