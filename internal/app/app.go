package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"polo-lending-bot/internal/alerting"
	"polo-lending-bot/internal/bot"
	"polo-lending-bot/internal/config"
	"polo-lending-bot/internal/depth"
	"polo-lending-bot/internal/exchange"
	"polo-lending-bot/internal/stats"
	"polo-lending-bot/internal/storage"
	"polo-lending-bot/internal/strategy"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newClient() (*exchange.Client, error) {
	if err := a.Config.RequireCredentials(); err != nil {
		return nil, err
	}

	nonces, err := exchange.NewFileNonceStore(a.Config.Exchange.NonceFile)
	if err != nil {
		return nil, err
	}

	client := exchange.NewClient(exchange.Options{
		BaseURL:            a.Config.Exchange.BaseURL,
		Key:                a.Config.Exchange.Key,
		Secret:             a.Config.Exchange.Secret,
		Timeout:            a.Config.Exchange.RequestTimeout,
		MinRequestInterval: a.Config.Exchange.MinRequestInterval,
	}, nonces, nil, a.Logger)
	return client, nil
}

// newPublicClient builds an unauthenticated client for book-only commands.
func (a *App) newPublicClient() *exchange.Client {
	return exchange.NewClient(exchange.Options{
		BaseURL:            a.Config.Exchange.BaseURL,
		Timeout:            a.Config.Exchange.RequestTimeout,
		MinRequestInterval: a.Config.Exchange.MinRequestInterval,
	}, &exchange.MemoryNonceStore{}, nil, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running lending bot.
func (a *App) Run(ctx context.Context, dryRun bool) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	client, err := a.newClient()
	if err != nil {
		return err
	}

	policies, err := a.Config.Policies()
	if err != nil {
		return err
	}

	var watcher *config.Watcher
	if a.Config.SourceFile != "" {
		watcher, err = config.NewWatcher(a.Config.SourceFile)
		if err != nil {
			return err
		}
	}

	var sampleStore storage.RateSampleStore
	var offerStore storage.OfferStore
	if store != nil {
		sampleStore = store
		offerStore = store
	}

	lendbot := bot.New(bot.Options{
		API:       client,
		Books:     depth.NewFetcher(client, a.Logger),
		Engine:    strategy.NewEngine(strategy.DefaultParams(), a.Logger),
		Tracker:   stats.NewTracker(stats.DefaultWindowCapacity),
		Watcher:   watcher,
		Samples:   sampleStore,
		Offers:    offerStore,
		Notifier:  a.newNotifier(),
		Policies:  policies,
		Intervals: a.Config.Intervals,
		DryRun:    dryRun,
	}, a.Logger)

	a.Logger.Info().Msg("starting lending bot")
	err = lendbot.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("lending bot terminated with error")
		return err
	}

	a.Logger.Info().Msg("lending bot stopped")
	return nil
}

// SetAutoRenew runs the one-shot auto-renew maintenance operation and
// exits. Unlike the main loop, failures here are fatal.
func (a *App) SetAutoRenew(ctx context.Context, enable bool) error {
	client, err := a.newClient()
	if err != nil {
		return err
	}

	policies, err := a.Config.Policies()
	if err != nil {
		return err
	}

	lendbot := bot.New(bot.Options{
		API:      client,
		Policies: policies,
	}, a.Logger)

	return lendbot.SetAllAutoRenew(ctx, enable)
}

// ExportOptions hold parameters for exporting historical rate samples.
type ExportOptions struct {
	Currency  string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Currency string
	Limit    int
}

// PlanOptions configure the offline plan command.
type PlanOptions struct {
	Currency string
	Balance  string
}
