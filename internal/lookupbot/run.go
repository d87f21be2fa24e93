package lookupbot

import (
	"context"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/lookupgate/internal/lookup"
	"github.com/MarkoPoloResearchLab/lookupgate/internal/telegram"
	"github.com/MarkoPoloResearchLab/lookupgate/pkg/ledger"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// App is a fully wired bot process.
type App struct {
	handler *telegram.Handler
	service *ledger.Service
	storage *Storage
	logger  *zap.Logger
}

// Run connects to Telegram and serves updates until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	bot, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return fmt.Errorf("telegram init: %w", err)
	}
	if cfg.BotUsername == "" {
		cfg.BotUsername = bot.Self.UserName
	}

	app, err := NewApp(ctx, cfg, bot, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := app.Close(); closeErr != nil {
			logger.Warn("storage close failed", zap.Error(closeErr))
		}
	}()

	logger.Info("bot starting",
		zap.String("bot_username", cfg.BotUsername),
		zap.String("storage_driver", app.storage.Driver))
	err = app.Run(ctx)
	logger.Info("bot stopped")
	return err
}

// NewApp wires storage, the ledger service, and the Telegram collaborators around bot.
func NewApp(ctx context.Context, cfg Config, bot telegram.BotAPI, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	storage, err := OpenStorage(ctx, cfg.StorageURL, cfg.Seed, logger)
	if err != nil {
		return nil, err
	}
	service, err := NewService(storage, cfg, logger,
		ledger.WithMembershipOracle(telegram.NewMembershipOracle(bot)),
		ledger.WithNotifier(telegram.NewNotifier(bot)),
	)
	if err != nil {
		_ = storage.Close()
		return nil, fmt.Errorf("ledger service init: %w", err)
	}
	client, err := lookup.NewClient(cfg.LookupBaseURL, cfg.LookupTimeout, lookup.WithLogger(logger.Named("lookup")))
	if err != nil {
		_ = storage.Close()
		return nil, err
	}
	handler, err := telegram.NewHandler(bot, service, client, logger.Named("telegram"), telegram.HandlerConfig{
		BotUsername:     cfg.BotUsername,
		SupportUsername: cfg.SupportUsername,
		Workers:         cfg.Workers,
	})
	if err != nil {
		_ = storage.Close()
		return nil, err
	}
	return &App{handler: handler, service: service, storage: storage, logger: logger}, nil
}

// Run serves updates until ctx ends or the update stream closes.
func (app *App) Run(ctx context.Context) error {
	return app.handler.Run(ctx)
}

// Service exposes the wired ledger service.
func (app *App) Service() *ledger.Service {
	return app.service
}

// Close releases the storage backend.
func (app *App) Close() error {
	return app.storage.Close()
}

// NewService builds a ledger.Service over storage with the zap operation logger and, for SQL
// backends, the operation journal.
func NewService(storage *Storage, cfg Config, logger *zap.Logger, options ...ledger.ServiceOption) (*ledger.Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	loggers := []ledger.OperationLogger{NewOperationLogger(logger.Named("ledger"))}
	if storage.Journal != nil {
		loggers = append(loggers, storage.Journal)
	}
	serviceOptions := []ledger.ServiceOption{
		ledger.WithOperationLogger(combineOperationLoggers(loggers...)),
		ledger.WithMembershipTimeout(cfg.MembershipTimeout),
		ledger.WithNotifyTimeout(cfg.NotifyTimeout),
	}
	if administrator := cfg.Administrator(); administrator != 0 {
		serviceOptions = append(serviceOptions, ledger.WithAdministrator(administrator))
	}
	clock := func() int64 { return time.Now().UTC().Unix() }
	return ledger.NewService(storage.Store, clock, append(serviceOptions, options...)...)
}
