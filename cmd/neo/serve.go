package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"neonetworker/internal/api"
	"neonetworker/internal/billing"
	"neonetworker/internal/bot"
	"neonetworker/internal/config"
	"neonetworker/internal/csvimport"
	"neonetworker/internal/database"
	"neonetworker/internal/domain"
	"neonetworker/internal/events"
	"neonetworker/internal/google"
	"neonetworker/internal/llm"
	"neonetworker/internal/logging"
	"neonetworker/internal/metrics"
	"neonetworker/internal/repository"
	"neonetworker/internal/service"
	"neonetworker/internal/whatsapp"
	"neonetworker/internal/worker"

	"github.com/getsentry/sentry-go"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, chat webhooks and background jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, closer, err := opts.load()
			if err != nil {
				return err
			}
			defer closeQuietly(closer)
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func serve(parent context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Monitoring.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Monitoring.SentryDSN,
			Environment: cfg.App.Environment,
			Release:     cfg.App.Version,
		}); err != nil {
			logger.Warn().Err(err).Msg("sentry init failed")
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	metrics.Register()
	if cfg.Monitoring.PrometheusEnabled {
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
	}

	db, err := database.Open(cfg.Database, logging.Component(logger, "database"))
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			return err
		}
	}

	redisClient, stateRepo := initStateRepository(ctx, cfg, db, logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}

	bus := events.NewEventBus()
	users := service.NewUserService(db, db, cfg.Auth, logging.Component(logger, "users"))
	auth := service.NewAuthService(db, cfg.Auth, logging.Component(logger, "auth"))
	people := service.NewPersonService(db, db, logging.Component(logger, "people"))
	tasks := service.NewTaskService(db, logging.Component(logger, "tasks"))
	eventService := service.NewEventService(db, bus, logging.Component(logger, "events"))
	state := service.NewStateService(stateRepo, logging.Component(logger, "state"))

	googleAuth := google.NewAuthService(cfg.Google, users, db, db, logging.Component(logger, "google"))
	if googleAuth.Configured() {
		calendarWorker := worker.NewCalendarWorker(
			google.NewCalendarSync(googleAuth),
			redisClient,
			worker.DefaultRetryPolicy,
			logging.Component(logger, "calendar-worker"),
		)
		calendarWorker.Subscribe(bus)
		go calendarWorker.Start(ctx)
	}

	var (
		classifier  llm.Classifier
		transcriber llm.Transcriber
	)
	if cfg.OpenAI.APIKey != "" {
		client := llm.NewClient(cfg.OpenAI)
		classifier = llm.NewClassifier(client, cfg.OpenAI, logging.Component(logger, "classifier"))
		transcriber = llm.NewWhisperTranscriber(client)
	} else {
		logger.Warn().Msg("OpenAI is not configured, chat falls back to simple commands")
	}

	routerDeps := bot.RouterDeps{
		Users:      users,
		People:     people,
		Tasks:      tasks,
		Events:     eventService,
		State:      state,
		Classifier: classifier,
	}

	var telegramHandler http.Handler
	if cfg.Telegram.BotToken != "" {
		botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
		if err != nil {
			return fmt.Errorf("telegram login: %w", err)
		}
		botAPI.Debug = cfg.Telegram.Debug
		tg := service.NewTelegramService(botAPI)
		routerDeps.Notifier = bot.AdminNotifierFor(tg, cfg.Telegram.AdminChatID)
		router := bot.NewRouter(routerDeps, cfg.Chat, logging.Component(logger, "telegram-router"))
		telegramHandler = bot.NewTelegramBot(tg, router, transcriber, cfg.Telegram.WebhookSecret, cfg.Chat.UpdateTimeout, logging.Component(logger, "telegram"))
		logger.Info().Str("bot", botAPI.Self.UserName).Msg("telegram webhook enabled")
	}

	waClient := whatsapp.NewClient(cfg.WhatsApp, logging.Component(logger, "whatsapp-client"))
	var waWebhook *whatsapp.Webhook
	if waClient.Configured() {
		router := bot.NewRouter(routerDeps, cfg.Chat, logging.Component(logger, "whatsapp-router"))
		waWebhook = whatsapp.NewWebhook(
			waClient, router, transcriber,
			cfg.WhatsApp.WebhookVerifyToken, cfg.WhatsApp.AppSecret,
			cfg.Chat.UpdateTimeout, logging.Component(logger, "whatsapp"),
		)
	}

	notifications := service.NewNotificationService(db)
	handler := api.NewRouter(api.Deps{
		Config:        cfg,
		Auth:          auth,
		Users:         users,
		People:        people,
		Tasks:         tasks,
		Events:        eventService,
		Notifications: notifications,
		Importer:      csvimport.NewImporter(db, logging.Component(logger, "import")),
		Google:        googleAuth,
		Billing:       billing.New(cfg.Stripe, cfg.App.FrontendURL, logging.Component(logger, "billing")),
		Telegram:      telegramHandler,
		WhatsApp:      waWebhook,
		Ready:         db.Ping,
		Logger:        logging.Component(logger, "http"),
	})

	if cfg.Scheduler.Enabled {
		scheduler, err := newScheduler(ctx, cfg.Scheduler, googleAuth, notifications, waClient, logger)
		if err != nil {
			return err
		}
		scheduler.Start()
		defer func() { <-scheduler.Stop().Done() }()
	}

	server := api.NewHTTPServer(cfg.HTTP.Port, handler, logging.Component(logger, "http"))
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// initStateRepository serves chat state from Redis when reachable, failing
// over to the users.state_data column.
func initStateRepository(
	ctx context.Context,
	cfg *config.Config,
	db *database.DB,
	logger *zerolog.Logger,
) (*redis.Client, domain.StateRepository) {
	dbRepo := repository.NewDBStateRepository(db)
	if cfg.Redis.Address == "" {
		return nil, dbRepo
	}

	client, err := repository.NewRedisClient(cfg.Redis)
	if err != nil {
		logger.Warn().Err(err).Msg("invalid redis config, using database state")
		return nil, dbRepo
	}
	if err := repository.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("redis unavailable at startup")
	}
	primary := repository.NewRedisStateRepository(client, cfg.Chat.StateTTL)
	return client, repository.NewFailoverStateRepository(primary, dbRepo, logging.Component(logger, "state-failover"))
}

type tokenRefresher interface {
	Configured() bool
	RefreshToken(ctx context.Context) error
}

// newScheduler registers the periodic Google import and WhatsApp token
// refresh.
func newScheduler(
	ctx context.Context,
	cfg config.SchedulerConfig,
	googleAuth *google.AuthService,
	notifier google.SyncNotifier,
	wa tokenRefresher,
	logger *zerolog.Logger,
) (*cron.Cron, error) {
	l := logging.Component(logger, "scheduler")
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))

	if googleAuth.Configured() {
		if _, err := c.AddFunc(cfg.GoogleSync, func() {
			l.Info().Msg("scheduled google sync started")
			googleAuth.SyncAll(ctx, notifier)
		}); err != nil {
			return nil, fmt.Errorf("schedule google sync %q: %w", cfg.GoogleSync, err)
		}
	}
	if wa.Configured() {
		if _, err := c.AddFunc(cfg.WhatsAppRefresh, func() {
			err := wa.RefreshToken(ctx)
			switch {
			case errors.Is(err, whatsapp.ErrNotConfigured):
				l.Debug().Msg("whatsapp token refresh skipped, app credentials missing")
			case err != nil:
				l.Error().Err(err).Msg("whatsapp token refresh failed")
			default:
				l.Info().Msg("whatsapp token refreshed")
			}
		}); err != nil {
			return nil, fmt.Errorf("schedule whatsapp refresh %q: %w", cfg.WhatsAppRefresh, err)
		}
	}
	return c, nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
