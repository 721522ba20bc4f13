package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/energy-settlement/internal"
	"github.com/frahmantamala/energy-settlement/internal/core/events"
	"github.com/frahmantamala/energy-settlement/internal/daraja"
	"github.com/frahmantamala/energy-settlement/internal/rate"
	"github.com/frahmantamala/energy-settlement/internal/settlement"
	settlementpg "github.com/frahmantamala/energy-settlement/internal/settlement/postgres"
	"github.com/frahmantamala/energy-settlement/internal/transport"
	"github.com/frahmantamala/energy-settlement/internal/transport/rest"
	"github.com/frahmantamala/energy-settlement/internal/tuya"
	"github.com/frahmantamala/energy-settlement/pkg/logger"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle purchase, callback and status requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config            *internal.Config
	DB                *sqlx.DB
	Router            *chi.Mux
	SettlementHandler *settlement.Handler
	WebhookHandler    *settlement.WebhookHandler
	Reaper            *settlement.Reaper
	Logger            *slog.Logger
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	rest.RegisterAllRoutes(deps.Router, deps.DB.DB, deps.SettlementHandler, deps.WebhookHandler, deps.Logger)

	scheduler := startReaperSchedule(deps)

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	slog.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:         addr,
		Handler:      deps.Router,
		ReadTimeout:  deps.Config.Server.ReadTimeout,
		WriteTimeout: deps.Config.Server.WriteTimeout,
		IdleTimeout:  deps.Config.Server.IdleTimeout,
	}

	// Signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down...", "signal", sig)
		if scheduler != nil {
			<-scheduler.Stop().Done()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
		if err := deps.DB.Close(); err != nil {
			slog.Error("Database close error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}

	slog.Info("Server stopped")
}

// startReaperSchedule runs the stalled-intent sweep inside the server
// process on the configured cron schedule.
func startReaperSchedule(deps *Dependencies) *cron.Cron {
	scheduler := cron.New()
	schedule := deps.Config.Settlement.ReaperSchedule
	timeoutMins := deps.Config.Settlement.ReaperTimeoutMins

	_, err := scheduler.AddFunc(schedule, func() {
		ctx, cancel := internal.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		reaped, err := deps.Reaper.Reap(ctx, timeoutMins)
		if err != nil {
			deps.Logger.Error("scheduled reap failed", "error", err)
			return
		}
		if reaped > 0 {
			deps.Logger.Info("scheduled reap finished", "reaped", reaped)
		}
	})
	if err != nil {
		deps.Logger.Error("failed to schedule reaper, stalled intents will not be swept",
			"schedule", schedule,
			"error", err)
		return nil
	}

	scheduler.Start()
	return scheduler
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.InitFromConfig(config.Observability.Logging.Level, config.Observability.Logging.Format)
	lg := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gormDB, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: db.DB}), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize orm: %w", err)
	}

	intentRepo := settlementpg.NewIntentRepository(gormDB)
	settlementRepo := settlementpg.NewSettlementRepository(gormDB)

	gatewayTokens := daraja.NewTokenProvider(config.Mpesa.BaseURL, config.Mpesa.ConsumerKey, config.Mpesa.ConsumerSecret, nil)
	gateway := daraja.NewClient(daraja.Config{
		BaseURL:     config.Mpesa.BaseURL,
		ShortCode:   config.Mpesa.ShortCode,
		Passkey:     config.Mpesa.Passkey,
		CallbackURL: config.Mpesa.CallbackURL,
		CountryCode: config.Mpesa.CountryCode,
	}, gatewayTokens, lg)

	device := tuya.NewClient(tuya.Config{
		BaseURL:      config.Tuya.BaseURL,
		ClientID:     config.Tuya.ClientID,
		ClientSecret: config.Tuya.ClientSecret,
	}, lg)

	eventBus := events.NewEventBus(lg)
	registerEventSubscribers(eventBus, lg)

	rates := rate.NewCalculator(nil)

	service := settlement.NewService(gateway, device, rates, intentRepo, settlementRepo, eventBus, settlement.Config{
		MaxInitiateRetries: config.Settlement.MaxInitiateRetries,
		ResolutionTimeout:  config.Settlement.ResolutionTimeout,
		PollBaseWait:       config.Settlement.PollBaseWait,
		PollMaxWait:        config.Settlement.PollMaxWait,
	}, lg)

	reaper := settlement.NewReaper(intentRepo, settlementRepo, eventBus, lg)
	processor := settlement.NewCallbackProcessor(intentRepo, settlementRepo, eventBus, lg)

	baseHandler := transport.NewBaseHandler(lg)
	settlementHandler := settlement.NewHandler(service, reaper, config.Settlement.ReaperTimeoutMins, lg)
	webhookHandler := settlement.NewWebhookHandler(baseHandler, processor, lg)

	return &Dependencies{
		Config:            config,
		DB:                db,
		Router:            chi.NewRouter(),
		SettlementHandler: settlementHandler,
		WebhookHandler:    webhookHandler,
		Reaper:            reaper,
		Logger:            lg,
	}, nil
}

// registerEventSubscribers attaches the audit-log subscribers. Settlement
// events fan out here; an external notifier would subscribe the same way.
func registerEventSubscribers(eventBus *events.EventBus, lg *slog.Logger) {
	eventBus.Subscribe(events.EventTypeSettlementCompleted, func(ctx context.Context, event events.Event) error {
		lg.Info("settlement completed", "event_id", event.EventID(), "payload", event.Payload())
		return nil
	})
	eventBus.Subscribe(events.EventTypeSettlementFailed, func(ctx context.Context, event events.Event) error {
		lg.Warn("settlement failed", "event_id", event.EventID(), "payload", event.Payload())
		return nil
	})
	eventBus.Subscribe(events.EventTypeDeviceCreditFailed, func(ctx context.Context, event events.Event) error {
		lg.Error("device credit failed, operator action needed",
			"event_id", event.EventID(),
			"payload", event.Payload())
		return nil
	})
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// verify connection; close underlying *sql.DB on failure
	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}
