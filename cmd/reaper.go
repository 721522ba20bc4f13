package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/energy-settlement/internal"
	"github.com/frahmantamala/energy-settlement/internal/core/events"
	"github.com/frahmantamala/energy-settlement/internal/settlement"
	settlementpg "github.com/frahmantamala/energy-settlement/internal/settlement/postgres"
	"github.com/frahmantamala/energy-settlement/pkg/logger"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// reaperCmd runs the stalled-intent sweep as a standalone process, for
// deployments that keep scheduled work out of the API servers.
var reaperCmd = &cobra.Command{
	Use:   "reaper",
	Short: "Run the stalled payment intent reaper on a schedule",
	Run: func(cmd *cobra.Command, args []string) {
		startReaper()
	},
}

func startReaper() {
	config, err := loadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.InitFromConfig(config.Observability.Logging.Level, config.Observability.Logging.Format)
	lg := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	gormDB, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: db.DB}), &gorm.Config{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize orm: %v\n", err)
		os.Exit(1)
	}

	intentRepo := settlementpg.NewIntentRepository(gormDB)
	settlementRepo := settlementpg.NewSettlementRepository(gormDB)

	eventBus := events.NewEventBus(lg)
	registerEventSubscribers(eventBus, lg)

	reaper := settlement.NewReaper(intentRepo, settlementRepo, eventBus, lg)
	timeoutMins := config.Settlement.ReaperTimeoutMins

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(config.Settlement.ReaperSchedule, func() {
		ctx, cancel := internal.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		reaped, err := reaper.Reap(ctx, timeoutMins)
		if err != nil {
			lg.Error("reap failed", "error", err)
			return
		}
		lg.Info("reap finished", "reaped", reaped)
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to schedule reaper: %v\n", err)
		os.Exit(1)
	}

	lg.Info("reaper started",
		"schedule", config.Settlement.ReaperSchedule,
		"timeout_minutes", timeoutMins)
	scheduler.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	lg.Info("Received signal, stopping reaper...", "signal", sig)
	<-scheduler.Stop().Done()
	lg.Info("Reaper stopped")
}
