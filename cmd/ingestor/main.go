package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/relaydocs/ingestor/internal/alerting"
	"github.com/relaydocs/ingestor/internal/api"
	"github.com/relaydocs/ingestor/internal/auth"
	"github.com/relaydocs/ingestor/internal/blobstore"
	"github.com/relaydocs/ingestor/internal/config"
	"github.com/relaydocs/ingestor/internal/eventbus"
	"github.com/relaydocs/ingestor/internal/events"
	"github.com/relaydocs/ingestor/internal/hydration"
	"github.com/relaydocs/ingestor/internal/maintenance"
	dbmigrate "github.com/relaydocs/ingestor/internal/migrate"
	"github.com/relaydocs/ingestor/internal/notify"
	"github.com/relaydocs/ingestor/internal/ocr"
	_ "github.com/relaydocs/ingestor/internal/ocr/providers/localpdf"
	"github.com/relaydocs/ingestor/internal/queue"
	"github.com/relaydocs/ingestor/internal/runner"
	"github.com/relaydocs/ingestor/internal/storage"
	"github.com/relaydocs/ingestor/internal/validate"
	"github.com/relaydocs/ingestor/internal/wshub"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("error: %v", err)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ingestor",
	Short: "Document ingestion batch orchestrator",
	Long:  "ingestor runs the batch-ingestion HTTP/WebSocket API and provides database migration and maintenance utilities.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP/WebSocket API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database migrations (up, down, status)",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all up migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		driver, dsn := getDBEnv()
		log.Printf("running migrations up (driver=%s dsn=%s)", driver, dsn)
		return dbmigrate.Up(ctx, driver, dsn)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Rollback the most recent migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		driver, dsn := getDBEnv()
		log.Printf("running migrations down (driver=%s dsn=%s)", driver, dsn)
		return dbmigrate.Down(ctx, driver, dsn)
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		driver, dsn := getDBEnv()
		log.Printf("migration status (driver=%s dsn=%s)", driver, dsn)
		return dbmigrate.Status(ctx, driver, dsn)
	},
}

var maintenanceSweepCmd = &cobra.Command{
	Use:   "maintenance-sweep",
	Short: "Run one maintenance sweep (prune expired replay buffers and old metrics) and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		cfg := config.FromEnv()
		st, _, err := storage.Open(ctx, storage.Config{Driver: cfg.StorageDriver, DSN: cfg.StorageDSN})
		if err != nil {
			return err
		}
		defer st.Close()
		hub := wshub.New(wshub.Config{})
		sweeper := maintenance.New(st, hub, maintenance.Config{}, slog.Default())
		return sweeper.RunOnce(ctx)
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)
	rootCmd.AddCommand(serveCmd, migrateCmd, maintenanceSweepCmd)
}

func getDBEnv() (driver, dsn string) {
	cfg := config.FromEnv()
	return cfg.StorageDriver, cfg.StorageDSN
}

func serve() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.FromEnv()
	log := slog.Default()

	st, files, err := storage.Open(ctx, storage.Config{Driver: cfg.StorageDriver, DSN: cfg.StorageDSN})
	if err != nil {
		return err
	}
	defer st.Close()

	blobs, err := blobstore.NewLocalStore(cfg.BlobBaseDir)
	if err != nil {
		return err
	}

	ocrProvider, ok := ocr.Get(cfg.OCRProvider)
	if !ok {
		log.Warn("ocr provider not registered, falling back to localpdf", "requested", cfg.OCRProvider)
		ocrProvider, _ = ocr.Get("localpdf")
	}

	bus := eventbus.New(256)
	hub := wshub.New(wshub.Config{ReplayCapacity: cfg.ReplayCapacity, ReplayTTL: cfg.ReplayTTL, BacklogLimit: cfg.BacklogLimit})
	go bridgeEventsToHub(bus, hub)

	qm := queue.New(queue.Config{
		MaxConcurrentBatches:    cfg.Queue.MaxConcurrentBatches,
		MaxQueueLength:          cfg.Queue.MaxQueueLength,
		BatchQueueTimeout:       cfg.Queue.BatchQueueTimeout,
		BatchQueueTimeoutMult:   cfg.Queue.BatchQueueTimeoutMult,
		AverageBatchSeconds:     cfg.Queue.AverageBatchSeconds,
		EnableQueueLogging:      cfg.Queue.EnableQueueLogging,
		EnableGracefulShutdown:  cfg.Queue.EnableGracefulShutdown,
		GracefulShutdownTimeout: cfg.Queue.GracefulShutdownTimeout,
	}, bus, log)

	run := runner.New(runner.Config{
		OCR:            ocrProvider,
		Validator:      validate.New(),
		Blobs:          blobs,
		Files:          files,
		Bus:            bus,
		Log:            log,
		WorkerPoolSize: cfg.WorkerPoolSize,
	})

	hydrate := hydration.New(qm, files)

	var authSvc *auth.Service
	authSvc, err = auth.NewService(ctx, st)
	if err != nil {
		log.Warn("auth service disabled", "error", err)
		authSvc = nil
	}

	alerter := alerting.NewAlerter(alerting.NewConfig(cfg.AlertWebhookURL, cfg.FailureThreshold), log)
	notifier := notify.New(notify.Config{
		APIKey: cfg.SendGridAPIKey, FromEmail: cfg.SendGridFromEmail,
		FromName: "Ingestor", ToEmail: cfg.AlertToEmail,
	})
	go alertOnUnrecoverableFailures(bus, alerter, notifier, cfg.FailureThreshold)

	sweeper := maintenance.New(st, hub, maintenance.Config{}, log)
	go func() {
		if err := sweeper.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("maintenance sweep stopped", "error", err)
		}
	}()

	router := api.NewRouter(api.Deps{
		Queue:          qm,
		Files:          files,
		Blobs:          blobs,
		Storage:        st,
		Hydration:      hydrate,
		Hub:            hub,
		Runner:         run,
		Auth:           authSvc,
		AdminSecret:    cfg.AdminSecret,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}

	go func() {
		<-ctx.Done()
		log.Info("shutdown signal received, draining")
		qm.PrepareShutdown()
		drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Queue.GracefulShutdownTimeout)
		defer cancel()
		_ = qm.WaitForActiveBatches(drainCtx)
		_ = srv.Shutdown(drainCtx)
	}()

	log.Info("ingestor listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// bridgeEventsToHub relays every published lifecycle event to the
// WebSocket hub's fan-out, the one piece of wiring that connects the
// queue/runner's event producer side to the client-facing broadcast side.
func bridgeEventsToHub(bus *eventbus.Bus, hub *wshub.Hub) {
	for e := range bus.Subscribe(eventbus.TopicLifecycle) {
		hub.Broadcast(e)
	}
}

// alertOnUnrecoverableFailures watches terminal events and fires the
// webhook/email alerters once the number of failed batches observed
// crosses the configured threshold, then keeps alerting for each
// subsequent failure (the threshold gates when alerting starts, not a
// one-shot trip).
func alertOnUnrecoverableFailures(bus *eventbus.Bus, alerter *alerting.Alerter, notifier *notify.Notifier, threshold int) {
	var failureCount int64
	for e := range bus.Subscribe(eventbus.TopicTerminal) {
		if e.Type != events.TypeBatchProcessingFailed {
			continue
		}
		count := atomic.AddInt64(&failureCount, 1)
		if int(count) < threshold {
			continue
		}
		total, completed, failed := 0, 0, 0
		if e.Counts != nil {
			total, completed, failed = e.Counts.Total, e.Counts.Completed, e.Counts.Failed
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_ = alerter.SendBatchAlert(ctx, alerting.BatchAlert{
			BatchID: e.BatchID, CollectionID: e.CollectionID,
			TotalCount: total, SuccessCount: completed, FailedCount: failed, Timestamp: time.Now(),
		})
		_ = notifier.SendBatchFailure(e.BatchID, e.CollectionID, failed, total, e.Error)
		cancel()
	}
}
