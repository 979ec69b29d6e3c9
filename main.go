package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sync-service/internal/alert"
	"sync-service/internal/backup"
	"sync-service/internal/config"
	"sync-service/internal/database"
	"sync-service/internal/middleware"
	"sync-service/internal/service"
	"sync-service/internal/store"
	"sync-service/internal/sync"
	"sync-service/internal/transport/http"
	"sync-service/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/robfig/cron/v3"
)

func main() {
	cfg := config.Load()
	log.Printf("🔧 Service expected token: %s******", cfg.ServiceExpectedToken[:min(6, len(cfg.ServiceExpectedToken))])

	startupCtx, cancel := context.WithTimeout(context.Background(), cfg.DBConnectTimeout+30*time.Second)
	defer cancel()

	db, err := database.Open(startupCtx, cfg)
	if err != nil {
		log.Fatalf("❌ [DB] Failed to connect: %v", err)
	}
	st := store.New(db)
	if err := st.EnsureSchema(startupCtx); err != nil {
		log.Fatalf("❌ [DB] Failed to prepare schema: %v", err)
	}
	log.Println("✅ [STORE] sync_config ready")

	alerts := alert.NewSender(cfg)
	if !alerts.Enabled() {
		log.Println("⚠️ [ALERT] SMTP_HOST or ALERT_TO missing, failures are only logged")
	}

	artifacts, err := newArtifactStore(startupCtx, cfg, db)
	if err != nil {
		log.Fatalf("❌ [BACKUP] Failed to initialize %s store: %v", cfg.BackupStore, err)
	}
	backups := backup.NewEngine(st, st, artifacts, backup.Options{
		IncludeData: cfg.BackupIncludeData,
		Retention:   cfg.BackupRetention,
		Notifier:    alerts,
	})
	log.Printf("✅ [BACKUP] Engine initialized (store: %s)", artifacts.Kind())

	syncOpts := sync.Options{
		Ordered:     cfg.OrderedFor,
		Notifier:    alerts,
		Concurrency: cfg.SyncConcurrency,
	}
	if cfg.SyncBackupBefore {
		syncOpts.BeforeWrite = service.BackupHook(backups, "pre")
	}
	if cfg.SyncBackupAfter {
		syncOpts.AfterWrite = service.BackupHook(backups, "post")
	}
	syncer := sync.NewEngine(st, st, syncOpts)

	var source sync.Source
	if cfg.SourceURL != "" {
		source = sync.NewHTTPSource(cfg.SourceURL, cfg.ServiceExpectedToken)
		log.Printf("🔄 [SYNC] Pulling %v from %s", cfg.SyncTables, cfg.SourceURL)
	}

	syncService := service.NewSyncService(db, st, syncer, backups, source, cfg.SyncTables)
	handler := http.NewHandler(syncService)
	log.Println("✅ [SERVICE] SyncService & Handler initialized")

	scheduler, err := newScheduler(cfg, syncService)
	if err != nil {
		log.Fatalf("❌ [CRON] %v", err)
	}
	scheduler.Start()

	app := fiber.New(fiber.Config{
		AppName:      "sync-service",
		ErrorHandler: customErrorHandler,
	})

	app.Use(recover.New())

	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     "GET,POST,DELETE,OPTIONS,HEAD",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Requested-With,X-Service-Token,Cache-Control",
		ExposeHeaders:    "Content-Type",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	app.Use(logger.New(logger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path} | ${ua}\n",
	}))

	handler.Register(app, middleware.ServiceAuth(cfg.ServiceExpectedToken))
	log.Println("✅ [ROUTES] Registered /sync-config, /sync, /backup, /health")

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-c
		log.Println("🛑 [SHUTDOWN] Graceful shutdown initiated...")
		if err := app.Shutdown(); err != nil {
			log.Printf("❌ [SHUTDOWN] Error: %v", err)
		}
	}()

	log.Printf("🚀 sync-service starting...")
	log.Printf("   🔗 Listening on port: %s", cfg.ServerPort)
	log.Printf("   🌐 CORS allowed origins: %s", cfg.AllowedOrigins)
	log.Printf("   🗄️  Backend: %s", db.Backend())
	log.Printf("   💾 Backup store: %s", artifacts.Kind())
	log.Println("✅ Server ready.")

	if err := app.Listen(":" + cfg.ServerPort); err != nil {
		log.Printf("❌ [STARTUP] Server stopped: %v", err)
	}

	// Wait for running jobs before the pool goes away.
	<-scheduler.Stop().Done()
	if err := db.Close(); err != nil {
		log.Printf("❌ [SHUTDOWN] Closing database: %v", err)
	}
	log.Println("👋 [SHUTDOWN] Done")
}

func newArtifactStore(ctx context.Context, cfg *config.Config, db database.Adapter) (backup.ArtifactStore, error) {
	switch cfg.BackupStore {
	case "fs":
		return backup.NewFileStore(cfg.BackupDir)
	case "r2", "s3":
		client, err := utils.NewR2Client(ctx, utils.R2Config{
			AccountID:       cfg.R2AccountID,
			Endpoint:        cfg.R2Endpoint,
			AccessKeyID:     cfg.R2AccessKeyID,
			AccessKeySecret: cfg.R2AccessKeySecret,
			BucketName:      cfg.R2BucketName,
		})
		if err != nil {
			return nil, err
		}
		log.Printf("✅ [R2] Backup bucket %s ready", cfg.R2BucketName)
		return backup.NewObjectStore(client, cfg.R2Prefix), nil
	case "table":
		provider, ok := db.(database.SQLProvider)
		if !ok {
			return nil, fmt.Errorf("BACKUP_STORE=table needs a relational DB_DRIVER, got %s", db.Backend())
		}
		return backup.NewTableStore(ctx, provider, db.Backend())
	default:
		return nil, fmt.Errorf("unknown BACKUP_STORE %q", cfg.BackupStore)
	}
}

// newScheduler registers the optional BACKUP_CRON and SYNC_CRON triggers.
// Each run is an independent unit of work bounded by its own timeout.
func newScheduler(cfg *config.Config, svc *service.SyncService) (*cron.Cron, error) {
	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))

	if cfg.BackupCron != "" {
		_, err := scheduler.AddFunc(cfg.BackupCron, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			if _, err := svc.PerformBackup(ctx); err != nil {
				log.Printf("❌ [CRON] scheduled backup: %v", err)
			}
		})
		if err != nil {
			return nil, fmt.Errorf("invalid BACKUP_CRON %q: %w", cfg.BackupCron, err)
		}
		log.Printf("⏰ [CRON] Backups scheduled: %s", cfg.BackupCron)
	}

	if cfg.SyncCron != "" {
		_, err := scheduler.AddFunc(cfg.SyncCron, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			if _, err := svc.RunScheduledSync(ctx); err != nil {
				log.Printf("❌ [CRON] scheduled sync: %v", err)
			}
		})
		if err != nil {
			return nil, fmt.Errorf("invalid SYNC_CRON %q: %w", cfg.SyncCron, err)
		}
		log.Printf("⏰ [CRON] Syncs scheduled: %s", cfg.SyncCron)
	}
	return scheduler, nil
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var errMsg string
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		errMsg = e.Message
	} else {
		errMsg = err.Error()
	}
	log.Printf("🔥 [ERROR] [%d] %s %s → %v | IP=%s | UA=%s",
		code,
		c.Method(),
		c.Path(),
		errMsg,
		c.IP(),
		c.Get("User-Agent"),
	)
	return c.Status(code).JSON(fiber.Map{
		"error":      errMsg,
		"request_id": c.Get("X-Request-ID"),
	})
}
