package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"

	"faceattend/internal/config"
	"faceattend/internal/export"
	"faceattend/internal/identity"
	"faceattend/internal/ledger"
	"faceattend/internal/queue"
	"faceattend/internal/store"
)

// Worker consumes marked-attendance messages and forwards them to the
// spreadsheet sink, plus a nightly batch export of the finished day.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.Open(cfg.DatabaseURL, cfg.StorageTimeout)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	var q queue.Queue
	if cfg.QueueBackend == "redis" {
		redisClient := store.NewRedis(cfg.RedisAddr)
		q = queue.NewRedisQueue(redisClient.Client, "faceattend:export")
	} else {
		log.Println("WARNING: memory queue backend selected; the worker only sees events published in-process")
		q = queue.NewInMemory(64)
	}

	loc := cfg.Location()
	ids := identity.NewService(identity.NewRepository(db), cfg.MatchThreshold, cfg.DuplicateThreshold)
	led := ledger.NewRepository(db, loc)

	sheet := export.NewSheetClient(cfg.SheetSinkURL, cfg.SheetSinkToken)
	if !sheet.Enabled() {
		log.Println("SHEET_SINK_URL not set; rows will be dropped after logging")
	} else if err := sheet.Ping(ctx); err != nil {
		log.Printf("WARNING: sheet sink not reachable: %v", err)
		log.Println("Worker will retry when rows arrive")
	} else {
		log.Println("sheet sink connected")
	}

	worker := export.NewWorker(q, led, ids, sheet, loc)

	// Nightly reconciliation: push the finished day as one batch.
	scheduler := gocron.NewScheduler(loc)
	if _, err := scheduler.Every(1).Day().At(cfg.ExportAt).Do(func() {
		day := time.Now().In(loc)
		if err := worker.ExportDate(ctx, day); err != nil {
			log.Printf("daily export failed: %v", err)
		}
	}); err != nil {
		log.Printf("daily export schedule failed: %v", err)
	}
	scheduler.StartAsync()
	defer scheduler.Stop()

	if err := worker.Run(ctx); err != nil {
		log.Fatalf("worker failed: %v", err)
	}
}
