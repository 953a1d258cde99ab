package main

import (
	"context"
	"errors"
	"os"

	"golang.org/x/sync/errgroup"

	"financas/internal/amqp"
	"financas/internal/backend"
	"financas/internal/cli"
	applog "financas/internal/log"
	"financas/internal/ports"
	gsheet "financas/internal/sheets/google"
	"financas/internal/worker"
)

// workerStore joins the backend with its pending-sync bookkeeping.
type workerStore struct {
	backend.Backend
	ports.SyncTracker
}

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg, applog.ComponentWorker)

	if err := cfg.ValidateWorker(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting financas-worker")

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	res := cli.InitBackend(ctx, logger, cfg)
	if res.Cleanup != nil {
		defer res.Cleanup()
	}
	if res.Tracker == nil {
		logger.Error("Backend does not track pending syncs", "backend", cfg.DataBackend)
		os.Exit(1)
	}

	sheetsClient, err := gsheet.New(ctx, gsheet.Config{
		SpreadsheetID:      cfg.GoogleSpreadsheetID,
		SheetName:          cfg.GoogleSheetName,
		ServiceAccountJSON: cfg.GoogleServiceAccountJSON,
		ServiceAccountFile: cfg.GoogleServiceAccountFile,
	})
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", "error", err)
		os.Exit(1)
	}
	logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	syncWorker := worker.NewSyncWorker(workerStore{res.Backend, res.Tracker}, sheetsClient, sheetsClient, cfg.SyncBatchSize)

	// Catch up on rows missed while the worker was down
	logger.Info("Performing startup sync check...")
	if err := syncWorker.StartupSyncCheck(ctx); err != nil {
		logger.Error("Failed startup sync check", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return amqpClient.Consume(gctx, syncWorker.HandleEvent)
	})
	g.Go(func() error {
		return syncWorker.Run(gctx, cfg.SyncInterval)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker shutdown complete")
}
