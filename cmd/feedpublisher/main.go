package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"FeedPublisher/internal/app"
	"FeedPublisher/internal/config"
	"FeedPublisher/internal/logging"
)

func main() {
	audit := flag.Bool("audit", false, "print recent ledger records and exit")
	auditLimit := flag.Int("audit-limit", 20, "records per account for -audit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		logger.Error("configuration load failed", "error", err)
		os.Exit(1)
	}

	application := app.New(cfg, logger)

	if *audit {
		if err := application.Audit(ctx, os.Stdout, *auditLimit); err != nil {
			logger.Error("audit failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := application.Run(ctx); err != nil {
		logger.Error("application stopped", "error", err)
		os.Exit(1)
	}
}
