package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"FeedPublisher/internal/config"
	"FeedPublisher/internal/infrastructure/bluesky"
	"FeedPublisher/internal/infrastructure/enrich"
	"FeedPublisher/internal/infrastructure/feed"
	"FeedPublisher/internal/infrastructure/storage"
	"FeedPublisher/internal/logging"
	"FeedPublisher/internal/ports"
	"FeedPublisher/internal/usecase"
)

const defaultRestartDelay = 30 * time.Second

// Application wires configuration to per-account workers and supervises
// them. Each account is an isolated failure domain: workers signal exit over
// a channel and non-fatal deaths are relaunched after a delay.
type Application struct {
	cfg          config.Config
	logger       *slog.Logger
	restartDelay time.Duration
}

// New builds a runnable application instance.
func New(cfg config.Config, baseLogger *slog.Logger) *Application {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	return &Application{
		cfg:          cfg,
		logger:       baseLogger,
		restartDelay: defaultRestartDelay,
	}
}

type workerExit struct {
	account string
	err     error
}

// Run starts one worker per configured account and supervises them until
// shutdown. A worker that returns a login-fatal error is dropped; any other
// death is relaunched after the restart delay.
func (a *Application) Run(ctx context.Context) error {
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	var ledger ports.Ledger
	if a.cfg.Ledger.Enabled {
		store, err := storage.NewSQLiteLedger(a.cfg.Ledger.Path, a.logger.With("component", "ledger"))
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		defer store.Close()
		ledger = store
	}

	accounts := make(map[string]config.AccountConfig, len(a.cfg.Accounts))
	exits := make(chan workerExit)

	launch := func(acct config.AccountConfig, delay time.Duration) {
		go func() {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					exits <- workerExit{acct.Name, ctx.Err()}
					return
				}
			}
			exits <- workerExit{acct.Name, a.runWorker(ctx, acct, ledger)}
		}()
	}

	for _, acct := range a.cfg.Accounts {
		accounts[acct.Name] = acct
		a.logger.Info("starting worker", "account", acct.Name)
		launch(acct, 0)
	}

	running := len(a.cfg.Accounts)
	for running > 0 {
		exit := <-exits

		switch {
		case ctx.Err() != nil:
			running--
		case exit.err == nil:
			a.logger.Info("worker finished", "account", exit.account)
			running--
		case errors.Is(exit.err, bluesky.ErrLoginFailed):
			a.logger.Error("worker failed fatally, not restarting",
				"account", exit.account, "error", exit.err)
			running--
		default:
			a.logger.Warn("worker stopped, restarting",
				"account", exit.account, "error", exit.err, "delay", a.restartDelay)
			launch(accounts[exit.account], a.restartDelay)
		}
	}

	return nil
}

// runWorker builds the per-account adapter stack and runs its pipeline. The
// worker owns no state that must survive a restart; everything durable is in
// the ledger.
func (a *Application) runWorker(ctx context.Context, acct config.AccountConfig, ledger ports.Ledger) error {
	logger := a.logger.With("account", acct.Name)

	client := bluesky.NewClient(acct.PDSURL, nil, logger.With("component", "platform"))
	session := bluesky.NewSessionManager(client, acct.Identifier, acct.Password,
		a.cfg.Bot.MaxLoginRetries, a.cfg.Bot.InitialLoginDelay(),
		logger.With("component", "session"))

	if err := session.EnsureAuthenticated(ctx); err != nil {
		return err
	}

	source := feed.NewSource(acct.FeedURL, a.cfg.Feed.MinDate(),
		a.cfg.Bot.MaxItemsPerCycle, nil, logger.With("component", "feed"))
	resolver := enrich.NewResolver(a.cfg.Bot.Enrichment, nil,
		logger.With("component", "enrich"))
	oracle := usecase.NewOracle(ledger, acct.Name,
		a.cfg.Bot.DuplicateDetection, logger.With("component", "dedup"))

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Account:   acct.Name,
		Source:    source,
		Ledger:    ledger,
		Enricher:  resolver,
		Publisher: session,
		Oracle:    oracle,
		Bot:       a.cfg.Bot,
		Logger:    logger.With("component", "pipeline"),
	})

	return pipeline.Run(ctx)
}

// Audit prints the most recent ledger records per account, newest first.
func (a *Application) Audit(ctx context.Context, w io.Writer, limit int) error {
	if !a.cfg.Ledger.Enabled {
		return fmt.Errorf("ledger is disabled")
	}

	store, err := storage.NewSQLiteLedger(a.cfg.Ledger.Path, a.logger.With("component", "ledger"))
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer store.Close()

	for _, acct := range a.cfg.Accounts {
		records, err := store.List(ctx, acct.Name, limit)
		if err != nil {
			return fmt.Errorf("list %s: %w", acct.Name, err)
		}
		fmt.Fprintf(w, "%s (%d records)\n", acct.Name, len(records))
		for _, rec := range records {
			marker := rec.RemoteURI
			if marker == "" {
				marker = "(backfilled)"
			}
			fmt.Fprintf(w, "  %s  %s  %s\n",
				rec.RecordedAt.Format(time.RFC3339), rec.Title, marker)
		}
	}
	return nil
}
