package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jholhewres/snipclaw/pkg/snipclaw/audit"
	"github.com/jholhewres/snipclaw/pkg/snipclaw/bot"
	"github.com/jholhewres/snipclaw/pkg/snipclaw/channels/telegram"
	"github.com/jholhewres/snipclaw/pkg/snipclaw/config"
	"github.com/jholhewres/snipclaw/pkg/snipclaw/ingest"
	"github.com/jholhewres/snipclaw/pkg/snipclaw/metrics"
	"github.com/jholhewres/snipclaw/pkg/snipclaw/scheduler"
	"github.com/jholhewres/snipclaw/pkg/snipclaw/snippets"
)

// pullJobID identifies the periodic repository pull.
const pullJobID = "git-pull"

// newServeCmd creates the `snipclaw serve` command that runs the bot.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to Telegram and answer snippet references",
		Long: `Start snipclaw as a long-running bot: poll Telegram for messages,
answer #tags and trigger words, and handle /save, /savetrigger and /list.

Examples:
  snipclaw serve
  snipclaw serve --config ./config.yaml --verbose`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	// ── Load config ──
	cfg, configPath, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg, os.Stdout)
	slog.SetDefault(logger)
	if configPath != "" {
		logger.Info("config loaded", "path", configPath)
	}

	// ── Resolve secrets ──
	source, err := config.ResolveToken(cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("bot token resolved", "source", source)

	// ── Store ──
	store := snippets.NewStore(cfg.Snippets.Store(), logger)
	if err := store.EnsureDir(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Audit recorders ──
	var recorders audit.Multi
	var git *audit.Git
	if cfg.Git.Enabled {
		git = audit.NewGit(cfg.Git, logger)
		if !git.IsRepo(ctx) {
			logger.Warn("snippet directory is not a git repository, commits will fail", "dir", git.Dir())
		}
		recorders = append(recorders, git)
	}
	if cfg.Journal.Path != "" {
		journal, err := audit.OpenJournal(cfg.Journal)
		if err != nil {
			return err
		}
		defer journal.Close()
		recorders = append(recorders, journal)
	}

	// ── Metrics ──
	var observer *metrics.Observer
	var metricsServer *http.Server
	if cfg.Metrics.Address != "" {
		reg := prometheus.NewRegistry()
		observer, err = metrics.NewObserver(cfg.Metrics.Namespace, reg)
		if err != nil {
			return err
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		metricsServer = &http.Server{
			Addr:              cfg.Metrics.Address,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		logger.Info("metrics listener running", "address", cfg.Metrics.Address)
	}

	// ── Telegram + bot ──
	tg := telegram.New(cfg.Telegram, logger)
	pipeline := ingest.New(store, tg, recorders, ingest.NewAdmins(cfg.Telegram.Admins), cfg.Snippets.Ingest(), logger)
	b := bot.New(cfg.Bot, store, tg, pipeline, observer, logger)

	if err := tg.Connect(ctx); err != nil {
		return err
	}
	defer tg.Disconnect()
	b.SetUsername(tg.Username())

	// ── Scheduler ──
	sched := scheduler.New(cfg.Scheduler.JobTimeout, logger)
	if git != nil && cfg.Scheduler.PullSchedule != "" {
		if err := sched.Add(&scheduler.Job{
			ID:       pullJobID,
			Schedule: cfg.Scheduler.PullSchedule,
			Run:      git.Pull,
		}); err != nil {
			return fmt.Errorf("scheduling %s: %w", pullJobID, err)
		}
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	logger.Info("snipclaw running. Press Ctrl+C to stop.",
		"bot", tg.Username(),
		"snippets", store.Dir(),
		"flavor", cfg.Snippets.Flavor,
		"admins", len(cfg.Telegram.Admins),
	)

	// ── Run until signalled ──
	err = b.Run(ctx, tg.Receive())
	logger.Info("shutdown signal received, stopping...")

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
