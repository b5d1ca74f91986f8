// Command pipeline runs the batch detection stages end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/observability"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/repository"
)

func main() {
	configPath := flag.String("config", "", "path to JSON config file (defaults apply when empty)")
	csvPath := flag.String("csv", "", "transaction CSV to ingest before detection")
	skipIngest := flag.Bool("skip-ingest", false, "run detection over the already-loaded population even when -csv is set")
	stagesFlag := flag.String("stages", "", "comma-separated stage subset, e.g. rules,score (default: all)")
	flag.Parse()

	cfg, err := domain.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal, aborting run", "signal", sig)
		cancel()
	}()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()

	p, err := pipeline.New(repo, cfg, cacheImpl, busImpl, observability.NewMetrics())
	if err != nil {
		slog.Error("failed to assemble pipeline", "error", err)
		os.Exit(1)
	}

	opts := pipeline.Options{CSVPath: *csvPath}
	if *skipIngest {
		// An empty CSV path drops the ingest stage from the run.
		opts.CSVPath = ""
	}
	if *stagesFlag != "" {
		for _, s := range strings.Split(*stagesFlag, ",") {
			if s = strings.TrimSpace(s); s != "" {
				opts.Stages = append(opts.Stages, s)
			}
		}
	}

	report, err := p.Run(ctx, opts)
	if err != nil {
		slog.Error("pipeline run failed",
			"error", err,
			"completed_stages", len(report.Stages),
		)
		os.Exit(1)
	}

	slog.Info("pipeline run completed",
		"stages", len(report.Stages),
		"elapsed", report.FinishedAt.Sub(report.StartedAt).String(),
	)
	if report.Summary != nil {
		slog.Info("detection summary",
			"transactions", report.Summary.TotalTransactions,
			"rule_alerts", report.Summary.TotalRuleAlerts,
			"ml_alerts", report.Summary.TotalMLAlerts,
			"high_risk", report.Summary.HighRiskAlerts,
			"alert_rate_pct", fmt.Sprintf("%.3f", report.Summary.AlertRate),
		)
	}
}
