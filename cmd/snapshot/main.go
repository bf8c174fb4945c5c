// Package main provides the snapshot worker entry point.
//
// Usage:
//
//	snapshot                 run the capture and retention jobs on their cron schedules
//	snapshot run [date]      capture snapshots once for date (YYYY-MM-DD, default today UTC)
//	snapshot sweep [days]    delete snapshots older than days (default RETENTION_DAYS)
//	snapshot flush-prices    drop every cached quote from redis
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/portfolio-valuation/internal/app"
	"github.com/portfolio-valuation/internal/config"
	"github.com/portfolio-valuation/internal/logging"
	"github.com/portfolio-valuation/internal/ratelimit"
	"github.com/portfolio-valuation/internal/scheduler"
	"github.com/portfolio-valuation/internal/service"
)

func main() {
	fmt.Println("Portfolio Snapshot Worker")
	log.Println("Worker starting...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := app.InitLogger(cfg.Logging)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize application")
	}
	defer a.Close()

	args := os.Args[1:]
	if len(args) > 0 {
		if err := runOnce(ctx, a, args); err != nil {
			logger.WithError(err).Error("Command failed")
			a.Close()
			os.Exit(1)
		}
		return
	}

	sched := scheduler.New(ctx, logger)
	if err := sched.Add("daily-snapshot", cfg.Snapshot.Schedule, func(ctx context.Context) error {
		return captureSnapshots(ctx, a, time.Now().UTC())
	}); err != nil {
		logger.WithError(err).Fatal("Failed to schedule snapshot job")
	}
	if err := sched.Add("retention-sweep", cfg.Retention.Schedule, func(ctx context.Context) error {
		return sweep(ctx, a.Retention, cfg.Retention.Days)
	}); err != nil {
		logger.WithError(err).Fatal("Failed to schedule retention job")
	}

	sched.Start()
	logger.WithFields(map[string]interface{}{
		"snapshot_cron":  cfg.Snapshot.Schedule,
		"retention_cron": cfg.Retention.Schedule,
		"retention_days": cfg.Retention.Days,
	}).Info("Snapshot scheduler started")

	<-ctx.Done()
	logger.Info("Shutting down snapshot worker...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Snapshot.RunBudget)
	defer stopCancel()
	if err := sched.Stop(stopCtx); err != nil {
		logger.WithError(err).Warn("Scheduler did not stop cleanly")
	}
	logger.Info("Worker stopped")
}

func runOnce(ctx context.Context, a *app.App, args []string) error {
	switch args[0] {
	case "run":
		asOf := time.Now().UTC()
		if len(args) > 1 {
			parsed, err := time.Parse("2006-01-02", args[1])
			if err != nil {
				return fmt.Errorf("invalid date %q: %w", args[1], err)
			}
			asOf = parsed
		}
		return captureSnapshots(ctx, a, asOf)
	case "sweep":
		days := a.Config.Retention.Days
		if len(args) > 1 {
			parsed, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid days %q: %w", args[1], err)
			}
			days = parsed
		}
		return sweep(ctx, a.Retention, days)
	case "flush-prices":
		if a.Redis == nil {
			return fmt.Errorf("flush-prices requires the redis cache backend")
		}
		n, err := a.Redis.FlushPrices(ctx)
		if err != nil {
			return err
		}
		logging.FromContext(ctx).WithField("keys", n).Info("Cached prices flushed")
		return nil
	default:
		return fmt.Errorf("unknown command %q (want run, sweep or flush-prices)", args[0])
	}
}

func captureSnapshots(ctx context.Context, a *app.App, asOf time.Time) error {
	logger := logging.FromContext(ctx)
	ctx = ratelimit.WithPriority(ctx, ratelimit.PriorityHigh)
	report, err := a.Snapshots.CaptureDailySnapshots(ctx, asOf)
	if err != nil {
		return err
	}

	for _, f := range report.Failed {
		logger.WithFields(map[string]interface{}{
			"client_id": f.ClientID,
			"code":      f.Code,
			"error":     f.Error,
		}).Warn("Client snapshot failed")
	}
	logger.WithFields(map[string]interface{}{
		"date":      report.Date.Format("2006-01-02"),
		"succeeded": len(report.Succeeded),
		"partial":   len(report.Partial),
		"skipped":   len(report.Skipped),
		"failed":    len(report.Failed),
		"duration":  report.FinishedAt.Sub(report.StartedAt).String(),
	}).Info("Daily snapshot run complete")

	for _, b := range a.Budgets {
		usage, err := b.Usage(ctx)
		if err != nil {
			logger.WithError(err).WithField("provider", b.Name()).Warn("Failed to read credit usage")
			continue
		}
		logger.WithFields(map[string]interface{}{
			"provider":    usage.Provider,
			"used":        usage.Used,
			"total":       usage.Total,
			"utilization": fmt.Sprintf("%.1f%%", usage.Utilization()),
		}).Info("Provider credit usage")
	}
	return nil
}

func sweep(ctx context.Context, retention *service.RetentionService, days int) error {
	report, err := retention.CleanupOlderThan(ctx, days)
	if err != nil {
		return err
	}
	fields := map[string]interface{}{
		"retention_days": report.RetentionDays,
		"deleted":        report.Deleted,
		"skipped":        report.Skipped,
	}
	if !report.Cutoff.IsZero() {
		fields["cutoff"] = report.Cutoff.Format("2006-01-02")
	}
	logging.FromContext(ctx).WithFields(fields).Info("Retention sweep complete")
	return nil
}
