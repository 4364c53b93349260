package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"narrative-core/internal/briefing"
	"narrative-core/internal/core"
	"narrative-core/internal/logger"
	"narrative-core/internal/scheduler"
	"narrative-core/internal/server"
	"narrative-core/internal/signals"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and background scheduler",
	Long: `serve starts the JSON API (narratives, signals, briefings, admin) and
the background scheduler in the same process: interval tasks keep
narratives consolidated and the LLM cache clean, cron tasks generate
the scheduled briefings.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	log := logger.With("serve")

	sched := scheduler.New()
	if err := registerSchedulerTasks(sched, a); err != nil {
		return fmt.Errorf("registering scheduler tasks: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	srv := server.New(a.cfg.Server, server.Dependencies{
		Store:     a.store,
		Signals:   a.signals,
		Briefing:  a.briefing,
		Ledger:    a.ledger,
		LLMCache:  a.llmCache,
		Scheduler: sched,
	})

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)).Msg("starting HTTP server")
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		sched.Stop()
		return fmt.Errorf("http server: %w", err)
	}

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// registerSchedulerTasks wires the interval and cron task catalog onto the
// dependencies newApp already built. Registration failures are startup
// errors, not logged-and-ignored.
func registerSchedulerTasks(sched *scheduler.Scheduler, a *app) error {
	tasks := []scheduler.Task{
		{
			// fetch_news also performs detect_narratives inline: each item's
			// C6 extraction output is only available per-article at fetch
			// time, so linking it into a narrative right there (rather than
			// as a separate batch pass over unlinked articles) avoids a
			// second read of the same extraction result.
			Name:      "fetch_news",
			Interval:  a.cfg.Feeds.FetchInterval,
			Retry:     scheduler.RetryPolicy{MaxAttempts: 3, BaseDelay: 30 * time.Second, Backoff: scheduler.ExponentialBackoff},
			TimeLimit: 10 * time.Minute,
			Run: func(ctx context.Context) error {
				_, err := a.ingest.Run(ctx)
				return err
			},
		},
		{
			Name:      "compute_signals",
			Interval:  5 * time.Minute,
			Retry:     scheduler.RetryPolicy{MaxAttempts: 2, BaseDelay: 5 * time.Second, Backoff: scheduler.FixedDelay},
			TimeLimit: 2 * time.Minute,
			Run: func(ctx context.Context) error {
				_, err := a.signals.Compute(ctx, time.Now().UTC(), signals.Query{Limit: 100, Timeframe: 24 * time.Hour})
				return err
			},
		},
		{
			Name:      "consolidate_narratives",
			Interval:  time.Hour,
			Retry:     scheduler.RetryPolicy{MaxAttempts: 1},
			TimeLimit: 10 * time.Minute,
			Run: func(ctx context.Context) error {
				_, err := a.engine.Consolidate(ctx, time.Now().UTC())
				return err
			},
		},
		{
			Name:      "cache_cleanup",
			Interval:  time.Hour,
			Retry:     scheduler.RetryPolicy{MaxAttempts: 3, BaseDelay: 10 * time.Second, Backoff: scheduler.ExponentialBackoff},
			TimeLimit: time.Minute,
			Run: func(ctx context.Context) error {
				_, err := a.llmCache.Purge(ctx)
				return err
			},
		},
		{
			Name:      "cost_ledger_refresh",
			Interval:  10 * time.Minute,
			Retry:     scheduler.RetryPolicy{MaxAttempts: 2, BaseDelay: 5 * time.Second, Backoff: scheduler.FixedDelay},
			TimeLimit: 30 * time.Second,
			Run:       a.ledger.Refresh,
		},
		{
			Name:      "cleanup_old_briefings",
			CronExpr:  "0 3 * * 0",
			Retry:     scheduler.RetryPolicy{MaxAttempts: 1},
			TimeLimit: 5 * time.Minute,
			Run: func(ctx context.Context) error {
				_, err := a.store.Briefings().DeleteOlderThan(ctx, time.Now().UTC().AddDate(0, 0, -briefingRetentionDays))
				return err
			},
		},
	}

	briefingSchedule := []struct {
		name string
		cron string
		typ  core.BriefingType
	}{
		{"generate_morning_briefing", "0 8 * * *", core.BriefingMorning},
		{"generate_afternoon_briefing", "0 14 * * *", core.BriefingAfternoon},
		{"generate_evening_briefing", "0 20 * * *", core.BriefingEvening},
	}
	for _, b := range briefingSchedule {
		bt := b.typ
		tasks = append(tasks, scheduler.Task{
			Name:      b.name,
			CronExpr:  b.cron,
			Retry:     scheduler.RetryPolicy{MaxAttempts: 2, BaseDelay: 5 * time.Minute, Backoff: scheduler.FixedDelay},
			TimeLimit: 10 * time.Minute,
			Run: func(ctx context.Context) error {
				_, err := a.briefing.Generate(ctx, time.Now().UTC(), briefing.Options{Type: bt})
				return err
			},
		})
	}

	for _, t := range tasks {
		if err := sched.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// briefingRetentionDays bounds how long briefings are kept before
// cleanup_old_briefings deletes them, matching the 90-day candidate window
// narrative matching and consolidation already use.
const briefingRetentionDays = 90
