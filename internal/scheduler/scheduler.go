// Package scheduler is C11: periodic dispatch and asynchronous execution of
// pipeline tasks with retry. Interval tasks run on a plain ticker
// (context-cancelable goroutine, a ticker per cadence, graceful Stop via
// WaitGroup); cron-string tasks run on robfig/cron/v3.
package scheduler

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"narrative-core/internal/logger"
)

// TaskFunc is one pipeline task's body. It must fully resolve before
// returning — no suspended computations are handed back to the scheduler.
type TaskFunc func(ctx context.Context) error

// RetryPolicy controls how a failed task is retried within its own
// invocation (not across scheduled periods).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration // 0 means no delay between attempts
	Backoff     BackoffKind
}

// BackoffKind selects how RetryPolicy.BaseDelay grows between attempts.
type BackoffKind int

const (
	NoBackoff BackoffKind = iota
	ExponentialBackoff
	FixedDelay
)

// Task is one catalog entry: canonical name, how it's scheduled, its retry
// policy, and the overall time limit for each registered task.
type Task struct {
	Name      string
	Interval  time.Duration // mutually exclusive with CronExpr
	CronExpr  string
	Retry     RetryPolicy
	TimeLimit time.Duration
	Run       TaskFunc
}

// Scheduler dispatches registered tasks on their schedules, retries failures
// per-task, and never blocks subsequent periods on an exhausted task — the
// documented fix for the "CoinDesk API" infinite-retry incident.
type Scheduler struct {
	tasks map[string]Task

	cron      *cron.Cron
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	lastRun   map[string]time.Time
	lastError map[string]error
}

// New builds an empty Scheduler. Register tasks before calling Start.
func New() *Scheduler {
	return &Scheduler{
		tasks:     make(map[string]Task),
		cron:      cron.New(),
		lastRun:   make(map[string]time.Time),
		lastError: make(map[string]error),
	}
}

// Register adds a task to the catalog. Registering two tasks with the same
// name is a startup error; it fails loudly rather than silently overwriting
// the earlier registration.
func (s *Scheduler) Register(t Task) error {
	if _, exists := s.tasks[t.Name]; exists {
		return fmt.Errorf("task %q already registered", t.Name)
	}
	if t.Interval == 0 && t.CronExpr == "" {
		return fmt.Errorf("task %q needs either an interval or a cron expression", t.Name)
	}
	if t.Interval != 0 && t.CronExpr != "" {
		return fmt.Errorf("task %q cannot have both an interval and a cron expression", t.Name)
	}
	s.tasks[t.Name] = t
	return nil
}

// Start begins dispatching every registered task. It returns once every
// interval-based task's goroutine has been launched and the cron scheduler
// has started; Stop() blocks until they all exit.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	log := logger.Get().With().Str("component", "scheduler").Logger()

	for _, t := range s.tasks {
		t := t
		if t.CronExpr != "" {
			if _, err := s.cron.AddFunc(t.CronExpr, func() { s.dispatch(t) }); err != nil {
				return fmt.Errorf("registering cron task %q (%q): %w", t.Name, t.CronExpr, err)
			}
			continue
		}

		s.wg.Add(1)
		go s.runInterval(t)
	}

	s.cron.Start()
	log.Info().Int("task_count", len(s.tasks)).Msg("scheduler started")
	return nil
}

// Stop cancels every running task loop and waits for them to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	cronCtx := s.cron.Stop()
	<-cronCtx.Done()
	s.wg.Wait()
}

func (s *Scheduler) runInterval(t Task) {
	defer s.wg.Done()

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.dispatch(t)
		}
	}
}

// dispatch runs one task invocation end-to-end: retry policy, overall time
// limit, and result bookkeeping. It never panics the caller's goroutine on
// exhausted retries — it logs and moves on, leaving the next period to try
// again.
func (s *Scheduler) dispatch(t Task) {
	log := logger.Get().With().Str("component", "scheduler").Str("task", t.Name).Logger()

	runCtx := s.ctx
	var cancel context.CancelFunc
	if t.TimeLimit > 0 {
		runCtx, cancel = context.WithTimeout(s.ctx, t.TimeLimit)
		defer cancel()
	}

	err := s.runWithRetry(runCtx, t)

	s.mu.Lock()
	s.lastRun[t.Name] = time.Now().UTC()
	s.lastError[t.Name] = err
	s.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Msg("task failed after exhausting retries")
		return
	}
	log.Info().Msg("task completed")
}

// runWithRetry is the shared retry/backoff wrapper every task goes through,
// capped by MaxAttempts and, via the caller-supplied context, by the task's
// overall time limit.
func (s *Scheduler) runWithRetry(ctx context.Context, t Task) error {
	attempts := t.Retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := retryDelay(t.Retry, attempt)
			if delay > 0 {
				select {
				case <-ctx.Done():
					return fmt.Errorf("task %q cancelled during retry backoff: %w", t.Name, ctx.Err())
				case <-time.After(delay):
				}
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("task %q cancelled: %w", t.Name, ctx.Err())
		default:
		}

		if err := t.Run(ctx); err != nil {
			lastErr = err
			logger.Get().Warn().Err(err).Str("component", "scheduler").Str("task", t.Name).Int("attempt", attempt+1).Msg("task attempt failed")
			continue
		}
		return nil
	}
	return fmt.Errorf("task %q failed after %d attempts: %w", t.Name, attempts, lastErr)
}

func retryDelay(policy RetryPolicy, attempt int) time.Duration {
	switch policy.Backoff {
	case ExponentialBackoff:
		return time.Duration(float64(policy.BaseDelay) * math.Pow(2, float64(attempt-1)))
	case FixedDelay:
		return policy.BaseDelay
	default:
		return 0
	}
}

// TriggerNow runs a registered task immediately, outside its normal
// schedule, tagging its log lines with the caller-supplied taskID. Execution
// happens asynchronously; this call returns as soon as the goroutine is
// launched.
func (s *Scheduler) TriggerNow(taskID string, t Task) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log := logger.Get().With().Str("component", "scheduler").Str("task", t.Name).Str("task_id", taskID).Logger()
		log.Info().Msg("manually triggered task starting")
		s.dispatch(t)
	}()
}

// LastResult reports the most recent run time and error (nil on success) for
// a task, for observability endpoints.
func (s *Scheduler) LastResult(name string) (time.Time, error, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.lastRun[name]
	return t, s.lastError[name], ok
}
