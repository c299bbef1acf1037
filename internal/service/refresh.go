package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/teemow/inboxpilot/internal/logging"
)

// Start runs the cache sweep, the background refresh worker, the refresh
// cron and, when configured, the policy file watcher. The jobs stop when ctx
// is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return fmt.Errorf("engine already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if e.config.PolicyFile != "" {
		if err := e.classifier.WatchPolicy(runCtx, e.config.PolicyFile); err != nil {
			cancel()
			return fmt.Errorf("failed to watch tool policy: %w", err)
		}
	}
	if e.cron != nil {
		if _, err := e.cron.AddFunc(e.config.RefreshSchedule, e.sweepUsers); err != nil {
			cancel()
			return fmt.Errorf("failed to schedule token refresh: %w", err)
		}
	}

	e.started = true
	e.cancel = cancel
	e.cache.Start()

	e.wg.Add(1)
	go e.refreshWorker(runCtx)

	if e.cron != nil {
		e.cron.Start()
		e.logger.Info("token refresh sweep scheduled", slog.String("schedule", e.config.RefreshSchedule))
	}
	return nil
}

// Stop ends the background jobs and closes every cached client. Queued
// refreshes that have not started are dropped.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		if e.cron != nil {
			<-e.cron.Stop().Done()
		}
		e.mu.Lock()
		cancel := e.cancel
		e.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		e.wg.Wait()
		e.cache.Stop()
		e.classifier.Wait()
	})
}

// ScheduleRefresh queues a background refresh of the user's expired tokens.
// It never blocks and reports false when the queue is full.
func (e *Engine) ScheduleRefresh(userID string) bool {
	select {
	case e.jobs <- userID:
		return true
	default:
		e.logger.Warn("refresh queue full, dropping request", logging.UserHash(userID))
		return false
	}
}

// Errors delivers the failures of background refreshes. Errors are dropped
// while nobody receives.
func (e *Engine) Errors() <-chan error {
	return e.errs
}

func (e *Engine) refreshWorker(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case userID := <-e.jobs:
			e.backgroundRefresh(ctx, userID)
		}
	}
}

func (e *Engine) backgroundRefresh(ctx context.Context, userID string) {
	n, err := e.RefreshExpiredTokensForUser(ctx, userID)
	if err == nil {
		if n > 0 {
			e.logger.Info("background refresh completed", logging.UserHash(userID), slog.Int("refreshed", n))
		}
		return
	}

	select {
	case e.errs <- fmt.Errorf("background refresh for user %s: %w", logging.AnonymizeUser(userID), err):
	default:
	}
}

// sweepUsers queues a refresh for every user served within the active
// window and forgets the others.
func (e *Engine) sweepUsers() {
	cutoff := e.clock.Now().Add(-e.config.ActiveUserWindow)

	e.mu.Lock()
	users := make([]string, 0, len(e.users))
	pruned := 0
	for u, seen := range e.users {
		if seen.Before(cutoff) {
			delete(e.users, u)
			pruned++
			continue
		}
		users = append(users, u)
	}
	e.mu.Unlock()

	queued := 0
	for _, u := range users {
		if e.ScheduleRefresh(u) {
			queued++
		}
	}
	e.logger.Debug("token refresh sweep",
		slog.Int("users", len(users)),
		slog.Int("queued", queued),
		slog.Int("pruned", pruned))
}

// cronLogger routes cron's logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, logging.Err(err))...)
}
