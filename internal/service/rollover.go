package service

import (
	"context"
	"log/slog"
	"time"

	"dailypair/internal/observability"
)

// rolloverOffset is how long after midnight the daily rollover runs.
const rolloverOffset = 5 * time.Second

// Rollover clears day-scoped state once per day.
type Rollover struct {
	cooldowns *CooldownService
	breakups  *BreakupCounter
	usage     UsageTracker
	loc       *time.Location
	now       Clock
}

// NewRollover builds the daily rollover task. Day boundaries are taken in loc.
func NewRollover(cooldowns *CooldownService, breakups *BreakupCounter, usage UsageTracker, loc *time.Location, now Clock) *Rollover {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.Local
	}
	return &Rollover{cooldowns: cooldowns, breakups: breakups, usage: usage, loc: loc, now: now}
}

// NextRun returns the first rollover instant strictly after t.
func (r *Rollover) NextRun(t time.Time) time.Time {
	t = t.In(r.loc)
	run := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, r.loc).Add(rolloverOffset)
	if !run.After(t) {
		run = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, r.loc).Add(rolloverOffset)
	}
	return run
}

// Tick drops breakup counts from earlier days, purges expired cooldowns and
// clears every usage counter.
func (r *Rollover) Tick(ctx context.Context) error {
	today := DayKey(r.now(), r.loc)
	dropped := r.breakups.DropBefore(ctx, today)
	swept := r.cooldowns.SweepExpired(ctx)
	if err := r.usage.Reset(ctx); err != nil {
		observability.LogAsyncOperationError(ctx, "rollover.reset_usage", err, map[string]interface{}{"day": today})
		return err
	}
	observability.LogAsyncOperationEnd(ctx, "rollover", map[string]interface{}{
		"day":              today,
		"breakup_days":     dropped,
		"cooldowns_purged": swept,
	})
	return nil
}

// Run sleeps until each rollover instant and ticks, until ctx is done.
func (r *Rollover) Run(ctx context.Context) {
	for {
		now := r.now()
		if !sleepContext(ctx, r.NextRun(now).Sub(now)) {
			observability.GlobalLogger.Info("daily rollover stopped", slog.String("reason", ctx.Err().Error()))
			return
		}
		_ = r.Tick(ctx)
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
