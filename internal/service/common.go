// Package service implements the pairing game: blocklists, cooldowns, daily
// counters, the advanced-feature gate and the pairing engine itself.
package service

import (
	"context"
	"log/slog"
	"time"

	"dailypair/internal/config"
	"dailypair/internal/observability"
	"dailypair/internal/repository"
)

// Clock returns the current time. Tests replace it.
type Clock func() time.Time

// DayKey formats t as the calendar day in loc.
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(time.DateOnly)
}

// Rules are the tunable limits of the game.
type Rules struct {
	DefaultCooling   time.Duration
	MaxDailyBreakups int
	BreakupBlock     time.Duration
	MaxDailyWishes   int
	MaxDailyRob      int
	MaxDailyLock     int
}

// RulesFromConfig converts configuration values to Rules.
func RulesFromConfig(cfg *config.Config) Rules {
	return Rules{
		DefaultCooling:   time.Duration(cfg.DefaultCoolingHours) * time.Hour,
		MaxDailyBreakups: cfg.MaxDailyBreakups,
		BreakupBlock:     time.Duration(cfg.BreakupBlockHours) * time.Hour,
		MaxDailyWishes:   cfg.MaxDailyWishes,
		MaxDailyRob:      cfg.MaxDailyRobAttempts,
		MaxDailyLock:     cfg.MaxDailyLock,
	}
}

// DefaultRules mirrors the configuration defaults.
func DefaultRules() Rules {
	return Rules{
		DefaultCooling:   48 * time.Hour,
		MaxDailyBreakups: 3,
		BreakupBlock:     24 * time.Hour,
		MaxDailyWishes:   1,
		MaxDailyRob:      2,
		MaxDailyLock:     1,
	}
}

// persist saves a document and keeps going on failure; in-memory state stays
// authoritative until the next successful save.
func persist(ctx context.Context, repo repository.DocumentRepository, name string, v any) {
	if err := repo.Save(ctx, name, v); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "continuing with unsaved in-memory state",
			slog.String("document", name),
			slog.String("error", err.Error()),
		)
	}
}
