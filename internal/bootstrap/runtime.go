// Package bootstrap wires configuration into a running set of services.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log"

	"dailypair/internal/bot"
	"dailypair/internal/cache"
	"dailypair/internal/config"
	"dailypair/internal/database"
	"dailypair/internal/featureflags"
	"dailypair/internal/gateway"
	"dailypair/internal/notifications"
	"dailypair/internal/repository"
	"dailypair/internal/server"
	"dailypair/internal/service"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Runtime holds every long-lived dependency of the bot.
type Runtime struct {
	Config *config.Config
	Store  repository.DocumentRepository
	DB     *gorm.DB
	Redis  *redis.Client

	Directory *gateway.Client
	Avatars   *gateway.AvatarFetcher

	Blocks    *service.BlocklistService
	Cooldowns *service.CooldownService
	Breakups  *service.BreakupCounter
	Usage     service.UsageTracker
	Advanced  *service.AdvancedService
	Pairing   *service.PairingService
	Admin     *service.AdminService
	Rollover  *service.Rollover

	Hub        *notifications.Hub
	Notifier   *notifications.Notifier
	Dispatcher *bot.Dispatcher
}

// OpenStore connects the document store selected by STORE_DRIVER. The
// returned *gorm.DB is nil for the file store.
func OpenStore(cfg *config.Config) (repository.DocumentRepository, *gorm.DB, error) {
	if cfg.StoreDriver == "file" {
		repo, err := repository.NewFileDocumentRepository(cfg.DataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("open data directory: %w", err)
		}
		return repo, nil, nil
	}
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	return repository.NewGormDocumentRepository(db), db, nil
}

// InitRuntime connects the store and Redis and builds all services.
func InitRuntime(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	store, db, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}

	var rdb *redis.Client
	if cfg.UsageBackend == "redis" {
		// Nil when unreachable; counters then stay in memory.
		cache.InitRedis(cfg.RedisURL)
		rdb = cache.GetClient()
	}

	rt, err := NewRuntime(ctx, cfg, store, rdb)
	if err != nil {
		return nil, err
	}
	rt.DB = db
	return rt, nil
}

// NewRuntime builds the services over an already opened store. rdb may be nil.
func NewRuntime(ctx context.Context, cfg *config.Config, store repository.DocumentRepository, rdb *redis.Client) (*Runtime, error) {
	hosts, err := cfg.Hosts()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		Config:    cfg,
		Store:     store,
		Redis:     rdb,
		Directory: gateway.NewClient(hosts, cfg.GatewayTimeout()),
		Avatars:   gateway.NewAvatarFetcher(cfg.AvatarURLTemplate, cfg.AvatarSize, cfg.GatewayTimeout()),
		Hub:       notifications.NewHub(),
	}
	rt.Notifier = notifications.NewNotifier(rt.Hub, rdb)

	if rdb != nil {
		rt.Usage = service.NewRedisUsageTracker(rdb)
	} else {
		if cfg.UsageBackend == "redis" {
			log.Println("WARNING: Redis unavailable; advanced-feature counters are kept in memory.")
		}
		rt.Usage = service.NewMemoryUsageTracker()
	}

	if rt.Blocks, err = service.NewBlocklistService(ctx, store); err != nil {
		return nil, err
	}
	if rt.Cooldowns, err = service.NewCooldownService(ctx, store, nil); err != nil {
		return nil, err
	}
	if rt.Breakups, err = service.NewBreakupCounter(ctx, store); err != nil {
		return nil, err
	}
	rt.Advanced, err = service.NewAdvancedService(ctx, store, service.AdvancedOptions{
		Global:   cfg.EnableAdvancedGlobally,
		Flags:    featureflags.NewManager(cfg.FeatureFlags),
		Window:   cfg.ConfirmWindow(),
		Notifier: rt.Notifier,
	})
	if err != nil {
		return nil, err
	}
	rt.Pairing, err = service.NewPairingService(ctx, service.PairingDeps{
		Repo:      store,
		Directory: rt.Directory,
		Blocks:    rt.Blocks,
		Cooldowns: rt.Cooldowns,
		Breakups:  rt.Breakups,
		Usage:     rt.Usage,
		Advanced:  rt.Advanced,
		Rules:     service.RulesFromConfig(cfg),
		Location:  loc,
	})
	if err != nil {
		return nil, err
	}
	rt.Admin = service.NewAdminService(rt.Pairing, rt.Blocks, rt.Cooldowns, rt.Breakups, rt.Usage, rt.Advanced)
	rt.Rollover = service.NewRollover(rt.Cooldowns, rt.Breakups, rt.Usage, loc, nil)

	rt.Dispatcher = bot.NewDispatcher(bot.Services{
		Pairing:  rt.Pairing,
		Blocks:   rt.Blocks,
		Advanced: rt.Advanced,
		Admin:    rt.Admin,
	}, bot.Options{
		MaxNameLength: cfg.DisplayNameMaxLength,
		ShowAvatar:    cfg.ShowAvatar,
		Avatars:       rt.Avatars,
	})
	return rt, nil
}

// Checks returns the readiness probes for the configured backends.
func (rt *Runtime) Checks() map[string]server.Check {
	checks := map[string]server.Check{
		"store": func(ctx context.Context) error {
			_, err := rt.Store.Raw(ctx, repository.DocPairings)
			return err
		},
	}
	if rt.DB != nil {
		checks["database"] = func(ctx context.Context) error {
			sqlDB, err := rt.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}
	}
	if rt.Redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return rt.Redis.Ping(ctx).Err()
		}
	}
	return checks
}

// StartBackground launches the confirmation sweeper, the daily rollover and
// the notice subscriber. They stop when ctx is cancelled.
func (rt *Runtime) StartBackground(ctx context.Context) error {
	go rt.Advanced.Run(ctx, rt.Config.ConfirmSweep())
	go rt.Rollover.Run(ctx)
	return rt.Notifier.StartSubscriber(ctx)
}

// Close releases the database and Redis connections.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.DB != nil {
		if sqlDB, err := rt.DB.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	if rt.Redis != nil {
		errs = append(errs, rt.Redis.Close())
	}
	return errors.Join(errs...)
}
