// internal/app/app.go
//
// Process bootstrap shared by every fieldsync command.
//
// Start-up order
// --------------
//  1. Load config (conf/global.yaml + FIELDSYNC_* env).
//  2. Start the rotating file logger and install it globally.
//  3. Resolve `vault:` secrets when present.
//  4. Open the MySQL pool (pinged with backoff) and the Redis client.
//  5. Build the store, cache, mutex service, runner, broker, and notifier.
//
// Close tears down in reverse.  Commands own the App for their lifetime.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/yanizio/fieldsync/internal/cache"
	"github.com/yanizio/fieldsync/internal/config"
	"github.com/yanizio/fieldsync/internal/database"
	"github.com/yanizio/fieldsync/internal/fieldsync"
	"github.com/yanizio/fieldsync/internal/logger"
	"github.com/yanizio/fieldsync/internal/mutex"
	"github.com/yanizio/fieldsync/internal/notify"
	"github.com/yanizio/fieldsync/internal/queue"
	"github.com/yanizio/fieldsync/internal/server"
	"github.com/yanizio/fieldsync/internal/store"
	"github.com/yanizio/fieldsync/internal/vault"
)

// lockPrefix namespaces mutex leases in the shared Redis.
const lockPrefix = "fieldsync:mutex:"

// App holds the wired dependencies of one process.
type App struct {
	Config *config.Config
	Log    *zap.SugaredLogger
	DB     *sqlx.DB
	Redis  redis.UniversalClient

	Repo     *store.Repository
	Cache    cache.Store
	Locker   mutex.Locker
	Runner   *fieldsync.Runner
	Broker   *queue.Broker
	Notifier *notify.Notifier
}

// New boots the process.  tee mirrors logs to the console.
func New(ctx context.Context, tee bool) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Paths.Root, logger.Options{
		Tee:   tee || cfg.Log.Tee,
		Level: cfg.Log.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("start logger: %w", err)
	}

	if config.NeedsSecrets(cfg) {
		vc, err := vault.New()
		if err != nil {
			return nil, fmt.Errorf("vault client: %w", err)
		}
		if err := config.ResolveSecrets(ctx, cfg, vc); err != nil {
			return nil, fmt.Errorf("resolve secrets: %w", err)
		}
	}

	db, err := database.OpenWithOptions(ctx, cfg.DSN(), poolOptions(cfg))
	if err != nil {
		log.Errorw("database connect failed", "err", err)
		return nil, fmt.Errorf("connect database: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = db.Close()
		log.Errorw("redis connect failed", "addr", cfg.Redis.Addr, "err", err)
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	a := &App{Config: cfg, Log: log, DB: db, Redis: rdb}
	a.Repo = store.NewRepository(db, cfg.Database.TablePrefix)
	a.Cache = cache.NewRedis(rdb)
	a.Locker = mutex.NewRedis(rdb, lockPrefix, cfg.Sync.LeaseTTL)
	a.Runner = fieldsync.NewRunner(a.Repo, a.Cache, a.Locker, log, fieldsync.Options{
		PageSize:    cfg.Sync.PageSize,
		Workers:     cfg.Sync.Workers,
		InsertChunk: cfg.Sync.InsertChunk,
		LockWait:    cfg.Sync.LockWait,
	})
	a.Broker = queue.NewBroker(rdb, queue.BrokerOptions{
		Group:     cfg.Queue.Group,
		Consumer:  cfg.Queue.Consumer,
		Block:     cfg.Queue.Block,
		ClaimIdle: cfg.Queue.ClaimIdle,
	}, log)
	a.Notifier = notify.New(a.Repo, cfg.Notify.CustomerURL)

	log.Infow("fieldsync ready", "table_prefix", cfg.Database.TablePrefix)
	return a, nil
}

// poolOptions leaves room for one connection per worker plus the runner's
// own queries.
func poolOptions(cfg *config.Config) database.Options {
	opts := database.DefaultOptions()
	if cfg.Database.MaxOpen > 0 {
		opts.MaxOpenConns = cfg.Database.MaxOpen
	}
	if cfg.Database.MaxIdle > 0 {
		opts.MaxIdleConns = cfg.Database.MaxIdle
	}
	if need := cfg.Sync.Workers + 2; opts.MaxOpenConns < need {
		opts.MaxOpenConns = need
	}
	return opts
}

// Processor builds the queue processor.
func (a *App) Processor() *queue.Processor {
	return queue.NewProcessor(a.Cache, a.Repo, a.Locker, a.Runner, a.Broker, a.Notifier, a.Log)
}

// Enqueuer builds the producer for the configured queue.
func (a *App) Enqueuer() *queue.Enqueuer {
	return queue.NewEnqueuer(a.Cache, a.Broker, a.Config.Queue.Name)
}

// HealthChecks are served on /healthz.
func (a *App) HealthChecks() map[string]server.Check {
	return map[string]server.Check{
		"mysql": a.DB.PingContext,
		"redis": func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() },
	}
}

// Close releases connections and flushes the logger.
func (a *App) Close() error {
	start := time.Now()
	rerr := a.Redis.Close()
	derr := a.DB.Close()
	a.Log.Infow("fieldsync stopped", "close_ms", time.Since(start).Milliseconds())
	_ = a.Log.Sync()
	if derr != nil {
		return derr
	}
	return rerr
}
