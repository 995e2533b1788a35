// Package bootstrap wires configuration into the store, the goal service and
// the scheduler. cmd/server and cmd/pkctl share it.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"pkagent/internal/config"
	"pkagent/internal/llm"
	"pkagent/internal/repository"
	"pkagent/internal/scheduler"
	"pkagent/internal/service"
	"pkagent/pkg/db"
	"pkagent/pkg/mq"
	"pkagent/pkg/outbox"
	pkgredis "pkagent/pkg/redis"
	"pkagent/pkg/util"
)

type App struct {
	Cfg    *config.Config
	Logger *zap.Logger

	Store  service.Store
	Memory *repository.MemoryStore // 仅内存模式
	Pool   *pgxpool.Pool
	Outbox *outbox.Repository
	Redis  *goredis.Client

	Goals      *service.GoalService
	Dedup      service.Deduper
	Intervener scheduler.Intervener
	Loop       *scheduler.Loop

	Publisher *mq.Publisher
	Replay    *outbox.ReplayService
}

// Open 建立存储和 Redis 连接并组装服务；MQ 由 ConnectMQ 单独建立
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	a := &App{Cfg: cfg, Logger: log}

	switch cfg.Store.Driver {
	case config.DriverMemory:
		log.Warn("Using in-memory store; state is lost on restart and events are not dispatched")
		a.Memory = repository.NewMemoryStore()
		a.Store = a.Memory
	default:
		pool, err := db.NewConnection(ctx, cfg.DB, log)
		if err != nil {
			return nil, err
		}
		a.Pool = pool
		if err := repository.Migrate(ctx, pool, log); err != nil {
			a.Close()
			return nil, err
		}
		a.Outbox = outbox.NewRepository(pool)
		a.Store = repository.NewPostgresStore(pool, a.Outbox, log)
	}

	var failures service.FailureCounter
	a.Dedup = util.NewLocalDeduper(cfg.Scheduler.DedupTTL)
	if cfg.Redis.Addr != "" && cfg.Store.Driver != config.DriverMemory {
		rdb, err := pkgredis.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			// Redis 不可用时退回进程内去重
			log.Warn("Redis unavailable, falling back to in-process dedup", zap.Error(err))
		} else {
			a.Redis = rdb
			a.Dedup = util.NewDeduper(rdb, cfg.Scheduler.DedupTTL, log)
			failures = util.NewFailureCounter(rdb, 0)
		}
	}

	var (
		decomposer service.Decomposer
		motivator  service.Motivator
	)
	if cfg.DecomposerEnabled() {
		client := llm.New(cfg.Decomposer, log)
		decomposer = service.NewLLMDecomposer(client, log)
		motivator = service.NewLLMMotivator(client, log)
	} else {
		log.Warn("No decomposer configured; every goal gets the fallback subtask")
	}
	a.Goals = service.NewGoalService(a.Store, decomposer, motivator, log)

	switch cfg.Scheduler.Mode {
	case service.ModeActive:
		a.Intervener = service.NewActiveIntervener(a.Goals, log)
	default:
		a.Intervener = service.NewNotifyIntervener(a.Goals, a.Dedup, failures, log).WithCadence(cfg.Scheduler.Cadence)
	}
	a.Loop = scheduler.NewLoop(a.Store, a.Intervener, cfg.Scheduler, log)
	return a, nil
}

// ConnectMQ 建立 RabbitMQ publisher 和 outbox 重放服务，内存模式下不可用
func (a *App) ConnectMQ() error {
	if a.Outbox == nil {
		return fmt.Errorf("messaging requires the postgres store")
	}
	publisher, err := mq.NewPublisher(a.Cfg.MQ.URL)
	if err != nil {
		return fmt.Errorf("failed to init publisher: %w", err)
	}
	a.Publisher = publisher
	a.Replay = outbox.NewReplayService(a.Outbox, publisher, a.Logger)
	return nil
}

// Dispatcher 按配置构造 outbox dispatcher，需先调用 ConnectMQ
func (a *App) Dispatcher() *outbox.Dispatcher {
	d := outbox.NewDispatcher(a.Outbox, a.Publisher, a.Logger)
	if a.Cfg.Outbox.MaxRetries > 0 {
		d = d.WithMaxRetries(a.Cfg.Outbox.MaxRetries)
	}
	if a.Cfg.Outbox.BatchSize > 0 {
		d = d.WithBatchSize(a.Cfg.Outbox.BatchSize)
	}
	return d
}

func (a *App) Close() {
	if a.Publisher != nil {
		a.Publisher.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
