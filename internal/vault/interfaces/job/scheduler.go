// Package job 金库定时任务
package job

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Locker 分布式锁，多副本部署时保证同一任务只在一个实例上执行。
// 由 pkg/cache.RedisCache 实现。
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// Scheduler 基于 cron 的任务调度器，表达式带秒字段
type Scheduler struct {
	cron    *cron.Cron
	locker  Locker
	logger  *slog.Logger
	baseCtx context.Context
}

// NewScheduler locker 可为 nil
func NewScheduler(baseCtx context.Context, locker Locker, logger *slog.Logger) *Scheduler {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		locker:  locker,
		logger:  logger.With("module", "vault_job"),
		baseCtx: baseCtx,
	}
}

// Add 注册任务。ttl 为锁的持有时间，应大于任务的最长执行时间。
func (s *Scheduler) Add(name, spec string, ttl time.Duration, job func(ctx context.Context) error) (cron.EntryID, error) {
	return s.cron.AddFunc(spec, func() { s.run(name, ttl, job) })
}

func (s *Scheduler) run(name string, ttl time.Duration, job func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(s.baseCtx, ttl)
	defer cancel()

	if s.locker != nil {
		release, ok, err := s.locker.TryLock(ctx, "optionvault:job:"+name, ttl)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to acquire job lock", "job", name, "error", err)
			return
		}
		if !ok {
			return
		}
		defer release()
	}

	start := time.Now()
	if err := job(ctx); err != nil {
		s.logger.ErrorContext(ctx, "job failed", "job", name, "duration", time.Since(start), "error", err)
		return
	}
	s.logger.DebugContext(ctx, "job finished", "job", name, "duration", time.Since(start))
}

func (s *Scheduler) Start() {
	s.logger.Info("cron started", "entries", len(s.cron.Entries()))
	s.cron.Start()
}

// Stop 等待正在执行的任务结束
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("cron stopped")
}
