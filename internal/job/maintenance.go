package job

import (
	"context"
	"time"

	"auctionsystem/internal/config"
	"auctionsystem/internal/infrastructure/lock"
	"auctionsystem/internal/model"
	"auctionsystem/internal/queue"
	"auctionsystem/internal/repository"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	taskReapLeases      = "reap-leases"
	taskSweepRounds     = "sweep-rounds"
	taskSweepSettlement = "sweep-settlement"
	taskPruneFailed     = "prune-failed"

	sweepBatchSize = 200
	lockTTL        = 30 * time.Second
)

// Maintenance 队列和结算流水线的定时维护
//
//   - 回收租约过期的任务（worker 崩溃），保证至少一次投递
//   - 补调度过了 end_at 还没关的轮次
//   - 补调度长时间没结算的分配结果
//   - 失败任务只保留最近 N 条
//
// 每个任务执行前先拿 Redis 锁，集群里同一时刻只有一个实例在跑。
type Maintenance struct {
	jobRepo        *repository.JobRepository
	roundRepo      *repository.RoundRepository
	allocationRepo *repository.AllocationRepository
	queue          *queue.Queue
	redis          redis.UniversalClient
	cfg            *config.Config
	logger         *logrus.Logger
	owner          string
	cron           *cron.Cron
	now            func() time.Time
}

func NewMaintenance(db *gorm.DB, q *queue.Queue, rdb redis.UniversalClient, cfg *config.Config, logger *logrus.Logger) *Maintenance {
	return &Maintenance{
		jobRepo:        repository.NewJobRepository(db),
		roundRepo:      repository.NewRoundRepository(db),
		allocationRepo: repository.NewAllocationRepository(db),
		queue:          q,
		redis:          rdb,
		cfg:            cfg,
		logger:         logger,
		owner:          "maintenance-" + uuid.NewString(),
		now:            time.Now,
	}
}

func (m *Maintenance) WithClock(now func() time.Time) *Maintenance {
	m.now = now
	return m
}

// Start 注册定时任务并启动调度器
func (m *Maintenance) Start(ctx context.Context) error {
	m.cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.PrintfLogger(m.logger))))

	schedule := []struct {
		spec string
		fn   func(ctx context.Context)
	}{
		{spec: m.cfg.Business.MaintenanceCron, fn: m.RunOnce},
		{spec: m.cfg.Business.RetentionCron, fn: m.PruneFailed},
	}
	for _, s := range schedule {
		fn := s.fn
		_, err := m.cron.AddFunc(s.spec, func() {
			rctx, cancel := context.WithTimeout(ctx, 25*time.Second)
			defer cancel()
			fn(rctx)
		})
		if err != nil {
			return err
		}
	}

	m.cron.Start()
	m.logger.WithFields(logrus.Fields{
		"maintenance_cron": m.cfg.Business.MaintenanceCron,
		"retention_cron":   m.cfg.Business.RetentionCron,
	}).Info("[Maintenance] 定时维护任务启动")
	return nil
}

func (m *Maintenance) Stop() {
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
}

// RunOnce 依次执行回收、补调度
func (m *Maintenance) RunOnce(ctx context.Context) {
	m.ReapExpiredLeases(ctx)
	m.SweepOverdueRounds(ctx)
	m.SweepStaleAllocations(ctx)
}

// withLock 拿不到锁说明别的实例正在执行，本次跳过
func (m *Maintenance) withLock(ctx context.Context, task string, fn func() error) {
	entry := m.logger.WithField("task", task)

	if m.redis != nil {
		l := lock.NewMaintenanceLock(m.redis, task, m.owner, lockTTL)
		ok, err := l.TryLock(ctx)
		if err != nil {
			entry.WithError(err).Warn("[Maintenance] 获取锁失败")
			return
		}
		if !ok {
			entry.Debug("[Maintenance] 其他实例正在执行，跳过")
			return
		}
		defer func() {
			if _, err := l.Unlock(context.Background()); err != nil {
				entry.WithError(err).Warn("[Maintenance] 释放锁失败")
			}
		}()
	}

	if err := fn(); err != nil {
		entry.WithError(err).Error("[Maintenance] 维护任务失败")
	}
}

func (m *Maintenance) ReapExpiredLeases(ctx context.Context) {
	m.withLock(ctx, taskReapLeases, func() error {
		n, err := m.jobRepo.RequeueExpired(ctx, m.now().UTC())
		if err != nil {
			return err
		}
		if n > 0 {
			m.logger.WithField("count", n).Warn("[Maintenance] 回收租约过期的任务")
		}
		return nil
	})
}

func (m *Maintenance) SweepOverdueRounds(ctx context.Context) {
	m.withLock(ctx, taskSweepRounds, func() error {
		rounds, err := m.roundRepo.ListOverdueOpen(ctx, m.now().UTC(), sweepBatchSize)
		if err != nil {
			return err
		}
		for _, r := range rounds {
			created, err := m.queue.Enqueue(ctx, nil, queue.JobCloseRound,
				queue.CloseRoundPayload{RoundID: r.ID},
				queue.EnqueueOptions{JobID: queue.CloseRoundJobID(r.ID)})
			if err != nil {
				return err
			}
			if created {
				m.logger.WithField("round_id", r.ID).Warn("[Maintenance] 补调度关轮任务")
			}
		}
		return nil
	})
}

func (m *Maintenance) SweepStaleAllocations(ctx context.Context) {
	m.withLock(ctx, taskSweepSettlement, func() error {
		before := m.now().UTC().Add(-time.Duration(m.cfg.Business.SettleStaleAfterS) * time.Second)
		allocations, err := m.allocationRepo.ListUnsettledBefore(ctx, before, sweepBatchSize)
		if err != nil {
			return err
		}
		for _, a := range allocations {
			if a.Attempts >= m.cfg.Business.MaxRetryCount {
				// 多次失败的留给人工处理
				continue
			}
			created, err := m.queue.Enqueue(ctx, nil, queue.JobSettleAllocation,
				queue.SettleAllocationPayload{AllocationID: a.ID, RoundID: a.RoundID, UserID: a.UserID},
				queue.EnqueueOptions{JobID: queue.SettleAllocationJobID(a.RoundID, a.UserID)})
			if err != nil {
				return err
			}
			if created {
				m.logger.WithFields(logrus.Fields{
					"allocation_id": a.ID,
					"status":        a.Status,
					"attempts":      a.Attempts,
				}).Warn("[Maintenance] 补调度结算任务")
			}
		}
		return nil
	})
}

func (m *Maintenance) PruneFailed(ctx context.Context) {
	m.withLock(ctx, taskPruneFailed, func() error {
		n, err := m.jobRepo.PruneFailed(ctx, m.cfg.Queue.FailedRetention)
		if err != nil {
			return err
		}
		if n > 0 {
			m.logger.WithField("count", n).Info("[Maintenance] 清理失败任务")
		}
		return nil
	})
}

// FailedJobs 当前失败任务数，供健康检查使用
func (m *Maintenance) FailedJobs(ctx context.Context) (int64, error) {
	return m.jobRepo.CountByStatus(ctx, model.JobStatusFailed)
}
