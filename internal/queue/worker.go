package queue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"auctionsystem/internal/config"
	"auctionsystem/internal/model"
	"auctionsystem/internal/repository"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Handler 任务处理函数，必须可以安全重放
type Handler func(ctx context.Context, job *model.Job) error

type Worker struct {
	repo     *repository.JobRepository
	cfg      config.QueueConfig
	logger   *logrus.Logger
	handlers map[string]Handler
	pool     pond.Pool
	owner    string
	now      func() time.Time
	stopCh   chan struct{}
}

func NewWorker(db *gorm.DB, cfg config.QueueConfig, logger *logrus.Logger) *Worker {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Worker{
		repo:     repository.NewJobRepository(db),
		cfg:      cfg,
		logger:   logger,
		handlers: make(map[string]Handler),
		pool:     pond.NewPool(workers, pond.WithQueueSize(workers*4)),
		owner:    "worker-" + uuid.NewString(),
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

func (w *Worker) WithClock(now func() time.Time) *Worker {
	w.now = now
	return w
}

func (w *Worker) Register(name string, h Handler) {
	w.handlers[name] = h
}

func (w *Worker) Start(ctx context.Context) {
	w.logger.WithField("owner", w.owner).Info("[Worker] 任务队列消费者启动")

	ticker := time.NewTicker(w.cfg.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("[Worker] 收到停止信号，任务退出")
			w.pool.StopAndWait()
			return
		case <-w.stopCh:
			w.logger.Info("[Worker] 任务停止")
			w.pool.StopAndWait()
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
}

// RunOnce 拉取一批到期任务并发执行，返回本轮认领到的任务数
func (w *Worker) RunOnce(ctx context.Context) int {
	jobs, err := w.repo.ListDue(ctx, w.now().UTC(), w.cfg.BatchSize)
	if err != nil {
		w.logger.WithError(err).Error("[Worker] 查询到期任务失败")
		return 0
	}
	if len(jobs) == 0 {
		return 0
	}

	var claimed int32
	group := w.pool.NewGroupContext(ctx)
	for _, job := range jobs {
		job := job
		group.Submit(func() {
			if w.process(ctx, job) {
				atomic.AddInt32(&claimed, 1)
			}
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		w.logger.WithError(err).Error("[Worker] 任务组执行异常")
	}
	return int(claimed)
}

func (w *Worker) process(ctx context.Context, job *model.Job) bool {
	ok, err := w.repo.Claim(ctx, job.ID, w.owner, w.now().UTC().Add(w.cfg.Lease()))
	if err != nil {
		w.logger.WithError(err).WithField("job_id", job.JobID).Error("[Worker] 认领任务失败")
		return false
	}
	if !ok {
		// 被其他 worker 抢走
		return false
	}
	job.Attempts++

	entry := w.logger.WithFields(logrus.Fields{
		"job_id":  job.JobID,
		"name":    job.Name,
		"attempt": job.Attempts,
	})

	err = w.run(ctx, job)
	if err == nil {
		if err := w.repo.Complete(ctx, job.ID, w.owner); err != nil {
			entry.WithError(err).Error("[Worker] 删除已完成任务失败")
		}
		return true
	}

	if at, ok := retryAtOf(err); ok {
		if err := w.repo.Reschedule(ctx, job.ID, w.owner, at.UTC(), "", true); err != nil {
			entry.WithError(err).Error("[Worker] 任务延后失败")
		}
		entry.WithField("run_at", at).Debug("[Worker] 任务延后执行")
		return true
	}

	if IsPermanent(err) || job.Attempts >= job.MaxAttempts {
		if markErr := w.repo.MarkFailed(ctx, job.ID, w.owner, err.Error(), w.now().UTC()); markErr != nil {
			entry.WithError(markErr).Error("[Worker] 标记任务失败状态失败")
		}
		entry.WithError(err).Error("[Worker] 任务最终失败")
		return true
	}

	delay := backoffFor(time.Duration(job.BackoffMs)*time.Millisecond, job.Attempts)
	if err := w.repo.Reschedule(ctx, job.ID, w.owner, w.now().UTC().Add(delay), err.Error(), false); err != nil {
		entry.WithError(err).Error("[Worker] 任务重新调度失败")
	}
	entry.WithError(err).WithField("retry_in", delay).Warn("[Worker] 任务执行失败，等待重试")
	return true
}

func (w *Worker) run(ctx context.Context, job *model.Job) (err error) {
	h, ok := w.handlers[job.Name]
	if !ok {
		return Permanent(fmt.Errorf("未注册的任务类型: %s", job.Name))
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("任务处理 panic: %v", r)
		}
	}()
	return h(ctx, job)
}
