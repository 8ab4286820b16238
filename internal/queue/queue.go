package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"auctionsystem/internal/config"
	"auctionsystem/internal/model"
	"auctionsystem/internal/repository"
	"auctionsystem/pkg/idgen"

	"gorm.io/gorm"
)

// ============================================================================
// 持久化延迟任务队列
// ============================================================================
//
// 任务存在业务库的 jobs 表里：
//   - job_id 唯一，重复入队是空操作（去重）
//   - run_at 控制延迟执行
//   - 失败按 backoff * 2^(attempt-1) 退避重试，超过 max_attempts 进入 FAILED
//   - 成功后删除
//
// 因为和业务数据在同一个库，可以在业务事务里入队：事务提交任务才可见，回滚任务也消失。
//
// ============================================================================

const maxBackoff = 10 * time.Minute

var ErrJobIDRequired = errors.New("job_id 不能为空")

type EnqueueOptions struct {
	JobID    string
	Delay    time.Duration
	Attempts int           // 0 使用配置默认值
	Backoff  time.Duration // 0 使用配置默认值
}

type Queue struct {
	repo *repository.JobRepository
	cfg  config.QueueConfig
	now  func() time.Time
}

func NewQueue(db *gorm.DB, cfg config.QueueConfig) *Queue {
	return &Queue{
		repo: repository.NewJobRepository(db),
		cfg:  cfg,
		now:  time.Now,
	}
}

func (q *Queue) WithClock(now func() time.Time) *Queue {
	q.now = now
	return q
}

// Enqueue 入队，tx 不为空时随调用方事务一起提交；返回 false 表示 job_id 已存在
func (q *Queue) Enqueue(ctx context.Context, tx *gorm.DB, name string, payload interface{}, opts EnqueueOptions) (bool, error) {
	if opts.JobID == "" {
		return false, ErrJobIDRequired
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("序列化任务负载失败: %w", err)
	}

	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = q.cfg.MaxAttempts
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = q.cfg.Backoff()
	}
	delay := opts.Delay
	if delay < 0 {
		delay = 0
	}

	job := &model.Job{
		ID:          idgen.NextID(),
		JobID:       opts.JobID,
		Name:        name,
		Payload:     string(body),
		Status:      model.JobStatusPending,
		MaxAttempts: attempts,
		BackoffMs:   backoff.Milliseconds(),
		RunAt:       q.now().UTC().Add(delay),
	}

	created, err := q.repo.Insert(ctx, tx, job)
	if err != nil {
		return false, fmt.Errorf("任务入队失败: %w", err)
	}
	return created, nil
}

// backoffFor 第 attempt 次失败后的等待时间
func backoffFor(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
