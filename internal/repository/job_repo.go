package repository

import (
	"context"
	"errors"
	"time"

	"auctionsystem/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Insert 按 job_id 去重入队，已存在返回 false
func (r *JobRepository) Insert(ctx context.Context, tx *gorm.DB, job *model.Job) (bool, error) {
	result := conn(r.db, tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_id"}},
			DoNothing: true,
		}).
		Create(job)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *JobRepository) GetByJobID(ctx context.Context, jobID string) (*model.Job, error) {
	var job model.Job
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

func (r *JobRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.Job, error) {
	var jobs []*model.Job
	err := r.db.WithContext(ctx).
		Where("status = ? AND run_at <= ?", model.JobStatusPending, now).
		Order("run_at ASC, id ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// Claim PENDING -> RUNNING 并加租约，多个 worker 抢同一个任务只有一个成功
func (r *JobRepository) Claim(ctx context.Context, jobID int64, owner string, leaseUntil time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Job{}).
		Where("id = ? AND status = ?", jobID, model.JobStatusPending).
		Updates(map[string]interface{}{
			"status":       model.JobStatusRunning,
			"locked_by":    owner,
			"locked_until": leaseUntil,
			"attempts":     gorm.Expr("attempts + 1"),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Complete 成功即删除；租约已经被回收（locked_by 变了）时不删
func (r *JobRepository) Complete(ctx context.Context, jobID int64, owner string) error {
	return r.db.WithContext(ctx).
		Where("id = ? AND locked_by = ?", jobID, owner).
		Delete(&model.Job{}).Error
}

// Reschedule 放回 PENDING 等待 runAt 再执行
// refundAttempt 为 true 时不计入重试次数（例如轮次被延时，任务只是来早了）
func (r *JobRepository) Reschedule(ctx context.Context, jobID int64, owner string, runAt time.Time, lastErr string, refundAttempt bool) error {
	updates := map[string]interface{}{
		"status":       model.JobStatusPending,
		"run_at":       runAt,
		"locked_by":    "",
		"locked_until": nil,
		"last_error":   lastErr,
	}
	if refundAttempt {
		updates["attempts"] = gorm.Expr("attempts - 1")
	}
	return r.db.WithContext(ctx).
		Model(&model.Job{}).
		Where("id = ? AND locked_by = ?", jobID, owner).
		Updates(updates).Error
}

func (r *JobRepository) MarkFailed(ctx context.Context, jobID int64, owner, lastErr string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.Job{}).
		Where("id = ? AND locked_by = ?", jobID, owner).
		Updates(map[string]interface{}{
			"status":       model.JobStatusFailed,
			"locked_until": nil,
			"last_error":   lastErr,
			"finished_at":  at,
		}).Error
}

// RequeueExpired 租约过期的 RUNNING 任务（worker 崩溃）放回 PENDING，保证至少一次投递
func (r *JobRepository) RequeueExpired(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Job{}).
		Where("status = ? AND locked_until < ?", model.JobStatusRunning, now).
		Updates(map[string]interface{}{
			"status":       model.JobStatusPending,
			"run_at":       now,
			"locked_by":    "",
			"locked_until": nil,
			"last_error":   "lease expired",
		})
	return result.RowsAffected, result.Error
}

// PruneFailed 只保留最近 keep 条失败任务
func (r *JobRepository) PruneFailed(ctx context.Context, keep int) (int64, error) {
	var staleIDs []int64
	err := r.db.WithContext(ctx).
		Model(&model.Job{}).
		Where("status = ?", model.JobStatusFailed).
		Order("finished_at DESC, id DESC").
		Offset(keep).
		Limit(1000).
		Pluck("id", &staleIDs).Error
	if err != nil {
		return 0, err
	}
	if len(staleIDs) == 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).Where("id IN ?", staleIDs).Delete(&model.Job{})
	return result.RowsAffected, result.Error
}

func (r *JobRepository) CountByStatus(ctx context.Context, status string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Job{}).Where("status = ?", status).Count(&count).Error
	return count, err
}
