package model

import (
	"time"
)

const (
	JobStatusPending = "PENDING"
	JobStatusRunning = "RUNNING"
	JobStatusFailed  = "FAILED"
)

// Job 持久化的延迟任务
//
// job_id 是去重 ID：同一个 job_id 在表里最多一条，重复入队是空操作。
// 任务成功后直接删除；失败超过 max_attempts 后保留为 FAILED，由维护任务按数量清理。
type Job struct {
	ID          int64      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	JobID       string     `gorm:"type:varchar(128);not null;uniqueIndex:uq_job_job_id" json:"job_id"`
	Name        string     `gorm:"type:varchar(64);not null" json:"name"`
	Payload     string     `gorm:"type:text;not null" json:"payload"`
	Status      string     `gorm:"type:varchar(16);not null;index:ix_job_status_run_at,priority:1" json:"status"`
	Attempts    int        `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts int        `gorm:"not null" json:"max_attempts"`
	BackoffMs   int64      `gorm:"not null" json:"backoff_ms"`
	RunAt       time.Time  `gorm:"not null;index:ix_job_status_run_at,priority:2" json:"run_at"`
	LockedBy    string     `gorm:"type:varchar(64)" json:"locked_by,omitempty"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	LastError   string     `gorm:"type:text" json:"last_error,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Job) TableName() string {
	return "jobs"
}
