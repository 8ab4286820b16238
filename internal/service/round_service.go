package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auctionsystem/internal/model"
	"auctionsystem/internal/queue"
	"auctionsystem/internal/repository"
	"auctionsystem/pkg/idgen"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RoundService 轮次状态机：OPEN -> CLOSING -> CLOSED，以及防狙击延时
type RoundService struct {
	db          *gorm.DB
	roundRepo   *repository.RoundRepository
	auctionRepo *repository.AuctionRepository
	queue       *queue.Queue
	logger      *logrus.Logger
	now         func() time.Time
}

func NewRoundService(db *gorm.DB, q *queue.Queue, logger *logrus.Logger) *RoundService {
	return &RoundService{
		db:          db,
		roundRepo:   repository.NewRoundRepository(db),
		auctionRepo: repository.NewAuctionRepository(db),
		queue:       q,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *RoundService) WithClock(now func() time.Time) *RoundService {
	s.now = now
	return s
}

func (s *RoundService) GetRound(ctx context.Context, roundID int64) (*model.Round, error) {
	round, err := s.roundRepo.GetByID(ctx, nil, roundID)
	if err != nil {
		if errors.Is(err, repository.ErrRoundNotFound) {
			return nil, ErrRoundNotFound
		}
		return nil, err
	}
	return round, nil
}

// AssertOpen 只有 OPEN 且未到结束时间的轮次可以出价
func AssertOpen(round *model.Round, now time.Time) error {
	if !round.IsOpenAt(now) {
		return fmt.Errorf("%w: round=%d, status=%s, end_at=%s",
			ErrRoundNotOpen, round.ID, round.Status, round.EndAt.Format(time.RFC3339))
	}
	return nil
}

// shouldExtend 出价落在结束前 window 秒内，且累计延时不超过上限
func shouldExtend(round *model.Round, cfg model.AntiSnipeConfig, now time.Time) bool {
	if cfg.WindowSec <= 0 || cfg.ExtendSec <= 0 {
		return false
	}
	windowStart := round.EndAt.Add(-time.Duration(cfg.WindowSec) * time.Second)
	if now.Before(windowStart) {
		return false
	}
	return round.TotalExtendedSec+cfg.ExtendSec <= cfg.MaxTotalExtendSec
}

// MaybeExtend 防狙击延时
//
// CAS 条件是 status = OPEN AND version = 读到的 version，
// 失败说明别的出价已经延时过了，当作没延时，不报错也不重试
func (s *RoundService) MaybeExtend(ctx context.Context, tx *gorm.DB, round *model.Round, cfg model.AntiSnipeConfig, now time.Time) (bool, error) {
	if !shouldExtend(round, cfg, now) {
		return false, nil
	}

	newEndAt := round.EndAt.Add(time.Duration(cfg.ExtendSec) * time.Second)
	ok, err := s.roundRepo.Extend(ctx, tx, round.ID, round.Version, newEndAt, cfg.ExtendSec)
	if err != nil {
		return false, fmt.Errorf("轮次延时失败: %w", err)
	}
	if !ok {
		return false, nil
	}

	round.EndAt = newEndAt
	round.TotalExtendedSec += cfg.ExtendSec
	round.Version++

	s.logger.WithFields(logrus.Fields{
		"round_id":           round.ID,
		"end_at":             newEndAt,
		"total_extended_sec": round.TotalExtendedSec,
	}).Info("轮次防狙击延时")
	return true, nil
}

// ScheduleClose 在 end_at 调度关轮任务，job_id 按轮次确定，重复调度是空操作
func (s *RoundService) ScheduleClose(ctx context.Context, tx *gorm.DB, round *model.Round) (bool, error) {
	return s.queue.Enqueue(ctx, tx, queue.JobCloseRound,
		queue.CloseRoundPayload{RoundID: round.ID},
		queue.EnqueueOptions{
			JobID: queue.CloseRoundJobID(round.ID),
			Delay: round.EndAt.Sub(s.now()),
		})
}

// BeginClosing OPEN -> CLOSING，返回 false 表示轮次已经不是读到时的样子（被延时或已被关闭）
func (s *RoundService) BeginClosing(ctx context.Context, tx *gorm.DB, round *model.Round) (bool, error) {
	ok, err := s.roundRepo.MarkClosing(ctx, tx, round.ID, round.Version)
	if err != nil {
		return false, fmt.Errorf("轮次进入关闭中失败: %w", err)
	}
	if ok {
		round.Status = model.RoundStatusClosing
		round.Version++
	}
	return ok, nil
}

// FinishClosing CLOSING -> CLOSED，记录 closed_at
func (s *RoundService) FinishClosing(ctx context.Context, tx *gorm.DB, round *model.Round, at time.Time) error {
	err := s.roundRepo.UpdateStatus(ctx, tx, round.ID, model.RoundStatusClosing, model.RoundStatusClosed, at)
	if err != nil {
		return fmt.Errorf("轮次关闭失败: %w", err)
	}
	round.Status = model.RoundStatusClosed
	round.ClosedAt = &at
	round.Version++
	return nil
}

// OpenRound 开启第 no 轮并调度关轮任务
func (s *RoundService) OpenRound(ctx context.Context, tx *gorm.DB, auction *model.Auction, no int) (*model.Round, error) {
	now := s.now().UTC()
	round := &model.Round{
		ID:        idgen.NextID(),
		AuctionID: auction.ID,
		No:        no,
		Status:    model.RoundStatusOpen,
		StartAt:   now,
		EndAt:     now.Add(time.Duration(auction.RoundConfig.DurationSec) * time.Second),
	}
	if err := s.roundRepo.Create(ctx, tx, round); err != nil {
		return nil, fmt.Errorf("创建轮次失败: %w", err)
	}
	if err := s.auctionRepo.SetActiveRound(ctx, tx, auction.ID, round.ID, no); err != nil {
		return nil, fmt.Errorf("更新当前轮次失败: %w", err)
	}
	if _, err := s.ScheduleClose(ctx, tx, round); err != nil {
		return nil, fmt.Errorf("调度关轮任务失败: %w", err)
	}

	auction.ActiveRoundID = round.ID
	auction.ActiveRoundNo = no

	s.logger.WithFields(logrus.Fields{
		"auction_id": auction.ID,
		"round_id":   round.ID,
		"no":         no,
		"end_at":     round.EndAt,
	}).Info("轮次开启")
	return round, nil
}
