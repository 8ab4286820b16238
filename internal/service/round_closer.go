package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"auctionsystem/internal/model"
	"auctionsystem/internal/queue"
	"auctionsystem/internal/repository"
	"auctionsystem/pkg/idgen"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RoundNotEndedError 关轮任务到得比 end_at 早（轮次被延时过）
type RoundNotEndedError struct {
	RoundID int64
	EndAt   time.Time
}

func (e *RoundNotEndedError) Error() string {
	return fmt.Sprintf("轮次 %d 未到结束时间 %s", e.RoundID, e.EndAt.Format(time.RFC3339))
}

var errRoundChanged = errors.New("轮次状态已变化")

type CloseResult struct {
	RoundID         int64   `json:"round_id"`
	Closed          bool    `json:"closed"`
	Winners         int     `json:"winners"`
	Carries         int     `json:"carries"`
	AllocationIDs   []int64 `json:"allocation_ids,omitempty"`
	NextRoundID     int64   `json:"next_round_id,omitempty"`
	AuctionFinished bool    `json:"auction_finished"`
}

// RoundCloser 关轮：排名、生成分配结果、调度结算任务
type RoundCloser struct {
	db             *gorm.DB
	roundRepo      *repository.RoundRepository
	bidRepo        *repository.BidRepository
	allocationRepo *repository.AllocationRepository
	auctionRepo    *repository.AuctionRepository
	rounds         *RoundService
	queue          *queue.Queue
	events         eventWriter
	logger         *logrus.Logger
	now            func() time.Time
}

func NewRoundCloser(db *gorm.DB, rounds *RoundService, q *queue.Queue, logger *logrus.Logger) *RoundCloser {
	return &RoundCloser{
		db:             db,
		roundRepo:      repository.NewRoundRepository(db),
		bidRepo:        repository.NewBidRepository(db),
		allocationRepo: repository.NewAllocationRepository(db),
		auctionRepo:    repository.NewAuctionRepository(db),
		rounds:         rounds,
		queue:          q,
		events:         eventWriter{repo: repository.NewOutboxRepository(db)},
		logger:         logger,
		now:            time.Now,
	}
}

func (c *RoundCloser) WithClock(now func() time.Time) *RoundCloser {
	c.now = now
	return c
}

// Rank 金额降序，同金额先出价的在前，再相同按出价 ID
func Rank(bids []*model.Bid) []*model.Bid {
	ranked := make([]*model.Bid, len(bids))
	copy(ranked, bids)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Amount != b.Amount {
			return a.Amount > b.Amount
		}
		if !a.LastBidAt.Equal(b.LastBidAt) {
			return a.LastBidAt.Before(b.LastBidAt)
		}
		return a.ID < b.ID
	})
	return ranked
}

// CloseRound 关闭轮次
//
// 只有 OPEN 且已到 end_at 的轮次会被处理，重复执行（任务重投）直接返回 Closed=false。
// 排名、分配、状态流转、结算任务入队、开启下一轮在同一个事务里。
func (c *RoundCloser) CloseRound(ctx context.Context, roundID int64) (*CloseResult, error) {
	round, err := c.roundRepo.GetByID(ctx, nil, roundID)
	if err != nil {
		if errors.Is(err, repository.ErrRoundNotFound) {
			return nil, ErrRoundNotFound
		}
		return nil, fmt.Errorf("查询轮次失败: %w", err)
	}
	if round.Status != model.RoundStatusOpen {
		return &CloseResult{RoundID: roundID}, nil
	}
	now := c.now().UTC()
	if now.Before(round.EndAt) {
		return nil, &RoundNotEndedError{RoundID: roundID, EndAt: round.EndAt}
	}

	var result *CloseResult
	err = c.db.Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = c.closeTx(ctx, tx, round, now)
		return err
	})
	if errors.Is(err, errRoundChanged) {
		// CAS 失败：要么被延时了，要么别的 worker 已经关了
		latest, readErr := c.roundRepo.GetByID(ctx, nil, roundID)
		if readErr != nil {
			return nil, fmt.Errorf("查询轮次失败: %w", readErr)
		}
		if latest.Status == model.RoundStatusOpen && now.Before(latest.EndAt) {
			return nil, &RoundNotEndedError{RoundID: roundID, EndAt: latest.EndAt}
		}
		if latest.Status != model.RoundStatusOpen {
			return &CloseResult{RoundID: roundID}, nil
		}
		return nil, ErrConcurrentUpdate
	}
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"round_id":         roundID,
		"auction_id":       round.AuctionID,
		"no":               round.No,
		"winners":          result.Winners,
		"carries":          result.Carries,
		"next_round_id":    result.NextRoundID,
		"auction_finished": result.AuctionFinished,
	}).Info("轮次已关闭")
	return result, nil
}

func (c *RoundCloser) closeTx(ctx context.Context, tx *gorm.DB, round *model.Round, now time.Time) (*CloseResult, error) {
	ok, err := c.rounds.BeginClosing(ctx, tx, round)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errRoundChanged
	}

	auction, err := c.auctionRepo.GetByID(ctx, tx, round.AuctionID)
	if err != nil {
		if errors.Is(err, repository.ErrAuctionNotFound) {
			return nil, ErrAuctionNotFound
		}
		return nil, fmt.Errorf("查询拍卖失败: %w", err)
	}

	bids, err := c.bidRepo.ListByRound(ctx, tx, round.ID)
	if err != nil {
		return nil, fmt.Errorf("查询轮次出价失败: %w", err)
	}
	ranked := Rank(bids)

	result := &CloseResult{RoundID: round.ID, Closed: true}
	for i, bid := range ranked {
		kind := model.AllocationKindCarry
		if i < auction.RoundConfig.WinnersPerRound {
			kind = model.AllocationKindWin
		}
		allocation := &model.Allocation{
			ID:        idgen.NextID(),
			AuctionID: round.AuctionID,
			RoundID:   round.ID,
			RoundNo:   round.No,
			UserID:    bid.UserID,
			Currency:  bid.Currency,
			Kind:      kind,
			Rank:      i + 1,
			Status:    model.AllocationStatusPending,
			BidAmount: bid.Amount,
		}
		if _, err := c.allocationRepo.InsertIfAbsent(ctx, tx, allocation); err != nil {
			return nil, fmt.Errorf("写入分配结果失败: %w", err)
		}
	}

	allocations, err := c.allocationRepo.ListByRound(ctx, tx, round.ID)
	if err != nil {
		return nil, fmt.Errorf("查询分配结果失败: %w", err)
	}
	for _, a := range allocations {
		if a.Kind == model.AllocationKindWin {
			result.Winners++
		} else {
			result.Carries++
		}
		result.AllocationIDs = append(result.AllocationIDs, a.ID)

		_, err := c.queue.Enqueue(ctx, tx, queue.JobSettleAllocation,
			queue.SettleAllocationPayload{AllocationID: a.ID, RoundID: a.RoundID, UserID: a.UserID},
			queue.EnqueueOptions{JobID: queue.SettleAllocationJobID(a.RoundID, a.UserID)})
		if err != nil {
			return nil, fmt.Errorf("调度结算任务失败: %w", err)
		}
	}

	if err := c.rounds.FinishClosing(ctx, tx, round, now); err != nil {
		return nil, err
	}

	if round.No < auction.RoundConfig.MaxRounds {
		next, err := c.rounds.OpenRound(ctx, tx, auction, round.No+1)
		if err != nil {
			return nil, err
		}
		result.NextRoundID = next.ID
	} else {
		if err := c.auctionRepo.MarkFinished(ctx, tx, auction.ID); err != nil {
			return nil, fmt.Errorf("结束拍卖失败: %w", err)
		}
		result.AuctionFinished = true
	}

	err = c.events.write(ctx, tx, model.EventRoundClosed, fmt.Sprintf("round-%d", round.ID), map[string]interface{}{
		"auction_id":       round.AuctionID,
		"round_id":         round.ID,
		"no":               round.No,
		"winners":          result.Winners,
		"carries":          result.Carries,
		"closed_at":        now,
		"next_round_id":    result.NextRoundID,
		"auction_finished": result.AuctionFinished,
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
