package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auctionsystem/internal/model"
	"auctionsystem/internal/repository"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type SettleResult struct {
	AllocationID int64  `json:"allocation_id"`
	Skipped      bool   `json:"skipped"` // 已被认领或已结算
	Kind         string `json:"kind,omitempty"`
	LedgerType   string `json:"ledger_type,omitempty"`
	FinalAmount  int64  `json:"final_amount"`
	Applied      bool   `json:"applied"`
	SupplySeq    int64  `json:"supply_seq,omitempty"`
}

// SettlementService 单个分配结果的结算：WIN 扣款并发奖，CARRY 解冻退回
type SettlementService struct {
	db             *gorm.DB
	allocationRepo *repository.AllocationRepository
	walletRepo     *repository.WalletRepository
	auctionRepo    *repository.AuctionRepository
	wallet         *WalletService
	delivery       *DeliveryService
	events         eventWriter
	logger         *logrus.Logger
	now            func() time.Time
}

func NewSettlementService(db *gorm.DB, wallet *WalletService, delivery *DeliveryService, logger *logrus.Logger) *SettlementService {
	return &SettlementService{
		db:             db,
		allocationRepo: repository.NewAllocationRepository(db),
		walletRepo:     repository.NewWalletRepository(db),
		auctionRepo:    repository.NewAuctionRepository(db),
		wallet:         wallet,
		delivery:       delivery,
		events:         eventWriter{repo: repository.NewOutboxRepository(db)},
		logger:         logger,
		now:            time.Now,
	}
}

func (s *SettlementService) WithClock(now func() time.Time) *SettlementService {
	s.now = now
	return s
}

// Settle 结算一个分配结果
//
// 认领（PENDING/FAILED -> SETTLING）、资金变动、发奖、SETTLED 在一个事务里。
// 任何一步失败整个事务回滚，再单独把分配结果标记为 FAILED，返回错误交给任务队列重试。
// SETTLED 之后认领条件不再成立，重投的任务直接跳过。
func (s *SettlementService) Settle(ctx context.Context, allocationID int64) (*SettleResult, error) {
	var result *SettleResult
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = s.settleTx(ctx, tx, allocationID)
		return err
	})
	if err != nil {
		s.fail(ctx, allocationID, err)
		return nil, err
	}

	if !result.Skipped {
		s.logger.WithFields(logrus.Fields{
			"allocation_id": allocationID,
			"kind":          result.Kind,
			"ledger_type":   result.LedgerType,
			"final_amount":  result.FinalAmount,
			"applied":       result.Applied,
		}).Info("分配结果已结算")
	}
	return result, nil
}

func (s *SettlementService) settleTx(ctx context.Context, tx *gorm.DB, allocationID int64) (*SettleResult, error) {
	claimed, err := s.allocationRepo.Claim(ctx, tx, allocationID)
	if err != nil {
		return nil, fmt.Errorf("认领分配结果失败: %w", err)
	}
	if !claimed {
		return &SettleResult{AllocationID: allocationID, Skipped: true}, nil
	}

	allocation, err := s.allocationRepo.GetByID(ctx, tx, allocationID)
	if err != nil {
		return nil, fmt.Errorf("查询分配结果失败: %w", err)
	}

	// 实际结算金额不超过当前冻结余额
	var reserved int64
	wallet, err := s.walletRepo.Get(ctx, tx, allocation.UserID, allocation.Currency)
	switch {
	case err == nil:
		reserved = wallet.Reserved
	case errors.Is(err, repository.ErrWalletNotFound):
	default:
		return nil, fmt.Errorf("查询钱包失败: %w", err)
	}
	finalAmount := allocation.BidAmount
	if reserved < finalAmount {
		finalAmount = reserved
	}

	ledgerType := allocation.LedgerOp()
	result := &SettleResult{
		AllocationID: allocationID,
		Kind:         allocation.Kind,
		LedgerType:   ledgerType,
		FinalAmount:  finalAmount,
	}

	if finalAmount > 0 {
		applied, err := s.wallet.MoveTx(ctx, tx, ledgerType, &LedgerMove{
			EntryKey:     SettleEntryKey(allocation.ID, ledgerType),
			UserID:       allocation.UserID,
			Currency:     allocation.Currency,
			Amount:       finalAmount,
			AuctionID:    allocation.AuctionID,
			RoundID:      allocation.RoundID,
			AllocationID: allocation.ID,
			Remark:       fmt.Sprintf("第 %d 轮结算 %s", allocation.RoundNo, allocation.Kind),
		})
		if err != nil {
			return nil, err
		}
		result.Applied = applied
	}

	if allocation.Kind == model.AllocationKindWin {
		auction, err := s.auctionRepo.GetByID(ctx, tx, allocation.AuctionID)
		if err != nil {
			return nil, fmt.Errorf("查询拍卖失败: %w", err)
		}
		delivery, err := s.delivery.DeliverOnce(ctx, tx, allocation, auction)
		if err != nil {
			return nil, err
		}
		result.SupplySeq = delivery.SupplySeq
	}

	now := s.now().UTC()
	if err := s.allocationRepo.MarkSettled(ctx, tx, allocation.ID, finalAmount, now); err != nil {
		return nil, fmt.Errorf("更新结算状态失败: %w", err)
	}

	err = s.events.write(ctx, tx, model.EventAllocationSettled, fmt.Sprintf("round-%d", allocation.RoundID), map[string]interface{}{
		"allocation_id": allocation.ID,
		"auction_id":    allocation.AuctionID,
		"round_id":      allocation.RoundID,
		"user_id":       allocation.UserID,
		"kind":          allocation.Kind,
		"ledger_type":   ledgerType,
		"final_amount":  finalAmount,
		"supply_seq":    result.SupplySeq,
		"settled_at":    now,
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// fail 事务已回滚，单独记录失败原因；库存发完额外落一条 FAILED_SUPPLY 发放记录
func (s *SettlementService) fail(ctx context.Context, allocationID int64, cause error) {
	entry := s.logger.WithField("allocation_id", allocationID).WithError(cause)

	if errors.Is(cause, ErrSupplyExhausted) {
		allocation, err := s.allocationRepo.GetByID(ctx, nil, allocationID)
		if err == nil {
			var auction *model.Auction
			auction, err = s.auctionRepo.GetByID(ctx, nil, allocation.AuctionID)
			if err == nil {
				err = s.delivery.MarkSupplyFailed(ctx, allocation, auction, cause.Error())
			}
		}
		if err != nil {
			entry.WithField("mark_error", err.Error()).Error("记录发放失败状态失败")
		}
		entry.WithField("alert", true).Error("奖品库存不足，发放失败")
	}

	if err := s.allocationRepo.MarkFailed(ctx, allocationID, cause.Error()); err != nil {
		entry.WithField("mark_error", err.Error()).Error("标记分配结果失败状态失败")
		return
	}
	entry.Warn("分配结果结算失败")
}

func (s *SettlementService) GetAllocation(ctx context.Context, allocationID int64) (*model.Allocation, error) {
	allocation, err := s.allocationRepo.GetByID(ctx, nil, allocationID)
	if err != nil {
		if errors.Is(err, repository.ErrAllocationNotFound) {
			return nil, ErrAllocationNotFound
		}
		return nil, err
	}
	return allocation, nil
}

func (s *SettlementService) ListByRound(ctx context.Context, roundID int64) ([]*model.Allocation, error) {
	return s.allocationRepo.ListByRound(ctx, nil, roundID)
}
