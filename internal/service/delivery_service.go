package service

import (
	"context"
	"fmt"

	"auctionsystem/internal/model"
	"auctionsystem/internal/repository"
	"auctionsystem/pkg/idgen"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DeliveryService 奖品发放，只给 WIN 的分配结果发，限量时不会超发
type DeliveryService struct {
	db           *gorm.DB
	deliveryRepo *repository.DeliveryRepository
	auctionRepo  *repository.AuctionRepository
	logger       *logrus.Logger
}

func NewDeliveryService(db *gorm.DB, logger *logrus.Logger) *DeliveryService {
	return &DeliveryService{
		db:           db,
		deliveryRepo: repository.NewDeliveryRepository(db),
		auctionRepo:  repository.NewAuctionRepository(db),
		logger:       logger,
	}
}

func newDelivery(allocation *model.Allocation, auction *model.Auction) *model.Delivery {
	return &model.Delivery{
		ID:             idgen.NextID(),
		DeliveryKey:    model.DeliveryKey(allocation.ID),
		AllocationID:   allocation.ID,
		AuctionID:      allocation.AuctionID,
		RoundID:        allocation.RoundID,
		UserID:         allocation.UserID,
		ItemKind:       auction.Item.Kind,
		ItemName:       auction.Item.Name,
		ItemCollection: auction.Item.Collection,
		Units:          1,
		Status:         model.DeliveryStatusCreating,
	}
}

// DeliverOnce 幂等发放
//
//  1. deliver:<allocationId> 不存在则插入 CREATING；已经 DELIVERED 直接返回
//  2. 限量：UPDATE ... WHERE distributed_supply < total_supply，没更新到说明发完了
//     不限量：直接加一
//  3. 标记 DELIVERED 并记录发放序号
func (s *DeliveryService) DeliverOnce(ctx context.Context, tx *gorm.DB, allocation *model.Allocation, auction *model.Auction) (*model.Delivery, error) {
	if allocation.Kind != model.AllocationKindWin {
		return nil, fmt.Errorf("%w: 分配结果 %d 不是 WIN", ErrInvalidInput, allocation.ID)
	}

	if _, err := s.deliveryRepo.InsertIfAbsent(ctx, tx, newDelivery(allocation, auction)); err != nil {
		return nil, fmt.Errorf("写入发放记录失败: %w", err)
	}
	delivery, err := s.deliveryRepo.GetByKey(ctx, tx, model.DeliveryKey(allocation.ID))
	if err != nil {
		return nil, fmt.Errorf("查询发放记录失败: %w", err)
	}
	if delivery == nil {
		return nil, fmt.Errorf("%w: %s", ErrDeliveryNotFound, model.DeliveryKey(allocation.ID))
	}
	if delivery.Status == model.DeliveryStatusDelivered {
		return delivery, nil
	}

	limited := auction.Item.TotalSupply != nil
	ok, err := s.auctionRepo.IncrementSupply(ctx, tx, auction.ID, limited)
	if err != nil {
		return nil, fmt.Errorf("扣减库存失败: %w", err)
	}
	if !ok {
		if limited {
			return nil, fmt.Errorf("%w: auction=%d, total_supply=%d", ErrSupplyExhausted, auction.ID, *auction.Item.TotalSupply)
		}
		return nil, ErrAuctionNotFound
	}

	latest, err := s.auctionRepo.GetByID(ctx, tx, auction.ID)
	if err != nil {
		return nil, fmt.Errorf("查询拍卖失败: %w", err)
	}
	seq := latest.DistributedSupply

	if _, err := s.deliveryRepo.MarkDelivered(ctx, tx, delivery.ID, seq); err != nil {
		return nil, fmt.Errorf("更新发放状态失败: %w", err)
	}
	delivery.Status = model.DeliveryStatusDelivered
	delivery.SupplySeq = seq
	delivery.FailReason = ""
	return delivery, nil
}

// MarkSupplyFailed 发放事务回滚后单独记录 FAILED_SUPPLY，便于人工处理
func (s *DeliveryService) MarkSupplyFailed(ctx context.Context, allocation *model.Allocation, auction *model.Auction, reason string) error {
	if len(reason) > 256 {
		reason = reason[:256]
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := s.deliveryRepo.InsertIfAbsent(ctx, tx, newDelivery(allocation, auction)); err != nil {
			return fmt.Errorf("写入发放记录失败: %w", err)
		}
		return s.deliveryRepo.MarkSupplyFailed(ctx, tx, model.DeliveryKey(allocation.ID), reason)
	})
}

// ListInventory 用户已获得的奖品
func (s *DeliveryService) ListInventory(ctx context.Context, userID, auctionID int64, limit int) ([]*model.Delivery, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: user_id 必须大于 0", ErrInvalidInput)
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	deliveries, err := s.deliveryRepo.ListByUser(ctx, userID, auctionID, limit)
	if err != nil {
		return nil, fmt.Errorf("查询奖品失败: %w", err)
	}
	return deliveries, nil
}

// CountSupplyFailures 因库存不足没发出去的奖品数
func (s *DeliveryService) CountSupplyFailures(ctx context.Context) (int64, error) {
	n, err := s.deliveryRepo.CountByStatus(ctx, model.DeliveryStatusFailedSupply)
	if err != nil {
		return 0, fmt.Errorf("统计发放失败数失败: %w", err)
	}
	return n, nil
}

func (s *DeliveryService) GetByAllocation(ctx context.Context, allocationID int64) (*model.Delivery, error) {
	delivery, err := s.deliveryRepo.GetByKey(ctx, nil, model.DeliveryKey(allocationID))
	if err != nil {
		return nil, err
	}
	if delivery == nil {
		return nil, fmt.Errorf("%w: 分配结果 %d", ErrDeliveryNotFound, allocationID)
	}
	return delivery, nil
}
