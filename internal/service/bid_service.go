package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auctionsystem/internal/model"
	"auctionsystem/internal/repository"
	"auctionsystem/pkg/idgen"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// errBidEventExists 幂等键已被并发请求抢先写入，回滚后读取对方的结果
var errBidEventExists = errors.New("出价事件已存在")

type PlaceBidRequest struct {
	AuctionID      int64                 `json:"auction_id"`
	RoundID        int64                 `json:"round_id"`
	UserID         int64                 `json:"user_id"`
	Currency       string                `json:"currency"`
	Amount         int64                 `json:"amount"`
	IdempotencyKey string                `json:"idempotency_key"`
	AntiSnipe      model.AntiSnipeConfig `json:"anti_snipe"`
}

type PlaceBidResult struct {
	BidID         int64      `json:"bid_id"`
	BidEventID    int64      `json:"bid_event_id"`
	PrevAmount    int64      `json:"prev_amount"`
	NewAmount     int64      `json:"new_amount"`
	Delta         int64      `json:"delta"`
	RoundExtended bool       `json:"round_extended"`
	NewRoundEndAt *time.Time `json:"new_round_end_at,omitempty"`
	Replayed      bool       `json:"replayed"`
}

type BidService struct {
	db           *gorm.DB
	bidRepo      *repository.BidRepository
	bidEventRepo *repository.BidEventRepository
	roundRepo    *repository.RoundRepository
	auctionRepo  *repository.AuctionRepository
	wallet       *WalletService
	rounds       *RoundService
	events       eventWriter
	logger       *logrus.Logger
	now          func() time.Time
}

func NewBidService(db *gorm.DB, wallet *WalletService, rounds *RoundService, logger *logrus.Logger) *BidService {
	return &BidService{
		db:           db,
		bidRepo:      repository.NewBidRepository(db),
		bidEventRepo: repository.NewBidEventRepository(db),
		roundRepo:    repository.NewRoundRepository(db),
		auctionRepo:  repository.NewAuctionRepository(db),
		wallet:       wallet,
		rounds:       rounds,
		events:       eventWriter{repo: repository.NewOutboxRepository(db)},
		logger:       logger,
		now:          time.Now,
	}
}

func (s *BidService) WithClock(now func() time.Time) *BidService {
	s.now = now
	return s
}

// PlaceBid 出价
//
// 出价只能递增，每次只冻结差额 delta = amount - prevAmount。
// 出价事件、冻结、有效出价、防狙击延时在同一个事务里，要么全部生效要么全部不生效。
// 相同 (auction_id, user_id, idempotency_key) 的请求只生效一次，重放返回第一次的结果。
func (s *BidService) PlaceBid(ctx context.Context, req *PlaceBidRequest) (*PlaceBidResult, error) {
	if err := validateBid(req); err != nil {
		return nil, err
	}

	existing, err := s.bidEventRepo.GetByIdempotency(ctx, nil, req.AuctionID, req.UserID, req.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("查询出价事件失败: %w", err)
	}
	if existing != nil {
		return replayResult(existing), nil
	}

	var result *PlaceBidResult
	err = s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = s.placeBidTx(ctx, tx, req)
		return err
	})
	if errors.Is(err, errBidEventExists) {
		return s.readWinner(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"auction_id":     req.AuctionID,
		"round_id":       req.RoundID,
		"user_id":        req.UserID,
		"prev_amount":    result.PrevAmount,
		"new_amount":     result.NewAmount,
		"delta":          result.Delta,
		"round_extended": result.RoundExtended,
	}).Info("出价成功")
	return result, nil
}

func (s *BidService) placeBidTx(ctx context.Context, tx *gorm.DB, req *PlaceBidRequest) (*PlaceBidResult, error) {
	// 事务里再查一次，并发请求里先提交的那个在这里就能看到
	dup, err := s.bidEventRepo.GetByIdempotency(ctx, tx, req.AuctionID, req.UserID, req.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("查询出价事件失败: %w", err)
	}
	if dup != nil {
		return nil, errBidEventExists
	}

	auction, err := s.auctionRepo.GetByID(ctx, tx, req.AuctionID)
	if err != nil {
		if errors.Is(err, repository.ErrAuctionNotFound) {
			return nil, ErrAuctionNotFound
		}
		return nil, fmt.Errorf("查询拍卖失败: %w", err)
	}
	if req.Currency != auction.Currency {
		return nil, fmt.Errorf("%w: 拍卖 %d 只接受 %s 出价，收到 %s", ErrInvalidInput, auction.ID, auction.Currency, req.Currency)
	}

	now := s.now().UTC()
	round, lock, err := s.lockRound(ctx, tx, req, now)
	if err != nil {
		return nil, err
	}
	if round.AuctionID != req.AuctionID {
		return nil, fmt.Errorf("%w: 轮次 %d 不属于拍卖 %d", ErrInvalidInput, round.ID, req.AuctionID)
	}
	if err := AssertOpen(round, now); err != nil {
		return nil, err
	}

	active, err := s.bidRepo.GetActive(ctx, tx, req.AuctionID, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("查询当前出价失败: %w", err)
	}
	if active != nil && active.Currency != req.Currency {
		return nil, fmt.Errorf("%w: 当前出价币种 %s，收到 %s", ErrInvalidInput, active.Currency, req.Currency)
	}

	// 上一轮留下的出价已经在关轮时结算，本轮从 0 开始
	var prevAmount int64
	if active != nil && active.RoundID == round.ID {
		prevAmount = active.Amount
	}
	if req.Amount <= prevAmount {
		return nil, fmt.Errorf("%w: 出价 %d 必须高于当前出价 %d", ErrInvalidBid, req.Amount, prevAmount)
	}
	delta := req.Amount - prevAmount

	bidID := idgen.NextID()
	if active != nil {
		bidID = active.ID
	}

	event := &model.BidEvent{
		ID:             idgen.NextID(),
		AuctionID:      req.AuctionID,
		UserID:         req.UserID,
		IdempotencyKey: req.IdempotencyKey,
		RoundID:        round.ID,
		BidID:          bidID,
		Currency:       req.Currency,
		PrevAmount:     prevAmount,
		NewAmount:      req.Amount,
		Delta:          delta,
	}
	if err := s.recordEvent(ctx, tx, event); err != nil {
		return nil, err
	}

	_, err = s.wallet.ReserveTx(ctx, tx, &LedgerMove{
		EntryKey:   ReserveEntryKey(req.AuctionID, req.UserID, event.ID),
		UserID:     req.UserID,
		Currency:   req.Currency,
		Amount:     delta,
		AuctionID:  req.AuctionID,
		RoundID:    round.ID,
		BidEventID: event.ID,
		Remark:     fmt.Sprintf("出价冻结 %d -> %d", prevAmount, req.Amount),
	})
	if err != nil {
		return nil, err
	}

	if err := s.saveBid(ctx, tx, active, &model.Bid{
		ID:        bidID,
		AuctionID: req.AuctionID,
		UserID:    req.UserID,
		RoundID:   round.ID,
		Currency:  req.Currency,
		Amount:    req.Amount,
		LastBidAt: now,
	}); err != nil {
		return nil, err
	}

	// 只有拿排他锁的出价才会延时，共享锁持有者不会去升级锁
	extended := false
	if lock == repository.LockUpdate {
		extended, err = s.rounds.MaybeExtend(ctx, tx, round, req.AntiSnipe, now)
		if err != nil {
			return nil, err
		}
	}

	result := &PlaceBidResult{
		BidID:         bidID,
		BidEventID:    event.ID,
		PrevAmount:    prevAmount,
		NewAmount:     req.Amount,
		Delta:         delta,
		RoundExtended: extended,
	}
	if extended {
		endAt := round.EndAt
		result.NewRoundEndAt = &endAt
	}

	err = s.events.write(ctx, tx, model.EventBidPlaced, fmt.Sprintf("round-%d", round.ID), map[string]interface{}{
		"auction_id":     req.AuctionID,
		"round_id":       round.ID,
		"user_id":        req.UserID,
		"bid_event_id":   event.ID,
		"prev_amount":    prevAmount,
		"new_amount":     req.Amount,
		"delta":          delta,
		"round_extended": extended,
		"round_end_at":   round.EndAt,
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// bidRoundLock 出价落在防狙击窗口内可能要改 end_at，直接加排他锁；
// 两个共享锁持有者同时升级会死锁。end_at 和累计延时只增不减，窗口外读到的轮次加锁后仍在窗口外
func bidRoundLock(round *model.Round, cfg model.AntiSnipeConfig, now time.Time) string {
	if shouldExtend(round, cfg, now) {
		return repository.LockUpdate
	}
	return repository.LockShare
}

func (s *BidService) lockRound(ctx context.Context, tx *gorm.DB, req *PlaceBidRequest, now time.Time) (*model.Round, string, error) {
	peek, err := s.roundRepo.GetByID(ctx, tx, req.RoundID)
	if err != nil {
		if errors.Is(err, repository.ErrRoundNotFound) {
			return nil, "", ErrRoundNotFound
		}
		return nil, "", fmt.Errorf("查询轮次失败: %w", err)
	}

	lock := bidRoundLock(peek, req.AntiSnipe, now)
	round, err := s.roundRepo.GetByIDLocked(ctx, tx, req.RoundID, lock)
	if err != nil {
		return nil, "", fmt.Errorf("查询轮次失败: %w", err)
	}
	return round, lock, nil
}

// recordEvent 唯一索引裁决并发的相同幂等键，输的一方回滚后读取赢家的结果
func (s *BidService) recordEvent(ctx context.Context, tx *gorm.DB, event *model.BidEvent) error {
	inserted, err := s.bidEventRepo.Insert(ctx, tx, event)
	if err != nil {
		return fmt.Errorf("写入出价事件失败: %w", err)
	}
	if !inserted {
		return errBidEventExists
	}
	return nil
}

// saveBid 首次出价插入，加价按 version CAS；任一失败说明被并发修改，交给调用方刷新后重试
func (s *BidService) saveBid(ctx context.Context, tx *gorm.DB, active, bid *model.Bid) error {
	if active == nil {
		ok, err := s.bidRepo.Insert(ctx, tx, bid)
		if err != nil {
			return fmt.Errorf("写入出价失败: %w", err)
		}
		if !ok {
			return ErrConcurrentUpdate
		}
		return nil
	}

	err := s.bidRepo.UpdateAmount(ctx, tx, active.ID, active.Version, bid.RoundID, bid.Amount, bid.LastBidAt)
	if errors.Is(err, repository.ErrOptimisticLock) {
		return ErrConcurrentUpdate
	}
	if err != nil {
		return fmt.Errorf("更新出价失败: %w", err)
	}
	return nil
}

// readWinner 事务外读取抢先写入的出价事件
func (s *BidService) readWinner(ctx context.Context, req *PlaceBidRequest) (*PlaceBidResult, error) {
	winner, err := s.bidEventRepo.GetByIdempotency(ctx, nil, req.AuctionID, req.UserID, req.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("查询出价事件失败: %w", err)
	}
	if winner == nil {
		return nil, ErrConcurrentUpdate
	}
	return replayResult(winner), nil
}

func validateBid(req *PlaceBidRequest) error {
	switch {
	case req == nil:
		return fmt.Errorf("%w: 请求为空", ErrInvalidInput)
	case req.Amount <= 0:
		return fmt.Errorf("%w: 出价金额必须大于 0", ErrInvalidBid)
	case req.IdempotencyKey == "":
		return fmt.Errorf("%w: idempotency_key 不能为空", ErrInvalidInput)
	case req.Currency == "":
		return fmt.Errorf("%w: currency 不能为空", ErrInvalidInput)
	case req.AuctionID <= 0 || req.RoundID <= 0 || req.UserID <= 0:
		return fmt.Errorf("%w: auction_id / round_id / user_id 必须大于 0", ErrInvalidInput)
	}
	return nil
}

// replayResult 重复请求原样返回第一次记录的结果
func replayResult(event *model.BidEvent) *PlaceBidResult {
	return &PlaceBidResult{
		BidID:      event.BidID,
		BidEventID: event.ID,
		PrevAmount: event.PrevAmount,
		NewAmount:  event.NewAmount,
		Delta:      event.Delta,
		Replayed:   true,
	}
}
